package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Additional-Code/courierdesk/internal/database"
	"github.com/Additional-Code/courierdesk/internal/entity"
	"github.com/Additional-Code/courierdesk/internal/testutil"
)

type fixture struct {
	conns  *database.Connections
	repo   *Repository
	client *entity.Profile
	driver *entity.Profile
	admin  *entity.Profile
	orders []*entity.Order
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conns := testutil.NewDB(t)
	f := &fixture{
		conns:  conns,
		repo:   NewRepository(conns),
		client: testutil.InsertProfile(t, conns, "Client One", entity.RoleClient),
		driver: testutil.InsertProfile(t, conns, "Driver One", entity.RoleDriver),
		admin:  testutil.InsertProfile(t, conns, "Admin", entity.RoleAdmin),
	}

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	driverID := f.driver.ID
	seed := []*entity.Order{
		{UserID: f.client.ID, PickupAddress: "12 Rue de Lyon", DeliveryAddress: "3 Quai Voltaire", CurrentStatus: "created"},
		{UserID: f.client.ID, DriverID: &driverID, PickupAddress: "50% Discount Mall", DeliveryAddress: "8 Avenue Foch", CurrentStatus: "in_transit"},
		{UserID: f.client.ID, DriverID: &driverID, PickupAddress: "1 Place Bellecour", DeliveryAddress: "Gare Part_Dieu", CurrentStatus: "delivered"},
		{UserID: f.admin.ID, PickupAddress: "9 rue du Port", DeliveryAddress: "14 RUE DE LYON", CurrentStatus: "created"},
	}
	for i, o := range seed {
		o.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		f.orders = append(f.orders, testutil.InsertOrder(t, conns, o))
	}
	return f
}

func ids(orders []*entity.Order) []int64 {
	out := make([]int64, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}

func TestListFiltersMatchInMemoryPredicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	searches := []string{"", "lyon", "RUE", "50%", "part_dieu", "nowhere"}
	statuses := []string{"", StatusAll, "created", "delivered"}
	assignments := []string{"", AssignmentAssigned, AssignmentUnassigned, "bogus"}

	// include an id search for every order
	for _, o := range f.orders {
		searches = append(searches, " "+itoa(o.ID)+" ")
	}

	for _, status := range statuses {
		for _, assignment := range assignments {
			for _, search := range searches {
				filters := Filters{Status: status, Assignment: assignment, Search: search}
				res, err := f.repo.List(ctx, filters, QueryOptions{RichJoins: true}, false)
				if err != nil {
					t.Fatalf("List(%+v): %v", filters, err)
				}

				var want []int64
				for i := len(f.orders) - 1; i >= 0; i-- {
					if filters.Match(f.orders[i]) {
						want = append(want, f.orders[i].ID)
					}
				}
				got := ids(res.Orders)
				if len(got) != len(want) {
					t.Fatalf("List(%+v) = %v, want %v", filters, got, want)
				}
				for i := range got {
					if got[i] != want[i] {
						t.Fatalf("List(%+v) = %v, want %v", filters, got, want)
					}
				}
				for _, o := range res.Orders {
					if !filters.Match(o) {
						t.Errorf("List(%+v) returned non-matching order %d", filters, o.ID)
					}
				}
			}
		}
	}
}

func TestListWildcardSearchIsLiteral(t *testing.T) {
	f := newFixture(t)
	res, err := f.repo.List(context.Background(), Filters{Search: "50%"}, QueryOptions{}, false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.Orders) != 1 || res.Orders[0].ID != f.orders[1].ID {
		t.Fatalf("search 50%% = %v, want only order %d", ids(res.Orders), f.orders[1].ID)
	}

	res, err = f.repo.List(context.Background(), Filters{Search: "%"}, QueryOptions{}, false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.Orders) != 1 {
		t.Errorf("search %% matched %d orders, want 1", len(res.Orders))
	}
}

func TestListSearchFoldsAccentedCapitals(t *testing.T) {
	f := newFixture(t)
	church := testutil.InsertOrder(t, f.conns, &entity.Order{
		UserID:          f.client.ID,
		PickupAddress:   "2 Place de l'Église",
		DeliveryAddress: "5 Allée des Érables",
		CreatedAt:       time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	})

	for _, search := range []string{"Église", "église", "ÉGLISE", "érables", "ALLÉE"} {
		filters := Filters{Search: search}
		if !filters.Match(church) {
			t.Fatalf("Match(%q) rejected the order", search)
		}
		res, err := f.repo.List(context.Background(), filters, QueryOptions{}, false)
		if err != nil {
			t.Fatalf("List(%q): %v", search, err)
		}
		if got := ids(res.Orders); len(got) != 1 || got[0] != church.ID {
			t.Errorf("List(%q) = %v, want [%d]", search, got, church.ID)
		}
	}
}

func TestListOrderingAndRelations(t *testing.T) {
	f := newFixture(t)
	target := f.orders[1]
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	testutil.InsertEvent(t, f.conns, target.ID, "picked_up", base.Add(time.Hour))
	testutil.InsertEvent(t, f.conns, target.ID, "created", base)

	res, err := f.repo.List(context.Background(), Filters{}, QueryOptions{RichJoins: true}, false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.Orders) != 4 {
		t.Fatalf("len = %d, want 4", len(res.Orders))
	}
	for i := 1; i < len(res.Orders); i++ {
		if res.Orders[i-1].CreatedAt.Before(res.Orders[i].CreatedAt) {
			t.Fatalf("orders not newest first: %v", ids(res.Orders))
		}
	}

	var got *entity.Order
	for _, o := range res.Orders {
		if o.ID == target.ID {
			got = o
		}
	}
	if got == nil {
		t.Fatal("target order missing")
	}
	if got.Requester == nil || got.Requester.FullName != "Client One" {
		t.Errorf("Requester = %+v", got.Requester)
	}
	if got.Driver == nil || got.Driver.ID != f.driver.ID {
		t.Errorf("Driver = %+v", got.Driver)
	}
	if len(got.StatusEvents) != 2 || got.StatusEvents[0].Status != "created" {
		t.Errorf("StatusEvents = %+v", got.StatusEvents)
	}
}

func TestListFallsBackToMinimalQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.conns.Writer.ExecContext(ctx, "DROP TABLE scan_proofs"); err != nil {
		t.Fatalf("drop: %v", err)
	}

	if _, err := f.repo.List(ctx, Filters{}, QueryOptions{RichJoins: true}, false); err == nil {
		t.Fatal("expected rich query to fail without fallback")
	}

	res, err := f.repo.List(ctx, Filters{Status: "created"}, QueryOptions{RichJoins: true}, true)
	if err != nil {
		t.Fatalf("List with fallback: %v", err)
	}
	if !res.Degraded {
		t.Error("result should be marked degraded")
	}
	if len(res.Orders) != 2 {
		t.Fatalf("len = %d, want 2", len(res.Orders))
	}
	for _, o := range res.Orders {
		if o.ID == 0 || o.PickupAddress == "" || o.CurrentStatus != "created" {
			t.Errorf("core fields lost: %+v", o)
		}
		if len(o.StatusEvents) != 0 || o.Requester != nil {
			t.Errorf("degraded order should carry no relations: %+v", o)
		}
	}
}

func TestAssignDriverWritesAllRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.orders[0]
	at := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

	res, err := f.repo.AssignDriver(ctx, target.ID, f.driver.ID, f.admin.ID, "Assigned from admin dashboard", at)
	if err != nil {
		t.Fatalf("AssignDriver: %v", err)
	}
	if res.Assignment.ID == 0 || res.Event.ID == 0 {
		t.Errorf("ids not assigned: %+v %+v", res.Assignment, res.Event)
	}

	got, err := f.repo.GetByID(ctx, target.ID, QueryOptions{RichJoins: true})
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.DriverID == nil || *got.DriverID != f.driver.ID {
		t.Errorf("DriverID = %v, want %s", got.DriverID, f.driver.ID)
	}
	if len(got.Assignments) != 1 || got.Assignments[0].Note == nil || *got.Assignments[0].Note != "Assigned from admin dashboard" {
		t.Errorf("Assignments = %+v", got.Assignments)
	}
	found := false
	for _, ev := range got.StatusEvents {
		if ev.Status == entity.StatusAssigned {
			found = true
		}
	}
	if !found {
		t.Errorf("no assigned event in %+v", got.StatusEvents)
	}
}

func TestAssignDriverRollsBackOnFailedStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.orders[0]
	if _, err := f.conns.Writer.ExecContext(ctx, "DROP TABLE driver_assignments"); err != nil {
		t.Fatalf("drop: %v", err)
	}

	_, err := f.repo.AssignDriver(ctx, target.ID, f.driver.ID, f.admin.ID, "note", time.Now().UTC())
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("err = %v, want *StepError", err)
	}
	if stepErr.Step != StepInsertAssignment {
		t.Errorf("Step = %q, want %q", stepErr.Step, StepInsertAssignment)
	}

	got, err := f.repo.GetByID(ctx, target.ID, QueryOptions{})
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.DriverID != nil {
		t.Errorf("driver_id = %v, want rollback to NULL", *got.DriverID)
	}
}

func TestAssignDriverUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.AssignDriver(context.Background(), 9999, f.driver.ID, "", "", time.Now().UTC())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.repo.GetByID(context.Background(), 12345, QueryOptions{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
