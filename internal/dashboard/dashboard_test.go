package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/courierdesk/internal/auth"
	"github.com/Additional-Code/courierdesk/internal/changefeed"
	"github.com/Additional-Code/courierdesk/internal/entity"
	repo "github.com/Additional-Code/courierdesk/internal/repository/order"
)

type fakeFetcher struct {
	mu      sync.Mutex
	orders  []*entity.Order
	err     error
	calls   int
	filters []repo.Filters
}

func (f *fakeFetcher) List(ctx context.Context, filters repo.Filters) (repo.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.filters = append(f.filters, filters)
	if err := ctx.Err(); err != nil {
		return repo.ListResult{}, err
	}
	if f.err != nil {
		return repo.ListResult{}, f.err
	}
	out := make([]*entity.Order, 0, len(f.orders))
	for _, o := range f.orders {
		if filters.Match(o) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return repo.ListResult{Orders: out}, nil
}

func (f *fakeFetcher) set(orders ...*entity.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = orders
}

func (f *fakeFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func strPtr(s string) *string { return &s }

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func sampleOrders() []*entity.Order {
	return []*entity.Order{
		{ID: 3, UserID: "c1", PickupAddress: "3 A St", DeliveryAddress: "3 B St", CurrentStatus: "created", CreatedAt: t0.Add(2 * time.Hour)},
		{ID: 2, UserID: "c2", DriverID: strPtr("d1"), PickupAddress: "2 A St", DeliveryAddress: "2 B St", CurrentStatus: "in_transit", CreatedAt: t0.Add(time.Hour)},
		{ID: 1, UserID: "c1", DriverID: strPtr("d1"), PickupAddress: "1 A St", DeliveryAddress: "1 B St", CurrentStatus: "delivered", CreatedAt: t0,
			StatusEvents: []*entity.StatusEvent{
				{ID: 10, OrderID: 1, Status: "created", CreatedAt: t0},
				{ID: 12, OrderID: 1, Status: "delivered", CreatedAt: t0.Add(2 * time.Hour)},
				{ID: 11, OrderID: 1, Status: "assigned", CreatedAt: t0.Add(time.Hour)},
			}},
	}
}

func newTestController(t *testing.T, scope repo.Filters) (*Controller, *fakeFetcher, *eventLog) {
	t.Helper()
	fetcher := &fakeFetcher{}
	fetcher.set(sampleOrders()...)
	log := &eventLog{}
	ctrl := NewController(fetcher, Options{Scope: scope, Notify: log.add, Logger: zap.NewNop()})
	return ctrl, fetcher, log
}

func mustChange(t *testing.T, table changefeed.Table, typ changefeed.EventType, record any) changefeed.Change {
	t.Helper()
	c, err := changefeed.NewChange(table, typ, record)
	if err != nil {
		t.Fatalf("new change: %v", err)
	}
	return c
}

func TestCacheReplaceKeepsFetchOrder(t *testing.T) {
	c := NewCache()
	c.Replace(sampleOrders())
	if c.Len() != 3 {
		t.Fatalf("len = %d", c.Len())
	}
	c.Replace([]*entity.Order{{ID: 7}, {ID: 5}})
	got := c.Values()
	if len(got) != 2 || got[0].ID != 7 || got[1].ID != 5 {
		t.Fatalf("values = %+v", got)
	}
	if _, ok := c.Get(3); ok {
		t.Fatal("replace kept a stale entry")
	}
	if c.Put(&entity.Order{ID: 99}) {
		t.Fatal("put accepted an unknown id")
	}
}

func TestComputeDriverStats(t *testing.T) {
	orders := []*entity.Order{
		{ID: 1, DriverID: strPtr("A"), CurrentStatus: "delivered"},
		{ID: 2, DriverID: strPtr("A"), CurrentStatus: "in_transit"},
		{ID: 3, DriverID: strPtr("B"), CurrentStatus: "created"},
		{ID: 4, CurrentStatus: "created"},
	}
	got := ComputeDriverStats(orders)
	want := map[string]DriverStats{
		"A": {Assigned: 2, InProgress: 1, Delivered: 1},
		"B": {Assigned: 1, InProgress: 1, Delivered: 0},
	}
	if len(got) != len(want) {
		t.Fatalf("stats = %+v", got)
	}
	for id, w := range want {
		if got[id] != w {
			t.Errorf("stats[%s] = %+v, want %+v", id, got[id], w)
		}
	}

	rows := DriverRows([]*entity.Profile{{ID: "B"}, {ID: "C"}}, got)
	if len(rows) != 3 || rows[0].Driver.ID != "B" || rows[1].Assigned != 0 || rows[2].Driver.ID != "A" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestHistoryOrderingsPerScreen(t *testing.T) {
	ctrl, _, _ := newTestController(t, repo.Filters{})
	ctx := context.Background()
	if _, ok := ctrl.Select(ctx, 1); !ok {
		t.Fatal("order 1 not found")
	}

	detail := ctrl.Detail()
	wantDesc := []int64{12, 11, 10}
	for i, ev := range detail.History {
		if ev.ID != wantDesc[i] {
			t.Fatalf("admin history[%d] = %d, want %d", i, ev.ID, wantDesc[i])
		}
	}

	var card Card
	for _, c := range ctrl.ClientCards() {
		if c.Order.ID == 1 {
			card = c
		}
	}
	wantAsc := []int64{10, 11, 12}
	for i, ev := range card.History {
		if ev.ID != wantAsc[i] {
			t.Fatalf("client history[%d] = %d, want %d", i, ev.ID, wantAsc[i])
		}
	}
}

func TestSelectRefreshesOnceAndFallsBackToEmptyState(t *testing.T) {
	ctrl, fetcher, _ := newTestController(t, repo.Filters{})
	ctx := context.Background()

	if _, ok := ctrl.Select(ctx, 2); !ok {
		t.Fatal("select did not refresh for an uncached id")
	}
	if fetcher.count() != 1 {
		t.Fatalf("fetches = %d, want 1", fetcher.count())
	}
	if _, ok := ctrl.Select(ctx, 2); !ok || fetcher.count() != 1 {
		t.Fatalf("cached select fetched again (%d)", fetcher.count())
	}

	if _, ok := ctrl.Select(ctx, 404); ok {
		t.Fatal("unknown order selected")
	}
	if fetcher.count() != 2 {
		t.Fatalf("fetches = %d, want 2", fetcher.count())
	}
	if d := ctrl.Detail(); d.Order != nil || d.Empty != MsgOrderNotFound {
		t.Fatalf("detail = %+v", d)
	}
}

func TestTableViewStates(t *testing.T) {
	ctrl, fetcher, _ := newTestController(t, repo.Filters{})
	ctx := context.Background()

	if err := ctrl.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	view := ctrl.Table()
	if len(view.Rows) != 3 || view.Rows[0].ID != 3 || view.Placeholder != "" {
		t.Fatalf("view = %+v", view)
	}

	if err := ctrl.SetFilters(ctx, repo.Filters{Status: "nope"}); err != nil {
		t.Fatalf("set filters: %v", err)
	}
	if view := ctrl.Table(); len(view.Rows) != 0 || view.Placeholder != MsgNoOrders {
		t.Fatalf("empty view = %+v", view)
	}

	fetcher.mu.Lock()
	fetcher.err = errors.New("backend down")
	fetcher.mu.Unlock()
	if err := ctrl.Refresh(ctx); err == nil {
		t.Fatal("expected refresh error")
	}
	if view := ctrl.Table(); view.Error != MsgLoadFailed || len(view.Rows) != 0 {
		t.Fatalf("error view = %+v", view)
	}
}

func TestOrderInsertTriggersExactlyOneFetch(t *testing.T) {
	ctrl, fetcher, log := newTestController(t, repo.Filters{})
	ctx := context.Background()
	if err := ctrl.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	before := fetcher.count()

	added := &entity.Order{ID: 4, UserID: "c3", PickupAddress: "4 A", DeliveryAddress: "4 B", CurrentStatus: "created", CreatedAt: t0.Add(3 * time.Hour)}
	fetcher.set(append([]*entity.Order{added}, sampleOrders()...)...)
	ctrl.HandleChange(ctx, mustChange(t, changefeed.TableOrders, changefeed.Insert, added))

	if got := fetcher.count() - before; got != 1 {
		t.Fatalf("fetches after insert = %d, want 1", got)
	}
	rows := ctrl.Table().Rows
	if len(rows) != 4 || rows[0].ID != 4 {
		t.Fatalf("rows = %d, first %d", len(rows), rows[0].ID)
	}
	if log.kinds(EventNotice) != 1 {
		t.Fatalf("notices = %d, want 1", log.kinds(EventNotice))
	}
}

func TestOrderUpdateMergesWithoutFetch(t *testing.T) {
	ctrl, fetcher, log := newTestController(t, repo.Filters{})
	ctx := context.Background()
	if err := ctrl.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	ctrl.SetDirectory([]*entity.Profile{{ID: "d9", FullName: "Nina"}})
	before := fetcher.count()

	ctrl.HandleChange(ctx, mustChange(t, changefeed.TableOrders, changefeed.Update,
		map[string]any{"id": 3, "driver_id": "d9"}))

	if fetcher.count() != before {
		t.Fatalf("update fetched %d times", fetcher.count()-before)
	}
	var got *entity.Order
	for _, o := range ctrl.Orders() {
		if o.ID == 3 {
			got = o
		}
	}
	if got == nil || got.DriverID == nil || *got.DriverID != "d9" || got.Driver == nil || got.Driver.FullName != "Nina" {
		t.Fatalf("merged order = %+v", got)
	}
	if got.PickupAddress != "3 A St" {
		t.Fatalf("merge dropped fields: %+v", got)
	}
	if log.kinds(EventRefresh) != 1 {
		t.Fatalf("refresh events = %d", log.kinds(EventRefresh))
	}
}

func TestStatusEventMergesAlwaysAndRefreshesSelected(t *testing.T) {
	ctrl, fetcher, log := newTestController(t, repo.Filters{})
	ctx := context.Background()
	if err := ctrl.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	before := fetcher.count()

	// not selected: merged into the cache, no fetch
	ctrl.HandleChange(ctx, mustChange(t, changefeed.TableStatusEvents, changefeed.Insert,
		&entity.StatusEvent{ID: 50, OrderID: 2, Status: "delivered", CreatedAt: t0.Add(5 * time.Hour)}))
	if fetcher.count() != before {
		t.Fatal("unselected event fetched")
	}
	for _, o := range ctrl.Orders() {
		if o.ID == 2 && (o.CurrentStatus != "delivered" || len(o.StatusEvents) != 1) {
			t.Fatalf("order 2 not merged: %+v", o)
		}
	}

	// selected: refresh and notice
	ctrl.Select(ctx, 3)
	ctrl.HandleChange(ctx, mustChange(t, changefeed.TableStatusEvents, changefeed.Insert,
		&entity.StatusEvent{ID: 51, OrderID: 3, Status: "assigned", CreatedAt: t0.Add(6 * time.Hour)}))
	if got := fetcher.count() - before; got != 1 {
		t.Fatalf("selected event fetches = %d, want 1", got)
	}
	if log.kinds(EventNotice) != 1 {
		t.Fatalf("notices = %d", log.kinds(EventNotice))
	}
}

func TestScopedControllerIgnoresForeignOrders(t *testing.T) {
	ctrl, fetcher, _ := newTestController(t, repo.Filters{RequesterID: "c1"})
	ctx := context.Background()
	if err := ctrl.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rows := ctrl.Table().Rows; len(rows) != 2 {
		t.Fatalf("client rows = %d, want 2", len(rows))
	}
	before := fetcher.count()

	ctrl.HandleChange(ctx, mustChange(t, changefeed.TableOrders, changefeed.Insert,
		&entity.Order{ID: 8, UserID: "someone-else"}))
	ctrl.HandleChange(ctx, mustChange(t, changefeed.TableStatusEvents, changefeed.Insert,
		&entity.StatusEvent{OrderID: 8, Status: "created"}))
	if fetcher.count() != before {
		t.Fatalf("foreign changes fetched %d times", fetcher.count()-before)
	}

	ctrl.HandleChange(ctx, mustChange(t, changefeed.TableOrders, changefeed.Insert,
		&entity.Order{ID: 9, UserID: "c1"}))
	if fetcher.count() != before+1 {
		t.Fatal("own order insert did not refresh")
	}
}

func cardIDs(cards []Card) []int64 {
	out := make([]int64, 0, len(cards))
	for _, c := range cards {
		out = append(out, c.Order.ID)
	}
	return out
}

func TestDriverLosesReassignedOrder(t *testing.T) {
	ctrl, fetcher, log := newTestController(t, repo.Filters{DriverID: "d1"})
	ctx := context.Background()
	if err := ctrl.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := cardIDs(ctrl.ClientCards()); len(got) != 2 || got[0] != 2 || got[1] != 1 {
		t.Fatalf("driver cards = %v, want [2 1]", got)
	}
	before := fetcher.count()

	ctrl.HandleChange(ctx, mustChange(t, changefeed.TableOrders, changefeed.Update,
		map[string]any{"id": 2, "driver_id": "d2"}))

	if got := cardIDs(ctrl.ClientCards()); len(got) != 1 || got[0] != 1 {
		t.Fatalf("driver cards after reassignment = %v, want [1]", got)
	}
	stats := ctrl.Stats()
	if _, ok := stats["d2"]; ok {
		t.Fatalf("stats still count the reassigned order: %v", stats)
	}
	if s := stats["d1"]; s.Assigned != 1 || s.Delivered != 1 || s.InProgress != 0 {
		t.Fatalf("d1 stats = %+v", s)
	}
	if fetcher.count() != before {
		t.Fatalf("reassignment fetched %d times", fetcher.count()-before)
	}
	if log.kinds(EventRefresh) != 1 {
		t.Fatalf("refresh events = %d, want 1", log.kinds(EventRefresh))
	}

	// later events for the order no longer touch this driver's list
	ctrl.HandleChange(ctx, mustChange(t, changefeed.TableStatusEvents, changefeed.Insert,
		&entity.StatusEvent{OrderID: 2, Status: "assigned"}))
	if got := cardIDs(ctrl.ClientCards()); len(got) != 1 || got[0] != 1 {
		t.Fatalf("driver cards after foreign event = %v", got)
	}
	if fetcher.count() != before {
		t.Fatalf("foreign status event fetched %d times", fetcher.count()-before)
	}
}

func TestStatusEventOutsideFilterDropsOrder(t *testing.T) {
	ctrl, _, _ := newTestController(t, repo.Filters{})
	ctx := context.Background()
	if err := ctrl.SetFilters(ctx, repo.Filters{Status: "created"}); err != nil {
		t.Fatalf("set filters: %v", err)
	}
	ctrl.HandleChange(ctx, mustChange(t, changefeed.TableStatusEvents, changefeed.Insert,
		&entity.StatusEvent{OrderID: 3, Status: "assigned"}))
	for _, o := range ctrl.Orders() {
		if o.ID == 3 {
			t.Fatal("order 3 stayed cached after leaving the status filter")
		}
	}
	if rows := ctrl.Table().Rows; len(rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(rows))
	}
}

func TestCancelledRealtimeRefreshKeepsList(t *testing.T) {
	ctrl, _, _ := newTestController(t, repo.Filters{})
	if err := ctrl.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ctrl.HandleChange(ctx, mustChange(t, changefeed.TableOrders, changefeed.Insert, &entity.Order{ID: 11}))

	view := ctrl.Table()
	if len(view.Rows) != 3 || view.Error != "" {
		t.Fatalf("table after abandoned refresh: %d rows, error %q", len(view.Rows), view.Error)
	}
	if err := ctrl.Err(); err != nil {
		t.Fatalf("Err = %v, want nil", err)
	}
}

func TestAdminTableSurvivesCancelledPublisher(t *testing.T) {
	ctrl, _, _ := newTestController(t, repo.Filters{})
	feed := changefeed.New(nil, zap.NewNop())
	ctrl.Subscribe(feed)
	if err := ctrl.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := feed.Publish(ctx, mustChange(t, changefeed.TableOrders, changefeed.Insert, &entity.Order{ID: 12})); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if rows := ctrl.Table().Rows; len(rows) != 3 {
		t.Fatalf("admin rows = %d, want 3", len(rows))
	}
	if err := ctrl.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}
}

func TestScopedControllerRefetchesWhenCacheEmpty(t *testing.T) {
	ctrl, fetcher, _ := newTestController(t, repo.Filters{RequesterID: "c1"})
	ctx := context.Background()
	fetcher.fail(errors.New("backend down"))
	if err := ctrl.Refresh(ctx); err == nil {
		t.Fatal("refresh should fail")
	}
	fetcher.fail(nil)
	before := fetcher.count()

	ctrl.HandleChange(ctx, mustChange(t, changefeed.TableStatusEvents, changefeed.Insert,
		&entity.StatusEvent{OrderID: 3, Status: "assigned"}))

	if fetcher.count() != before+1 {
		t.Fatalf("fetches = %d, want 1", fetcher.count()-before)
	}
	if got := cardIDs(ctrl.ClientCards()); len(got) != 2 {
		t.Fatalf("client cards = %v, want 2 orders", got)
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	ctrl, fetcher, _ := newTestController(t, repo.Filters{})
	feed := changefeed.New(nil, zap.NewNop())
	ctrl.Subscribe(feed)
	ctrl.Subscribe(feed)
	if n := feed.SubscriberCount(); n != 1 {
		t.Fatalf("subscriptions = %d, want 1", n)
	}

	before := fetcher.count()
	feed.Dispatch(context.Background(), mustChange(t, changefeed.TableOrders, changefeed.Insert, &entity.Order{ID: 10}))
	if got := fetcher.count() - before; got != 1 {
		t.Fatalf("fetches = %d, want 1", got)
	}

	ctrl.Close()
	if n := feed.SubscriberCount(); n != 0 {
		t.Fatalf("subscriptions after close = %d", n)
	}
}

func TestRegistryScopesAndEvicts(t *testing.T) {
	fetcher := &fakeFetcher{}
	feed := changefeed.New(nil, zap.NewNop())
	reg := newRegistry(fetcher, feed, nil, time.Minute, zap.NewNop())
	now := t0
	reg.now = func() time.Time { return now }

	driver := &auth.Session{Key: "k1", UserID: "d1", Role: entity.RoleDriver}
	a := reg.For(driver)
	if reg.For(driver) != a {
		t.Fatal("registry created a second controller for the same session")
	}
	if a.scope.DriverID != "d1" {
		t.Fatalf("driver scope = %+v", a.scope)
	}
	reg.For(&auth.Session{Key: "k2", UserID: "c1", Role: entity.RoleClient})
	if feed.SubscriberCount() != 2 {
		t.Fatalf("subscribers = %d", feed.SubscriberCount())
	}

	now = now.Add(2 * time.Minute)
	reg.For(driver)
	if n := reg.Evict(); n != 1 {
		t.Fatalf("evicted = %d, want 1", n)
	}
	reg.Remove("k1")
	if reg.Len() != 0 || feed.SubscriberCount() != 0 {
		t.Fatalf("len = %d subscribers = %d", reg.Len(), feed.SubscriberCount())
	}
}
