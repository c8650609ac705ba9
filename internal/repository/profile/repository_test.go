package profile

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Additional-Code/courierdesk/internal/entity"
	"github.com/Additional-Code/courierdesk/internal/testutil"
)

func TestRoleAndListByRole(t *testing.T) {
	conns := testutil.NewDB(t)
	repo := NewRepository(conns)
	ctx := context.Background()

	zed := testutil.InsertProfile(t, conns, "Zed", entity.RoleDriver)
	amy := testutil.InsertProfile(t, conns, "Amy", entity.RoleDriver)
	client := testutil.InsertProfile(t, conns, "Client", entity.RoleClient)

	role, err := repo.Role(ctx, client.ID)
	if err != nil || role != entity.RoleClient {
		t.Fatalf("Role = %q, %v", role, err)
	}
	if _, err := repo.Role(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Role(missing) = %v, want ErrNotFound", err)
	}

	drivers, err := repo.ListByRole(ctx, entity.RoleDriver)
	if err != nil {
		t.Fatalf("ListByRole: %v", err)
	}
	if len(drivers) != 2 || drivers[0].ID != amy.ID || drivers[1].ID != zed.ID {
		t.Errorf("drivers = %+v, want Amy then Zed", drivers)
	}

	got, err := repo.GetByID(ctx, zed.ID)
	if err != nil || got.FullName != "Zed" {
		t.Errorf("GetByID = %+v, %v", got, err)
	}
}

func TestCreateUserAndAccountByEmail(t *testing.T) {
	conns := testutil.NewDB(t)
	repo := NewRepository(conns)
	ctx := context.Background()

	id := uuid.NewString()
	now := time.Now().UTC()
	err := repo.CreateUser(ctx,
		&entity.Account{ID: id, Email: "Dispatch@Example.test", PasswordHash: "hash", CreatedAt: now},
		&entity.Profile{ID: id, FullName: "Dispatch", Email: "Dispatch@Example.test", Role: entity.RoleAdmin, CreatedAt: now},
	)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	account, err := repo.AccountByEmail(ctx, "  dispatch@example.TEST ")
	if err != nil {
		t.Fatalf("AccountByEmail: %v", err)
	}
	if account.ID != id || !strings.EqualFold(account.Email, "dispatch@example.test") {
		t.Errorf("account = %+v", account)
	}
	if _, err := repo.AccountByEmail(ctx, "nobody@example.test"); !errors.Is(err, ErrNotFound) {
		t.Errorf("AccountByEmail(unknown) = %v, want ErrNotFound", err)
	}
}
