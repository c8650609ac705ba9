package seeder

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/Additional-Code/courierdesk/internal/auth"
	"github.com/Additional-Code/courierdesk/internal/entity"
	profilerepo "github.com/Additional-Code/courierdesk/internal/repository/profile"
	"github.com/Additional-Code/courierdesk/internal/testutil"
)

func TestDemoIsIdempotent(t *testing.T) {
	conns := testutil.NewDB(t)
	profiles := profilerepo.NewRepository(conns)
	s := New(conns, profiles, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Demo(ctx, "pw"); err != nil {
			t.Fatalf("demo run %d: %v", i, err)
		}
	}

	orders, err := conns.Reader.NewSelect().Model((*entity.Order)(nil)).Count(ctx)
	if err != nil || orders != 3 {
		t.Fatalf("orders = %d (%v), want 3", orders, err)
	}
	drivers, err := profiles.ListByRole(ctx, entity.RoleDriver)
	if err != nil || len(drivers) != 2 {
		t.Fatalf("drivers = %d (%v), want 2", len(drivers), err)
	}

	account, err := profiles.AccountByEmail(ctx, "admin@courierdesk.local")
	if err != nil {
		t.Fatalf("admin account: %v", err)
	}
	if !auth.CheckPassword(account.PasswordHash, "pw") {
		t.Fatal("seeded password does not verify")
	}
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	conns := testutil.NewDB(t)
	s := New(conns, profilerepo.NewRepository(conns), zap.NewNop())
	_, err := s.CreateUser(context.Background(), UserInput{Email: "x@example.test", Password: "pw", Role: "owner"})
	if err == nil {
		t.Fatal("expected error for unknown role")
	}
}
