// Package testutil provides SQLite-backed fixtures for package tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Additional-Code/courierdesk/internal/config"
	"github.com/Additional-Code/courierdesk/internal/database"
	"github.com/Additional-Code/courierdesk/internal/entity"
	"github.com/Additional-Code/courierdesk/internal/migration"
)

// NewDB opens a temporary SQLite database with the full schema.
func NewDB(t *testing.T) *database.Connections {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", filepath.Join(t.TempDir(), "test.db"))

	conns, err := database.Open(config.Database{Driver: "sqlite", WriterDSN: dsn})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = conns.Close() })

	if err := migration.EnsureSchema(context.Background(), conns.Writer); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return conns
}

// InsertProfile stores a profile (and its account) with the given role.
func InsertProfile(t *testing.T, conns *database.Connections, name string, role entity.Role) *entity.Profile {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	email := fmt.Sprintf("%s@example.test", id[:8])

	account := &entity.Account{ID: id, Email: email, PasswordHash: "x", CreatedAt: time.Now().UTC()}
	if _, err := conns.Writer.NewInsert().Model(account).Exec(ctx); err != nil {
		t.Fatalf("insert account: %v", err)
	}
	p := &entity.Profile{ID: id, FullName: name, Email: email, Role: role, CreatedAt: time.Now().UTC()}
	if _, err := conns.Writer.NewInsert().Model(p).Exec(ctx); err != nil {
		t.Fatalf("insert profile: %v", err)
	}
	return p
}

// InsertOrder stores an order created at the given time.
func InsertOrder(t *testing.T, conns *database.Connections, o *entity.Order) *entity.Order {
	t.Helper()
	if o.CurrentStatus == "" {
		o.CurrentStatus = entity.StatusCreated
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if _, err := conns.Writer.NewInsert().Model(o).Exec(context.Background()); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	return o
}

// InsertEvent stores a status event.
func InsertEvent(t *testing.T, conns *database.Connections, orderID int64, status string, at time.Time) *entity.StatusEvent {
	t.Helper()
	ev := &entity.StatusEvent{OrderID: orderID, Status: status, CreatedAt: at.UTC()}
	if _, err := conns.Writer.NewInsert().Model(ev).Exec(context.Background()); err != nil {
		t.Fatalf("insert status event: %v", err)
	}
	return ev
}
