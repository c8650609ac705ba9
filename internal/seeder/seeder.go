package seeder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/courierdesk/internal/auth"
	"github.com/Additional-Code/courierdesk/internal/database"
	"github.com/Additional-Code/courierdesk/internal/entity"
	profilerepo "github.com/Additional-Code/courierdesk/internal/repository/profile"
)

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// DefaultPassword is given to seeded accounts unless overridden.
const DefaultPassword = "courierdesk"

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db       *bun.DB
	profiles *profilerepo.Repository
	logger   *zap.Logger
	now      func() time.Time
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, profiles *profilerepo.Repository, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{db: conns.Writer, profiles: profiles, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// UserInput describes an account to create.
type UserInput struct {
	Email    string
	Password string
	FullName string
	Phone    string
	Role     entity.Role
}

// CreateUser stores an account with a bcrypt hash and its profile.
func (s *Seeder) CreateUser(ctx context.Context, in UserInput) (*entity.Profile, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return nil, errors.New("email and password are required")
	}
	role, ok := entity.ParseRole(string(in.Role))
	if !ok {
		return nil, fmt.Errorf("unknown role %q", in.Role)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id := uuid.NewString()
	now := s.now()
	p := &entity.Profile{ID: id, FullName: strings.TrimSpace(in.FullName), Phone: in.Phone, Email: email, Role: role, CreatedAt: now}
	account := &entity.Account{ID: id, Email: email, PasswordHash: hash, CreatedAt: now}
	if err := s.profiles.CreateUser(ctx, account, p); err != nil {
		return nil, fmt.Errorf("create user %s: %w", email, err)
	}
	return p, nil
}

// ensureUser returns the profile behind email, creating it when missing.
func (s *Seeder) ensureUser(ctx context.Context, in UserInput) (*entity.Profile, error) {
	account, err := s.profiles.AccountByEmail(ctx, in.Email)
	if err == nil {
		return s.profiles.GetByID(ctx, account.ID)
	}
	if !errors.Is(err, profilerepo.ErrNotFound) {
		return nil, err
	}
	return s.CreateUser(ctx, in)
}

// Demo seeds one account per role and a handful of orders with history. It
// is idempotent: existing accounts are reused and orders are only added to
// an empty table.
func (s *Seeder) Demo(ctx context.Context, password string) error {
	if password == "" {
		password = DefaultPassword
	}
	users := []UserInput{
		{Email: "admin@courierdesk.local", FullName: "Dispatch Admin", Role: entity.RoleAdmin},
		{Email: "driver@courierdesk.local", FullName: "Dana Driver", Phone: "+33 6 00 00 00 01", Role: entity.RoleDriver},
		{Email: "driver2@courierdesk.local", FullName: "Luc Livreur", Phone: "+33 6 00 00 00 02", Role: entity.RoleDriver},
		{Email: "client@courierdesk.local", FullName: "Claire Client", Role: entity.RoleClient},
	}
	profiles := make([]*entity.Profile, 0, len(users))
	for _, u := range users {
		u.Password = password
		p, err := s.ensureUser(ctx, u)
		if err != nil {
			return err
		}
		profiles = append(profiles, p)
	}
	admin, driver, client := profiles[0], profiles[1], profiles[3]

	count, err := s.db.NewSelect().Model((*entity.Order)(nil)).Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		s.logger.Info("orders already present; skipping order seed", zap.Int("count", count))
		return nil
	}

	base := s.now().Add(-6 * time.Hour)
	type sample struct {
		pickup, delivery string
		statuses         []string
		assigned         bool
	}
	samples := []sample{
		{"12 Rue de Lyon, Paris", "3 Quai Voltaire, Paris", []string{entity.StatusCreated}, false},
		{"50% Discount Mall, Lille", "8 Avenue Foch, Lille", []string{entity.StatusCreated, entity.StatusAssigned, "in_transit"}, true},
		{"1 Place Bellecour, Lyon", "Gare Part-Dieu, Lyon", []string{entity.StatusCreated, entity.StatusAssigned, "in_transit", entity.StatusDelivered}, true},
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for i, smp := range samples {
			created := base.Add(time.Duration(i) * time.Hour)
			o := &entity.Order{
				UserID:          client.ID,
				PickupAddress:   smp.pickup,
				DeliveryAddress: smp.delivery,
				CurrentStatus:   smp.statuses[len(smp.statuses)-1],
				CreatedAt:       created,
			}
			if smp.assigned {
				o.DriverID = &driver.ID
			}
			if _, err := tx.NewInsert().Model(o).Exec(ctx); err != nil {
				return err
			}
			if smp.assigned {
				a := &entity.DriverAssignment{OrderID: o.ID, DriverID: driver.ID, AssignedBy: &admin.ID, AssignedAt: created.Add(10 * time.Minute)}
				if _, err := tx.NewInsert().Model(a).Exec(ctx); err != nil {
					return err
				}
			}
			for j, status := range smp.statuses {
				ev := &entity.StatusEvent{OrderID: o.ID, Status: status, CreatedAt: created.Add(time.Duration(j) * 10 * time.Minute)}
				if _, err := tx.NewInsert().Model(ev).Exec(ctx); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("seeded demo data", zap.Int("users", len(profiles)), zap.Int("orders", len(samples)))
	return nil
}
