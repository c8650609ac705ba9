package profile

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/courierdesk/internal/database"
	"github.com/Additional-Code/courierdesk/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/courierdesk/repository/profile")

// ErrNotFound is returned when a profile or account is missing.
var ErrNotFound = errors.New("profile not found")

// Repository reads profiles and sign-in accounts.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer, reader: conns.Reader}
}

// GetByID loads one profile.
func (r *Repository) GetByID(ctx context.Context, id string) (*entity.Profile, error) {
	ctx, span := repoTracer.Start(ctx, "ProfileRepository.GetByID", trace.WithAttributes(attribute.String("profile.id", id)))
	defer span.End()

	p := new(entity.Profile)
	err := r.reader.NewSelect().Model(p).Where("p.id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return p, nil
}

// Role reads only the role column of a profile.
func (r *Repository) Role(ctx context.Context, id string) (entity.Role, error) {
	var role string
	err := r.reader.NewSelect().Model((*entity.Profile)(nil)).Column("role").Where("p.id = ?", id).Limit(1).Scan(ctx, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return entity.Role(role), nil
}

// ListByRole returns profiles holding role, ordered by name.
func (r *Repository) ListByRole(ctx context.Context, role entity.Role) ([]*entity.Profile, error) {
	ctx, span := repoTracer.Start(ctx, "ProfileRepository.ListByRole", trace.WithAttributes(attribute.String("profile.role", string(role))))
	defer span.End()

	var profiles []*entity.Profile
	err := r.reader.NewSelect().Model(&profiles).Where("p.role = ?", role).Order("p.full_name ASC", "p.email ASC").Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return profiles, nil
}

// AccountByEmail finds sign-in credentials; email comparison ignores case.
func (r *Repository) AccountByEmail(ctx context.Context, email string) (*entity.Account, error) {
	a := new(entity.Account)
	err := r.reader.NewSelect().Model(a).Where("LOWER(au.email) = ?", strings.ToLower(strings.TrimSpace(email))).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CreateUser stores an account and its profile together.
func (r *Repository) CreateUser(ctx context.Context, account *entity.Account, p *entity.Profile) error {
	ctx, span := repoTracer.Start(ctx, "ProfileRepository.CreateUser", trace.WithAttributes(attribute.String("profile.role", string(p.Role))))
	defer span.End()

	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(account).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(p).Exec(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}
