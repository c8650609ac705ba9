package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/courierdesk/internal/database"
	"github.com/Additional-Code/courierdesk/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/courierdesk/repository/order")

// ErrNotFound is returned when an order is missing.
var ErrNotFound = errors.New("order not found")

// Assignment steps, in execution order.
const (
	StepUpdateOrder      = "update_order"
	StepInsertAssignment = "insert_assignment"
	StepInsertEvent      = "insert_status_event"
)

// StepError reports which write of the assign-driver sequence failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("assign driver: %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ListResult is the outcome of an order read.
type ListResult struct {
	Orders []*entity.Order
	// Degraded is set when the joined read failed and the minimal read was used;
	// history, proofs and assignments are then empty.
	Degraded bool
}

// AssignmentResult holds the rows written by AssignDriver.
type AssignmentResult struct {
	Assignment *entity.DriverAssignment
	Event      *entity.StatusEvent
}

// Repository encapsulates read/write access for orders.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// List runs the joined order query. When it fails and fallback is true, the
// minimal query is issued instead so the table stays populated.
func (r *Repository) List(ctx context.Context, f Filters, opts QueryOptions, fallback bool) (ListResult, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.List", trace.WithAttributes(
		attribute.String("filter.status", f.Status),
		attribute.String("filter.assignment", f.Assignment),
		attribute.Bool("query.rich_joins", opts.RichJoins),
	))
	defer span.End()

	var orders []*entity.Order
	err := BuildOrdersQuery(r.reader, &orders, f, opts).Scan(ctx)
	if err == nil {
		return ListResult{Orders: nonNil(orders)}, nil
	}
	span.RecordError(err)
	if !fallback || ctx.Err() != nil {
		span.SetStatus(codes.Error, "select failed")
		return ListResult{}, err
	}

	var minimal []*entity.Order
	if ferr := buildMinimalQuery(r.reader, &minimal, f).Scan(ctx); ferr != nil {
		span.RecordError(ferr)
		span.SetStatus(codes.Error, "fallback select failed")
		return ListResult{}, errors.Join(err, ferr)
	}
	span.SetAttributes(attribute.Bool("query.degraded", true))
	return ListResult{Orders: nonNil(minimal), Degraded: true}, nil
}

// GetByID fetches one order with its relations.
func (r *Repository) GetByID(ctx context.Context, id int64, opts QueryOptions) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	var orders []*entity.Order
	err := BuildOrdersQuery(r.reader, &orders, Filters{}, opts).Where("o.id = ?", id).Limit(1).Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	if len(orders) == 0 {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	return orders[0], nil
}

// Create persists a new order using the write connection.
func (r *Repository) Create(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Create", trace.WithAttributes(attribute.String("order.user_id", order.UserID)))
	defer span.End()

	_, err := r.writer.NewInsert().Model(order).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// AssignDriver points the order at driverID, records the assignment and
// appends an "assigned" status event, all in one transaction. A failing step
// rolls back the earlier ones and is reported as a *StepError.
func (r *Repository) AssignDriver(ctx context.Context, orderID int64, driverID, assignerID, note string, at time.Time) (*AssignmentResult, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.AssignDriver", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("driver.id", driverID),
	))
	defer span.End()

	res := &AssignmentResult{
		Assignment: &entity.DriverAssignment{
			OrderID:    orderID,
			DriverID:   driverID,
			AssignedBy: optional(assignerID),
			AssignedAt: at,
			Note:       optional(note),
		},
		Event: &entity.StatusEvent{
			OrderID:     orderID,
			Status:      entity.StatusAssigned,
			PerformedBy: optional(assignerID),
			CreatedAt:   at,
		},
	}

	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		result, err := tx.NewUpdate().
			Model((*entity.Order)(nil)).
			Set("driver_id = ?", driverID).
			Where("id = ?", orderID).
			Exec(ctx)
		if err != nil {
			return &StepError{Step: StepUpdateOrder, Err: err}
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return &StepError{Step: StepUpdateOrder, Err: ErrNotFound}
		}

		if _, err := tx.NewInsert().Model(res.Assignment).Exec(ctx); err != nil {
			return &StepError{Step: StepInsertAssignment, Err: err}
		}
		if _, err := tx.NewInsert().Model(res.Event).Exec(ctx); err != nil {
			return &StepError{Step: StepInsertEvent, Err: err}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assign failed")
		return nil, err
	}
	return res, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(orders []*entity.Order) []*entity.Order {
	if orders == nil {
		return []*entity.Order{}
	}
	return orders
}
