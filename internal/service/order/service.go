package order

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/courierdesk/internal/changefeed"
	"github.com/Additional-Code/courierdesk/internal/config"
	"github.com/Additional-Code/courierdesk/internal/entity"
	repo "github.com/Additional-Code/courierdesk/internal/repository/order"
	profilerepo "github.com/Additional-Code/courierdesk/internal/repository/profile"
	"github.com/Additional-Code/courierdesk/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/courierdesk/service/order")

// User-facing messages. Raw backend errors are only logged.
const (
	MsgLoadFailed      = "Unable to load orders. Please try again."
	MsgCreateFailed    = "Order could not be created. Check the fields or try again in a moment."
	MsgAssignFailed    = "Driver could not be assigned. Please try again."
	MsgAddressRequired = "Pickup and delivery addresses are required."
	MsgInvalidDate     = "Expected pickup and delivery must be valid dates."
)

// Service encapsulates the order reads and mutations used by the dashboards.
type Service struct {
	repo           *repo.Repository
	profiles       *profilerepo.Repository
	feed           *changefeed.Feed
	logger         *zap.Logger
	timeout        time.Duration
	queryOpts      repo.QueryOptions
	fallback       bool
	assignmentNote string
	now            func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Profiles   *profilerepo.Repository
	Feed       *changefeed.Feed
	Config     config.Config
	Logger     *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:           p.Repository,
		profiles:       p.Profiles,
		feed:           p.Feed,
		logger:         logger,
		timeout:        p.Config.Backend.QueryTimeout,
		queryOpts:      repo.QueryOptions{RichJoins: p.Config.Dashboard.RichJoins},
		fallback:       p.Config.Dashboard.FallbackQuery,
		assignmentNote: p.Config.Dashboard.AssignmentNote,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput carries the raw form fields of a new order.
type CreateInput struct {
	PickupAddress    string
	DeliveryAddress  string
	ExpectedPickup   string
	ExpectedDelivery string
}

// List reads orders matching filters, newest first.
func (s *Service) List(ctx context.Context, f repo.Filters) (repo.ListResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.repo.List(ctx, f, s.queryOpts, s.fallback)
	if err != nil {
		s.logger.Error("orders query failed", zap.Error(err))
		return repo.ListResult{}, errorbank.Internal(MsgLoadFailed, errorbank.WithCause(err))
	}
	if res.Degraded {
		s.logger.Warn("orders query degraded to minimal columns")
	}
	return res, nil
}

// Get reads one order with its relations.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	o, err := s.repo.GetByID(ctx, id, s.queryOpts)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errorbank.NotFound("order not found", errorbank.WithDetail("order_id", id))
	}
	if err != nil {
		s.logger.Error("order query failed", zap.Int64("id", id), zap.Error(err))
		return nil, errorbank.Internal(MsgLoadFailed, errorbank.WithCause(err))
	}
	return o, nil
}

// Drivers lists every profile with the driver role.
func (s *Service) Drivers(ctx context.Context) ([]*entity.Profile, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	drivers, err := s.profiles.ListByRole(ctx, entity.RoleDriver)
	if err != nil {
		s.logger.Error("drivers query failed", zap.Error(err))
		return nil, errorbank.Internal(MsgLoadFailed, errorbank.WithCause(err))
	}
	return drivers, nil
}

// Create validates the form and inserts a single order row. Blank addresses
// fail before any write is issued.
func (s *Service) Create(ctx context.Context, requesterID string, in CreateInput) (*entity.Order, error) {
	pickup := strings.TrimSpace(in.PickupAddress)
	delivery := strings.TrimSpace(in.DeliveryAddress)
	if pickup == "" || delivery == "" {
		return nil, errorbank.BadRequest(MsgAddressRequired)
	}
	if requesterID == "" {
		return nil, errorbank.Unauthorized("sign in to create orders")
	}
	expectedPickup, err := parseOptionalTime(in.ExpectedPickup)
	if err != nil {
		return nil, errorbank.BadRequest(MsgInvalidDate, errorbank.WithDetail("field", "expected_pickup"))
	}
	expectedDelivery, err := parseOptionalTime(in.ExpectedDelivery)
	if err != nil {
		return nil, errorbank.BadRequest(MsgInvalidDate, errorbank.WithDetail("field", "expected_delivery"))
	}

	ctx, span := serviceTracer.Start(ctx, "OrderService.Create", trace.WithAttributes(attribute.String("order.user_id", requesterID)))
	defer span.End()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	o := &entity.Order{
		UserID:           requesterID,
		PickupAddress:    pickup,
		DeliveryAddress:  delivery,
		ExpectedPickup:   expectedPickup,
		ExpectedDelivery: expectedDelivery,
		CurrentStatus:    entity.StatusCreated,
		CreatedAt:        s.now(),
	}
	if err := s.repo.Create(ctx, o); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		s.logger.Error("order insert failed", zap.String("user_id", requesterID), zap.Error(err))
		return nil, errorbank.Internal(MsgCreateFailed, errorbank.WithCause(err))
	}

	s.publish(ctx, changefeed.TableOrders, changefeed.Insert, o)
	return o, nil
}

// AssignDriver points an order at a driver and records the assignment and
// the "assigned" status event atomically.
func (s *Service) AssignDriver(ctx context.Context, orderID int64, driverID, assignerID string) (*repo.AssignmentResult, error) {
	driverID = strings.TrimSpace(driverID)
	if orderID <= 0 || driverID == "" {
		return nil, errorbank.BadRequest("order and driver are required")
	}

	ctx, span := serviceTracer.Start(ctx, "OrderService.AssignDriver", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("driver.id", driverID),
	))
	defer span.End()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	driver, err := s.profiles.GetByID(ctx, driverID)
	if errors.Is(err, profilerepo.ErrNotFound) || (err == nil && driver.Role != entity.RoleDriver) {
		return nil, errorbank.BadRequest("selected profile is not a driver", errorbank.WithDetail("driver_id", driverID))
	}
	if err != nil {
		s.logger.Error("driver lookup failed", zap.String("driver_id", driverID), zap.Error(err))
		return nil, errorbank.Internal(MsgAssignFailed, errorbank.WithCause(err))
	}

	res, err := s.repo.AssignDriver(ctx, orderID, driverID, assignerID, s.assignmentNote, s.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("order not found", errorbank.WithDetail("order_id", orderID))
		}
		step := ""
		var stepErr *repo.StepError
		if errors.As(err, &stepErr) {
			step = stepErr.Step
		}
		s.logger.Error("assign driver failed", zap.Int64("order_id", orderID), zap.String("step", step), zap.Error(err))
		return nil, errorbank.Internal(MsgAssignFailed, errorbank.WithCause(err), errorbank.WithDetail("step", step))
	}

	s.publish(ctx, changefeed.TableOrders, changefeed.Update, orderPatch{ID: orderID, DriverID: driverID})
	s.publish(ctx, changefeed.TableStatusEvents, changefeed.Insert, res.Event)
	return res, nil
}

// orderPatch is the partial record announced when a driver is assigned.
type orderPatch struct {
	ID       int64  `json:"id"`
	DriverID string `json:"driver_id"`
}

func (s *Service) publish(ctx context.Context, table changefeed.Table, typ changefeed.EventType, record any) {
	if s.feed == nil {
		return
	}
	change, err := changefeed.NewChange(table, typ, record)
	if err == nil {
		err = s.feed.Publish(ctx, change)
	}
	if err != nil {
		s.logger.Error("publish change failed",
			zap.String("table", string(table)),
			zap.String("type", string(typ)),
			zap.Error(err),
		)
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

var inputLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}

func parseOptionalTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var lastErr error
	for _, layout := range inputLayouts {
		t, err := time.ParseInLocation(layout, raw, time.UTC)
		if err == nil {
			t = t.UTC()
			return &t, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
