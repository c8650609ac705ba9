package order

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/courierdesk/internal/auth"
	"github.com/Additional-Code/courierdesk/internal/dashboard"
	"github.com/Additional-Code/courierdesk/internal/dto"
	"github.com/Additional-Code/courierdesk/internal/entity"
	"github.com/Additional-Code/courierdesk/internal/presentation/http/response"
	repo "github.com/Additional-Code/courierdesk/internal/repository/order"
	service "github.com/Additional-Code/courierdesk/internal/service/order"
	"github.com/Additional-Code/courierdesk/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/courierdesk/transport/http/order")

// Handler exposes order endpoints as JSON.
type Handler struct {
	svc      *service.Service
	gate     *auth.Gate
	registry *dashboard.Registry
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service, gate *auth.Gate, registry *dashboard.Registry) *Handler {
	return &Handler{svc: svc, gate: gate, registry: registry}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/api")
	g.GET("/orders", h.list, h.gate.RequireAPI())
	g.GET("/orders/:id", h.getByID, h.gate.RequireAPI())
	g.POST("/orders", h.create, h.gate.RequireAPI(entity.RoleClient, entity.RoleAdmin))
	g.POST("/orders/:id/assign", h.assign, h.gate.RequireAPI(entity.RoleAdmin))
	g.GET("/drivers/stats", h.driverStats, h.gate.RequireAPI(entity.RoleAdmin))
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)
	sess, _ := auth.SessionFrom(c)

	f := repo.Filters{
		Status:     c.QueryParam("status"),
		Assignment: c.QueryParam("assignment"),
		Search:     c.QueryParam("search"),
	}
	scope := dashboard.ScopeFor(sess)
	f.RequesterID, f.DriverID = scope.RequesterID, scope.DriverID

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.list", trace.WithAttributes(
		attribute.String("session.role", string(sess.Role)),
	))
	defer span.End()

	res, err := h.svc.List(ctx, f)
	if err != nil {
		return b.WithError(err).Build()
	}

	out := make([]dto.OrderResponse, 0, len(res.Orders))
	for _, o := range res.Orders {
		out = append(out, dto.FromOrder(o, historyFor(sess.Role, o)))
	}
	return b.WithData(out).WithMeta("count", len(out)).WithMeta("degraded", res.Degraded).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)
	sess, _ := auth.SessionFrom(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return b.WithError(errorbank.BadRequest("invalid id", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	if !visibleTo(sess, order) {
		return b.WithError(errorbank.NotFound("order not found", errorbank.WithDetail("order_id", id))).Build()
	}

	return b.WithData(dto.FromOrder(order, historyFor(sess.Role, order))).Build()
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)
	sess, _ := auth.SessionFrom(c)

	var payload dto.CreateOrderRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create")
	defer span.End()

	order, err := h.svc.Create(ctx, sess.UserID, service.CreateInput{
		PickupAddress:    payload.PickupAddress,
		DeliveryAddress:  payload.DeliveryAddress,
		ExpectedPickup:   payload.ExpectedPickup,
		ExpectedDelivery: payload.ExpectedDelivery,
	})
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(dto.FromOrder(order, nil)).Build()
}

func (h *Handler) assign(c echo.Context) error {
	b := response.New(c)
	sess, _ := auth.SessionFrom(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return b.WithError(errorbank.BadRequest("invalid id", errorbank.WithCause(err))).Build()
	}
	var payload dto.AssignDriverRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.assign", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if _, err := h.svc.AssignDriver(ctx, id, payload.DriverID, sess.UserID); err != nil {
		return b.WithError(err).Build()
	}
	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.FromOrder(order, dashboard.HistoryNewestFirst(order.StatusEvents))).Build()
}

func (h *Handler) driverStats(c echo.Context) error {
	b := response.New(c)
	sess, _ := auth.SessionFrom(c)
	ctx := c.Request().Context()

	// stats come from the session's cached list, not a separate read
	ctrl := h.registry.For(sess)
	if err := ctrl.EnsureLoaded(ctx); err != nil {
		return b.WithError(err).Build()
	}
	drivers, err := h.svc.Drivers(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}

	rows := dashboard.DriverRows(drivers, ctrl.Stats())
	out := make([]dto.DriverStatsResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, dto.DriverStatsResponse{
			Driver:     *dto.FromProfile(r.Driver),
			Assigned:   r.Assigned,
			InProgress: r.InProgress,
			Delivered:  r.Delivered,
		})
	}
	return b.WithData(out).Build()
}

// historyFor orders status history the way each screen shows it: newest
// first for admins, chronological for clients and drivers.
func historyFor(role entity.Role, o *entity.Order) []*entity.StatusEvent {
	if role == entity.RoleAdmin {
		return dashboard.HistoryNewestFirst(o.StatusEvents)
	}
	return dashboard.HistoryOldestFirst(o.StatusEvents)
}

func visibleTo(sess *auth.Session, o *entity.Order) bool {
	switch sess.Role {
	case entity.RoleAdmin:
		return true
	case entity.RoleDriver:
		return o.DriverID != nil && *o.DriverID == sess.UserID
	default:
		return o.UserID == sess.UserID
	}
}
