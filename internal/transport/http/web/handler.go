package web

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/courierdesk/internal/auth"
	"github.com/Additional-Code/courierdesk/internal/changefeed"
	"github.com/Additional-Code/courierdesk/internal/config"
	"github.com/Additional-Code/courierdesk/internal/dashboard"
	"github.com/Additional-Code/courierdesk/internal/database"
	"github.com/Additional-Code/courierdesk/internal/entity"
	"github.com/Additional-Code/courierdesk/internal/observability"
	"github.com/Additional-Code/courierdesk/internal/realtime"
	repo "github.com/Additional-Code/courierdesk/internal/repository/order"
	service "github.com/Additional-Code/courierdesk/internal/service/order"
	"github.com/Additional-Code/courierdesk/internal/worker"
	"github.com/Additional-Code/courierdesk/pkg/errorbank"
)

var webTracer = otel.Tracer("github.com/Additional-Code/courierdesk/transport/http/web")

// notices maps the notice query parameter to the text shown after a redirect.
var notices = map[string]string{
	"created":  "Order created.",
	"assigned": "Driver assigned.",
}

// Page is the data shared by every page template.
type Page struct {
	Title          string
	Session        *auth.Session
	Notice         string
	Error          string
	DebounceMillis int64
}

// ClientPage is the client dashboard.
type ClientPage struct {
	Page
	Cards     []dashboard.Card
	LoadError string
	Form      FormState
}

// FormState echoes the create-order form after a failed submission.
type FormState struct {
	PickupAddress    string
	DeliveryAddress  string
	ExpectedPickup   string
	ExpectedDelivery string
	Error            string
}

// DriverPage is the driver's list of assigned orders.
type DriverPage struct {
	Page
	Cards     []dashboard.Card
	LoadError string
}

// AdminPage is the admin dashboard.
type AdminPage struct {
	Page
	Table   dashboard.TableView
	Detail  dashboard.DetailView
	Drivers []dashboard.DriverRow
	Query   string
}

// DiagnosticsPage reports backend health to admins.
type DiagnosticsPage struct {
	Page
	Forbidden   bool
	Database    string
	Worker      worker.Stats
	Subscribers int
	Controllers int
	Flags       config.Dashboard
	Messaging   bool
	Telemetry   observability.Status
}

// Handler serves the HTML screens and the event stream.
type Handler struct {
	gate     *auth.Gate
	registry *dashboard.Registry
	svc      *service.Service
	hub      *realtime.Hub
	feed     *changefeed.Feed
	engine   *worker.Engine
	obs      *observability.Manager
	conns    *database.Connections
	cfg      config.Config
	logger   *zap.Logger
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Gate     *auth.Gate
	Registry *dashboard.Registry
	Service  *service.Service
	Hub      *realtime.Hub
	Feed     *changefeed.Feed
	Engine   *worker.Engine         `optional:"true"`
	Obs      *observability.Manager `optional:"true"`
	Conns    *database.Connections
	Config   config.Config
	Logger   *zap.Logger
}

// NewHandler constructs the web Handler.
func NewHandler(p Params) *Handler {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		gate:     p.Gate,
		registry: p.Registry,
		svc:      p.Service,
		hub:      p.Hub,
		feed:     p.Feed,
		engine:   p.Engine,
		obs:      p.Obs,
		conns:    p.Conns,
		cfg:      p.Config,
		logger:   logger,
	}
}

// Register mounts the screens on e.
func Register(e *echo.Echo, h *Handler) {
	staticSub, _ := fs.Sub(staticFS, "static")
	e.GET("/static/*", echo.WrapHandler(http.StripPrefix("/static/", http.FileServer(http.FS(staticSub)))))

	e.GET("/", h.root)
	e.GET(auth.LoginPath, h.loginPage, h.gate.RedirectIfLoggedIn)
	e.POST(auth.LoginPath, h.login)
	e.POST("/logout", h.logout)

	anyRole := h.gate.RequireAuth(nil, true)
	e.GET("/events", h.events, anyRole)

	client := h.gate.RequireAuth([]entity.Role{entity.RoleClient}, true)
	e.GET("/dashboard", h.clientDashboard, client)
	e.GET("/dashboard/fragments/cards", h.clientCards, client)
	e.POST("/dashboard/orders", h.createOrder, client)

	driver := h.gate.RequireAuth([]entity.Role{entity.RoleDriver}, true)
	e.GET("/driver", h.driverDashboard, driver)
	e.GET("/driver/fragments/cards", h.driverCards, driver)

	admin := h.gate.RequireAuth([]entity.Role{entity.RoleAdmin}, true)
	e.GET("/admin", h.adminDashboard, admin)
	e.GET("/admin/fragments/table", h.adminTable, admin)
	e.GET("/admin/fragments/detail", h.adminDetail, admin)
	e.POST("/admin/orders/:id/assign", h.assignDriver, admin)
	e.GET("/admin/diagnostics", h.diagnostics, h.gate.RequireAuth([]entity.Role{entity.RoleAdmin}, false))
}

func (h *Handler) page(c echo.Context, title string) Page {
	sess, _ := auth.SessionFrom(c)
	return Page{
		Title:          title,
		Session:        sess,
		Notice:         notices[c.QueryParam("notice")],
		DebounceMillis: h.cfg.Dashboard.SearchDebounce.Milliseconds(),
	}
}

func (h *Handler) controller(c echo.Context) *dashboard.Controller {
	sess, _ := auth.SessionFrom(c)
	return h.registry.For(sess)
}

func (h *Handler) root(c echo.Context) error {
	if sess, ok := h.gate.CurrentSession(c.Request()); ok {
		return c.Redirect(http.StatusSeeOther, auth.HomePath(sess.Role))
	}
	return c.Redirect(http.StatusSeeOther, auth.LoginPath)
}

func (h *Handler) loginPage(c echo.Context) error {
	return c.Render(http.StatusOK, "login.html", Page{Title: "Sign in"})
}

func (h *Handler) login(c echo.Context) error {
	sess, err := h.gate.SignIn(c, c.FormValue("email"), c.FormValue("password"))
	if err != nil {
		appErr := errorbank.From(err)
		return c.Render(appErr.StatusCode(), "login.html", Page{Title: "Sign in", Error: appErr.Message()})
	}
	h.logger.Info("user signed in", zap.String("user_id", sess.UserID), zap.String("role", string(sess.Role)))
	return c.Redirect(http.StatusSeeOther, auth.HomePath(sess.Role))
}

func (h *Handler) logout(c echo.Context) error {
	if key := h.gate.SignOut(c); key != "" {
		h.registry.Remove(key)
	}
	return c.Redirect(http.StatusSeeOther, auth.LoginPath)
}

func (h *Handler) events(c echo.Context) error {
	sess, _ := auth.SessionFrom(c)
	// the controller must be subscribed for the stream to carry anything
	h.registry.For(sess)
	return h.hub.Stream(c, sess.Key)
}

func (h *Handler) clientDashboard(c echo.Context) error {
	return h.renderClient(c, http.StatusOK, FormState{})
}

func (h *Handler) renderClient(c echo.Context, status int, form FormState) error {
	ctrl := h.controller(c)
	data := ClientPage{Page: h.page(c, "My orders"), Form: form}
	if err := ctrl.EnsureLoaded(c.Request().Context()); err != nil {
		data.LoadError = errorbank.From(err).Message()
	}
	data.Cards = ctrl.ClientCards()
	return c.Render(status, "dashboard.html", data)
}

func (h *Handler) clientCards(c echo.Context) error {
	ctrl := h.controller(c)
	data := ClientPage{Cards: ctrl.ClientCards()}
	if err := ctrl.Err(); err != nil {
		data.LoadError = errorbank.From(err).Message()
	}
	return c.Render(http.StatusOK, "dashboard.html#order_cards", data)
}

func (h *Handler) createOrder(c echo.Context) error {
	sess, _ := auth.SessionFrom(c)
	form := FormState{
		PickupAddress:    c.FormValue("pickup_address"),
		DeliveryAddress:  c.FormValue("delivery_address"),
		ExpectedPickup:   c.FormValue("expected_pickup"),
		ExpectedDelivery: c.FormValue("expected_delivery"),
	}

	ctx, span := webTracer.Start(c.Request().Context(), "web.createOrder")
	defer span.End()

	_, err := h.svc.Create(ctx, sess.UserID, service.CreateInput{
		PickupAddress:    form.PickupAddress,
		DeliveryAddress:  form.DeliveryAddress,
		ExpectedPickup:   form.ExpectedPickup,
		ExpectedDelivery: form.ExpectedDelivery,
	})
	if err != nil {
		appErr := errorbank.From(err)
		form.Error = appErr.Message()
		return h.renderClient(c, appErr.StatusCode(), form)
	}

	if err := h.controller(c).Refresh(ctx); err != nil {
		h.logger.Warn("refresh after create failed", zap.Error(err))
	}
	return c.Redirect(http.StatusSeeOther, "/dashboard?notice=created")
}

func (h *Handler) driverDashboard(c echo.Context) error {
	ctrl := h.controller(c)
	data := DriverPage{Page: h.page(c, "My deliveries")}
	if err := ctrl.EnsureLoaded(c.Request().Context()); err != nil {
		data.LoadError = errorbank.From(err).Message()
	}
	data.Cards = ctrl.ClientCards()
	return c.Render(http.StatusOK, "driver.html", data)
}

func (h *Handler) driverCards(c echo.Context) error {
	ctrl := h.controller(c)
	data := DriverPage{Cards: ctrl.ClientCards()}
	if err := ctrl.Err(); err != nil {
		data.LoadError = errorbank.From(err).Message()
	}
	return c.Render(http.StatusOK, "driver.html#order_cards", data)
}

func filtersFrom(c echo.Context) repo.Filters {
	return repo.Filters{
		Status:     c.QueryParam("status"),
		Assignment: c.QueryParam("assignment"),
		Search:     c.QueryParam("search"),
	}.Normalize()
}

// syncFilters applies the request's filters. The list is only fetched when
// the filters changed, on explicit refresh, or on first load; realtime
// re-renders therefore read the cache.
func (h *Handler) syncFilters(c echo.Context, ctrl *dashboard.Controller) {
	ctx := c.Request().Context()
	f := filtersFrom(c)
	var err error
	switch {
	case c.QueryParam("refresh") != "", f != ctrl.Filters():
		err = ctrl.SetFilters(ctx, f)
	default:
		err = ctrl.EnsureLoaded(ctx)
	}
	if err != nil {
		h.logger.Debug("admin refresh failed", zap.Error(err))
	}
}

func selectedFrom(c echo.Context) int64 {
	raw := c.QueryParam("selected")
	if raw == "" {
		raw = c.QueryParam("id")
	}
	id, _ := strconv.ParseInt(raw, 10, 64)
	return id
}

func (h *Handler) adminDashboard(c echo.Context) error {
	ctx, span := webTracer.Start(c.Request().Context(), "web.adminDashboard")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	ctrl := h.controller(c)
	h.syncFilters(c, ctrl)
	if id := selectedFrom(c); id > 0 {
		ctrl.Select(ctx, id)
	}

	data := AdminPage{
		Page:  h.page(c, "Dispatch"),
		Table: ctrl.Table(),
		Query: adminQuery(c),
	}
	data.Drivers = h.driverRows(ctx, ctrl)
	data.Detail = ctrl.Detail()
	if c.QueryParam("error") == "assign" {
		data.Error = service.MsgAssignFailed
	}
	return c.Render(http.StatusOK, "admin.html", data)
}

func (h *Handler) adminTable(c echo.Context) error {
	ctrl := h.controller(c)
	h.syncFilters(c, ctrl)
	return c.Render(http.StatusOK, "admin.html#order_table", AdminPage{Table: ctrl.Table(), Query: adminQuery(c)})
}

func (h *Handler) adminDetail(c echo.Context) error {
	ctx := c.Request().Context()
	ctrl := h.controller(c)
	if id := selectedFrom(c); id > 0 && id != ctrl.SelectedID() {
		ctrl.Select(ctx, id)
	}
	data := AdminPage{Detail: ctrl.Detail(), Query: adminQuery(c)}
	data.Drivers = h.driverRows(ctx, ctrl)
	return c.Render(http.StatusOK, "admin.html#order_detail", data)
}

func (h *Handler) driverRows(ctx context.Context, ctrl *dashboard.Controller) []dashboard.DriverRow {
	drivers, err := h.svc.Drivers(ctx)
	if err != nil {
		drivers = nil
	}
	ctrl.SetDirectory(drivers)
	return dashboard.DriverRows(drivers, ctrl.Stats())
}

func (h *Handler) assignDriver(c echo.Context) error {
	sess, _ := auth.SessionFrom(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.Redirect(http.StatusSeeOther, "/admin?error=assign")
	}

	ctx, span := webTracer.Start(c.Request().Context(), "web.assignDriver", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	target := url.Values{"selected": {strconv.FormatInt(id, 10)}}
	if _, err := h.svc.AssignDriver(ctx, id, c.FormValue("driver_id"), sess.UserID); err != nil {
		target.Set("error", "assign")
		return c.Redirect(http.StatusSeeOther, "/admin?"+target.Encode())
	}

	ctrl := h.controller(c)
	if err := ctrl.Refresh(ctx); err != nil {
		h.logger.Warn("refresh after assign failed", zap.Error(err))
	}
	target.Set("notice", "assigned")
	return c.Redirect(http.StatusSeeOther, "/admin?"+target.Encode())
}

func (h *Handler) diagnostics(c echo.Context) error {
	if !h.cfg.Dashboard.Diagnostics {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	data := DiagnosticsPage{Page: h.page(c, "Diagnostics")}
	if auth.IsForbidden(c) {
		data.Forbidden = true
		return c.Render(http.StatusForbidden, "diagnostics.html", data)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()
	data.Database = "ok"
	if err := h.conns.Ping(ctx); err != nil {
		h.logger.Warn("diagnostics ping failed", zap.Error(err))
		data.Database = "unreachable"
		if errors.Is(err, context.DeadlineExceeded) {
			data.Database = "timeout"
		}
	}
	if h.engine != nil {
		data.Worker = h.engine.Stats()
	}
	data.Subscribers = h.feed.SubscriberCount()
	data.Controllers = h.registry.Len()
	data.Flags = h.cfg.Dashboard
	data.Messaging = h.cfg.Messaging.Enabled
	data.Telemetry = h.obs.Status()
	return c.Render(http.StatusOK, "diagnostics.html", data)
}

func adminQuery(c echo.Context) string {
	q := url.Values{}
	for _, key := range []string{"status", "assignment", "search"} {
		if v := c.QueryParam(key); v != "" {
			q.Set(key, v)
		}
	}
	return q.Encode()
}
