package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/Additional-Code/courierdesk/internal/changefeed"
	"github.com/Additional-Code/courierdesk/internal/entity"
	repo "github.com/Additional-Code/courierdesk/internal/repository/order"
)

var dashboardMeter = otel.Meter("github.com/Additional-Code/courierdesk/dashboard")

// Fetcher reads the order list for a controller.
type Fetcher interface {
	List(ctx context.Context, f repo.Filters) (repo.ListResult, error)
}

// EventKind tells the page what to do with a pushed event.
type EventKind string

const (
	// EventRefresh means the views changed and should be re-rendered.
	EventRefresh EventKind = "refresh"
	// EventNotice carries a transient message for the user.
	EventNotice EventKind = "notice"
)

// Event is pushed to the browser owning a controller.
type Event struct {
	Kind    EventKind `json:"kind"`
	Message string    `json:"message,omitempty"`
	OrderID int64     `json:"order_id,omitempty"`
}

// Refresh reasons recorded on the refresh counter.
const (
	reasonUser        = "user"
	reasonSelect      = "select"
	reasonOrderInsert = "order_insert"
	reasonOrderUpdate = "order_update"
	reasonEvent       = "status_event"
)

// Options configures a Controller.
type Options struct {
	// Scope is merged into every fetch; client and driver screens use it to
	// restrict the list to their own orders.
	Scope  repo.Filters
	Notify func(Event)
	Logger *zap.Logger
}

// Controller owns one screen's order state: cached list, filters, selected
// order and realtime subscription.
type Controller struct {
	fetcher Fetcher
	scope   repo.Filters
	notify  func(Event)
	logger  *zap.Logger

	// fetchMu serialises refreshes so a slower fetch cannot overwrite a newer one.
	fetchMu sync.Mutex

	mu         sync.Mutex
	cache      *Cache
	filters    repo.Filters
	selectedID int64
	loaded     bool
	degraded   bool
	lastErr    error
	directory  map[string]*entity.Profile

	feed       *changefeed.Feed
	subscribed bool
	subID      changefeed.SubscriberID

	refreshes metric.Int64Counter
}

// NewController builds a controller reading through fetcher.
func NewController(fetcher Fetcher, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notify := opts.Notify
	if notify == nil {
		notify = func(Event) {}
	}
	counter, err := dashboardMeter.Int64Counter("courierdesk.dashboard.refreshes",
		metric.WithDescription("Order list fetches issued by dashboard controllers"))
	if err != nil {
		logger.Warn("refresh counter unavailable", zap.Error(err))
	}
	return &Controller{
		fetcher:   fetcher,
		scope:     opts.Scope,
		notify:    notify,
		logger:    logger,
		cache:     NewCache(),
		directory: map[string]*entity.Profile{},
		refreshes: counter,
	}
}

// Refresh fetches the order list with the current filters and replaces the
// cache. A failed fetch leaves an empty cache and the error for the views,
// except when ctx itself ended: the previous list is then kept as is.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.refresh(ctx, reasonUser)
}

func (c *Controller) refresh(ctx context.Context, reason string) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	c.mu.Lock()
	f := c.effectiveFilters()
	c.mu.Unlock()

	if c.refreshes != nil {
		c.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
	res, err := c.fetcher.List(ctx, f)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil && ctx.Err() != nil {
		c.logger.Debug("order refresh abandoned", zap.String("reason", reason), zap.Error(err))
		return err
	}
	c.loaded = true
	if err != nil {
		c.logger.Warn("order refresh failed", zap.String("reason", reason), zap.Error(err))
		c.cache.Replace(nil)
		c.degraded = false
		c.lastErr = err
		return err
	}
	c.cache.Replace(res.Orders)
	c.degraded = res.Degraded
	c.lastErr = nil
	return nil
}

// SetFilters replaces the filter state and refreshes.
func (c *Controller) SetFilters(ctx context.Context, f repo.Filters) error {
	c.mu.Lock()
	c.filters = f.Normalize()
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Filters returns the current filter state.
func (c *Controller) Filters() repo.Filters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters
}

// EnsureLoaded refreshes once if nothing was fetched yet.
func (c *Controller) EnsureLoaded(ctx context.Context) error {
	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()
	if loaded {
		return nil
	}
	return c.Refresh(ctx)
}

// Select makes id the detail order. An id missing from the cache forces one
// refresh; if it is still missing the detail view shows its empty state.
func (c *Controller) Select(ctx context.Context, id int64) (*entity.Order, bool) {
	c.mu.Lock()
	c.selectedID = id
	o, ok := c.cache.Get(id)
	c.mu.Unlock()
	if ok || id <= 0 {
		return o, ok
	}

	if err := c.refresh(ctx, reasonSelect); err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Get(id)
}

// SelectedID returns the order shown in detail, or 0.
func (c *Controller) SelectedID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedID
}

// SetDirectory registers profiles used to name drivers on merged updates.
func (c *Controller) SetDirectory(profiles []*entity.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range profiles {
		if p != nil {
			c.directory[p.ID] = p
		}
	}
}

// Orders returns the cached orders in fetch order.
func (c *Controller) Orders() []*entity.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Values()
}

// Subscribe attaches the controller to feed. Repeated calls are no-ops.
func (c *Controller) Subscribe(feed *changefeed.Feed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed || feed == nil {
		return
	}
	c.feed = feed
	c.subID = feed.Subscribe(c.HandleChange,
		changefeed.Filter{Table: changefeed.TableStatusEvents, Type: changefeed.Insert},
		changefeed.Filter{Table: changefeed.TableOrders, Type: changefeed.Insert},
		changefeed.Filter{Table: changefeed.TableOrders, Type: changefeed.Update},
	)
	c.subscribed = true
}

// Close ends the realtime subscription.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.subscribed {
		return
	}
	c.feed.Unsubscribe(c.subID)
	c.subscribed = false
	c.feed = nil
}

// HandleChange applies one realtime change.
func (c *Controller) HandleChange(ctx context.Context, change changefeed.Change) {
	var err error
	switch {
	case change.Table == changefeed.TableStatusEvents && change.Type == changefeed.Insert:
		err = c.onStatusEvent(ctx, change)
	case change.Table == changefeed.TableOrders && change.Type == changefeed.Insert:
		err = c.onOrderInsert(ctx, change)
	case change.Table == changefeed.TableOrders && change.Type == changefeed.Update:
		err = c.onOrderUpdate(ctx, change)
	}
	if err != nil {
		c.logger.Warn("realtime change not applied",
			zap.String("table", string(change.Table)),
			zap.String("type", string(change.Type)),
			zap.Error(err),
		)
	}
}

func (c *Controller) onStatusEvent(ctx context.Context, change changefeed.Change) error {
	var ev entity.StatusEvent
	if err := change.Decode(&ev); err != nil {
		return err
	}

	c.mu.Lock()
	cached, ok := c.cache.Get(ev.OrderID)
	if ok {
		merged := *cached
		merged.StatusEvents = append(append([]*entity.StatusEvent(nil), cached.StatusEvents...), &ev)
		if ev.Status != "" {
			merged.CurrentStatus = ev.Status
		}
		c.store(&merged)
	}
	selected := c.selectedID == ev.OrderID && ev.OrderID > 0
	// an empty scoped cache cannot tell whether the order is ours
	fetchUnknown := c.unscoped() || c.cache.Len() == 0
	c.mu.Unlock()

	switch {
	case selected:
		if err := c.refresh(ctx, reasonEvent); err != nil {
			return err
		}
		c.notify(Event{Kind: EventRefresh, OrderID: ev.OrderID})
		c.notify(Event{Kind: EventNotice, OrderID: ev.OrderID, Message: fmt.Sprintf("Order #%d is now %s", ev.OrderID, ev.Status)})
	case ok:
		c.notify(Event{Kind: EventRefresh, OrderID: ev.OrderID})
	case fetchUnknown:
		if err := c.refresh(ctx, reasonEvent); err != nil {
			return err
		}
		c.notify(Event{Kind: EventRefresh, OrderID: ev.OrderID})
	}
	return nil
}

func (c *Controller) onOrderInsert(ctx context.Context, change changefeed.Change) error {
	fields, err := change.Fields()
	if err != nil {
		return err
	}
	c.mu.Lock()
	admits := c.scopeAdmits(fields)
	c.mu.Unlock()
	if !admits {
		return nil
	}

	var o entity.Order
	if err := change.Decode(&o); err != nil {
		return err
	}
	if err := c.refresh(ctx, reasonOrderInsert); err != nil {
		return err
	}
	c.notify(Event{Kind: EventRefresh, OrderID: o.ID})
	c.notify(Event{Kind: EventNotice, OrderID: o.ID, Message: fmt.Sprintf("New order #%d", o.ID)})
	return nil
}

func (c *Controller) onOrderUpdate(ctx context.Context, change changefeed.Change) error {
	var patch struct {
		ID int64 `json:"id"`
	}
	if err := change.Decode(&patch); err != nil {
		return err
	}
	fields, err := change.Fields()
	if err != nil {
		return err
	}

	c.mu.Lock()
	cached, ok := c.cache.Get(patch.ID)
	if ok {
		merged, err := c.merge(cached, change.Record)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.store(merged)
	}
	admits := !ok && c.scopeAdmits(fields)
	c.mu.Unlock()

	if ok {
		c.notify(Event{Kind: EventRefresh, OrderID: patch.ID})
		return nil
	}
	if !admits {
		return nil
	}
	// an order entering this scope, e.g. newly assigned to the driver
	if err := c.refresh(ctx, reasonOrderUpdate); err != nil {
		return err
	}
	c.notify(Event{Kind: EventRefresh, OrderID: patch.ID})
	return nil
}

// store puts a merged order back, or drops it when the change moved it out
// of the scope and filters the list was fetched with. Caller holds mu.
func (c *Controller) store(o *entity.Order) {
	if c.effectiveFilters().Match(o) {
		c.cache.Put(o)
		return
	}
	c.cache.Remove(o.ID)
}

// merge overlays a partial record on a copy of cached. Caller holds mu.
func (c *Controller) merge(cached *entity.Order, record json.RawMessage) (*entity.Order, error) {
	merged := *cached
	if err := json.Unmarshal(record, &merged); err != nil {
		return nil, err
	}
	merged.ID = cached.ID
	// relations are never part of a pushed record
	merged.Requester = cached.Requester
	merged.StatusEvents = cached.StatusEvents
	merged.ScanProofs = cached.ScanProofs
	merged.Assignments = cached.Assignments
	merged.Driver = cached.Driver
	if !sameDriver(cached.DriverID, merged.DriverID) {
		merged.Driver = nil
		if merged.DriverID != nil {
			merged.Driver = c.directory[*merged.DriverID]
		}
	}
	return &merged, nil
}

func sameDriver(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// effectiveFilters combines the filter state with the scope. Caller holds mu.
func (c *Controller) effectiveFilters() repo.Filters {
	f := c.filters
	if c.scope.RequesterID != "" {
		f.RequesterID = c.scope.RequesterID
	}
	if c.scope.DriverID != "" {
		f.DriverID = c.scope.DriverID
	}
	return f
}

func (c *Controller) unscoped() bool {
	return c.scope.RequesterID == "" && c.scope.DriverID == ""
}

// scopeAdmits reports whether a pushed record may belong to this screen.
func (c *Controller) scopeAdmits(fields map[string]json.RawMessage) bool {
	if c.unscoped() {
		return true
	}
	if c.scope.RequesterID != "" && !fieldEquals(fields, "user_id", c.scope.RequesterID) {
		return false
	}
	if c.scope.DriverID != "" && !fieldEquals(fields, "driver_id", c.scope.DriverID) {
		return false
	}
	return true
}

func fieldEquals(fields map[string]json.RawMessage, key, want string) bool {
	raw, ok := fields[key]
	if !ok {
		return false
	}
	var got string
	if err := json.Unmarshal(raw, &got); err != nil {
		return false
	}
	return got == want
}
