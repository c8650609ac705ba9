package dashboard

import (
	"sort"

	"github.com/Additional-Code/courierdesk/internal/entity"
	repo "github.com/Additional-Code/courierdesk/internal/repository/order"
)

// Messages shown by the views.
const (
	MsgNoOrders      = "No orders match the current filters."
	MsgNoSelection   = "Select an order to see its details."
	MsgOrderNotFound = "This order is not available."
	MsgLoadFailed    = "Unable to load orders. Please try again."
	MsgDegraded      = "Order history is temporarily unavailable; showing basic details only."
)

// TableView is the order table.
type TableView struct {
	Filters  repo.Filters
	Rows     []*entity.Order
	Selected int64
	// Placeholder replaces the table when there are no rows.
	Placeholder string
	Error       string
	Warning     string
}

// DetailView is the detail panel of the selected order.
type DetailView struct {
	Order *entity.Order
	// History is newest first.
	History []*entity.StatusEvent
	Proofs  []*entity.ScanProof
	// Assignments is newest first.
	Assignments []*entity.DriverAssignment
	Empty       string
}

// Card is one order on the client screen. History is oldest first.
type Card struct {
	Order   *entity.Order
	History []*entity.StatusEvent
}

// Table renders the cached orders still matching the filters, in fetch order.
func (c *Controller) Table() TableView {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.effectiveFilters()
	view := TableView{Filters: c.filters, Selected: c.selectedID}
	for _, o := range c.cache.Values() {
		if f.Match(o) {
			view.Rows = append(view.Rows, o)
		}
	}
	switch {
	case c.lastErr != nil:
		view.Error = MsgLoadFailed
		view.Placeholder = MsgNoOrders
	case len(view.Rows) == 0:
		view.Placeholder = MsgNoOrders
	}
	if c.degraded {
		view.Warning = MsgDegraded
	}
	return view
}

// Detail renders the selected order. It never fails: a missing order yields
// the empty state.
func (c *Controller) Detail() DetailView {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.selectedID <= 0 {
		return DetailView{Empty: MsgNoSelection}
	}
	o, ok := c.cache.Get(c.selectedID)
	if !ok {
		return DetailView{Empty: MsgOrderNotFound}
	}
	return DetailView{
		Order:       o,
		History:     HistoryNewestFirst(o.StatusEvents),
		Proofs:      o.ScanProofs,
		Assignments: assignmentsNewestFirst(o.Assignments),
	}
}

// ClientCards renders every cached order in scope with its chronological history.
func (c *Controller) ClientCards() []Card {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.effectiveFilters()
	orders := c.cache.Values()
	cards := make([]Card, 0, len(orders))
	for _, o := range orders {
		if !f.Match(o) {
			continue
		}
		cards = append(cards, Card{Order: o, History: HistoryOldestFirst(o.StatusEvents)})
	}
	return cards
}

// Stats aggregates driver counts over the cached list.
func (c *Controller) Stats() map[string]DriverStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.effectiveFilters()
	var orders []*entity.Order
	for _, o := range c.cache.Values() {
		if f.Match(o) {
			orders = append(orders, o)
		}
	}
	return ComputeDriverStats(orders)
}

// Err returns the error of the last refresh, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// HistoryNewestFirst returns a copy of events sorted by created_at descending.
func HistoryNewestFirst(events []*entity.StatusEvent) []*entity.StatusEvent {
	out := append([]*entity.StatusEvent(nil), events...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// HistoryOldestFirst returns a copy of events sorted by created_at ascending.
func HistoryOldestFirst(events []*entity.StatusEvent) []*entity.StatusEvent {
	out := append([]*entity.StatusEvent(nil), events...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func assignmentsNewestFirst(rows []*entity.DriverAssignment) []*entity.DriverAssignment {
	out := append([]*entity.DriverAssignment(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].AssignedAt.After(out[j].AssignedAt) })
	return out
}
