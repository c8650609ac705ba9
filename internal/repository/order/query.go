package order

import (
	"strconv"
	"strings"

	"github.com/uptrace/bun"

	"github.com/Additional-Code/courierdesk/internal/database"
	"github.com/Additional-Code/courierdesk/internal/entity"
)

// Filter values understood by the query builder.
const (
	StatusAll            = "all"
	AssignmentAssigned   = "assigned"
	AssignmentUnassigned = "unassigned"
)

// likeEscape is the ESCAPE character used for substring search. A non
// backslash character keeps the clause identical across dialects.
const likeEscape = "!"

var likeReplacer = strings.NewReplacer(
	likeEscape, likeEscape+likeEscape,
	"%", likeEscape+"%",
	"_", likeEscape+"_",
)

// Filters is the UI filter state applied to order reads.
type Filters struct {
	// Status matches current_status exactly; "" or "all" disables it.
	Status string
	// Assignment is "assigned", "unassigned" or anything else for no filter.
	Assignment string
	// Search is an order id when it parses as an integer, otherwise a
	// case-insensitive substring of either address.
	Search string
	// RequesterID restricts to one client's orders.
	RequesterID string
	// DriverID restricts to orders currently pointing at one driver.
	DriverID string
}

// Normalize trims the free-text fields.
func (f Filters) Normalize() Filters {
	f.Status = strings.TrimSpace(f.Status)
	f.Assignment = strings.TrimSpace(f.Assignment)
	f.Search = strings.TrimSpace(f.Search)
	return f
}

// SearchID returns the order id the search term denotes, if any.
func (f Filters) SearchID() (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(f.Search), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Match applies the same predicate as the SQL filters to an order in memory.
func (f Filters) Match(o *entity.Order) bool {
	f = f.Normalize()
	if f.Status != "" && f.Status != StatusAll && o.CurrentStatus != f.Status {
		return false
	}
	switch f.Assignment {
	case AssignmentAssigned:
		if !o.Assigned() {
			return false
		}
	case AssignmentUnassigned:
		if o.Assigned() {
			return false
		}
	}
	if f.RequesterID != "" && o.UserID != f.RequesterID {
		return false
	}
	if f.DriverID != "" && (o.DriverID == nil || *o.DriverID != f.DriverID) {
		return false
	}
	if f.Search == "" {
		return true
	}
	if id, ok := f.SearchID(); ok {
		return o.ID == id
	}
	term := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(o.PickupAddress), term) ||
		strings.Contains(strings.ToLower(o.DeliveryAddress), term)
}

// EscapeLike neutralises LIKE wildcards so the term matches literally.
func EscapeLike(term string) string {
	return likeReplacer.Replace(term)
}

// QueryOptions selects which relations are joined.
type QueryOptions struct {
	// RichJoins adds scan proofs and assignment history.
	RichJoins bool
}

// BuildOrdersQuery composes the joined, filtered and sorted order read.
func BuildOrdersQuery(db bun.IDB, dst *[]*entity.Order, f Filters, opts QueryOptions) *bun.SelectQuery {
	q := db.NewSelect().
		Model(dst).
		Relation("Requester").
		Relation("Driver").
		Relation("StatusEvents", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("se.created_at ASC", "se.id ASC")
		})
	if opts.RichJoins {
		q = q.
			Relation("ScanProofs", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Order("sp.created_at ASC")
			}).
			Relation("Assignments", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Order("da.assigned_at ASC")
			})
	}
	return applyFilters(q, f)
}

// buildMinimalQuery reads core order columns only, without any relation.
func buildMinimalQuery(db bun.IDB, dst *[]*entity.Order, f Filters) *bun.SelectQuery {
	q := db.NewSelect().
		Model(dst).
		Column("o.id", "o.user_id", "o.driver_id", "o.pickup_address", "o.delivery_address",
			"o.expected_pickup", "o.expected_delivery", "o.current_status", "o.created_at")
	return applyFilters(q, f)
}

func applyFilters(q *bun.SelectQuery, f Filters) *bun.SelectQuery {
	f = f.Normalize()

	if f.Status != "" && f.Status != StatusAll {
		q = q.Where("o.current_status = ?", f.Status)
	}

	switch f.Assignment {
	case AssignmentAssigned:
		q = q.Where("o.driver_id IS NOT NULL")
	case AssignmentUnassigned:
		q = q.Where("o.driver_id IS NULL")
	}

	if f.RequesterID != "" {
		q = q.Where("o.user_id = ?", f.RequesterID)
	}
	if f.DriverID != "" {
		q = q.Where("o.driver_id = ?", f.DriverID)
	}

	if f.Search != "" {
		if id, ok := f.SearchID(); ok {
			q = q.Where("o.id = ?", id)
		} else {
			pattern := "%" + EscapeLike(strings.ToLower(f.Search)) + "%"
			lower := database.LowerFunc(q.DB())
			q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.
					Where(lower+"(o.pickup_address) LIKE ? ESCAPE '"+likeEscape+"'", pattern).
					WhereOr(lower+"(o.delivery_address) LIKE ? ESCAPE '"+likeEscape+"'", pattern)
			})
		}
	}

	return q.Order("o.created_at DESC", "o.id DESC")
}
