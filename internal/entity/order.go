package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Order is a delivery request. CurrentStatus is a denormalised copy of the
// latest status event and is displayed as stored.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID               int64      `bun:"id,pk,autoincrement" json:"id"`
	UserID           string     `bun:"user_id,notnull" json:"user_id"`
	DriverID         *string    `bun:"driver_id" json:"driver_id"`
	PickupAddress    string     `bun:"pickup_address,notnull" json:"pickup_address"`
	DeliveryAddress  string     `bun:"delivery_address,notnull" json:"delivery_address"`
	ExpectedPickup   *time.Time `bun:"expected_pickup" json:"expected_pickup"`
	ExpectedDelivery *time.Time `bun:"expected_delivery" json:"expected_delivery"`
	CurrentStatus    string     `bun:"current_status,notnull" json:"current_status"`
	CreatedAt        time.Time  `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`

	Requester    *Profile            `bun:"rel:belongs-to,join:user_id=id" json:"requester,omitempty"`
	Driver       *Profile            `bun:"rel:belongs-to,join:driver_id=id" json:"driver,omitempty"`
	StatusEvents []*StatusEvent      `bun:"rel:has-many,join:id=order_id" json:"order_status_events,omitempty"`
	ScanProofs   []*ScanProof        `bun:"rel:has-many,join:id=order_id" json:"scan_proofs,omitempty"`
	Assignments  []*DriverAssignment `bun:"rel:has-many,join:id=order_id" json:"driver_assignments,omitempty"`
}

// Assigned reports whether a driver pointer is set on the order.
func (o *Order) Assigned() bool {
	return o != nil && o.DriverID != nil && *o.DriverID != ""
}

// StatusCreated is the status every new order starts with.
const StatusCreated = "created"

// StatusAssigned is written by the assign-driver mutation.
const StatusAssigned = "assigned"

// StatusDelivered marks a completed order for driver statistics.
const StatusDelivered = "delivered"
