package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// StatusEvent is an append-only record of an order status transition.
type StatusEvent struct {
	bun.BaseModel `bun:"table:order_status_events,alias:se"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	OrderID     int64     `bun:"order_id,notnull" json:"order_id"`
	Status      string    `bun:"status,notnull" json:"status"`
	Reason      *string   `bun:"reason" json:"reason,omitempty"`
	Notes       *string   `bun:"notes" json:"notes,omitempty"`
	PerformedBy *string   `bun:"performed_by" json:"performed_by,omitempty"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}

// ScanProof is evidence attached to an order, e.g. a photo at pickup.
type ScanProof struct {
	bun.BaseModel `bun:"table:scan_proofs,alias:sp"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	OrderID     int64     `bun:"order_id,notnull" json:"order_id"`
	ScanType    string    `bun:"scan_type,notnull" json:"scan_type"`
	Payload     *string   `bun:"payload" json:"payload,omitempty"`
	ImageURL    *string   `bun:"image_url" json:"image_url,omitempty"`
	Note        *string   `bun:"note" json:"note,omitempty"`
	PerformedBy *string   `bun:"performed_by" json:"performed_by,omitempty"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}

// DriverAssignment is one row per assignment action.
type DriverAssignment struct {
	bun.BaseModel `bun:"table:driver_assignments,alias:da"`

	ID           int64      `bun:"id,pk,autoincrement" json:"id"`
	OrderID      int64      `bun:"order_id,notnull" json:"order_id"`
	DriverID     string     `bun:"driver_id,notnull" json:"driver_id"`
	AssignedBy   *string    `bun:"assigned_by" json:"assigned_by,omitempty"`
	AssignedAt   time.Time  `bun:"assigned_at,notnull" json:"assigned_at"`
	UnassignedAt *time.Time `bun:"unassigned_at" json:"unassigned_at,omitempty"`
	Note         *string    `bun:"note" json:"note,omitempty"`
}
