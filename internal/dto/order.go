package dto

import (
	"time"

	"github.com/Additional-Code/courierdesk/internal/entity"
)

// ProfileSummary is the public part of a profile.
type ProfileSummary struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Role     string `json:"role"`
}

// StatusEventResponse is one entry of an order's history.
type StatusEventResponse struct {
	ID          int64     `json:"id"`
	Status      string    `json:"status"`
	Reason      *string   `json:"reason,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
	PerformedBy *string   `json:"performed_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScanProofResponse is one proof record.
type ScanProofResponse struct {
	ID        int64     `json:"id"`
	ScanType  string    `json:"scan_type"`
	Payload   *string   `json:"payload,omitempty"`
	ImageURL  *string   `json:"image_url,omitempty"`
	Note      *string   `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AssignmentResponse is one driver assignment record.
type AssignmentResponse struct {
	ID           int64      `json:"id"`
	DriverID     string     `json:"driver_id"`
	AssignedBy   *string    `json:"assigned_by,omitempty"`
	AssignedAt   time.Time  `json:"assigned_at"`
	UnassignedAt *time.Time `json:"unassigned_at,omitempty"`
	Note         *string    `json:"note,omitempty"`
}

// OrderResponse represents an order as exposed via transport layers.
type OrderResponse struct {
	ID               int64                 `json:"id"`
	UserID           string                `json:"user_id"`
	DriverID         *string               `json:"driver_id"`
	PickupAddress    string                `json:"pickup_address"`
	DeliveryAddress  string                `json:"delivery_address"`
	ExpectedPickup   *time.Time            `json:"expected_pickup"`
	ExpectedDelivery *time.Time            `json:"expected_delivery"`
	CurrentStatus    string                `json:"current_status"`
	CreatedAt        time.Time             `json:"created_at"`
	Requester        *ProfileSummary       `json:"requester,omitempty"`
	Driver           *ProfileSummary       `json:"driver,omitempty"`
	History          []StatusEventResponse `json:"history"`
	ScanProofs       []ScanProofResponse   `json:"scan_proofs"`
	Assignments      []AssignmentResponse  `json:"assignments"`
}

// CreateOrderRequest is the JSON body of an order creation.
type CreateOrderRequest struct {
	PickupAddress    string `json:"pickup_address" form:"pickup_address"`
	DeliveryAddress  string `json:"delivery_address" form:"delivery_address"`
	ExpectedPickup   string `json:"expected_pickup" form:"expected_pickup"`
	ExpectedDelivery string `json:"expected_delivery" form:"expected_delivery"`
}

// AssignDriverRequest is the body of a driver assignment.
type AssignDriverRequest struct {
	DriverID string `json:"driver_id" form:"driver_id"`
}

// DriverStatsResponse is one driver's counters.
type DriverStatsResponse struct {
	Driver     ProfileSummary `json:"driver"`
	Assigned   int            `json:"assigned"`
	InProgress int            `json:"in_progress"`
	Delivered  int            `json:"delivered"`
}

// FromProfile converts a profile; nil stays nil.
func FromProfile(p *entity.Profile) *ProfileSummary {
	if p == nil {
		return nil
	}
	return &ProfileSummary{ID: p.ID, FullName: p.FullName, Email: p.Email, Phone: p.Phone, Role: string(p.Role)}
}

// FromOrder converts an order with its relations. history is passed in so
// callers choose the ordering.
func FromOrder(o *entity.Order, history []*entity.StatusEvent) OrderResponse {
	resp := OrderResponse{
		ID:               o.ID,
		UserID:           o.UserID,
		DriverID:         o.DriverID,
		PickupAddress:    o.PickupAddress,
		DeliveryAddress:  o.DeliveryAddress,
		ExpectedPickup:   o.ExpectedPickup,
		ExpectedDelivery: o.ExpectedDelivery,
		CurrentStatus:    o.CurrentStatus,
		CreatedAt:        o.CreatedAt,
		Requester:        FromProfile(o.Requester),
		Driver:           FromProfile(o.Driver),
		History:          make([]StatusEventResponse, 0, len(history)),
		ScanProofs:       make([]ScanProofResponse, 0, len(o.ScanProofs)),
		Assignments:      make([]AssignmentResponse, 0, len(o.Assignments)),
	}
	for _, ev := range history {
		resp.History = append(resp.History, StatusEventResponse{
			ID: ev.ID, Status: ev.Status, Reason: ev.Reason, Notes: ev.Notes,
			PerformedBy: ev.PerformedBy, CreatedAt: ev.CreatedAt,
		})
	}
	for _, sp := range o.ScanProofs {
		resp.ScanProofs = append(resp.ScanProofs, ScanProofResponse{
			ID: sp.ID, ScanType: sp.ScanType, Payload: sp.Payload, ImageURL: sp.ImageURL,
			Note: sp.Note, CreatedAt: sp.CreatedAt,
		})
	}
	for _, a := range o.Assignments {
		resp.Assignments = append(resp.Assignments, AssignmentResponse{
			ID: a.ID, DriverID: a.DriverID, AssignedBy: a.AssignedBy, AssignedAt: a.AssignedAt,
			UnassignedAt: a.UnassignedAt, Note: a.Note,
		})
	}
	return resp
}
