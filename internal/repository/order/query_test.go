package order

import (
	"strconv"
	"testing"

	"github.com/Additional-Code/courierdesk/internal/entity"
)

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func TestEscapeLike(t *testing.T) {
	tests := map[string]string{
		"50%":       "50!%",
		"part_dieu": "part!_dieu",
		"wow!":      "wow!!",
		"plain":     "plain",
	}
	for in, want := range tests {
		if got := EscapeLike(in); got != want {
			t.Errorf("EscapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFiltersSearchID(t *testing.T) {
	if id, ok := (Filters{Search: " 42 "}).SearchID(); !ok || id != 42 {
		t.Errorf("SearchID = %d, %v", id, ok)
	}
	if _, ok := (Filters{Search: "42b"}).SearchID(); ok {
		t.Error("42b is not an id")
	}
}

func TestFiltersMatch(t *testing.T) {
	driver := "d-1"
	assigned := &entity.Order{ID: 7, UserID: "u-1", DriverID: &driver, PickupAddress: "1 Main St", DeliveryAddress: "2 Side Rd", CurrentStatus: "in_transit"}
	open := &entity.Order{ID: 8, UserID: "u-2", PickupAddress: "50% Off Mall", DeliveryAddress: "Dock", CurrentStatus: "created"}

	tests := []struct {
		name    string
		filters Filters
		order   *entity.Order
		want    bool
	}{
		{"empty matches all", Filters{}, assigned, true},
		{"status all", Filters{Status: StatusAll}, open, true},
		{"status mismatch", Filters{Status: "created"}, assigned, false},
		{"assigned", Filters{Assignment: AssignmentAssigned}, assigned, true},
		{"assigned excludes open", Filters{Assignment: AssignmentAssigned}, open, false},
		{"unassigned", Filters{Assignment: AssignmentUnassigned}, open, true},
		{"unknown assignment ignored", Filters{Assignment: "whatever"}, open, true},
		{"id search", Filters{Search: "7"}, assigned, true},
		{"id search is exact", Filters{Search: "7"}, open, false},
		{"case-insensitive text", Filters{Search: "main"}, assigned, true},
		{"delivery address", Filters{Search: "DOCK"}, open, true},
		{"wildcard literal", Filters{Search: "50%"}, open, true},
		{"wildcard does not match everything", Filters{Search: "50%"}, assigned, false},
		{"requester", Filters{RequesterID: "u-2"}, assigned, false},
		{"driver", Filters{DriverID: "d-1"}, assigned, true},
		{"driver excludes unassigned", Filters{DriverID: "d-1"}, open, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filters.Match(tt.order); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}
