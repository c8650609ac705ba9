package dashboard

import (
	"sort"

	"github.com/Additional-Code/courierdesk/internal/entity"
)

// DriverStats counts the orders pointing at one driver.
type DriverStats struct {
	Assigned   int `json:"assigned"`
	InProgress int `json:"in_progress"`
	Delivered  int `json:"delivered"`
}

// ComputeDriverStats aggregates per-driver counts over orders. Orders without
// a driver are skipped; every other order is either delivered or in progress.
func ComputeDriverStats(orders []*entity.Order) map[string]DriverStats {
	stats := map[string]DriverStats{}
	for _, o := range orders {
		if !o.Assigned() {
			continue
		}
		s := stats[*o.DriverID]
		s.Assigned++
		if o.CurrentStatus == entity.StatusDelivered {
			s.Delivered++
		} else {
			s.InProgress++
		}
		stats[*o.DriverID] = s
	}
	return stats
}

// DriverRow is one line of the drivers panel.
type DriverRow struct {
	Driver *entity.Profile
	DriverStats
}

// DriverRows joins drivers with their stats. Drivers keep the given order;
// drivers with no orders get zero counts.
func DriverRows(drivers []*entity.Profile, stats map[string]DriverStats) []DriverRow {
	rows := make([]DriverRow, 0, len(drivers))
	seen := map[string]bool{}
	for _, d := range drivers {
		seen[d.ID] = true
		rows = append(rows, DriverRow{Driver: d, DriverStats: stats[d.ID]})
	}
	// drivers referenced by orders but missing from the profile list
	var extra []string
	for id := range stats {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		rows = append(rows, DriverRow{Driver: &entity.Profile{ID: id}, DriverStats: stats[id]})
	}
	return rows
}
