package web

import (
	"html/template"
	"strconv"
	"strings"
	"time"

	"github.com/Additional-Code/courierdesk/internal/entity"
)

const timeLayout = "2006-01-02 15:04"

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.Local().Format(timeLayout)
		},
		"formatTimePtr": func(t *time.Time) string {
			if t == nil || t.IsZero() {
				return "-"
			}
			return t.Local().Format(timeLayout)
		},
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"name": func(p *entity.Profile) string {
			if p == nil {
				return "-"
			}
			return p.DisplayName()
		},
		"driverName": driverName,
		"detailLink": func(id int64, query string) string {
			link := "/admin?selected=" + strconv.FormatInt(id, 10)
			if query != "" {
				link += "&" + query
			}
			return link
		},
		"statusLabel": func(status string) string {
			if status == "" {
				return "unknown"
			}
			return strings.ReplaceAll(status, "_", " ")
		},
		"statusClass": func(status string) string {
			switch status {
			case entity.StatusDelivered:
				return "status status-done"
			case entity.StatusCreated:
				return "status status-new"
			case "cancelled", "failed":
				return "status status-bad"
			default:
				return "status status-active"
			}
		},
		"selected": func(a, b string) template.HTMLAttr {
			if a == b {
				return "selected"
			}
			return ""
		},
	}
}

// driverName names the order's driver: profile, then raw id, then a dash.
func driverName(o *entity.Order) string {
	switch {
	case o == nil || !o.Assigned():
		return "Unassigned"
	case o.Driver != nil:
		return o.Driver.DisplayName()
	default:
		return *o.DriverID
	}
}
