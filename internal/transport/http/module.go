package http

import (
	"go.uber.org/fx"

	ordertransport "github.com/Additional-Code/courierdesk/internal/transport/http/order"
	"github.com/Additional-Code/courierdesk/internal/transport/http/web"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	web.Module,
	ordertransport.Module,
)
