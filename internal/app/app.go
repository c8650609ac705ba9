package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/courierdesk/internal/auth"
	"github.com/Additional-Code/courierdesk/internal/cache"
	"github.com/Additional-Code/courierdesk/internal/changefeed"
	"github.com/Additional-Code/courierdesk/internal/config"
	"github.com/Additional-Code/courierdesk/internal/dashboard"
	"github.com/Additional-Code/courierdesk/internal/database"
	"github.com/Additional-Code/courierdesk/internal/logger"
	"github.com/Additional-Code/courierdesk/internal/messaging"
	"github.com/Additional-Code/courierdesk/internal/observability"
	"github.com/Additional-Code/courierdesk/internal/realtime"
	repositoryorder "github.com/Additional-Code/courierdesk/internal/repository/order"
	repositoryprofile "github.com/Additional-Code/courierdesk/internal/repository/profile"
	grpcserver "github.com/Additional-Code/courierdesk/internal/server/grpc"
	httpserver "github.com/Additional-Code/courierdesk/internal/server/http"
	serviceorder "github.com/Additional-Code/courierdesk/internal/service/order"
	transporthttp "github.com/Additional-Code/courierdesk/internal/transport/http"
	"github.com/Additional-Code/courierdesk/internal/worker"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	repositoryorder.Module,
	repositoryprofile.Module,
	changefeed.Module,
	serviceorder.Module,
)

// HTTP wires the dashboard: web and API transports, the gRPC health
// endpoint, and the change-feed consumer feeding the realtime bridge.
var HTTP = fx.Options(
	Core,
	auth.Module,
	realtime.Module,
	dashboard.Module,
	worker.Module,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Module is the default application wiring.
var Module = HTTP
