// Command api runs the dashboard without the CLI wrapper, for container
// entrypoints that only ever serve.
package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/Additional-Code/courierdesk/internal/app"
)

func main() {
	fx.New(
		app.Module,
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
	).Run()
}
