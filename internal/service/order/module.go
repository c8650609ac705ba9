package order

import "go.uber.org/fx"

// Module provides the order service (reads and the create/assign mutations) to Fx.
var Module = fx.Provide(NewService)
