package order

import "go.uber.org/fx"

// Module provides the order query builder and writer to Fx.
var Module = fx.Provide(NewRepository)
