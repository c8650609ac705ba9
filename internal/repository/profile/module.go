package profile

import "go.uber.org/fx"

// Module provides the profile repository to Fx.
var Module = fx.Provide(NewRepository)
