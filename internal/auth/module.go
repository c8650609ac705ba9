package auth

import "go.uber.org/fx"

// Module provides the role resolver and session gate.
var Module = fx.Module("auth",
	fx.Provide(NewResolver, NewGate),
)
