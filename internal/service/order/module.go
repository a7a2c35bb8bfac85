package order

import "go.uber.org/fx"

// Module provides the order service and its default base confirmation to Fx.
var Module = fx.Provide(
	NewService,
	func() BaseConfirmer { return StateConfirmer{} },
)
