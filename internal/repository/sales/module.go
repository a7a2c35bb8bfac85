package sales

import "go.uber.org/fx"

// Module provides the bun repository and exposes it as the Store.
var Module = fx.Provide(NewRepository, NewStore)
