package http

import (
	"go.uber.org/fx"

	backordertransport "github.com/Additional-Code/fulfillment/internal/transport/http/backorder"
	ordertransport "github.com/Additional-Code/fulfillment/internal/transport/http/order"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	ordertransport.Module,
	backordertransport.Module,
)
