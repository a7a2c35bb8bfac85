package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/fulfillment/internal/cache"
	"github.com/Additional-Code/fulfillment/internal/config"
	"github.com/Additional-Code/fulfillment/internal/database"
	"github.com/Additional-Code/fulfillment/internal/events"
	"github.com/Additional-Code/fulfillment/internal/logger"
	"github.com/Additional-Code/fulfillment/internal/messaging"
	"github.com/Additional-Code/fulfillment/internal/observability"
	"github.com/Additional-Code/fulfillment/internal/repository/sales"
	grpcserver "github.com/Additional-Code/fulfillment/internal/server/grpc"
	httpserver "github.com/Additional-Code/fulfillment/internal/server/http"
	"github.com/Additional-Code/fulfillment/internal/service/access"
	"github.com/Additional-Code/fulfillment/internal/service/availability"
	servicebackorder "github.com/Additional-Code/fulfillment/internal/service/backorder"
	serviceorder "github.com/Additional-Code/fulfillment/internal/service/order"
	"github.com/Additional-Code/fulfillment/internal/service/pricing"
	transporthttp "github.com/Additional-Code/fulfillment/internal/transport/http"
	"github.com/Additional-Code/fulfillment/internal/worker"
	workerbackorder "github.com/Additional-Code/fulfillment/internal/worker/backorder"
	workerorder "github.com/Additional-Code/fulfillment/internal/worker/order"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	events.Module,
	sales.Module,
	availability.Module,
	pricing.Module,
	access.Module,
	serviceorder.Module,
	servicebackorder.Module,
)

// HTTP wires the HTTP and gRPC servers on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
	workerbackorder.Module,
)

// Module is the default application wiring.
var Module = HTTP
