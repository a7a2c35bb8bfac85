package order

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/fulfillment/internal/events"
	"github.com/Additional-Code/fulfillment/internal/messaging"
	backordersvc "github.com/Additional-Code/fulfillment/internal/service/backorder"
	ordersvc "github.com/Additional-Code/fulfillment/internal/service/order"
	"github.com/Additional-Code/fulfillment/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/fulfillment/worker/order")

// Module registers order-related worker handlers.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(
			NewOrderConfirmedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewOrderConfirmedHandler drops the cached records an order confirmation
// touched, so replicas sharing the cache read fresh state.
func NewOrderConfirmedHandler(logger *zap.Logger, orders *ordersvc.Service, backorders *backordersvc.Service) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.orders.confirmed", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var event events.OrderConfirmed
		envelope, err := events.Decode(msg, &event)
		if err != nil {
			logger.Error("failed to decode order confirmed", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return err
		}
		span.SetAttributes(attribute.Int64("order.id", event.OrderID))

		orders.Invalidate(ctx, event.OrderID)
		if event.BackorderID != nil {
			backorders.Invalidate(ctx, *event.BackorderID)
		}
		if event.BackorderOriginID != nil {
			backorders.Invalidate(ctx, *event.BackorderOriginID)
		}

		logger.Info("order confirmed event processed",
			zap.String("event_id", envelope.ID),
			zap.Int64("order_id", event.OrderID),
			zap.String("number", event.Number),
			zap.Bool("from_backorder", event.FromBackorder),
		)

		return nil
	}

	return worker.HandlerRegistration{
		EventType: events.TypeOrderConfirmed,
		Handler:   handler,
	}
}
