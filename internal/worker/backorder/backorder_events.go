package backorder

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

var workerTracer = otel.Tracer("github.com/Additional-Code/fulfillment/worker/backorder")

// Module registers backorder lifecycle handlers.
var Module = fx.Module("worker_backorder",
	fx.Provide(
		fx.Annotate(
			NewCreatedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
		fx.Annotate(
			NewConfirmedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
		fx.Annotate(
			NewCancelledHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// Invalidator drops cached records.
type Invalidator interface {
	Invalidate(ctx context.Context, id int64)
}

// Params groups handler dependencies.
type Params struct {
	fx.In

	Logger     *zap.Logger
	Orders     *ordersvc.Service
	Backorders *backordersvc.Service
}

// NewCreatedHandler refreshes the origin order and the new backorder.
func NewCreatedHandler(p Params) worker.HandlerRegistration {
	return worker.HandlerRegistration{
		EventType: events.TypeBackorderCreated,
		Handler: handle(p.Logger, "worker.backorders.created", func(ctx context.Context, msg messaging.Message) (string, int64, error) {
			var event events.BackorderCreated
			envelope, err := events.Decode(msg, &event)
			if err != nil {
				return "", 0, err
			}
			p.Backorders.Invalidate(ctx, event.BackorderID)
			p.Orders.Invalidate(ctx, event.OriginOrderID)
			return envelope.ID, event.BackorderID, nil
		}),
	}
}

// NewConfirmedHandler refreshes the backorder and every generated order.
func NewConfirmedHandler(p Params) worker.HandlerRegistration {
	return worker.HandlerRegistration{
		EventType: events.TypeBackorderConfirmed,
		Handler: handle(p.Logger, "worker.backorders.confirmed", func(ctx context.Context, msg messaging.Message) (string, int64, error) {
			var event events.BackorderConfirmed
			envelope, err := events.Decode(msg, &event)
			if err != nil {
				return "", 0, err
			}
			p.Backorders.Invalidate(ctx, event.BackorderID)
			invalidateAll(ctx, p.Orders, event.OrderIDs...)
			return envelope.ID, event.BackorderID, nil
		}),
	}
}

// NewCancelledHandler refreshes a cancelled backorder.
func NewCancelledHandler(p Params) worker.HandlerRegistration {
	return worker.HandlerRegistration{
		EventType: events.TypeBackorderCancelled,
		Handler: handle(p.Logger, "worker.backorders.cancelled", func(ctx context.Context, msg messaging.Message) (string, int64, error) {
			var event events.BackorderCancelled
			envelope, err := events.Decode(msg, &event)
			if err != nil {
				return "", 0, err
			}
			p.Backorders.Invalidate(ctx, event.BackorderID)
			return envelope.ID, event.BackorderID, nil
		}),
	}
}

type process func(ctx context.Context, msg messaging.Message) (eventID string, backorderID int64, err error)

func handle(logger *zap.Logger, spanName string, fn process) messaging.Handler {
	return func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, spanName, trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.String("event.type", msg.Headers[messaging.HeaderEventType]),
		))
		defer span.End()

		eventID, backorderID, err := fn(ctx, msg)
		if err != nil {
			logger.Error("failed to process backorder event", zap.String("span", spanName), zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return err
		}
		logger.Info("backorder event processed",
			zap.String("event_id", eventID),
			zap.String("event_type", msg.Headers[messaging.HeaderEventType]),
			zap.Int64("backorder_id", backorderID),
		)
		return nil
	}
}

func invalidateAll(ctx context.Context, target Invalidator, ids ...int64) {
	for _, id := range ids {
		target.Invalidate(ctx, id)
	}
}
