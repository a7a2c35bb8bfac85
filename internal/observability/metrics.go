package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the business counters of the fulfillment flow. Instruments
// come from the manager's meter and stay no-ops when metrics are disabled.
type Metrics struct {
	ordersConfirmed     metric.Int64Counter
	backordersCreated   metric.Int64Counter
	backorderTransition metric.Int64Counter
	followUpOrders      metric.Int64Counter
	shortageLines       metric.Int64Counter
}

// NewMetrics registers the fulfillment counters on the manager's meter.
func NewMetrics(mgr *Manager) (*Metrics, error) {
	meter := mgr.Meter()

	ordersConfirmed, err := meter.Int64Counter("fulfillment.orders.confirmed",
		metric.WithDescription("Sales orders confirmed"))
	if err != nil {
		return nil, err
	}
	backordersCreated, err := meter.Int64Counter("fulfillment.backorders.created",
		metric.WithDescription("Backorders split off at order confirmation"))
	if err != nil {
		return nil, err
	}
	backorderTransition, err := meter.Int64Counter("fulfillment.backorders.transitions",
		metric.WithDescription("Backorder state transitions by target state"))
	if err != nil {
		return nil, err
	}
	followUpOrders, err := meter.Int64Counter("fulfillment.followup_orders.created",
		metric.WithDescription("Sales orders generated from backorders"))
	if err != nil {
		return nil, err
	}
	shortageLines, err := meter.Int64Counter("fulfillment.shortage.lines",
		metric.WithDescription("Order lines shrunk because of missing stock"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ordersConfirmed:     ordersConfirmed,
		backordersCreated:   backordersCreated,
		backorderTransition: backorderTransition,
		followUpOrders:      followUpOrders,
		shortageLines:       shortageLines,
	}, nil
}

// OrderConfirmed counts a confirmation; fromBackorder marks follow-up orders.
func (m *Metrics) OrderConfirmed(ctx context.Context, fromBackorder bool, shortLines int) {
	if m == nil {
		return
	}
	m.ordersConfirmed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("from_backorder", fromBackorder)))
	if shortLines > 0 {
		m.shortageLines.Add(ctx, int64(shortLines))
	}
}

// BackorderCreated counts a new backorder.
func (m *Metrics) BackorderCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.backordersCreated.Add(ctx, 1)
}

// BackorderTransition counts a backorder reaching state.
func (m *Metrics) BackorderTransition(ctx context.Context, state string, followUps int) {
	if m == nil {
		return
	}
	m.backorderTransition.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
	if followUps > 0 {
		m.followUpOrders.Add(ctx, int64(followUps))
	}
}
