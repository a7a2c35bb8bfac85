// Package events publishes fulfillment domain events on the message bus.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/fulfillment/internal/config"
	"github.com/Additional-Code/fulfillment/internal/messaging"
)

// Event types carried in the messaging.HeaderEventType header.
const (
	TypeOrderConfirmed     = "order.confirmed"
	TypeBackorderCreated   = "backorder.created"
	TypeBackorderConfirmed = "backorder.confirmed"
	TypeBackorderCancelled = "backorder.cancelled"
)

// Envelope wraps every payload published on the bus.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// OrderConfirmed is published after an order confirmation commits.
type OrderConfirmed struct {
	OrderID           int64  `json:"order_id"`
	Number            string `json:"number"`
	State             string `json:"state"`
	FromBackorder     bool   `json:"from_backorder"`
	BackorderID       *int64 `json:"backorder_id,omitempty"`
	BackorderOriginID *int64 `json:"backorder_origin_id,omitempty"`
}

// BackorderCreated is published when a confirmation split off a shortage.
type BackorderCreated struct {
	BackorderID   int64  `json:"backorder_id"`
	Name          string `json:"name"`
	OriginOrderID int64  `json:"origin_order_id"`
	Lines         int    `json:"lines"`
}

// BackorderConfirmed lists the follow-up orders a confirmation generated.
type BackorderConfirmed struct {
	BackorderID   int64   `json:"backorder_id"`
	Name          string  `json:"name"`
	OriginOrderID int64   `json:"origin_order_id"`
	OrderIDs      []int64 `json:"order_ids"`
}

// BackorderCancelled is published when a draft backorder is cancelled.
type BackorderCancelled struct {
	BackorderID   int64  `json:"backorder_id"`
	Name          string `json:"name"`
	OriginOrderID int64  `json:"origin_order_id"`
}

// Publisher serialises events and hands them to the messaging client.
// Publishing is best effort: failures are logged and never fail the
// business operation that already committed.
type Publisher struct {
	client  messaging.Client
	enabled bool
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

// Module provides the event publisher.
var Module = fx.Provide(NewPublisher)

// NewPublisher builds a publisher on top of the configured messaging client.
func NewPublisher(client messaging.Client, cfg config.Config, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:  client,
		enabled: cfg.Messaging.Enabled,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },
	}
}

// Publish sends payload as an event of the given type keyed by aggregate id.
func (p *Publisher) Publish(ctx context.Context, eventType string, aggregateID int64, payload any) {
	if p == nil || !p.enabled || p.client == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("marshal event payload", zap.String("type", eventType), zap.Error(err))
		return
	}
	envelope := Envelope{
		ID:         p.newID(),
		Type:       eventType,
		OccurredAt: p.now(),
		Payload:    body,
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		p.logger.Error("marshal event envelope", zap.String("type", eventType), zap.Error(err))
		return
	}
	headers := map[string]string{
		messaging.HeaderEventType: eventType,
		messaging.HeaderEventID:   envelope.ID,
	}
	if err := p.client.Publish(ctx, []byte(strconv.FormatInt(aggregateID, 10)), value, headers); err != nil {
		p.logger.Warn("publish event failed",
			zap.String("type", eventType),
			zap.String("event_id", envelope.ID),
			zap.Error(err),
		)
	}
}

// Decode unpacks an envelope and its payload from a consumed message.
func Decode(msg messaging.Message, payload any) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return Envelope{}, err
	}
	if payload != nil && len(envelope.Payload) > 0 {
		if err := json.Unmarshal(envelope.Payload, payload); err != nil {
			return envelope, err
		}
	}
	return envelope, nil
}
