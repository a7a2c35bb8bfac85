package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Additional-Code/fulfillment/internal/actor"
	"github.com/Additional-Code/fulfillment/internal/entity"
	"github.com/Additional-Code/fulfillment/internal/events"
	"github.com/Additional-Code/fulfillment/internal/repository/sales"
	"github.com/Additional-Code/fulfillment/pkg/errorbank"
)

// ConfirmOptions tunes a confirmation.
type ConfirmOptions struct {
	// FromBackorder marks confirmations of orders generated from a
	// backorder. Such confirmations never split off another backorder.
	FromBackorder bool
}

// BaseConfirmer performs the confirmation proper once shortages are split off.
type BaseConfirmer interface {
	Confirm(ctx context.Context, tx sales.Store, order *entity.Order) error
}

// StateConfirmer moves the order to the sale state.
type StateConfirmer struct {
	Now func() time.Time
}

func (c StateConfirmer) Confirm(ctx context.Context, tx sales.Store, order *entity.Order) error {
	now := time.Now().UTC()
	if c.Now != nil {
		now = c.Now()
	}
	order.State = entity.OrderStateSale
	order.ConfirmedAt = &now
	return tx.UpdateOrder(ctx, order, "state", "confirmed_at")
}

// ConfirmResult reports what a confirmation changed.
type ConfirmResult struct {
	Order *entity.Order
	// Backorder is set when the confirmation split off a backorder.
	Backorder      *entity.Backorder
	BackorderLines []*entity.BackorderLine
	// Confirmed is false when every line ran out of stock and the
	// underlying confirmation was skipped.
	Confirmed      bool
	ShortLines     int
	RemovedLineIDs []int64
	FromBackorder  bool
}

type shortage struct {
	productID int64
	quantity  decimal.Decimal
	priceUnit decimal.Decimal
	discount  decimal.Decimal
}

// Confirm confirms an order, moving every stock shortage to a new backorder.
// The whole operation is one transaction.
func (s *Service) Confirm(ctx context.Context, act actor.Actor, orderID int64, opts ConfirmOptions) (*ConfirmResult, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Confirm", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Bool("order.from_backorder", opts.FromBackorder),
	))
	defer span.End()

	var result *ConfirmResult
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx sales.Store) error {
		res, err := s.ConfirmInTx(ctx, tx, act, orderID, opts)
		result = res
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirm failed")
		return nil, s.translate(err, "failed to confirm order")
	}

	s.Announce(ctx, result)
	return result, nil
}

// ConfirmInTx runs the confirmation inside tx. Callers own the transaction
// and must call Announce once it commits.
func (s *Service) ConfirmInTx(ctx context.Context, tx sales.Store, act actor.Actor, orderID int64, opts ConfirmOptions) (*ConfirmResult, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.State != entity.OrderStateDraft {
		return nil, errorbank.Unprocessable(
			fmt.Sprintf("order %s is %s and cannot be confirmed", order.Number, order.State),
			errorbank.WithDetail("state", string(order.State)),
		)
	}

	lines, err := tx.OrderLines(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if !line.Quantity.IsPositive() {
			return nil, errorbank.Unprocessable(
				"the product quantity of every line must be greater than zero",
				errorbank.WithDetail("line_id", line.ID),
			)
		}
	}

	loc, err := act.Location(s.defaultTZ)
	if err != nil {
		return nil, errorbank.BadRequest("invalid actor timezone", errorbank.WithCause(err))
	}

	scope := s.resolver.WithStore(tx).Scope()
	productIDs := make([]int64, 0, len(lines))
	for _, line := range lines {
		productIDs = append(productIDs, line.ProductID)
	}
	if err := scope.Prefetch(ctx, productIDs...); err != nil {
		return nil, err
	}

	result := &ConfirmResult{Order: order, FromBackorder: opts.FromBackorder}
	order.BackorderID = nil

	var staged []shortage
	remaining := 0
	for _, line := range lines {
		available, err := scope.Resolve(ctx, line.ProductID, line.Quantity)
		if err != nil {
			return nil, err
		}
		if available.LessThan(line.Quantity) {
			staged = append(staged, shortage{
				productID: line.ProductID,
				quantity:  line.Quantity.Sub(available),
				priceUnit: line.PriceUnit,
				discount:  line.Discount,
			})
			line.Quantity = available
			if available.IsZero() {
				result.RemovedLineIDs = append(result.RemovedLineIDs, line.ID)
				continue
			}
			if err := tx.UpdateOrderLine(ctx, line, "quantity"); err != nil {
				return nil, err
			}
		}
		remaining++
	}
	result.ShortLines = len(staged)

	if len(staged) > 0 && !opts.FromBackorder {
		backorder, backorderLines, err := s.createBackorder(ctx, tx, order, staged, actor.Today(s.now(), loc))
		if err != nil {
			return nil, err
		}
		order.BackorderID = &backorder.ID
		result.Backorder = backorder
		result.BackorderLines = backorderLines
	}

	if err := tx.UpdateOrder(ctx, order, "backorder_id"); err != nil {
		return nil, err
	}

	if len(result.RemovedLineIDs) > 0 {
		if err := tx.DeleteOrderLines(ctx, result.RemovedLineIDs...); err != nil {
			return nil, err
		}
	}

	if remaining > 0 {
		if err := s.confirmer.Confirm(ctx, tx, order); err != nil {
			return nil, err
		}
		result.Confirmed = true
	}

	if result.Backorder != nil {
		msg := &entity.OrderMessage{
			OrderID:  order.ID,
			AuthorID: act.UserID,
			Body:     fmt.Sprintf("Backorder %s has been generated for order %s.", result.Backorder.Name(), order.Number),
		}
		if err := tx.CreateOrderMessage(ctx, msg); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (s *Service) createBackorder(ctx context.Context, tx sales.Store, order *entity.Order, staged []shortage, date time.Time) (*entity.Backorder, []*entity.BackorderLine, error) {
	backorder := &entity.Backorder{
		OriginOrderID:     order.ID,
		PartnerID:         order.PartnerID,
		CompanyID:         order.CompanyID,
		PricelistID:       order.PricelistID,
		CurrencyID:        order.CurrencyID,
		InvoiceAddressID:  order.InvoiceAddressID,
		ShippingAddressID: order.ShippingAddressID,
		PaymentTermID:     order.PaymentTermID,
		CarrierID:         order.CarrierID,
		Date:              date,
		State:             entity.BackorderStateDraft,
	}
	if err := tx.CreateBackorder(ctx, backorder); err != nil {
		return nil, nil, err
	}

	lines := make([]*entity.BackorderLine, 0, len(staged))
	for _, st := range staged {
		line := &entity.BackorderLine{
			BackorderID:       backorder.ID,
			ProductID:         st.productID,
			Quantity:          st.quantity,
			ConfirmedQuantity: decimal.Zero,
			PriceUnit:         st.priceUnit,
			Discount:          st.discount,
		}
		if err := tx.CreateBackorderLine(ctx, line); err != nil {
			return nil, nil, err
		}
		lines = append(lines, line)
	}
	return backorder, lines, nil
}

// Announce publishes the events of a committed confirmation, refreshes the
// cache and counts metrics.
func (s *Service) Announce(ctx context.Context, res *ConfirmResult) {
	if res == nil || res.Order == nil {
		return
	}
	order := res.Order
	s.Invalidate(ctx, order.ID)
	s.metrics.OrderConfirmed(ctx, res.FromBackorder, res.ShortLines)

	s.publisher.Publish(ctx, events.TypeOrderConfirmed, order.ID, events.OrderConfirmed{
		OrderID:           order.ID,
		Number:            order.Number,
		State:             string(order.State),
		FromBackorder:     res.FromBackorder,
		BackorderID:       order.BackorderID,
		BackorderOriginID: order.BackorderOriginID,
	})

	if res.Backorder == nil {
		return
	}
	s.metrics.BackorderCreated(ctx)
	if s.logger != nil {
		s.logger.Info("backorder created",
			zap.Int64("order_id", order.ID),
			zap.String("backorder", res.Backorder.Name()),
			zap.Int("lines", len(res.BackorderLines)),
		)
	}
	s.publisher.Publish(ctx, events.TypeBackorderCreated, res.Backorder.ID, events.BackorderCreated{
		BackorderID:   res.Backorder.ID,
		Name:          res.Backorder.Name(),
		OriginOrderID: order.ID,
		Lines:         len(res.BackorderLines),
	})
}
