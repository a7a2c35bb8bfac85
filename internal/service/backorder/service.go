// Package backorder manages the shortage records split off at order
// confirmation and turns confirmed quantities into follow-up orders.
package backorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/fulfillment/internal/actor"
	"github.com/Additional-Code/fulfillment/internal/cache"
	"github.com/Additional-Code/fulfillment/internal/config"
	"github.com/Additional-Code/fulfillment/internal/entity"
	"github.com/Additional-Code/fulfillment/internal/events"
	"github.com/Additional-Code/fulfillment/internal/observability"
	"github.com/Additional-Code/fulfillment/internal/repository/sales"
	"github.com/Additional-Code/fulfillment/internal/service/access"
	"github.com/Additional-Code/fulfillment/internal/service/availability"
	ordersvc "github.com/Additional-Code/fulfillment/internal/service/order"
	"github.com/Additional-Code/fulfillment/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/fulfillment/service/backorder")

// Module provides the backorder service to Fx.
var Module = fx.Provide(NewService)

// Service implements the backorder lifecycle.
type Service struct {
	store             sales.Store
	resolver          *availability.Resolver
	orders            *ordersvc.Service
	checker           access.Checker
	cache             cache.Store
	cacheTTL          time.Duration
	logger            *zap.Logger
	publisher         *events.Publisher
	metrics           *observability.Metrics
	managerCapability string
	defaultTZ         string
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Store     sales.Store
	Resolver  *availability.Resolver
	Orders    *ordersvc.Service
	Checker   access.Checker
	Cache     cache.Store
	Config    config.Config
	Logger    *zap.Logger
	Publisher *events.Publisher
	Metrics   *observability.Metrics `optional:"true"`
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		store:             p.Store,
		resolver:          p.Resolver,
		orders:            p.Orders,
		checker:           p.Checker,
		cache:             p.Cache,
		cacheTTL:          p.Config.Cache.DefaultTTL,
		logger:            p.Logger,
		publisher:         p.Publisher,
		metrics:           p.Metrics,
		managerCapability: p.Config.Fulfillment.ManagerCapability,
		defaultTZ:         p.Config.Fulfillment.DefaultTimezone,
	}
}

// ConfirmResult lists the follow-up orders a confirmation generated.
type ConfirmResult struct {
	Backorder *entity.Backorder
	Orders    []*ordersvc.ConfirmResult
}

// Get loads a backorder with its projections and totals.
func (s *Service) Get(ctx context.Context, id int64) (*View, error) {
	ctx, span := serviceTracer.Start(ctx, "BackorderService.Get", trace.WithAttributes(attribute.Int64("backorder.id", id)))
	defer span.End()

	rec, err := s.load(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	view, err := buildView(ctx, s.resolver.Scope(), rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "view failed")
		return nil, translate(err, "failed to compute backorder projections")
	}
	return view, nil
}

// Cancel moves a draft backorder to cancel.
func (s *Service) Cancel(ctx context.Context, act actor.Actor, id int64) (*entity.Backorder, error) {
	ctx, span := serviceTracer.Start(ctx, "BackorderService.Cancel", trace.WithAttributes(attribute.Int64("backorder.id", id)))
	defer span.End()

	var backorder *entity.Backorder
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx sales.Store) error {
		bo, err := tx.GetBackorder(ctx, id)
		if err != nil {
			return err
		}
		if err := transition(bo, entity.BackorderStateCancel); err != nil {
			return err
		}
		backorder = bo
		return tx.UpdateBackorder(ctx, bo, "state")
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel failed")
		return nil, translate(err, "failed to cancel backorder")
	}

	s.Invalidate(ctx, id)
	s.metrics.BackorderTransition(ctx, string(entity.BackorderStateCancel), 0)
	if s.logger != nil {
		s.logger.Info("backorder cancelled", zap.String("backorder", backorder.Name()), zap.Int64("user_id", act.UserID))
	}
	s.publisher.Publish(ctx, events.TypeBackorderCancelled, backorder.ID, events.BackorderCancelled{
		BackorderID:   backorder.ID,
		Name:          backorder.Name(),
		OriginOrderID: backorder.OriginOrderID,
	})
	return backorder, nil
}

// Confirm turns the confirmed quantities into follow-up orders, one per
// cluster of nearby projected dates, and marks the backorder confirmed.
func (s *Service) Confirm(ctx context.Context, act actor.Actor, id int64) (*ConfirmResult, error) {
	ctx, span := serviceTracer.Start(ctx, "BackorderService.Confirm", trace.WithAttributes(attribute.Int64("backorder.id", id)))
	defer span.End()

	loc, err := act.Location(s.defaultTZ)
	if err != nil {
		return nil, errorbank.BadRequest("invalid actor timezone", errorbank.WithCause(err))
	}

	var result *ConfirmResult
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx sales.Store) error {
		bo, err := tx.GetBackorder(ctx, id)
		if err != nil {
			return err
		}
		if !bo.State.CanTransitionTo(entity.BackorderStateConfirmed) {
			return stateError(bo, "confirmed")
		}
		lines, err := tx.BackorderLines(ctx, id)
		if err != nil {
			return err
		}

		scope := s.resolver.WithStore(tx).Scope()
		var selected []LineView
		for _, line := range lines {
			if !line.ConfirmedQuantity.IsPositive() {
				continue
			}
			lv, err := lineView(ctx, scope, bo, line)
			if err != nil {
				return err
			}
			if err := checkConfirmedQuantity(lv.Line.ConfirmedQuantity, lv.ProjectedQuantity); err != nil {
				return err
			}
			selected = append(selected, lv)
		}
		if len(selected) == 0 {
			return errorbank.Unprocessable("there is no confirmed quantity")
		}

		SortByDate(selected, LineView.projectedDate)
		groups := GroupByProximity(selected, LineView.projectedDate, GroupingWindowDays)

		result = &ConfirmResult{Backorder: bo}
		for _, group := range groups {
			res, err := s.followUp(ctx, tx, act, loc, bo, group)
			if err != nil {
				return err
			}
			result.Orders = append(result.Orders, res)
		}

		if err := transition(bo, entity.BackorderStateConfirmed); err != nil {
			return err
		}
		return tx.UpdateBackorder(ctx, bo, "state")
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirm failed")
		return nil, translate(err, "failed to confirm backorder")
	}

	bo := result.Backorder
	orderIDs := make([]int64, 0, len(result.Orders))
	for _, res := range result.Orders {
		s.orders.Announce(ctx, res)
		orderIDs = append(orderIDs, res.Order.ID)
	}
	s.Invalidate(ctx, id)
	s.metrics.BackorderTransition(ctx, string(entity.BackorderStateConfirmed), len(orderIDs))
	if s.logger != nil {
		s.logger.Info("backorder confirmed",
			zap.String("backorder", bo.Name()),
			zap.Int64s("order_ids", orderIDs),
			zap.Int64("user_id", act.UserID),
		)
	}
	s.publisher.Publish(ctx, events.TypeBackorderConfirmed, bo.ID, events.BackorderConfirmed{
		BackorderID:   bo.ID,
		Name:          bo.Name(),
		OriginOrderID: bo.OriginOrderID,
		OrderIDs:      orderIDs,
	})
	return result, nil
}

// LineUpdate carries the editable fields of a backorder line; nil fields
// stay as they are.
type LineUpdate struct {
	PriceUnit         *decimal.Decimal
	ConfirmedQuantity *decimal.Decimal
}

// SetConfirmedQuantity records how much of a line the customer accepts now.
// The quantity must stay within zero and the projected replenishment.
func (s *Service) SetConfirmedQuantity(ctx context.Context, act actor.Actor, lineID int64, qty decimal.Decimal) (*entity.BackorderLine, error) {
	return s.UpdateLine(ctx, act, lineID, LineUpdate{ConfirmedQuantity: &qty})
}

// SetUnitPrice changes the price of a line. Sales managers only.
func (s *Service) SetUnitPrice(ctx context.Context, act actor.Actor, lineID int64, price decimal.Decimal) (*entity.BackorderLine, error) {
	return s.UpdateLine(ctx, act, lineID, LineUpdate{PriceUnit: &price})
}

// UpdateLine applies every field of update in one transaction: a rejected
// quantity leaves the price untouched as well. Changing the price needs the
// manager capability.
func (s *Service) UpdateLine(ctx context.Context, act actor.Actor, lineID int64, update LineUpdate) (*entity.BackorderLine, error) {
	ctx, span := serviceTracer.Start(ctx, "BackorderService.UpdateLine", trace.WithAttributes(attribute.Int64("backorder_line.id", lineID)))
	defer span.End()

	if update.PriceUnit == nil && update.ConfirmedQuantity == nil {
		return nil, errorbank.BadRequest("confirmed_quantity or price_unit is required")
	}
	if update.PriceUnit != nil {
		if err := access.Require(ctx, s.checker, act.UserID, s.managerCapability, "modify the unit price"); err != nil {
			span.RecordError(err)
			return nil, err
		}
		if update.PriceUnit.IsNegative() {
			return nil, errorbank.Unprocessable("unit price cannot be negative")
		}
	}

	line, err := s.editLine(ctx, lineID, func(ctx context.Context, tx sales.Store, bo *entity.Backorder, line *entity.BackorderLine) ([]string, error) {
		var columns []string
		if update.PriceUnit != nil {
			line.PriceUnit = *update.PriceUnit
			columns = append(columns, "price_unit")
		}
		if qty := update.ConfirmedQuantity; qty != nil {
			lv, err := lineView(ctx, s.resolver.WithStore(tx).Scope(), bo, line)
			if err != nil {
				return nil, err
			}
			if err := checkConfirmedQuantity(*qty, lv.ProjectedQuantity); err != nil {
				return nil, err
			}
			line.ConfirmedQuantity = *qty
			columns = append(columns, "confirmed_quantity")
		}
		return columns, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return line, nil
}

// DeleteLine removes a line from a draft backorder. Sales managers only.
func (s *Service) DeleteLine(ctx context.Context, act actor.Actor, lineID int64) error {
	ctx, span := serviceTracer.Start(ctx, "BackorderService.DeleteLine", trace.WithAttributes(attribute.Int64("backorder_line.id", lineID)))
	defer span.End()

	if err := access.Require(ctx, s.checker, act.UserID, s.managerCapability, "delete backorder lines"); err != nil {
		span.RecordError(err)
		return err
	}

	var backorderID int64
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx sales.Store) error {
		line, err := tx.GetBackorderLine(ctx, lineID)
		if err != nil {
			return err
		}
		bo, err := tx.GetBackorder(ctx, line.BackorderID)
		if err != nil {
			return err
		}
		if bo.State != entity.BackorderStateDraft {
			return readOnlyError(bo)
		}
		backorderID = bo.ID
		return tx.DeleteBackorderLine(ctx, lineID)
	})
	if err != nil {
		span.RecordError(err)
		return translate(err, "failed to delete backorder line")
	}
	s.Invalidate(ctx, backorderID)
	return nil
}

// Delete removes a backorder with its lines and detaches the orders linked
// to it. Sales managers only.
func (s *Service) Delete(ctx context.Context, act actor.Actor, id int64) error {
	ctx, span := serviceTracer.Start(ctx, "BackorderService.Delete", trace.WithAttributes(attribute.Int64("backorder.id", id)))
	defer span.End()

	if err := access.Require(ctx, s.checker, act.UserID, s.managerCapability, "delete backorders"); err != nil {
		span.RecordError(err)
		return err
	}

	var touched []int64
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx sales.Store) error {
		bo, err := tx.GetBackorder(ctx, id)
		if err != nil {
			return err
		}

		origin, err := tx.GetOrder(ctx, bo.OriginOrderID)
		switch {
		case errors.Is(err, sales.ErrNotFound):
		case err != nil:
			return err
		case origin.BackorderID != nil && *origin.BackorderID == id:
			origin.BackorderID = nil
			if err := tx.UpdateOrder(ctx, origin, "backorder_id"); err != nil {
				return err
			}
			touched = append(touched, origin.ID)
		}

		generated, err := tx.OrdersByBackorderOrigin(ctx, id)
		if err != nil {
			return err
		}
		for _, order := range generated {
			order.BackorderOriginID = nil
			if err := tx.UpdateOrder(ctx, order, "backorder_origin_id"); err != nil {
				return err
			}
			touched = append(touched, order.ID)
		}

		return tx.DeleteBackorder(ctx, id)
	})
	if err != nil {
		span.RecordError(err)
		return translate(err, "failed to delete backorder")
	}

	s.Invalidate(ctx, id)
	for _, orderID := range touched {
		s.orders.Invalidate(ctx, orderID)
	}
	if s.logger != nil {
		s.logger.Info("backorder deleted", zap.Int64("backorder_id", id), zap.Int64("user_id", act.UserID))
	}
	return nil
}

type lineEdit func(ctx context.Context, tx sales.Store, bo *entity.Backorder, line *entity.BackorderLine) ([]string, error)

// editLine loads a line of a draft backorder, applies edit and stores the
// columns edit reports.
func (s *Service) editLine(ctx context.Context, lineID int64, edit lineEdit) (*entity.BackorderLine, error) {
	var updated *entity.BackorderLine
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx sales.Store) error {
		line, err := tx.GetBackorderLine(ctx, lineID)
		if err != nil {
			return err
		}
		bo, err := tx.GetBackorder(ctx, line.BackorderID)
		if err != nil {
			return err
		}
		if bo.State != entity.BackorderStateDraft {
			return readOnlyError(bo)
		}
		columns, err := edit(ctx, tx, bo, line)
		if err != nil {
			return err
		}
		updated = line
		return tx.UpdateBackorderLine(ctx, line, columns...)
	})
	if err != nil {
		return nil, translate(err, "failed to update backorder line")
	}
	s.Invalidate(ctx, updated.BackorderID)
	return updated, nil
}

func checkConfirmedQuantity(qty, projected decimal.Decimal) error {
	if qty.IsNegative() {
		return errorbank.Unprocessable("the confirmed quantity cannot be negative")
	}
	if qty.GreaterThan(projected) {
		return errorbank.Unprocessable(
			"the confirmed quantity cannot exceed the projected quantity",
			errorbank.WithDetail("confirmed_quantity", qty.String()),
			errorbank.WithDetail("projected_quantity", projected.String()),
		)
	}
	return nil
}

func transition(bo *entity.Backorder, target entity.BackorderState) error {
	if !bo.State.CanTransitionTo(target) {
		return stateError(bo, string(target))
	}
	bo.State = target
	return nil
}

func stateError(bo *entity.Backorder, target string) error {
	return errorbank.Unprocessable(
		fmt.Sprintf("backorder %s is %s and cannot be %s", bo.Name(), bo.State, target),
		errorbank.WithDetail("state", string(bo.State)),
	)
}

func readOnlyError(bo *entity.Backorder) error {
	return errorbank.Unprocessable(
		fmt.Sprintf("backorder %s is %s; its lines are read-only", bo.Name(), bo.State),
		errorbank.WithDetail("state", string(bo.State)),
	)
}

func translate(err error, message string) error {
	var appErr *errorbank.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sales.ErrNotFound):
		return errorbank.NotFound("backorder not found", errorbank.WithCause(err))
	case errors.Is(err, availability.ErrUnknownProduct):
		return errorbank.Unprocessable(err.Error(), errorbank.WithCause(err))
	default:
		return errorbank.Internal(message, errorbank.WithCause(err))
	}
}

// record is the cached stored state of a backorder.
type record struct {
	Backorder *entity.Backorder      `json:"backorder"`
	Lines     []*entity.BackorderLine `json:"lines"`
	Orders    []*entity.Order         `json:"orders"`
}

// CacheKey is the cache key of a backorder record.
func CacheKey(id int64) string {
	return fmt.Sprintf("backorders:%d", id)
}

// Invalidate drops the cached record of a backorder.
func (s *Service) Invalidate(ctx context.Context, id int64) {
	if s.cache == nil || id == 0 {
		return
	}
	if err := s.cache.Delete(ctx, CacheKey(id)); err != nil && s.logger != nil {
		s.logger.Warn("backorders cache delete failed", zap.Int64("id", id), zap.Error(err))
	}
}

func (s *Service) load(ctx context.Context, id int64) (*record, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, CacheKey(id))
		if err == nil {
			var rec record
			if err := json.Unmarshal(raw, &rec); err == nil && rec.Backorder != nil {
				return &rec, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) && s.logger != nil {
			s.logger.Warn("backorders cache read failed", zap.Int64("id", id), zap.Error(err))
		}
	}

	bo, err := s.store.GetBackorder(ctx, id)
	if err != nil {
		return nil, translate(err, "failed to load backorder")
	}
	lines, err := s.store.BackorderLines(ctx, id)
	if err != nil {
		return nil, translate(err, "failed to load backorder lines")
	}
	orders, err := s.store.OrdersByBackorderOrigin(ctx, id)
	if err != nil {
		return nil, translate(err, "failed to load generated orders")
	}
	rec := &record{Backorder: bo, Lines: lines, Orders: orders}

	if s.cache != nil {
		if raw, err := json.Marshal(rec); err == nil {
			if err := s.cache.Set(ctx, CacheKey(id), raw, s.cacheTTL); err != nil && s.logger != nil {
				s.logger.Warn("backorders cache write failed", zap.Int64("id", id), zap.Error(err))
			}
		}
	}
	return rec, nil
}
