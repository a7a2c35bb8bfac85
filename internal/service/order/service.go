package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/fulfillment/internal/cache"
	"github.com/Additional-Code/fulfillment/internal/config"
	"github.com/Additional-Code/fulfillment/internal/entity"
	"github.com/Additional-Code/fulfillment/internal/events"
	"github.com/Additional-Code/fulfillment/internal/observability"
	"github.com/Additional-Code/fulfillment/internal/repository/sales"
	"github.com/Additional-Code/fulfillment/internal/service/availability"
	"github.com/Additional-Code/fulfillment/internal/service/pricing"
	"github.com/Additional-Code/fulfillment/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/fulfillment/service/order")

// Service encapsulates business logic around sales orders.
type Service struct {
	store      sales.Store
	resolver   *availability.Resolver
	calculator *pricing.Calculator
	confirmer  BaseConfirmer
	cache      cache.Store
	cacheTTL   time.Duration
	logger     *zap.Logger
	publisher  *events.Publisher
	metrics    *observability.Metrics
	defaultTZ  string
	now        func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Store      sales.Store
	Resolver   *availability.Resolver
	Calculator *pricing.Calculator
	Confirmer  BaseConfirmer
	Cache      cache.Store
	Config     config.Config
	Logger     *zap.Logger
	Publisher  *events.Publisher
	Metrics    *observability.Metrics `optional:"true"`
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		store:      p.Store,
		resolver:   p.Resolver,
		calculator: p.Calculator,
		confirmer:  p.Confirmer,
		cache:      p.Cache,
		cacheTTL:   p.Config.Cache.DefaultTTL,
		logger:     p.Logger,
		publisher:  p.Publisher,
		metrics:    p.Metrics,
		defaultTZ:  p.Config.Fulfillment.DefaultTimezone,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a draft order with its lines. A missing number is derived
// from the generated id.
func (s *Service) Create(ctx context.Context, order *entity.Order, lines []*entity.OrderLine) error {
	if order == nil {
		return errorbank.BadRequest("order payload is required")
	}
	ctx, span := serviceTracer.Start(ctx, "OrderService.Create", trace.WithAttributes(attribute.Int64("order.partner_id", order.PartnerID)))
	defer span.End()

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx sales.Store) error {
		return s.CreateInTx(ctx, tx, order, lines)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return s.translate(err, "failed to create order")
	}
	return nil
}

// CreateInTx is Create within a caller-owned transaction.
func (s *Service) CreateInTx(ctx context.Context, tx sales.Store, order *entity.Order, lines []*entity.OrderLine) error {
	if order.State == "" {
		order.State = entity.OrderStateDraft
	}
	if order.State != entity.OrderStateDraft {
		return errorbank.BadRequest("orders can only be created as drafts")
	}
	if err := checkProducts(ctx, tx, lines); err != nil {
		return err
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		return err
	}
	if order.Number == "" {
		order.Number = entity.FormatName(entity.OrderNumberPrefix, order.ID)
		if err := tx.UpdateOrder(ctx, order, "number"); err != nil {
			return err
		}
	}
	for _, line := range lines {
		line.OrderID = order.ID
		if err := tx.CreateOrderLine(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

// Get loads an order with its computed availability and amounts.
func (s *Service) Get(ctx context.Context, id int64) (*View, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	rec, err := s.load(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	view, err := s.buildView(ctx, s.store, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "view failed")
		return nil, s.translate(err, "failed to compute order amounts")
	}
	return view, nil
}

// record is the stored state of an order. Only stored fields are cached;
// availability and amounts are recomputed on every read.
type record struct {
	Order    *entity.Order          `json:"order"`
	Lines    []*entity.OrderLine    `json:"lines"`
	Messages []*entity.OrderMessage `json:"messages"`
}

func (s *Service) load(ctx context.Context, id int64) (*record, error) {
	if rec, err := s.getFromCache(ctx, id); err == nil {
		return rec, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) && s.logger != nil {
		s.logger.Warn("orders cache read failed", zap.Int64("id", id), zap.Error(err))
	}

	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, s.translate(err, "failed to load order")
	}
	lines, err := s.store.OrderLines(ctx, id)
	if err != nil {
		return nil, s.translate(err, "failed to load order lines")
	}
	messages, err := s.store.OrderMessages(ctx, id)
	if err != nil {
		return nil, s.translate(err, "failed to load order messages")
	}
	rec := &record{Order: order, Lines: lines, Messages: messages}

	if err := s.storeInCache(ctx, rec); err != nil && s.logger != nil {
		s.logger.Warn("orders cache write failed", zap.Int64("id", id), zap.Error(err))
	}
	return rec, nil
}

// Invalidate drops the cached record of an order.
func (s *Service) Invalidate(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, CacheKey(id)); err != nil && s.logger != nil {
		s.logger.Warn("orders cache delete failed", zap.Int64("id", id), zap.Error(err))
	}
}

// CacheKey is the cache key of an order record.
func CacheKey(id int64) string {
	return fmt.Sprintf("orders:%d", id)
}

func (s *Service) getFromCache(ctx context.Context, id int64) (*record, error) {
	if s.cache == nil {
		return nil, cache.ErrCacheMiss
	}
	bytes, err := s.cache.Get(ctx, CacheKey(id))
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(bytes, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Service) storeInCache(ctx context.Context, rec *record) error {
	if s.cache == nil || rec == nil || rec.Order == nil {
		return nil
	}
	bytes, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, CacheKey(rec.Order.ID), bytes, s.cacheTTL)
}

func checkProducts(ctx context.Context, tx sales.Store, lines []*entity.OrderLine) error {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if line == nil {
			return errorbank.BadRequest("order line payload is required")
		}
		ids = append(ids, line.ProductID)
	}
	if len(ids) == 0 {
		return nil
	}
	products, err := tx.Products(ctx, ids...)
	if err != nil {
		return err
	}
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			return errorbank.Unprocessable(fmt.Sprintf("product %d does not exist", id), errorbank.WithDetail("product_id", id))
		}
		if !p.SaleOK {
			return errorbank.Unprocessable(fmt.Sprintf("product %s cannot be sold", p.Name), errorbank.WithDetail("product_id", id))
		}
	}
	return nil
}

// translate keeps AppErrors as they are and maps store errors onto kinds.
func (s *Service) translate(err error, message string) error {
	var appErr *errorbank.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sales.ErrNotFound):
		return errorbank.NotFound("order not found", errorbank.WithCause(err))
	case errors.Is(err, availability.ErrUnknownProduct):
		return errorbank.Unprocessable(err.Error(), errorbank.WithCause(err))
	default:
		return errorbank.Internal(message, errorbank.WithCause(err))
	}
}
