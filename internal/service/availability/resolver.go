// Package availability answers how much of a product can ship now and when
// the rest is expected from open purchase orders.
package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/fulfillment/internal/repository/sales"
)

var resolverTracer = otel.Tracer("github.com/Additional-Code/fulfillment/service/availability")

// ErrUnknownProduct is returned when a product id has no record.
var ErrUnknownProduct = errors.New("unknown product")

// Module provides the resolver to Fx.
var Module = fx.Provide(NewResolver)

// Projection is the earliest incoming replenishment for a product.
type Projection struct {
	Date           time.Time
	Quantity       decimal.Decimal
	PurchaseLineID int64
}

// Clamp returns min(max(onHand-outgoing, 0), requested).
func Clamp(onHand, outgoing, requested decimal.Decimal) decimal.Decimal {
	free := decimal.Max(onHand.Sub(outgoing), decimal.Zero)
	if requested.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return decimal.Min(free, requested)
}

// Resolver composes stock and purchase queries over a record store.
type Resolver struct {
	store sales.Store
}

// NewResolver builds a resolver reading from store.
func NewResolver(store sales.Store) *Resolver {
	return &Resolver{store: store}
}

// WithStore returns a resolver bound to another store, typically a transaction.
func (r *Resolver) WithStore(store sales.Store) *Resolver {
	return &Resolver{store: store}
}

// Scope returns a request-scoped view that memoises lookups. Scopes must not
// outlive the request or transaction they were created for.
func (r *Resolver) Scope() *Scope {
	return &Scope{
		resolver:    r,
		free:        make(map[int64]decimal.Decimal),
		projections: make(map[projectionKey]projectionResult),
	}
}

// AvailableNow returns on hand minus outgoing, floored at zero.
func (r *Resolver) AvailableNow(ctx context.Context, productID int64) (decimal.Decimal, error) {
	free, err := r.loadFree(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	return free[productID], nil
}

// Resolve returns the part of requested that stock covers right now.
func (r *Resolver) Resolve(ctx context.Context, productID int64, requested decimal.Decimal) (decimal.Decimal, error) {
	free, err := r.AvailableNow(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	return Clamp(free, decimal.Zero, requested), nil
}

// ProjectReplenishment finds the earliest confirmed purchase line for the
// product planned on or after since. ok is false when nothing is incoming.
func (r *Resolver) ProjectReplenishment(ctx context.Context, productID int64, since time.Time) (Projection, bool, error) {
	ctx, span := resolverTracer.Start(ctx, "Resolver.ProjectReplenishment", trace.WithAttributes(
		attribute.Int64("product.id", productID),
	))
	defer span.End()

	line, err := r.store.EarliestOpenPurchaseLine(ctx, productID, since)
	if errors.Is(err, sales.ErrNotFound) {
		return Projection{}, false, nil
	}
	if err != nil {
		span.RecordError(err)
		return Projection{}, false, err
	}
	return Projection{Date: line.DatePlanned, Quantity: line.ProductQty, PurchaseLineID: line.ID}, true, nil
}

func (r *Resolver) loadFree(ctx context.Context, ids ...int64) (map[int64]decimal.Decimal, error) {
	products, err := r.store.Products(ctx, ids...)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]decimal.Decimal, len(ids))
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownProduct, id)
		}
		out[id] = decimal.Max(p.QtyOnHand.Sub(p.OutgoingQty), decimal.Zero)
	}
	return out, nil
}

type projectionKey struct {
	productID int64
	since     int64
}

type projectionResult struct {
	projection Projection
	ok         bool
}

// Scope memoises stock and projection lookups for one request.
type Scope struct {
	resolver    *Resolver
	free        map[int64]decimal.Decimal
	projections map[projectionKey]projectionResult
}

// Prefetch loads stock of several products with one query.
func (s *Scope) Prefetch(ctx context.Context, ids ...int64) error {
	var missing []int64
	for _, id := range ids {
		if _, ok := s.free[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	free, err := s.resolver.loadFree(ctx, missing...)
	if err != nil {
		return err
	}
	for id, qty := range free {
		s.free[id] = qty
	}
	return nil
}

// AvailableNow is Resolver.AvailableNow, memoised per product.
func (s *Scope) AvailableNow(ctx context.Context, productID int64) (decimal.Decimal, error) {
	if err := s.Prefetch(ctx, productID); err != nil {
		return decimal.Zero, err
	}
	return s.free[productID], nil
}

// Resolve is Resolver.Resolve over memoised stock.
func (s *Scope) Resolve(ctx context.Context, productID int64, requested decimal.Decimal) (decimal.Decimal, error) {
	free, err := s.AvailableNow(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	return Clamp(free, decimal.Zero, requested), nil
}

// ProjectReplenishment is Resolver.ProjectReplenishment, memoised per product and date.
func (s *Scope) ProjectReplenishment(ctx context.Context, productID int64, since time.Time) (Projection, bool, error) {
	key := projectionKey{productID: productID, since: since.UnixNano()}
	if res, ok := s.projections[key]; ok {
		return res.projection, res.ok, nil
	}
	projection, ok, err := s.resolver.ProjectReplenishment(ctx, productID, since)
	if err != nil {
		return Projection{}, false, err
	}
	s.projections[key] = projectionResult{projection: projection, ok: ok}
	return projection, ok, nil
}
