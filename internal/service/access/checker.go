// Package access answers capability checks for acting users.
package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/fulfillment/internal/cache"
	"github.com/Additional-Code/fulfillment/internal/config"
	"github.com/Additional-Code/fulfillment/internal/repository/sales"
	"github.com/Additional-Code/fulfillment/pkg/errorbank"
)

var checkerTracer = otel.Tracer("github.com/Additional-Code/fulfillment/service/access")

// Checker reports whether a user holds a named capability.
type Checker interface {
	HasCapability(ctx context.Context, userID int64, capability string) (bool, error)
}

// Module provides the store-backed checker.
var Module = fx.Provide(
	NewStoreChecker,
	func(c *StoreChecker) Checker { return c },
)

// Params defines dependencies for constructing StoreChecker.
type Params struct {
	fx.In

	Store  sales.Store
	Cache  cache.Store
	Config config.Config
	Logger *zap.Logger
}

// StoreChecker reads capabilities from the record store through the cache.
type StoreChecker struct {
	store  sales.Store
	cache  cache.Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewStoreChecker wires a StoreChecker.
func NewStoreChecker(p Params) *StoreChecker {
	return &StoreChecker{
		store:  p.Store,
		cache:  p.Cache,
		ttl:    p.Config.Fulfillment.CapabilityTTL,
		logger: p.Logger,
	}
}

// HasCapability looks the capability up in the user's cached capability set.
func (c *StoreChecker) HasCapability(ctx context.Context, userID int64, capability string) (bool, error) {
	ctx, span := checkerTracer.Start(ctx, "Checker.HasCapability", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.String("capability", capability),
	))
	defer span.End()

	caps, err := c.capabilities(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	for _, name := range caps {
		if name == capability {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops the cached capability set of a user.
func (c *StoreChecker) Invalidate(ctx context.Context, userID int64) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Delete(ctx, cacheKey(userID))
}

func (c *StoreChecker) capabilities(ctx context.Context, userID int64) ([]string, error) {
	if c.cache != nil {
		raw, err := c.cache.Get(ctx, cacheKey(userID))
		if err == nil {
			var caps []string
			if err := json.Unmarshal(raw, &caps); err == nil {
				return caps, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) && c.logger != nil {
			c.logger.Warn("capability cache read failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	caps, err := c.store.UserCapabilities(ctx, userID)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if raw, err := json.Marshal(caps); err == nil {
			if err := c.cache.Set(ctx, cacheKey(userID), raw, c.ttl); err != nil && c.logger != nil {
				c.logger.Warn("capability cache write failed", zap.Int64("user_id", userID), zap.Error(err))
			}
		}
	}
	return caps, nil
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("capabilities:%d", userID)
}

// Require returns a permission error unless the user holds capability.
func Require(ctx context.Context, checker Checker, userID int64, capability, action string) error {
	ok, err := checker.HasCapability(ctx, userID, capability)
	if err != nil {
		return errorbank.Internal("failed to check permissions", errorbank.WithCause(err))
	}
	if !ok {
		return errorbank.Forbidden(
			fmt.Sprintf("only users with the %s capability can %s", capability, action),
			errorbank.WithDetail("capability", capability),
		)
	}
	return nil
}
