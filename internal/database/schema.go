package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/Additional-Code/fulfillment/internal/entity"
)

// Models lists every table owned by the service in creation order.
func Models() []any {
	return []any{
		(*entity.Currency)(nil),
		(*entity.Tax)(nil),
		(*entity.Product)(nil),
		(*entity.PurchaseOrder)(nil),
		(*entity.PurchaseOrderLine)(nil),
		(*entity.Order)(nil),
		(*entity.OrderLine)(nil),
		(*entity.OrderMessage)(nil),
		(*entity.Backorder)(nil),
		(*entity.BackorderLine)(nil),
		(*entity.UserCapability)(nil),
	}
}

// CreateSchema creates missing tables straight from the bun models. The
// sqlite and mysql development databases use it; postgres goes through the
// goose migrations.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, model := range Models() {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}
