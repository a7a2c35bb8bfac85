package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Product carries the stock figures availability is computed from.
type Product struct {
	bun.BaseModel `bun:"table:products"`

	ID          int64           `bun:",pk,autoincrement" json:"id"`
	Name        string          `bun:"name,notnull" json:"name"`
	SaleOK      bool            `bun:"sale_ok,notnull" json:"sale_ok"`
	QtyOnHand   decimal.Decimal `bun:"qty_on_hand,type:decimal(18,4),notnull" json:"qty_on_hand"`
	OutgoingQty decimal.Decimal `bun:"outgoing_qty,type:decimal(18,4),notnull" json:"outgoing_qty"`
}

// PurchaseOrderState is the lifecycle state of a purchase order.
type PurchaseOrderState string

const (
	PurchaseOrderStateDraft    PurchaseOrderState = "draft"
	PurchaseOrderStatePurchase PurchaseOrderState = "purchase"
	PurchaseOrderStateDone     PurchaseOrderState = "done"
	PurchaseOrderStateCancel   PurchaseOrderState = "cancel"
)

// PurchaseOrder is a replenishment order placed with a vendor.
type PurchaseOrder struct {
	bun.BaseModel `bun:"table:purchase_orders"`

	ID        int64              `bun:",pk,autoincrement" json:"id"`
	Number    string             `bun:"number" json:"number"`
	State     PurchaseOrderState `bun:"state,notnull" json:"state"`
	CreatedAt time.Time          `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}

// PurchaseOrderLine is an incoming quantity planned for a date.
type PurchaseOrderLine struct {
	bun.BaseModel `bun:"table:purchase_order_lines"`

	ID          int64           `bun:",pk,autoincrement" json:"id"`
	OrderID     int64           `bun:"order_id,notnull" json:"order_id"`
	ProductID   int64           `bun:"product_id,notnull" json:"product_id"`
	ProductQty  decimal.Decimal `bun:"product_qty,type:decimal(18,4),notnull" json:"product_qty"`
	DatePlanned time.Time       `bun:"date_planned,notnull" json:"date_planned"`
}

// Currency defines the rounding precision of monetary amounts.
type Currency struct {
	bun.BaseModel `bun:"table:currencies"`

	ID       int64  `bun:",pk,autoincrement" json:"id"`
	Code     string `bun:"code,notnull" json:"code"`
	Decimals int32  `bun:"decimals,notnull" json:"decimals"`
}

// Tax is a percentage tax applied to order lines.
type Tax struct {
	bun.BaseModel `bun:"table:taxes"`

	ID            int64           `bun:",pk,autoincrement" json:"id"`
	Name          string          `bun:"name,notnull" json:"name"`
	Percent       decimal.Decimal `bun:"percent,type:decimal(9,4),notnull" json:"percent"`
	PriceInclude  bool            `bun:"price_include,notnull" json:"price_include"`
	GroupName     string          `bun:"group_name,notnull" json:"group_name"`
	GroupSequence int             `bun:"group_sequence,notnull" json:"group_sequence"`
}

// UserCapability grants a named capability to a user.
type UserCapability struct {
	bun.BaseModel `bun:"table:user_capabilities"`

	UserID     int64  `bun:"user_id,pk" json:"user_id"`
	Capability string `bun:"capability,pk" json:"capability"`
}
