package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// BackorderState is the lifecycle state of a backorder.
type BackorderState string

const (
	BackorderStateDraft     BackorderState = "draft"
	BackorderStateConfirmed BackorderState = "confirmed"
	BackorderStateCancel    BackorderState = "cancel"
)

// CanTransitionTo reports whether the state machine allows moving to target.
// Only draft backorders move; confirmed and cancel are terminal.
func (s BackorderState) CanTransitionTo(target BackorderState) bool {
	if s != BackorderStateDraft {
		return false
	}
	return target == BackorderStateConfirmed || target == BackorderStateCancel
}

// BackorderNamePrefix prefixes the display name of backorders.
const BackorderNamePrefix = "BO"

// Backorder tracks the shortage of one origin order confirmation.
type Backorder struct {
	bun.BaseModel `bun:"table:backorders"`

	ID                int64          `bun:",pk,autoincrement" json:"id"`
	OriginOrderID     int64          `bun:"origin_order_id,notnull" json:"origin_order_id"`
	PartnerID         int64          `bun:"partner_id,notnull" json:"partner_id"`
	CompanyID         int64          `bun:"company_id,notnull" json:"company_id"`
	PricelistID       int64          `bun:"pricelist_id,notnull" json:"pricelist_id"`
	CurrencyID        int64          `bun:"currency_id,notnull" json:"currency_id"`
	InvoiceAddressID  int64          `bun:"invoice_address_id,notnull" json:"invoice_address_id"`
	ShippingAddressID int64          `bun:"shipping_address_id,notnull" json:"shipping_address_id"`
	PaymentTermID     *int64         `bun:"payment_term_id" json:"payment_term_id,omitempty"`
	CarrierID         *int64         `bun:"carrier_id" json:"carrier_id,omitempty"`
	Date              time.Time      `bun:"date,notnull" json:"date"`
	State             BackorderState `bun:"state,notnull" json:"state"`
	CreatedAt         time.Time      `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time      `bun:"updated_at,nullzero" json:"updated_at"`
}

// Name is the human-readable identifier, e.g. BO00042.
func (b *Backorder) Name() string {
	return FormatName(BackorderNamePrefix, b.ID)
}

// BackorderLine holds the shortage of one product.
type BackorderLine struct {
	bun.BaseModel `bun:"table:backorder_lines"`

	ID                int64           `bun:",pk,autoincrement" json:"id"`
	BackorderID       int64           `bun:"backorder_id,notnull" json:"backorder_id"`
	ProductID         int64           `bun:"product_id,notnull" json:"product_id"`
	Quantity          decimal.Decimal `bun:"quantity,type:decimal(18,4),notnull" json:"quantity"`
	ConfirmedQuantity decimal.Decimal `bun:"confirmed_quantity,type:decimal(18,4),notnull" json:"confirmed_quantity"`
	PriceUnit         decimal.Decimal `bun:"price_unit,type:decimal(18,4),notnull" json:"price_unit"`
	Discount          decimal.Decimal `bun:"discount,type:decimal(9,4),notnull" json:"discount"`
}

// Subtotal is the discounted price times the confirmed quantity.
func (l *BackorderLine) Subtotal() decimal.Decimal {
	return ReducedPrice(l.PriceUnit, l.Discount).Mul(l.ConfirmedQuantity)
}
