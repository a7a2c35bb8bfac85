package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// OrderState is the lifecycle state of a sales order.
type OrderState string

const (
	OrderStateDraft  OrderState = "draft"
	OrderStateSale   OrderState = "sale"
	OrderStateCancel OrderState = "cancel"
)

// OrderNumberPrefix prefixes generated sales order numbers.
const OrderNumberPrefix = "SO"

// Order represents a sales order stored in the relational database.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID                int64      `bun:",pk,autoincrement" json:"id"`
	Number            string     `bun:"number,nullzero,unique" json:"number"`
	State             OrderState `bun:"state,notnull" json:"state"`
	PartnerID         int64      `bun:"partner_id,notnull" json:"partner_id"`
	CompanyID         int64      `bun:"company_id,notnull" json:"company_id"`
	PricelistID       int64      `bun:"pricelist_id,notnull" json:"pricelist_id"`
	CurrencyID        int64      `bun:"currency_id,notnull" json:"currency_id"`
	InvoiceAddressID  int64      `bun:"invoice_address_id,notnull" json:"invoice_address_id"`
	ShippingAddressID int64      `bun:"shipping_address_id,notnull" json:"shipping_address_id"`
	PaymentTermID     *int64     `bun:"payment_term_id" json:"payment_term_id,omitempty"`
	CarrierID         *int64     `bun:"carrier_id" json:"carrier_id,omitempty"`
	BackorderID       *int64     `bun:"backorder_id" json:"backorder_id,omitempty"`
	BackorderOriginID *int64     `bun:"backorder_origin_id" json:"backorder_origin_id,omitempty"`
	RequestedDate     *time.Time `bun:"requested_date" json:"requested_date,omitempty"`
	ConfirmedAt       *time.Time `bun:"confirmed_at" json:"confirmed_at,omitempty"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero" json:"updated_at"`
}

// OrderLine is a single product line of a sales order.
type OrderLine struct {
	bun.BaseModel `bun:"table:order_lines"`

	ID            int64           `bun:",pk,autoincrement" json:"id"`
	OrderID       int64           `bun:"order_id,notnull" json:"order_id"`
	ProductID     int64           `bun:"product_id,notnull" json:"product_id"`
	Quantity      decimal.Decimal `bun:"quantity,type:decimal(18,4),notnull" json:"quantity"`
	PriceUnit     decimal.Decimal `bun:"price_unit,type:decimal(18,4),notnull" json:"price_unit"`
	Discount      decimal.Decimal `bun:"discount,type:decimal(9,4),notnull" json:"discount"`
	PurchasePrice decimal.Decimal `bun:"purchase_price,type:decimal(18,4),notnull" json:"purchase_price"`
	TaxIDs        []int64         `bun:"tax_ids,type:text" json:"tax_ids,omitempty"`
}

// OrderMessage is a human-readable notice posted on an order.
type OrderMessage struct {
	bun.BaseModel `bun:"table:order_messages"`

	ID        int64     `bun:",pk,autoincrement" json:"id"`
	OrderID   int64     `bun:"order_id,notnull" json:"order_id"`
	AuthorID  int64     `bun:"author_id" json:"author_id"`
	Body      string    `bun:"body,notnull" json:"body"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}

// FormatName renders a fixed prefix followed by the zero-padded record id.
func FormatName(prefix string, id int64) string {
	if id <= 0 {
		return ""
	}
	return fmt.Sprintf("%s%05d", prefix, id)
}

// ReducedPrice is the unit price after the line discount percentage.
func ReducedPrice(price, discount decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(1).Sub(discount.Div(decimal.NewFromInt(100))))
}
