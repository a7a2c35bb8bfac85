package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/fulfillment/internal/service/pricing"
)

// OrderLineRequest is one line of a new order.
type OrderLineRequest struct {
	ProductID     int64           `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	PriceUnit     decimal.Decimal `json:"price_unit"`
	Discount      decimal.Decimal `json:"discount"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	TaxIDs        []int64         `json:"tax_ids,omitempty"`
}

// CreateOrderRequest is the payload of a draft order.
type CreateOrderRequest struct {
	Number            string             `json:"number"`
	PartnerID         int64              `json:"partner_id"`
	CompanyID         int64              `json:"company_id"`
	PricelistID       int64              `json:"pricelist_id"`
	CurrencyID        int64              `json:"currency_id"`
	InvoiceAddressID  int64              `json:"invoice_address_id"`
	ShippingAddressID int64              `json:"shipping_address_id"`
	PaymentTermID     *int64             `json:"payment_term_id,omitempty"`
	CarrierID         *int64             `json:"carrier_id,omitempty"`
	RequestedDate     *time.Time         `json:"requested_date,omitempty"`
	Lines             []OrderLineRequest `json:"lines"`
}

// OrderLineResponse is an order line with its current availability.
type OrderLineResponse struct {
	ID              int64           `json:"id"`
	ProductID       int64           `json:"product_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	Available       decimal.Decimal `json:"available"`
	PriceUnit       decimal.Decimal `json:"price_unit"`
	Discount        decimal.Decimal `json:"discount"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Total           decimal.Decimal `json:"total"`
	SubtotalDisplay decimal.Decimal `json:"subtotal_display"`
	TotalDisplay    decimal.Decimal `json:"total_display"`
	MarginDisplay   decimal.Decimal `json:"margin_display"`
	TaxIDs          []int64         `json:"tax_ids,omitempty"`
}

// OrderMessageResponse is a notice posted on an order.
type OrderMessageResponse struct {
	AuthorID  int64     `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderResponse represents an order as exposed via transport layers.
type OrderResponse struct {
	ID                int64                  `json:"id"`
	Number            string                 `json:"number"`
	State             string                 `json:"state"`
	PartnerID         int64                  `json:"partner_id"`
	CompanyID         int64                  `json:"company_id"`
	CurrencyID        int64                  `json:"currency_id"`
	BackorderID       *int64                 `json:"backorder_id,omitempty"`
	BackorderOriginID *int64                 `json:"backorder_origin_id,omitempty"`
	RequestedDate     *time.Time             `json:"requested_date,omitempty"`
	ConfirmedAt       *time.Time             `json:"confirmed_at,omitempty"`
	Lines             []OrderLineResponse    `json:"lines"`
	Messages          []OrderMessageResponse `json:"messages,omitempty"`
	Amounts           pricing.OrderAmounts   `json:"amounts"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// ConfirmOrderResponse reports the outcome of an order confirmation.
type ConfirmOrderResponse struct {
	OrderID        int64   `json:"order_id"`
	State          string  `json:"state"`
	Confirmed      bool    `json:"confirmed"`
	BackorderID    *int64  `json:"backorder_id,omitempty"`
	BackorderName  string  `json:"backorder_name,omitempty"`
	RemovedLineIDs []int64 `json:"removed_line_ids,omitempty"`
}
