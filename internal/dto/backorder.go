package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// BackorderLineResponse is a backorder line with its replenishment projection.
type BackorderLineResponse struct {
	ID                int64           `json:"id"`
	ProductID         int64           `json:"product_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	ConfirmedQuantity decimal.Decimal `json:"confirmed_quantity"`
	PriceUnit         decimal.Decimal `json:"price_unit"`
	Discount          decimal.Decimal `json:"discount"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	ProjectedQuantity decimal.Decimal `json:"projected_quantity"`
	ProjectedDate     *time.Time      `json:"projected_date,omitempty"`
	AvailableNow      decimal.Decimal `json:"available_now"`
}

// BackorderResponse represents a backorder as exposed via transport layers.
type BackorderResponse struct {
	ID              int64                   `json:"id"`
	Name            string                  `json:"name"`
	State           string                  `json:"state"`
	OriginOrderID   int64                   `json:"origin_order_id"`
	PartnerID       int64                   `json:"partner_id"`
	Date            time.Time               `json:"date"`
	ExpectedDate    *time.Time              `json:"expected_date,omitempty"`
	Total           decimal.Decimal         `json:"total"`
	Lines           []BackorderLineResponse `json:"lines"`
	GeneratedOrders []GeneratedOrder        `json:"generated_orders,omitempty"`
}

// GeneratedOrder is a follow-up order listed on its backorder.
type GeneratedOrder struct {
	ID            int64      `json:"id"`
	Number        string     `json:"number"`
	State         string     `json:"state"`
	RequestedDate *time.Time `json:"requested_date,omitempty"`
}

// UpdateBackorderLineRequest edits a draft backorder line. Only the fields
// present are applied.
type UpdateBackorderLineRequest struct {
	ConfirmedQuantity *decimal.Decimal `json:"confirmed_quantity,omitempty"`
	PriceUnit         *decimal.Decimal `json:"price_unit,omitempty"`
}

// ConfirmBackorderResponse lists the follow-up orders of a confirmation.
type ConfirmBackorderResponse struct {
	BackorderID int64            `json:"backorder_id"`
	State       string           `json:"state"`
	Orders      []GeneratedOrder `json:"orders"`
}
