package sales

import (
	"context"
	"errors"
	"time"

	"github.com/Additional-Code/fulfillment/internal/entity"
)

// ErrNotFound is returned when a record is missing.
var ErrNotFound = errors.New("record not found")

// Store is the record store the fulfillment services run against.
//
// Implementations must make RunInTx all-or-nothing: when fn returns an error
// none of the writes performed through tx may remain visible. Calling RunInTx
// on a store already bound to a transaction runs fn in that transaction.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	CreateOrder(ctx context.Context, order *entity.Order) error
	GetOrder(ctx context.Context, id int64) (*entity.Order, error)
	UpdateOrder(ctx context.Context, order *entity.Order, columns ...string) error
	OrdersByBackorderOrigin(ctx context.Context, backorderID int64) ([]*entity.Order, error)

	CreateOrderLine(ctx context.Context, line *entity.OrderLine) error
	OrderLines(ctx context.Context, orderID int64) ([]*entity.OrderLine, error)
	UpdateOrderLine(ctx context.Context, line *entity.OrderLine, columns ...string) error
	DeleteOrderLines(ctx context.Context, ids ...int64) error

	CreateOrderMessage(ctx context.Context, msg *entity.OrderMessage) error
	OrderMessages(ctx context.Context, orderID int64) ([]*entity.OrderMessage, error)

	CreateBackorder(ctx context.Context, backorder *entity.Backorder) error
	GetBackorder(ctx context.Context, id int64) (*entity.Backorder, error)
	UpdateBackorder(ctx context.Context, backorder *entity.Backorder, columns ...string) error
	// DeleteBackorder removes the backorder together with its lines.
	DeleteBackorder(ctx context.Context, id int64) error

	CreateBackorderLine(ctx context.Context, line *entity.BackorderLine) error
	GetBackorderLine(ctx context.Context, id int64) (*entity.BackorderLine, error)
	BackorderLines(ctx context.Context, backorderID int64) ([]*entity.BackorderLine, error)
	UpdateBackorderLine(ctx context.Context, line *entity.BackorderLine, columns ...string) error
	DeleteBackorderLine(ctx context.Context, id int64) error

	CreateProduct(ctx context.Context, product *entity.Product) error
	Products(ctx context.Context, ids ...int64) (map[int64]*entity.Product, error)
	CreatePurchaseOrder(ctx context.Context, order *entity.PurchaseOrder) error
	CreatePurchaseOrderLine(ctx context.Context, line *entity.PurchaseOrderLine) error
	// EarliestOpenPurchaseLine returns the purchase line of a confirmed
	// purchase order for the product with the earliest planned date on or
	// after since, or ErrNotFound.
	EarliestOpenPurchaseLine(ctx context.Context, productID int64, since time.Time) (*entity.PurchaseOrderLine, error)

	CreateCurrency(ctx context.Context, currency *entity.Currency) error
	GetCurrency(ctx context.Context, id int64) (*entity.Currency, error)
	CreateTax(ctx context.Context, tax *entity.Tax) error
	Taxes(ctx context.Context, ids ...int64) ([]*entity.Tax, error)

	GrantCapability(ctx context.Context, userID int64, capability string) error
	UserCapabilities(ctx context.Context, userID int64) ([]string, error)
}
