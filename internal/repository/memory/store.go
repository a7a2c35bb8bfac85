// Package memory provides an in-memory sales.Store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/fulfillment/internal/entity"
	"github.com/Additional-Code/fulfillment/internal/repository/sales"
)

type dataset struct {
	nextID         int64
	orders         map[int64]entity.Order
	orderLines     map[int64]entity.OrderLine
	messages       map[int64]entity.OrderMessage
	backorders     map[int64]entity.Backorder
	backorderLines map[int64]entity.BackorderLine
	products       map[int64]entity.Product
	purchaseOrders map[int64]entity.PurchaseOrder
	purchaseLines  map[int64]entity.PurchaseOrderLine
	currencies     map[int64]entity.Currency
	taxes          map[int64]entity.Tax
	capabilities   map[int64]map[string]struct{}
}

func newDataset() *dataset {
	return &dataset{
		orders:         map[int64]entity.Order{},
		orderLines:     map[int64]entity.OrderLine{},
		messages:       map[int64]entity.OrderMessage{},
		backorders:     map[int64]entity.Backorder{},
		backorderLines: map[int64]entity.BackorderLine{},
		products:       map[int64]entity.Product{},
		purchaseOrders: map[int64]entity.PurchaseOrder{},
		purchaseLines:  map[int64]entity.PurchaseOrderLine{},
		currencies:     map[int64]entity.Currency{},
		taxes:          map[int64]entity.Tax{},
		capabilities:   map[int64]map[string]struct{}{},
	}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	c.nextID = d.nextID
	copyMap(c.orders, d.orders)
	for id, line := range d.orderLines {
		line.TaxIDs = append([]int64(nil), line.TaxIDs...)
		c.orderLines[id] = line
	}
	copyMap(c.messages, d.messages)
	copyMap(c.backorders, d.backorders)
	copyMap(c.backorderLines, d.backorderLines)
	copyMap(c.products, d.products)
	copyMap(c.purchaseOrders, d.purchaseOrders)
	copyMap(c.purchaseLines, d.purchaseLines)
	copyMap(c.currencies, d.currencies)
	copyMap(c.taxes, d.taxes)
	for user, caps := range d.capabilities {
		set := make(map[string]struct{}, len(caps))
		for name := range caps {
			set[name] = struct{}{}
		}
		c.capabilities[user] = set
	}
	return c
}

func copyMap[V any](dst, src map[int64]V) {
	for k, v := range src {
		dst[k] = v
	}
}

// Store keeps records in maps. Records are stored and returned by value so
// callers never alias stored state, mirroring a database round trip.
type Store struct {
	mu   *sync.Mutex
	data *dataset
	inTx bool
}

var _ sales.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{mu: &sync.Mutex{}, data: newDataset()}
}

// RunInTx runs fn against the store and restores the previous state when fn
// fails or panics. The panic is re-raised after the restore.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx sales.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	defer func() {
		if p := recover(); p != nil {
			*s.data = *snapshot
			panic(p)
		}
	}()

	tx := &Store{mu: s.mu, data: s.data, inTx: true}
	if err := fn(ctx, tx); err != nil {
		*s.data = *snapshot
		return err
	}
	return nil
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) id() int64 {
	s.data.nextID++
	return s.data.nextID
}

// CreateOrder stores a new order and assigns its id.
func (s *Store) CreateOrder(_ context.Context, order *entity.Order) error {
	defer s.lock()()
	order.ID = s.id()
	stampCreated(&order.CreatedAt, &order.UpdatedAt)
	s.data.orders[order.ID] = *order
	return nil
}

// GetOrder returns a copy of the order.
func (s *Store) GetOrder(_ context.Context, id int64) (*entity.Order, error) {
	defer s.lock()()
	order, ok := s.data.orders[id]
	if !ok {
		return nil, sales.ErrNotFound
	}
	return &order, nil
}

// UpdateOrder replaces the stored order.
func (s *Store) UpdateOrder(_ context.Context, order *entity.Order, _ ...string) error {
	defer s.lock()()
	if _, ok := s.data.orders[order.ID]; !ok {
		return sales.ErrNotFound
	}
	order.UpdatedAt = time.Now().UTC()
	s.data.orders[order.ID] = *order
	return nil
}

// OrdersByBackorderOrigin lists orders generated from a backorder.
func (s *Store) OrdersByBackorderOrigin(_ context.Context, backorderID int64) ([]*entity.Order, error) {
	defer s.lock()()
	var out []*entity.Order
	for _, order := range s.data.orders {
		if order.BackorderOriginID != nil && *order.BackorderOriginID == backorderID {
			o := order
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateOrderLine stores a new order line.
func (s *Store) CreateOrderLine(_ context.Context, line *entity.OrderLine) error {
	defer s.lock()()
	line.ID = s.id()
	stored := *line
	stored.TaxIDs = append([]int64(nil), line.TaxIDs...)
	s.data.orderLines[line.ID] = stored
	return nil
}

// OrderLines lists the lines of an order by id.
func (s *Store) OrderLines(_ context.Context, orderID int64) ([]*entity.OrderLine, error) {
	defer s.lock()()
	var out []*entity.OrderLine
	for _, line := range s.data.orderLines {
		if line.OrderID == orderID {
			l := line
			l.TaxIDs = append([]int64(nil), line.TaxIDs...)
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateOrderLine replaces the stored line.
func (s *Store) UpdateOrderLine(_ context.Context, line *entity.OrderLine, _ ...string) error {
	defer s.lock()()
	if _, ok := s.data.orderLines[line.ID]; !ok {
		return sales.ErrNotFound
	}
	stored := *line
	stored.TaxIDs = append([]int64(nil), line.TaxIDs...)
	s.data.orderLines[line.ID] = stored
	return nil
}

// DeleteOrderLines removes lines by id; unknown ids are ignored.
func (s *Store) DeleteOrderLines(_ context.Context, ids ...int64) error {
	defer s.lock()()
	for _, id := range ids {
		delete(s.data.orderLines, id)
	}
	return nil
}

// CreateOrderMessage stores a notice.
func (s *Store) CreateOrderMessage(_ context.Context, msg *entity.OrderMessage) error {
	defer s.lock()()
	msg.ID = s.id()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.data.messages[msg.ID] = *msg
	return nil
}

// OrderMessages lists notices of an order by id.
func (s *Store) OrderMessages(_ context.Context, orderID int64) ([]*entity.OrderMessage, error) {
	defer s.lock()()
	var out []*entity.OrderMessage
	for _, msg := range s.data.messages {
		if msg.OrderID == orderID {
			m := msg
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateBackorder stores a new backorder.
func (s *Store) CreateBackorder(_ context.Context, backorder *entity.Backorder) error {
	defer s.lock()()
	backorder.ID = s.id()
	stampCreated(&backorder.CreatedAt, &backorder.UpdatedAt)
	s.data.backorders[backorder.ID] = *backorder
	return nil
}

// GetBackorder returns a copy of the backorder.
func (s *Store) GetBackorder(_ context.Context, id int64) (*entity.Backorder, error) {
	defer s.lock()()
	backorder, ok := s.data.backorders[id]
	if !ok {
		return nil, sales.ErrNotFound
	}
	return &backorder, nil
}

// UpdateBackorder replaces the stored backorder.
func (s *Store) UpdateBackorder(_ context.Context, backorder *entity.Backorder, _ ...string) error {
	defer s.lock()()
	if _, ok := s.data.backorders[backorder.ID]; !ok {
		return sales.ErrNotFound
	}
	backorder.UpdatedAt = time.Now().UTC()
	s.data.backorders[backorder.ID] = *backorder
	return nil
}

// DeleteBackorder removes a backorder and its lines.
func (s *Store) DeleteBackorder(_ context.Context, id int64) error {
	defer s.lock()()
	if _, ok := s.data.backorders[id]; !ok {
		return sales.ErrNotFound
	}
	for lineID, line := range s.data.backorderLines {
		if line.BackorderID == id {
			delete(s.data.backorderLines, lineID)
		}
	}
	delete(s.data.backorders, id)
	return nil
}

// CreateBackorderLine stores a new backorder line.
func (s *Store) CreateBackorderLine(_ context.Context, line *entity.BackorderLine) error {
	defer s.lock()()
	line.ID = s.id()
	s.data.backorderLines[line.ID] = *line
	return nil
}

// GetBackorderLine returns a copy of the line.
func (s *Store) GetBackorderLine(_ context.Context, id int64) (*entity.BackorderLine, error) {
	defer s.lock()()
	line, ok := s.data.backorderLines[id]
	if !ok {
		return nil, sales.ErrNotFound
	}
	return &line, nil
}

// BackorderLines lists the lines of a backorder by id.
func (s *Store) BackorderLines(_ context.Context, backorderID int64) ([]*entity.BackorderLine, error) {
	defer s.lock()()
	var out []*entity.BackorderLine
	for _, line := range s.data.backorderLines {
		if line.BackorderID == backorderID {
			l := line
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateBackorderLine replaces the stored line.
func (s *Store) UpdateBackorderLine(_ context.Context, line *entity.BackorderLine, _ ...string) error {
	defer s.lock()()
	if _, ok := s.data.backorderLines[line.ID]; !ok {
		return sales.ErrNotFound
	}
	s.data.backorderLines[line.ID] = *line
	return nil
}

// DeleteBackorderLine removes a single line.
func (s *Store) DeleteBackorderLine(_ context.Context, id int64) error {
	defer s.lock()()
	if _, ok := s.data.backorderLines[id]; !ok {
		return sales.ErrNotFound
	}
	delete(s.data.backorderLines, id)
	return nil
}

// CreateProduct stores a product.
func (s *Store) CreateProduct(_ context.Context, product *entity.Product) error {
	defer s.lock()()
	product.ID = s.id()
	s.data.products[product.ID] = *product
	return nil
}

// SetStock overwrites the stock figures of a product.
func (s *Store) SetStock(productID int64, onHand, outgoing decimal.Decimal) {
	defer s.lock()()
	p := s.data.products[productID]
	p.QtyOnHand = onHand
	p.OutgoingQty = outgoing
	s.data.products[productID] = p
}

// Products loads products keyed by id.
func (s *Store) Products(_ context.Context, ids ...int64) (map[int64]*entity.Product, error) {
	defer s.lock()()
	out := make(map[int64]*entity.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.data.products[id]; ok {
			out[id] = &p
		}
	}
	return out, nil
}

// CreatePurchaseOrder stores a purchase order header.
func (s *Store) CreatePurchaseOrder(_ context.Context, order *entity.PurchaseOrder) error {
	defer s.lock()()
	order.ID = s.id()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	s.data.purchaseOrders[order.ID] = *order
	return nil
}

// CreatePurchaseOrderLine stores a purchase order line.
func (s *Store) CreatePurchaseOrderLine(_ context.Context, line *entity.PurchaseOrderLine) error {
	defer s.lock()()
	line.ID = s.id()
	s.data.purchaseLines[line.ID] = *line
	return nil
}

// EarliestOpenPurchaseLine mirrors the SQL query of the bun repository.
func (s *Store) EarliestOpenPurchaseLine(_ context.Context, productID int64, since time.Time) (*entity.PurchaseOrderLine, error) {
	defer s.lock()()
	var best *entity.PurchaseOrderLine
	for _, line := range s.data.purchaseLines {
		if line.ProductID != productID || line.DatePlanned.Before(since) {
			continue
		}
		po, ok := s.data.purchaseOrders[line.OrderID]
		if !ok || po.State != entity.PurchaseOrderStatePurchase {
			continue
		}
		if best == nil || line.DatePlanned.Before(best.DatePlanned) ||
			(line.DatePlanned.Equal(best.DatePlanned) && line.ID < best.ID) {
			l := line
			best = &l
		}
	}
	if best == nil {
		return nil, sales.ErrNotFound
	}
	return best, nil
}

// CreateCurrency stores a currency.
func (s *Store) CreateCurrency(_ context.Context, currency *entity.Currency) error {
	defer s.lock()()
	currency.ID = s.id()
	s.data.currencies[currency.ID] = *currency
	return nil
}

// GetCurrency returns a copy of the currency.
func (s *Store) GetCurrency(_ context.Context, id int64) (*entity.Currency, error) {
	defer s.lock()()
	currency, ok := s.data.currencies[id]
	if !ok {
		return nil, sales.ErrNotFound
	}
	return &currency, nil
}

// CreateTax stores a tax.
func (s *Store) CreateTax(_ context.Context, tax *entity.Tax) error {
	defer s.lock()()
	tax.ID = s.id()
	s.data.taxes[tax.ID] = *tax
	return nil
}

// Taxes loads taxes by id in id order.
func (s *Store) Taxes(_ context.Context, ids ...int64) ([]*entity.Tax, error) {
	defer s.lock()()
	var out []*entity.Tax
	for _, id := range ids {
		if tax, ok := s.data.taxes[id]; ok {
			t := tax
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GrantCapability gives a user a capability.
func (s *Store) GrantCapability(_ context.Context, userID int64, capability string) error {
	defer s.lock()()
	caps, ok := s.data.capabilities[userID]
	if !ok {
		caps = map[string]struct{}{}
		s.data.capabilities[userID] = caps
	}
	caps[capability] = struct{}{}
	return nil
}

// UserCapabilities lists a user's capabilities sorted by name.
func (s *Store) UserCapabilities(_ context.Context, userID int64) ([]string, error) {
	defer s.lock()()
	var out []string
	for name := range s.data.capabilities[userID] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func stampCreated(created, updated *time.Time) {
	if created.IsZero() {
		*created = time.Now().UTC()
	}
	if updated.IsZero() {
		*updated = *created
	}
}
