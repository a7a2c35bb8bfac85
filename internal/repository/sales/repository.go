package sales

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/fulfillment/internal/database"
	"github.com/Additional-Code/fulfillment/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/fulfillment/repository/sales")

// Repository is the bun-backed Store.
type Repository struct {
	db     *bun.DB
	writer bun.IDB
	reader bun.IDB
	inTx   bool
}

var _ Store = (*Repository)(nil)

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		db:     conns.Writer,
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// NewStore exposes the repository through the Store interface.
func NewStore(repo *Repository) Store {
	return repo
}

// RunInTx executes fn inside a database transaction on the writer connection.
// Reads inside fn go through the transaction as well.
func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if r.inTx {
		return fn(ctx, r)
	}
	ctx, span := repoTracer.Start(ctx, "SalesRepository.RunInTx")
	defer span.End()

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Repository{db: r.db, writer: tx, reader: tx, inTx: true})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction rolled back")
	}
	return err
}

// CreateOrder persists a new order.
func (r *Repository) CreateOrder(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	stampCreated(&order.CreatedAt, &order.UpdatedAt)
	return r.insert(ctx, "SalesRepository.CreateOrder", order)
}

// GetOrder fetches an order by primary key.
func (r *Repository) GetOrder(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "SalesRepository.GetOrder", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order := new(entity.Order)
	err := r.reader.NewSelect().Model(order).Where("id = ?", id).Scan(ctx)
	if err := translate(span, err); err != nil {
		return nil, err
	}
	return order, nil
}

// UpdateOrder writes the given columns (all when none) and bumps updated_at.
func (r *Repository) UpdateOrder(ctx context.Context, order *entity.Order, columns ...string) error {
	order.UpdatedAt = time.Now().UTC()
	if len(columns) > 0 {
		columns = append(columns, "updated_at")
	}
	return r.update(ctx, "SalesRepository.UpdateOrder", order, columns)
}

// OrdersByBackorderOrigin lists the follow-up orders generated from a backorder.
func (r *Repository) OrdersByBackorderOrigin(ctx context.Context, backorderID int64) ([]*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "SalesRepository.OrdersByBackorderOrigin", trace.WithAttributes(attribute.Int64("backorder.id", backorderID)))
	defer span.End()

	var orders []*entity.Order
	err := r.reader.NewSelect().Model(&orders).Where("backorder_origin_id = ?", backorderID).Order("id ASC").Scan(ctx)
	if err := translate(span, err); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return orders, nil
}

// CreateOrderLine persists a new order line.
func (r *Repository) CreateOrderLine(ctx context.Context, line *entity.OrderLine) error {
	return r.insert(ctx, "SalesRepository.CreateOrderLine", line)
}

// OrderLines lists the lines of an order in creation order.
func (r *Repository) OrderLines(ctx context.Context, orderID int64) ([]*entity.OrderLine, error) {
	ctx, span := repoTracer.Start(ctx, "SalesRepository.OrderLines", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	var lines []*entity.OrderLine
	err := r.reader.NewSelect().Model(&lines).Where("order_id = ?", orderID).Order("id ASC").Scan(ctx)
	if err := translate(span, err); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return lines, nil
}

// UpdateOrderLine writes the given columns (all when none).
func (r *Repository) UpdateOrderLine(ctx context.Context, line *entity.OrderLine, columns ...string) error {
	return r.update(ctx, "SalesRepository.UpdateOrderLine", line, columns)
}

// DeleteOrderLines removes order lines by id.
func (r *Repository) DeleteOrderLines(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, span := repoTracer.Start(ctx, "SalesRepository.DeleteOrderLines", trace.WithAttributes(attribute.Int("order_line.count", len(ids))))
	defer span.End()

	_, err := r.writer.NewDelete().Model((*entity.OrderLine)(nil)).Where("id IN (?)", bun.In(ids)).Exec(ctx)
	return translate(span, err)
}

// CreateOrderMessage posts a notice on an order.
func (r *Repository) CreateOrderMessage(ctx context.Context, msg *entity.OrderMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return r.insert(ctx, "SalesRepository.CreateOrderMessage", msg)
}

// OrderMessages lists notices posted on an order, oldest first.
func (r *Repository) OrderMessages(ctx context.Context, orderID int64) ([]*entity.OrderMessage, error) {
	ctx, span := repoTracer.Start(ctx, "SalesRepository.OrderMessages", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	var msgs []*entity.OrderMessage
	err := r.reader.NewSelect().Model(&msgs).Where("order_id = ?", orderID).Order("id ASC").Scan(ctx)
	if err := translate(span, err); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return msgs, nil
}

// CreateBackorder persists a new backorder header.
func (r *Repository) CreateBackorder(ctx context.Context, backorder *entity.Backorder) error {
	if backorder == nil {
		return errors.New("nil backorder")
	}
	stampCreated(&backorder.CreatedAt, &backorder.UpdatedAt)
	return r.insert(ctx, "SalesRepository.CreateBackorder", backorder)
}

// GetBackorder fetches a backorder by primary key.
func (r *Repository) GetBackorder(ctx context.Context, id int64) (*entity.Backorder, error) {
	ctx, span := repoTracer.Start(ctx, "SalesRepository.GetBackorder", trace.WithAttributes(attribute.Int64("backorder.id", id)))
	defer span.End()

	backorder := new(entity.Backorder)
	err := r.reader.NewSelect().Model(backorder).Where("id = ?", id).Scan(ctx)
	if err := translate(span, err); err != nil {
		return nil, err
	}
	return backorder, nil
}

// UpdateBackorder writes the given columns (all when none) and bumps updated_at.
func (r *Repository) UpdateBackorder(ctx context.Context, backorder *entity.Backorder, columns ...string) error {
	backorder.UpdatedAt = time.Now().UTC()
	if len(columns) > 0 {
		columns = append(columns, "updated_at")
	}
	return r.update(ctx, "SalesRepository.UpdateBackorder", backorder, columns)
}

// DeleteBackorder removes the backorder and its lines.
func (r *Repository) DeleteBackorder(ctx context.Context, id int64) error {
	ctx, span := repoTracer.Start(ctx, "SalesRepository.DeleteBackorder", trace.WithAttributes(attribute.Int64("backorder.id", id)))
	defer span.End()

	if _, err := r.writer.NewDelete().Model((*entity.BackorderLine)(nil)).Where("backorder_id = ?", id).Exec(ctx); err != nil {
		return translate(span, err)
	}
	res, err := r.writer.NewDelete().Model((*entity.Backorder)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return translate(span, err)
	}
	return requireAffected(span, res)
}

// CreateBackorderLine persists a new backorder line.
func (r *Repository) CreateBackorderLine(ctx context.Context, line *entity.BackorderLine) error {
	return r.insert(ctx, "SalesRepository.CreateBackorderLine", line)
}

// GetBackorderLine fetches a backorder line by primary key.
func (r *Repository) GetBackorderLine(ctx context.Context, id int64) (*entity.BackorderLine, error) {
	ctx, span := repoTracer.Start(ctx, "SalesRepository.GetBackorderLine", trace.WithAttributes(attribute.Int64("backorder_line.id", id)))
	defer span.End()

	line := new(entity.BackorderLine)
	err := r.reader.NewSelect().Model(line).Where("id = ?", id).Scan(ctx)
	if err := translate(span, err); err != nil {
		return nil, err
	}
	return line, nil
}

// BackorderLines lists the lines of a backorder in creation order.
func (r *Repository) BackorderLines(ctx context.Context, backorderID int64) ([]*entity.BackorderLine, error) {
	ctx, span := repoTracer.Start(ctx, "SalesRepository.BackorderLines", trace.WithAttributes(attribute.Int64("backorder.id", backorderID)))
	defer span.End()

	var lines []*entity.BackorderLine
	err := r.reader.NewSelect().Model(&lines).Where("backorder_id = ?", backorderID).Order("id ASC").Scan(ctx)
	if err := translate(span, err); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return lines, nil
}

// UpdateBackorderLine writes the given columns (all when none).
func (r *Repository) UpdateBackorderLine(ctx context.Context, line *entity.BackorderLine, columns ...string) error {
	return r.update(ctx, "SalesRepository.UpdateBackorderLine", line, columns)
}

// DeleteBackorderLine removes a single backorder line.
func (r *Repository) DeleteBackorderLine(ctx context.Context, id int64) error {
	ctx, span := repoTracer.Start(ctx, "SalesRepository.DeleteBackorderLine", trace.WithAttributes(attribute.Int64("backorder_line.id", id)))
	defer span.End()

	res, err := r.writer.NewDelete().Model((*entity.BackorderLine)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return translate(span, err)
	}
	return requireAffected(span, res)
}

// CreateProduct persists a product.
func (r *Repository) CreateProduct(ctx context.Context, product *entity.Product) error {
	return r.insert(ctx, "SalesRepository.CreateProduct", product)
}

// Products loads products keyed by id; unknown ids are absent from the map.
func (r *Repository) Products(ctx context.Context, ids ...int64) (map[int64]*entity.Product, error) {
	out := make(map[int64]*entity.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ctx, span := repoTracer.Start(ctx, "SalesRepository.Products", trace.WithAttributes(attribute.Int("product.count", len(ids))))
	defer span.End()

	var products []*entity.Product
	err := r.reader.NewSelect().Model(&products).Where("id IN (?)", bun.In(ids)).Scan(ctx)
	if err := translate(span, err); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// CreatePurchaseOrder persists a purchase order header.
func (r *Repository) CreatePurchaseOrder(ctx context.Context, order *entity.PurchaseOrder) error {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	return r.insert(ctx, "SalesRepository.CreatePurchaseOrder", order)
}

// CreatePurchaseOrderLine persists a purchase order line.
func (r *Repository) CreatePurchaseOrderLine(ctx context.Context, line *entity.PurchaseOrderLine) error {
	return r.insert(ctx, "SalesRepository.CreatePurchaseOrderLine", line)
}

// EarliestOpenPurchaseLine finds the earliest planned purchase line for a product.
func (r *Repository) EarliestOpenPurchaseLine(ctx context.Context, productID int64, since time.Time) (*entity.PurchaseOrderLine, error) {
	ctx, span := repoTracer.Start(ctx, "SalesRepository.EarliestOpenPurchaseLine", trace.WithAttributes(
		attribute.Int64("product.id", productID),
		attribute.String("since", since.Format(time.DateOnly)),
	))
	defer span.End()

	confirmed := r.reader.NewSelect().
		Model((*entity.PurchaseOrder)(nil)).
		Column("id").
		Where("state = ?", entity.PurchaseOrderStatePurchase)

	line := new(entity.PurchaseOrderLine)
	err := r.reader.NewSelect().
		Model(line).
		Where("product_id = ?", productID).
		Where("date_planned >= ?", since).
		Where("order_id IN (?)", confirmed).
		Order("date_planned ASC", "id ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err := translate(span, err); err != nil {
		return nil, err
	}
	return line, nil
}

// CreateCurrency persists a currency.
func (r *Repository) CreateCurrency(ctx context.Context, currency *entity.Currency) error {
	return r.insert(ctx, "SalesRepository.CreateCurrency", currency)
}

// GetCurrency fetches a currency by primary key.
func (r *Repository) GetCurrency(ctx context.Context, id int64) (*entity.Currency, error) {
	ctx, span := repoTracer.Start(ctx, "SalesRepository.GetCurrency", trace.WithAttributes(attribute.Int64("currency.id", id)))
	defer span.End()

	currency := new(entity.Currency)
	err := r.reader.NewSelect().Model(currency).Where("id = ?", id).Scan(ctx)
	if err := translate(span, err); err != nil {
		return nil, err
	}
	return currency, nil
}

// CreateTax persists a tax.
func (r *Repository) CreateTax(ctx context.Context, tax *entity.Tax) error {
	return r.insert(ctx, "SalesRepository.CreateTax", tax)
}

// Taxes loads taxes by id in id order.
func (r *Repository) Taxes(ctx context.Context, ids ...int64) ([]*entity.Tax, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, span := repoTracer.Start(ctx, "SalesRepository.Taxes", trace.WithAttributes(attribute.Int("tax.count", len(ids))))
	defer span.End()

	var taxes []*entity.Tax
	err := r.reader.NewSelect().Model(&taxes).Where("id IN (?)", bun.In(ids)).Order("id ASC").Scan(ctx)
	if err := translate(span, err); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return taxes, nil
}

// GrantCapability gives a user a named capability; granting twice is a no-op.
func (r *Repository) GrantCapability(ctx context.Context, userID int64, capability string) error {
	ctx, span := repoTracer.Start(ctx, "SalesRepository.GrantCapability", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	grant := &entity.UserCapability{UserID: userID, Capability: capability}
	exists, err := r.reader.NewSelect().Model((*entity.UserCapability)(nil)).
		Where("user_id = ?", userID).
		Where("capability = ?", capability).
		Exists(ctx)
	if err != nil || exists {
		return translate(span, err)
	}
	_, err = r.writer.NewInsert().Model(grant).Exec(ctx)
	return translate(span, err)
}

// UserCapabilities lists the capability names granted to a user.
func (r *Repository) UserCapabilities(ctx context.Context, userID int64) ([]string, error) {
	ctx, span := repoTracer.Start(ctx, "SalesRepository.UserCapabilities", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	var caps []string
	err := r.reader.NewSelect().
		Model((*entity.UserCapability)(nil)).
		Column("capability").
		Where("user_id = ?", userID).
		Order("capability ASC").
		Scan(ctx, &caps)
	if err := translate(span, err); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return caps, nil
}

func (r *Repository) insert(ctx context.Context, op string, model any) error {
	ctx, span := repoTracer.Start(ctx, op)
	defer span.End()

	_, err := r.writer.NewInsert().Model(model).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

func (r *Repository) update(ctx context.Context, op string, model any, columns []string) error {
	ctx, span := repoTracer.Start(ctx, op)
	defer span.End()

	q := r.writer.NewUpdate().Model(model).WherePK()
	if len(columns) > 0 {
		q = q.Column(columns...)
	}
	// MySQL reports zero affected rows for no-op updates, so existence is the
	// caller's job.
	_, err := q.Exec(ctx)
	return translate(span, err)
}

func stampCreated(created, updated *time.Time) {
	if created.IsZero() {
		*created = time.Now().UTC()
	}
	if updated.IsZero() {
		*updated = *created
	}
}

func translate(span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return ErrNotFound
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "query failed")
	return err
}

func requireAffected(span trace.Span, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return translate(span, err)
	}
	if n == 0 {
		span.SetStatus(codes.Error, "not found")
		return ErrNotFound
	}
	return nil
}
