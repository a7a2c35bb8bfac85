package backorder

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Additional-Code/fulfillment/internal/actor"
	"github.com/Additional-Code/fulfillment/internal/cache"
	"github.com/Additional-Code/fulfillment/internal/config"
	"github.com/Additional-Code/fulfillment/internal/entity"
	"github.com/Additional-Code/fulfillment/internal/events"
	"github.com/Additional-Code/fulfillment/internal/messaging"
	"github.com/Additional-Code/fulfillment/internal/repository/memory"
	"github.com/Additional-Code/fulfillment/internal/repository/sales"
	"github.com/Additional-Code/fulfillment/internal/service/access"
	"github.com/Additional-Code/fulfillment/internal/service/availability"
	ordersvc "github.com/Additional-Code/fulfillment/internal/service/order"
	"github.com/Additional-Code/fulfillment/internal/service/pricing"
	"github.com/Additional-Code/fulfillment/pkg/errorbank"
)

const managerCapability = "sales_manager"

var boDate = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func jan(day int) time.Time {
	return time.Date(2025, time.January, day, 10, 0, 0, 0, time.UTC)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	bus    *messaging.MemoryClient
	orders *ordersvc.Service
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()

	cfg := config.Config{}
	cfg.Messaging.Enabled = true
	cfg.Cache.DefaultTTL = time.Minute
	cfg.Fulfillment.DefaultTimezone = "UTC"
	cfg.Fulfillment.ManagerCapability = managerCapability
	cfg.Fulfillment.CapabilityTTL = time.Minute

	bus := messaging.NewMemoryClient("fulfillment.events", 64)
	memCache := cache.NewMemoryStore(time.Minute)
	publisher := events.NewPublisher(bus, cfg, zap.NewNop())
	resolver := availability.NewResolver(store)
	rounder := pricing.CurrencyRounder{}

	orders := ordersvc.NewService(ordersvc.Params{
		Store:      store,
		Resolver:   resolver,
		Calculator: pricing.NewCalculator(pricing.PercentEngine{Rounder: rounder}, rounder),
		Confirmer:  ordersvc.StateConfirmer{},
		Cache:      memCache,
		Config:     cfg,
		Logger:     zap.NewNop(),
		Publisher:  publisher,
	})
	checker := access.NewStoreChecker(access.Params{Store: store, Cache: memCache, Config: cfg, Logger: zap.NewNop()})

	svc := NewService(Params{
		Store:     store,
		Resolver:  resolver,
		Orders:    orders,
		Checker:   checker,
		Cache:     memCache,
		Config:    cfg,
		Logger:    zap.NewNop(),
		Publisher: publisher,
	})
	return &fixture{t: t, ctx: context.Background(), store: store, bus: bus, orders: orders, svc: svc}
}

func (f *fixture) product(onHand int64) int64 {
	f.t.Helper()
	p := &entity.Product{Name: "Product", SaleOK: true, QtyOnHand: d(onHand), OutgoingQty: decimal.Zero}
	if err := f.store.CreateProduct(f.ctx, p); err != nil {
		f.t.Fatalf("CreateProduct: %v", err)
	}
	return p.ID
}

func (f *fixture) purchase(productID, qty int64, planned time.Time, state entity.PurchaseOrderState) {
	f.t.Helper()
	po := &entity.PurchaseOrder{State: state}
	if err := f.store.CreatePurchaseOrder(f.ctx, po); err != nil {
		f.t.Fatalf("CreatePurchaseOrder: %v", err)
	}
	line := &entity.PurchaseOrderLine{OrderID: po.ID, ProductID: productID, ProductQty: d(qty), DatePlanned: planned}
	if err := f.store.CreatePurchaseOrderLine(f.ctx, line); err != nil {
		f.t.Fatalf("CreatePurchaseOrderLine: %v", err)
	}
}

type shortLine struct {
	productID int64
	qty       int64
	confirmed int64
	price     int64
	discount  int64
}

// backorder stores a draft backorder dated boDate whose origin is a fresh
// confirmed order pointing at it.
func (f *fixture) backorder(shorts ...shortLine) (*entity.Backorder, []*entity.BackorderLine) {
	f.t.Helper()
	term := int64(3)
	origin := &entity.Order{PartnerID: 10, CompanyID: 1, PricelistID: 2, CurrencyID: 5, InvoiceAddressID: 11, ShippingAddressID: 12, PaymentTermID: &term}
	if err := f.orders.Create(f.ctx, origin, nil); err != nil {
		f.t.Fatalf("Create origin: %v", err)
	}

	bo := &entity.Backorder{
		OriginOrderID:     origin.ID,
		PartnerID:         origin.PartnerID,
		CompanyID:         origin.CompanyID,
		PricelistID:       origin.PricelistID,
		CurrencyID:        origin.CurrencyID,
		InvoiceAddressID:  origin.InvoiceAddressID,
		ShippingAddressID: origin.ShippingAddressID,
		PaymentTermID:     &term,
		Date:              boDate,
		State:             entity.BackorderStateDraft,
	}
	if err := f.store.CreateBackorder(f.ctx, bo); err != nil {
		f.t.Fatalf("CreateBackorder: %v", err)
	}
	origin.State = entity.OrderStateSale
	origin.BackorderID = &bo.ID
	if err := f.store.UpdateOrder(f.ctx, origin, "state", "backorder_id"); err != nil {
		f.t.Fatalf("UpdateOrder: %v", err)
	}

	lines := make([]*entity.BackorderLine, 0, len(shorts))
	for _, short := range shorts {
		line := &entity.BackorderLine{
			BackorderID:       bo.ID,
			ProductID:         short.productID,
			Quantity:          d(short.qty),
			ConfirmedQuantity: d(short.confirmed),
			PriceUnit:         d(short.price),
			Discount:          d(short.discount),
		}
		if err := f.store.CreateBackorderLine(f.ctx, line); err != nil {
			f.t.Fatalf("CreateBackorderLine: %v", err)
		}
		lines = append(lines, line)
	}
	return bo, lines
}

func (f *fixture) state(id int64) entity.BackorderState {
	f.t.Helper()
	bo, err := f.store.GetBackorder(f.ctx, id)
	if err != nil {
		f.t.Fatalf("GetBackorder: %v", err)
	}
	return bo.State
}

func (f *fixture) generated(id int64) []*entity.Order {
	f.t.Helper()
	orders, err := f.store.OrdersByBackorderOrigin(f.ctx, id)
	if err != nil {
		f.t.Fatalf("OrdersByBackorderOrigin: %v", err)
	}
	return orders
}

func (f *fixture) grantManager(userID int64) {
	f.t.Helper()
	if err := f.store.GrantCapability(f.ctx, userID, managerCapability); err != nil {
		f.t.Fatalf("GrantCapability: %v", err)
	}
}

func (f *fixture) publishedTypes() []string {
	if f.bus.Pending() == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(f.ctx, time.Second)
	defer cancel()
	var types []string
	_ = f.bus.Consume(ctx, func(_ context.Context, msg messaging.Message) error {
		types = append(types, msg.Headers[messaging.HeaderEventType])
		if f.bus.Pending() == 0 {
			cancel()
		}
		return nil
	})
	return types
}

func TestService_GetComputesProjections(t *testing.T) {
	f := newFixture(t)
	early := f.product(3)
	late := f.product(0)
	unplanned := f.product(1)
	f.purchase(early, 4, jan(5), entity.PurchaseOrderStatePurchase)
	f.purchase(early, 9, jan(3), entity.PurchaseOrderStateDraft)
	f.purchase(late, 7, jan(20), entity.PurchaseOrderStatePurchase)
	f.purchase(late, 2, time.Date(2024, time.December, 30, 0, 0, 0, 0, time.UTC), entity.PurchaseOrderStatePurchase)

	bo, _ := f.backorder(
		shortLine{productID: early, qty: 5, confirmed: 4, price: 10, discount: 50},
		shortLine{productID: late, qty: 8, confirmed: 3, price: 20},
		shortLine{productID: unplanned, qty: 2, price: 30},
	)

	view, err := f.svc.Get(f.ctx, bo.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if view.Name != bo.Name() {
		t.Errorf("Expected name %s, got %s", bo.Name(), view.Name)
	}
	if len(view.Lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(view.Lines))
	}

	tests := []struct {
		name      string
		projected int64
		date      *time.Time
		available int64
		subtotal  int64
	}{
		{name: "confirmed_purchase_only", projected: 4, date: ptr(time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)), available: 3, subtotal: 20},
		{name: "ignores_purchases_before_backorder_date", projected: 7, date: ptr(time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC)), available: 0, subtotal: 60},
		{name: "no_purchase_planned", projected: 0, date: nil, available: 1, subtotal: 0},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lv := view.Lines[i]
			if !lv.ProjectedQuantity.Equal(d(tt.projected)) {
				t.Errorf("Expected projected quantity %d, got %s", tt.projected, lv.ProjectedQuantity)
			}
			switch {
			case tt.date == nil && lv.ProjectedDate != nil:
				t.Errorf("Expected no projected date, got %s", lv.ProjectedDate)
			case tt.date != nil && (lv.ProjectedDate == nil || !lv.ProjectedDate.Equal(*tt.date)):
				t.Errorf("Expected projected date %s, got %v", tt.date, lv.ProjectedDate)
			}
			if !lv.AvailableNow.Equal(d(tt.available)) {
				t.Errorf("Expected available %d, got %s", tt.available, lv.AvailableNow)
			}
			if !lv.Subtotal.Equal(d(tt.subtotal)) {
				t.Errorf("Expected subtotal %d, got %s", tt.subtotal, lv.Subtotal)
			}
		})
	}

	if !view.Total.Equal(d(80)) {
		t.Errorf("Expected total 80, got %s", view.Total)
	}
	wantExpected := time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC)
	if view.ExpectedDate == nil || !view.ExpectedDate.Equal(wantExpected) {
		t.Errorf("Expected expected date %s, got %v", wantExpected, view.ExpectedDate)
	}
}

func TestService_GetWithoutConfirmedQuantity(t *testing.T) {
	f := newFixture(t)
	p := f.product(0)
	f.purchase(p, 5, jan(2), entity.PurchaseOrderStatePurchase)
	bo, _ := f.backorder(shortLine{productID: p, qty: 5, price: 10})

	view, err := f.svc.Get(f.ctx, bo.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if view.ExpectedDate != nil {
		t.Errorf("Expected no expected date, got %s", view.ExpectedDate)
	}
	if !view.Total.IsZero() {
		t.Errorf("Expected zero total, got %s", view.Total)
	}
}

func TestService_GetUnknownBackorder(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(f.ctx, 999)
	if !errorbank.Is(err, errorbank.KindNotFound) {
		t.Fatalf("Expected not found, got %v", err)
	}
}

func TestService_SetConfirmedQuantity(t *testing.T) {
	f := newFixture(t)
	planned := f.product(0)
	unplanned := f.product(0)
	f.purchase(planned, 5, jan(4), entity.PurchaseOrderStatePurchase)
	_, lines := f.backorder(
		shortLine{productID: planned, qty: 8, price: 10},
		shortLine{productID: unplanned, qty: 2, price: 10},
	)

	tests := []struct {
		name    string
		lineID  int64
		qty     decimal.Decimal
		wantErr bool
	}{
		{name: "within_projection", lineID: lines[0].ID, qty: d(5)},
		{name: "fractional", lineID: lines[0].ID, qty: decimal.RequireFromString("2.5")},
		{name: "zero", lineID: lines[0].ID, qty: decimal.Zero},
		{name: "above_projection", lineID: lines[0].ID, qty: d(6), wantErr: true},
		{name: "negative", lineID: lines[0].ID, qty: d(-1), wantErr: true},
		{name: "no_projection", lineID: lines[1].ID, qty: d(1), wantErr: true},
		{name: "no_projection_zero", lineID: lines[1].ID, qty: decimal.Zero},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, _ := f.store.GetBackorderLine(f.ctx, tt.lineID)
			_, err := f.svc.SetConfirmedQuantity(f.ctx, actor.Actor{UserID: 1}, tt.lineID, tt.qty)
			after, _ := f.store.GetBackorderLine(f.ctx, tt.lineID)
			if tt.wantErr {
				if !errorbank.Is(err, errorbank.KindUnprocessableEntity) {
					t.Fatalf("Expected unprocessable error, got %v", err)
				}
				if !after.ConfirmedQuantity.Equal(before.ConfirmedQuantity) {
					t.Errorf("Expected rejected quantity not persisted, got %s", after.ConfirmedQuantity)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetConfirmedQuantity: %v", err)
			}
			if !after.ConfirmedQuantity.Equal(tt.qty) {
				t.Errorf("Expected confirmed quantity %s, got %s", tt.qty, after.ConfirmedQuantity)
			}
		})
	}
}

func TestService_SetConfirmedQuantityRefreshesView(t *testing.T) {
	f := newFixture(t)
	p := f.product(0)
	f.purchase(p, 5, jan(4), entity.PurchaseOrderStatePurchase)
	bo, lines := f.backorder(shortLine{productID: p, qty: 5, price: 10})

	if _, err := f.svc.Get(f.ctx, bo.ID); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := f.svc.SetConfirmedQuantity(f.ctx, actor.Actor{}, lines[0].ID, d(3)); err != nil {
		t.Fatalf("SetConfirmedQuantity: %v", err)
	}
	view, err := f.svc.Get(f.ctx, bo.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !view.Total.Equal(d(30)) {
		t.Errorf("Expected refreshed total 30, got %s", view.Total)
	}
}

func TestService_ConfirmGroupsByProjectedDate(t *testing.T) {
	f := newFixture(t)
	a, b, c, e := f.product(100), f.product(100), f.product(100), f.product(100)
	f.purchase(a, 5, jan(1), entity.PurchaseOrderStatePurchase)
	f.purchase(b, 5, jan(5), entity.PurchaseOrderStatePurchase)
	f.purchase(c, 5, jan(20), entity.PurchaseOrderStatePurchase)
	f.purchase(e, 5, jan(22), entity.PurchaseOrderStatePurchase)
	skipped := f.product(100)

	bo, _ := f.backorder(
		shortLine{productID: e, qty: 5, confirmed: 2, price: 10},
		shortLine{productID: a, qty: 5, confirmed: 2, price: 10},
		shortLine{productID: skipped, qty: 5, price: 10},
		shortLine{productID: c, qty: 5, confirmed: 1, price: 10},
		shortLine{productID: b, qty: 5, confirmed: 3, price: 10, discount: 20},
	)

	res, err := f.svc.Confirm(f.ctx, actor.Actor{UserID: 3, Timezone: "Europe/Madrid"}, bo.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if f.state(bo.ID) != entity.BackorderStateConfirmed {
		t.Errorf("Expected confirmed backorder, got %s", f.state(bo.ID))
	}
	if len(res.Orders) != 2 {
		t.Fatalf("Expected 2 follow-up orders, got %d", len(res.Orders))
	}

	tests := []struct {
		name      string
		products  []int64
		qtys      []int64
		requested time.Time
	}{
		{name: "early_cluster", products: []int64{a, b}, qtys: []int64{2, 3}, requested: time.Date(2025, time.January, 4, 23, 0, 0, 0, time.UTC)},
		{name: "late_cluster", products: []int64{c, e}, qtys: []int64{1, 2}, requested: time.Date(2025, time.January, 21, 23, 0, 0, 0, time.UTC)},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := f.store.GetOrder(f.ctx, res.Orders[i].Order.ID)
			if err != nil {
				t.Fatalf("GetOrder: %v", err)
			}
			if order.State != entity.OrderStateSale {
				t.Errorf("Expected sale state, got %s", order.State)
			}
			if order.BackorderOriginID == nil || *order.BackorderOriginID != bo.ID {
				t.Errorf("Expected origin link to %d, got %v", bo.ID, order.BackorderOriginID)
			}
			if order.BackorderID != nil {
				t.Errorf("Expected no backorder for a follow-up, got %d", *order.BackorderID)
			}
			if order.PartnerID != 10 || order.PaymentTermID == nil || *order.PaymentTermID != 3 {
				t.Errorf("Expected header copied from the backorder, got %+v", order)
			}
			if order.RequestedDate == nil || !order.RequestedDate.Equal(tt.requested) {
				t.Errorf("Expected requested date %s, got %v", tt.requested, order.RequestedDate)
			}

			lines, _ := f.store.OrderLines(f.ctx, order.ID)
			if len(lines) != len(tt.products) {
				t.Fatalf("Expected %d lines, got %d", len(tt.products), len(lines))
			}
			for j, line := range lines {
				if line.ProductID != tt.products[j] || !line.Quantity.Equal(d(tt.qtys[j])) {
					t.Errorf("Line %d: expected product %d qty %d, got %+v", j, tt.products[j], tt.qtys[j], line)
				}
			}
		})
	}

	firstLines, _ := f.store.OrderLines(f.ctx, res.Orders[0].Order.ID)
	if !firstLines[1].Discount.Equal(d(20)) {
		t.Errorf("Expected discount carried over, got %s", firstLines[1].Discount)
	}

	types := f.publishedTypes()
	want := []string{events.TypeOrderConfirmed, events.TypeOrderConfirmed, events.TypeBackorderConfirmed}
	if len(types) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], types[i])
		}
	}

	view, err := f.svc.Get(f.ctx, bo.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(view.GeneratedOrders) != 2 {
		t.Errorf("Expected 2 generated orders in view, got %d", len(view.GeneratedOrders))
	}
}

func TestService_ConfirmRequestedDateWestOfUTC(t *testing.T) {
	f := newFixture(t)
	p := f.product(10)
	f.purchase(p, 5, jan(22), entity.PurchaseOrderStatePurchase)
	bo, _ := f.backorder(shortLine{productID: p, qty: 5, confirmed: 5, price: 10})

	res, err := f.svc.Confirm(f.ctx, actor.Actor{Timezone: "America/Mexico_City"}, bo.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	want := time.Date(2025, time.January, 22, 6, 0, 0, 0, time.UTC)
	got := res.Orders[0].Order.RequestedDate
	if got == nil || !got.Equal(want) {
		t.Errorf("Expected requested date %s, got %v", want, got)
	}
}

func TestService_ConfirmFollowUpsNeverCreateBackorders(t *testing.T) {
	f := newFixture(t)
	short := f.product(1)
	empty := f.product(0)
	f.purchase(short, 5, jan(3), entity.PurchaseOrderStatePurchase)
	f.purchase(empty, 5, jan(30), entity.PurchaseOrderStatePurchase)
	bo, _ := f.backorder(
		shortLine{productID: short, qty: 5, confirmed: 4, price: 10},
		shortLine{productID: empty, qty: 5, confirmed: 5, price: 10},
	)

	res, err := f.svc.Confirm(f.ctx, actor.Actor{}, bo.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if len(res.Orders) != 2 {
		t.Fatalf("Expected 2 follow-up orders, got %d", len(res.Orders))
	}
	for _, r := range res.Orders {
		if r.Backorder != nil || r.Order.BackorderID != nil {
			t.Errorf("Expected no backorder from follow-up %d", r.Order.ID)
		}
	}

	shrunk, _ := f.store.OrderLines(f.ctx, res.Orders[0].Order.ID)
	if len(shrunk) != 1 || !shrunk[0].Quantity.Equal(d(1)) {
		t.Errorf("Expected follow-up line shrunk to stock, got %+v", shrunk)
	}
	if !res.Orders[0].Confirmed {
		t.Error("Expected first follow-up confirmed")
	}
	if res.Orders[1].Confirmed {
		t.Error("Expected follow-up without stock left unconfirmed")
	}
	if lines, _ := f.store.OrderLines(f.ctx, res.Orders[1].Order.ID); len(lines) != 0 {
		t.Errorf("Expected zero-quantity line dropped, got %d lines", len(lines))
	}
}

func TestService_ConfirmWithoutConfirmedQuantity(t *testing.T) {
	f := newFixture(t)
	p := f.product(10)
	f.purchase(p, 5, jan(3), entity.PurchaseOrderStatePurchase)
	bo, _ := f.backorder(shortLine{productID: p, qty: 5, price: 10})

	_, err := f.svc.Confirm(f.ctx, actor.Actor{}, bo.ID)
	if !errorbank.Is(err, errorbank.KindUnprocessableEntity) {
		t.Fatalf("Expected unprocessable error, got %v", err)
	}
	if f.state(bo.ID) != entity.BackorderStateDraft {
		t.Errorf("Expected backorder to stay draft, got %s", f.state(bo.ID))
	}
	if orders := f.generated(bo.ID); len(orders) != 0 {
		t.Errorf("Expected no follow-up orders, got %d", len(orders))
	}
}

func TestService_ConfirmRevalidatesProjection(t *testing.T) {
	f := newFixture(t)
	p := f.product(10)
	f.purchase(p, 5, jan(3), entity.PurchaseOrderStatePurchase)
	bo, _ := f.backorder(shortLine{productID: p, qty: 9, confirmed: 9, price: 10})

	_, err := f.svc.Confirm(f.ctx, actor.Actor{}, bo.ID)
	if !errorbank.Is(err, errorbank.KindUnprocessableEntity) {
		t.Fatalf("Expected unprocessable error, got %v", err)
	}
	if f.state(bo.ID) != entity.BackorderStateDraft {
		t.Errorf("Expected backorder to stay draft, got %s", f.state(bo.ID))
	}
}

func TestService_ConfirmRollsBackOnFollowUpFailure(t *testing.T) {
	f := newFixture(t)
	ok := f.product(10)
	blocked := &entity.Product{Name: "Blocked", SaleOK: false, QtyOnHand: d(10)}
	if err := f.store.CreateProduct(f.ctx, blocked); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	f.purchase(ok, 5, jan(2), entity.PurchaseOrderStatePurchase)
	f.purchase(blocked.ID, 5, jan(28), entity.PurchaseOrderStatePurchase)
	bo, _ := f.backorder(
		shortLine{productID: ok, qty: 5, confirmed: 5, price: 10},
		shortLine{productID: blocked.ID, qty: 5, confirmed: 5, price: 10},
	)

	if _, err := f.svc.Confirm(f.ctx, actor.Actor{}, bo.ID); err == nil {
		t.Fatal("Expected confirmation to fail")
	}
	if f.state(bo.ID) != entity.BackorderStateDraft {
		t.Errorf("Expected backorder to stay draft, got %s", f.state(bo.ID))
	}
	if orders := f.generated(bo.ID); len(orders) != 0 {
		t.Errorf("Expected the first follow-up rolled back, got %d orders", len(orders))
	}
	if types := f.publishedTypes(); len(types) != 0 {
		t.Errorf("Expected no events after rollback, got %v", types)
	}
}

func TestService_Cancel(t *testing.T) {
	f := newFixture(t)
	p := f.product(0)
	f.purchase(p, 5, jan(3), entity.PurchaseOrderStatePurchase)
	bo, lines := f.backorder(shortLine{productID: p, qty: 5, confirmed: 2, price: 10})

	cancelled, err := f.svc.Cancel(f.ctx, actor.Actor{UserID: 4}, bo.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.State != entity.BackorderStateCancel || f.state(bo.ID) != entity.BackorderStateCancel {
		t.Fatalf("Expected cancelled backorder, got %s", f.state(bo.ID))
	}
	if types := f.publishedTypes(); len(types) != 1 || types[0] != events.TypeBackorderCancelled {
		t.Errorf("Expected backorder.cancelled event, got %v", types)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{name: "cancel_again", call: func() error {
			_, err := f.svc.Cancel(f.ctx, actor.Actor{}, bo.ID)
			return err
		}},
		{name: "confirm", call: func() error {
			_, err := f.svc.Confirm(f.ctx, actor.Actor{}, bo.ID)
			return err
		}},
		{name: "edit_line", call: func() error {
			_, err := f.svc.SetConfirmedQuantity(f.ctx, actor.Actor{}, lines[0].ID, d(1))
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errorbank.Is(err, errorbank.KindUnprocessableEntity) {
				t.Errorf("Expected unprocessable error, got %v", err)
			}
		})
	}
}

func TestService_ManagerOnlyOperations(t *testing.T) {
	f := newFixture(t)
	p := f.product(0)
	bo, lines := f.backorder(
		shortLine{productID: p, qty: 5, price: 10},
		shortLine{productID: p, qty: 2, price: 10},
	)
	clerk := actor.Actor{UserID: 21}
	manager := actor.Actor{UserID: 22}
	f.grantManager(manager.UserID)

	if _, err := f.svc.SetUnitPrice(f.ctx, clerk, lines[0].ID, d(12)); !errorbank.Is(err, errorbank.KindForbidden) {
		t.Errorf("Expected forbidden price change, got %v", err)
	}
	if err := f.svc.DeleteLine(f.ctx, clerk, lines[0].ID); !errorbank.Is(err, errorbank.KindForbidden) {
		t.Errorf("Expected forbidden line deletion, got %v", err)
	}
	if err := f.svc.Delete(f.ctx, clerk, bo.ID); !errorbank.Is(err, errorbank.KindForbidden) {
		t.Errorf("Expected forbidden deletion, got %v", err)
	}
	if stored, _ := f.store.GetBackorderLine(f.ctx, lines[0].ID); !stored.PriceUnit.Equal(d(10)) {
		t.Errorf("Expected price untouched, got %s", stored.PriceUnit)
	}

	if _, err := f.svc.SetUnitPrice(f.ctx, manager, lines[0].ID, d(12)); err != nil {
		t.Fatalf("SetUnitPrice: %v", err)
	}
	if stored, _ := f.store.GetBackorderLine(f.ctx, lines[0].ID); !stored.PriceUnit.Equal(d(12)) {
		t.Errorf("Expected price 12, got %s", stored.PriceUnit)
	}
	if _, err := f.svc.SetUnitPrice(f.ctx, manager, lines[0].ID, d(-1)); !errorbank.Is(err, errorbank.KindUnprocessableEntity) {
		t.Errorf("Expected negative price rejected, got %v", err)
	}

	if err := f.svc.DeleteLine(f.ctx, manager, lines[1].ID); err != nil {
		t.Fatalf("DeleteLine: %v", err)
	}
	if _, err := f.store.GetBackorderLine(f.ctx, lines[1].ID); !errors.Is(err, sales.ErrNotFound) {
		t.Errorf("Expected line deleted, got %v", err)
	}
}

func TestService_ManagerEditsRequireDraft(t *testing.T) {
	f := newFixture(t)
	p := f.product(0)
	bo, lines := f.backorder(shortLine{productID: p, qty: 5, price: 10})
	manager := actor.Actor{UserID: 22}
	f.grantManager(manager.UserID)
	if _, err := f.svc.Cancel(f.ctx, manager, bo.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if _, err := f.svc.SetUnitPrice(f.ctx, manager, lines[0].ID, d(12)); !errorbank.Is(err, errorbank.KindUnprocessableEntity) {
		t.Errorf("Expected read-only price, got %v", err)
	}
	if err := f.svc.DeleteLine(f.ctx, manager, lines[0].ID); !errorbank.Is(err, errorbank.KindUnprocessableEntity) {
		t.Errorf("Expected read-only lines, got %v", err)
	}
}

func TestService_DeleteDetachesOrders(t *testing.T) {
	f := newFixture(t)
	p := f.product(10)
	f.purchase(p, 5, jan(3), entity.PurchaseOrderStatePurchase)
	bo, lines := f.backorder(shortLine{productID: p, qty: 5, confirmed: 5, price: 10})

	res, err := f.svc.Confirm(f.ctx, actor.Actor{}, bo.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	followUpID := res.Orders[0].Order.ID

	manager := actor.Actor{UserID: 22}
	f.grantManager(manager.UserID)
	if err := f.svc.Delete(f.ctx, manager, bo.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := f.store.GetBackorder(f.ctx, bo.ID); !errors.Is(err, sales.ErrNotFound) {
		t.Errorf("Expected backorder deleted, got %v", err)
	}
	if _, err := f.store.GetBackorderLine(f.ctx, lines[0].ID); !errors.Is(err, sales.ErrNotFound) {
		t.Errorf("Expected lines deleted with the backorder, got %v", err)
	}
	origin, _ := f.store.GetOrder(f.ctx, bo.OriginOrderID)
	if origin.BackorderID != nil {
		t.Errorf("Expected origin link cleared, got %d", *origin.BackorderID)
	}
	followUp, _ := f.store.GetOrder(f.ctx, followUpID)
	if followUp.BackorderOriginID != nil {
		t.Errorf("Expected follow-up link cleared, got %d", *followUp.BackorderOriginID)
	}
}

func TestService_OrderConfirmationThroughBackorder(t *testing.T) {
	f := newFixture(t)
	p := f.product(2)
	order := &entity.Order{PartnerID: 10, CompanyID: 1, PricelistID: 2, CurrencyID: 5, InvoiceAddressID: 11, ShippingAddressID: 12}
	if err := f.orders.Create(f.ctx, order, []*entity.OrderLine{{ProductID: p, Quantity: d(5), PriceUnit: d(10)}}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	planned := time.Now().UTC().AddDate(0, 0, 3)
	f.purchase(p, 10, planned, entity.PurchaseOrderStatePurchase)

	confirmed, err := f.orders.Confirm(f.ctx, actor.Actor{}, order.ID, ordersvc.ConfirmOptions{})
	if err != nil {
		t.Fatalf("Confirm order: %v", err)
	}
	if confirmed.Backorder == nil || len(confirmed.BackorderLines) != 1 {
		t.Fatalf("Expected a backorder with one line, got %+v", confirmed)
	}

	if _, err := f.svc.SetConfirmedQuantity(f.ctx, actor.Actor{}, confirmed.BackorderLines[0].ID, d(3)); err != nil {
		t.Fatalf("SetConfirmedQuantity: %v", err)
	}
	f.store.SetStock(p, d(50), decimal.Zero)

	res, err := f.svc.Confirm(f.ctx, actor.Actor{}, confirmed.Backorder.ID)
	if err != nil {
		t.Fatalf("Confirm backorder: %v", err)
	}
	if len(res.Orders) != 1 {
		t.Fatalf("Expected one follow-up, got %d", len(res.Orders))
	}
	lines, _ := f.store.OrderLines(f.ctx, res.Orders[0].Order.ID)
	if len(lines) != 1 || !lines[0].Quantity.Equal(d(3)) {
		t.Errorf("Expected follow-up for 3 units, got %+v", lines)
	}
}

func ptr(t time.Time) *time.Time { return &t }

func TestService_TotalIsSumOfSubtotals(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(7))
	products := []int64{f.product(0), f.product(2), f.product(5)}
	f.purchase(products[0], 40, jan(3), entity.PurchaseOrderStatePurchase)
	f.purchase(products[2], 40, jan(12), entity.PurchaseOrderStatePurchase)

	for round := 0; round < 40; round++ {
		bo, _ := f.backorder()
		var want decimal.Decimal
		for i, n := 0, 1+rng.Intn(5); i < n; i++ {
			priceCents := rng.Int63n(10000)
			discount := rng.Int63n(101)
			confirmed := rng.Int63n(9)
			line := &entity.BackorderLine{
				BackorderID:       bo.ID,
				ProductID:         products[rng.Intn(len(products))],
				Quantity:          d(confirmed + rng.Int63n(5)),
				ConfirmedQuantity: d(confirmed),
				PriceUnit:         decimal.New(priceCents, -2),
				Discount:          d(discount),
			}
			if err := f.store.CreateBackorderLine(f.ctx, line); err != nil {
				t.Fatalf("CreateBackorderLine: %v", err)
			}
			// cents * (100 - discount) * confirmed, scaled by 10^-4.
			want = want.Add(decimal.New(priceCents*(100-discount)*confirmed, -4))
		}

		view, err := f.svc.Get(f.ctx, bo.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		sum := decimal.Zero
		for _, lv := range view.Lines {
			if lv.Subtotal.IsNegative() {
				t.Fatalf("round %d: expected non-negative subtotal, got %s", round, lv.Subtotal)
			}
			sum = sum.Add(lv.Subtotal)
		}
		if !view.Total.Equal(sum) {
			t.Fatalf("round %d: expected total %s to equal the sum of subtotals %s", round, view.Total, sum)
		}
		if !view.Total.Equal(want) {
			t.Fatalf("round %d: expected total %s, got %s", round, want, view.Total)
		}
	}
}

func TestService_UpdateLineAppliesAllOrNothing(t *testing.T) {
	f := newFixture(t)
	p := f.product(0)
	f.purchase(p, 6, jan(4), entity.PurchaseOrderStatePurchase)
	_, lines := f.backorder(shortLine{productID: p, qty: 8, price: 15})
	f.grantManager(1)
	manager := actor.Actor{UserID: 1}
	price, tooMany, enough := d(99), d(7), d(6)

	_, err := f.svc.UpdateLine(f.ctx, manager, lines[0].ID, LineUpdate{PriceUnit: &price, ConfirmedQuantity: &tooMany})
	if !errorbank.Is(err, errorbank.KindUnprocessableEntity) {
		t.Fatalf("Expected unprocessable error, got %v", err)
	}
	stored, _ := f.store.GetBackorderLine(f.ctx, lines[0].ID)
	if !stored.PriceUnit.Equal(d(15)) || !stored.ConfirmedQuantity.IsZero() {
		t.Errorf("Expected price 15 and quantity 0 kept, got %s and %s", stored.PriceUnit, stored.ConfirmedQuantity)
	}

	_, err = f.svc.UpdateLine(f.ctx, actor.Actor{UserID: 2}, lines[0].ID, LineUpdate{PriceUnit: &price, ConfirmedQuantity: &enough})
	if !errorbank.Is(err, errorbank.KindForbidden) {
		t.Fatalf("Expected forbidden error, got %v", err)
	}
	stored, _ = f.store.GetBackorderLine(f.ctx, lines[0].ID)
	if !stored.ConfirmedQuantity.IsZero() {
		t.Errorf("Expected quantity untouched after a forbidden update, got %s", stored.ConfirmedQuantity)
	}

	if _, err := f.svc.UpdateLine(f.ctx, manager, lines[0].ID, LineUpdate{}); !errorbank.Is(err, errorbank.KindBadRequest) {
		t.Errorf("Expected bad request for an empty update, got %v", err)
	}

	line, err := f.svc.UpdateLine(f.ctx, manager, lines[0].ID, LineUpdate{PriceUnit: &price, ConfirmedQuantity: &enough})
	if err != nil {
		t.Fatalf("UpdateLine: %v", err)
	}
	if !line.PriceUnit.Equal(price) || !line.ConfirmedQuantity.Equal(enough) {
		t.Errorf("Expected price 99 and quantity 6, got %s and %s", line.PriceUnit, line.ConfirmedQuantity)
	}
}
