package backorder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Additional-Code/fulfillment/internal/cache"
	"github.com/Additional-Code/fulfillment/internal/config"
	"github.com/Additional-Code/fulfillment/internal/dto"
	"github.com/Additional-Code/fulfillment/internal/entity"
	"github.com/Additional-Code/fulfillment/internal/events"
	"github.com/Additional-Code/fulfillment/internal/messaging"
	"github.com/Additional-Code/fulfillment/internal/repository/memory"
	"github.com/Additional-Code/fulfillment/internal/service/access"
	"github.com/Additional-Code/fulfillment/internal/service/availability"
	service "github.com/Additional-Code/fulfillment/internal/service/backorder"
	ordersvc "github.com/Additional-Code/fulfillment/internal/service/order"
	"github.com/Additional-Code/fulfillment/internal/service/pricing"
	"github.com/Additional-Code/fulfillment/internal/transport/http/request"
)

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
	Error   struct {
		Kind string `json:"kind"`
	} `json:"error"`
}

type fixture struct {
	e        *echo.Echo
	store    *memory.Store
	backID   int64
	lineID   int64
	manager  map[string]string
	customer map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	cfg := config.Config{}
	cfg.Cache.DefaultTTL = time.Minute
	cfg.Fulfillment.DefaultTimezone = "UTC"
	cfg.Fulfillment.ManagerCapability = "sales_manager"
	cfg.Fulfillment.CapabilityTTL = time.Minute

	memCache := cache.NewMemoryStore(time.Minute)
	publisher := events.NewPublisher(messaging.NewMemoryClient("fulfillment.events", 16), cfg, zap.NewNop())
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
	svc := service.NewService(service.Params{
		Store:     store,
		Resolver:  resolver,
		Orders:    orders,
		Checker:   access.NewStoreChecker(access.Params{Store: store, Cache: memCache, Config: cfg, Logger: zap.NewNop()}),
		Cache:     memCache,
		Config:    cfg,
		Logger:    zap.NewNop(),
		Publisher: publisher,
	})

	product := &entity.Product{Name: "Chair", SaleOK: true, QtyOnHand: decimal.NewFromInt(50)}
	if err := store.CreateProduct(ctx, product); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	po := &entity.PurchaseOrder{State: entity.PurchaseOrderStatePurchase}
	if err := store.CreatePurchaseOrder(ctx, po); err != nil {
		t.Fatalf("CreatePurchaseOrder: %v", err)
	}
	planned := time.Date(2025, time.February, 10, 9, 0, 0, 0, time.UTC)
	if err := store.CreatePurchaseOrderLine(ctx, &entity.PurchaseOrderLine{OrderID: po.ID, ProductID: product.ID, ProductQty: decimal.NewFromInt(6), DatePlanned: planned}); err != nil {
		t.Fatalf("CreatePurchaseOrderLine: %v", err)
	}
	bo := &entity.Backorder{PartnerID: 10, CurrencyID: 5, Date: time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC), State: entity.BackorderStateDraft}
	if err := store.CreateBackorder(ctx, bo); err != nil {
		t.Fatalf("CreateBackorder: %v", err)
	}
	line := &entity.BackorderLine{BackorderID: bo.ID, ProductID: product.ID, Quantity: decimal.NewFromInt(8), PriceUnit: decimal.NewFromInt(15)}
	if err := store.CreateBackorderLine(ctx, line); err != nil {
		t.Fatalf("CreateBackorderLine: %v", err)
	}
	if err := store.GrantCapability(ctx, 1, cfg.Fulfillment.ManagerCapability); err != nil {
		t.Fatalf("GrantCapability: %v", err)
	}

	e := echo.New()
	Register(e, NewHandler(svc))
	return &fixture{
		e:        e,
		store:    store,
		backID:   bo.ID,
		lineID:   line.ID,
		manager:  map[string]string{request.HeaderUserID: "1", request.HeaderTimezone: "Europe/Madrid"},
		customer: map[string]string{request.HeaderUserID: "2"},
	}
}

func (f *fixture) path(format string) string {
	s := strings.ReplaceAll(format, "{id}", strconv.FormatInt(f.backID, 10))
	return strings.ReplaceAll(s, "{line}", strconv.FormatInt(f.lineID, 10))
}

func call[T any](t *testing.T, f *fixture, method, path, body string, headers map[string]string) (int, envelope[T]) {
	t.Helper()
	req := httptest.NewRequest(method, f.path(path), strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var out envelope[T]
	if rec.Code == http.StatusNoContent {
		return rec.Code, out
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
	}
	return rec.Code, out
}

func TestHandler_GetBackorder(t *testing.T) {
	f := newFixture(t)

	status, out := call[dto.BackorderResponse](t, f, http.MethodGet, "/backorders/{id}", "", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if len(out.Data.Lines) != 1 {
		t.Fatalf("Expected one line, got %d", len(out.Data.Lines))
	}
	line := out.Data.Lines[0]
	if !line.ProjectedQuantity.Equal(decimal.NewFromInt(6)) {
		t.Errorf("Expected projected 6, got %s", line.ProjectedQuantity)
	}
	wantDate := time.Date(2025, time.February, 10, 0, 0, 0, 0, time.UTC)
	if line.ProjectedDate == nil || !line.ProjectedDate.Equal(wantDate) {
		t.Errorf("Expected projected date %s, got %v", wantDate, line.ProjectedDate)
	}
	if out.Data.ExpectedDate != nil {
		t.Errorf("Expected no expected date before confirming quantities, got %s", out.Data.ExpectedDate)
	}
}

func TestHandler_ConfirmFlow(t *testing.T) {
	f := newFixture(t)

	status, _ := call[json.RawMessage](t, f, http.MethodPatch, "/backorders/lines/{line}", `{"confirmed_quantity":"7"}`, f.customer)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422 above projection, got %d", status)
	}

	status, line := call[dto.BackorderLineResponse](t, f, http.MethodPatch, "/backorders/lines/{line}", `{"confirmed_quantity":"6"}`, f.customer)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if !line.Data.Subtotal.Equal(decimal.NewFromInt(90)) {
		t.Errorf("Expected subtotal 90, got %s", line.Data.Subtotal)
	}

	status, confirmed := call[dto.ConfirmBackorderResponse](t, f, http.MethodPost, "/backorders/{id}/confirm", "", f.manager)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if confirmed.Data.State != string(entity.BackorderStateConfirmed) || len(confirmed.Data.Orders) != 1 {
		t.Fatalf("Unexpected confirmation %+v", confirmed.Data)
	}
	want := time.Date(2025, time.February, 9, 23, 0, 0, 0, time.UTC)
	if got := confirmed.Data.Orders[0].RequestedDate; got == nil || !got.Equal(want) {
		t.Errorf("Expected requested date %s, got %v", want, got)
	}

	status, _ = call[json.RawMessage](t, f, http.MethodPost, "/backorders/{id}/cancel", "", f.manager)
	if status != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 cancelling a confirmed backorder, got %d", status)
	}
}

func TestHandler_ManagerRoutes(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		headers map[string]string
		status  int
	}{
		{name: "price_forbidden", method: http.MethodPatch, path: "/backorders/lines/{line}", body: `{"price_unit":"20"}`, headers: f.customer, status: http.StatusForbidden},
		{name: "empty_patch", method: http.MethodPatch, path: "/backorders/lines/{line}", body: `{}`, headers: f.manager, status: http.StatusBadRequest},
		{name: "price_allowed", method: http.MethodPatch, path: "/backorders/lines/{line}", body: `{"price_unit":"20"}`, headers: f.manager, status: http.StatusOK},
		{name: "delete_line_forbidden", method: http.MethodDelete, path: "/backorders/lines/{line}", headers: f.customer, status: http.StatusForbidden},
		{name: "delete_forbidden", method: http.MethodDelete, path: "/backorders/{id}", headers: f.customer, status: http.StatusForbidden},
		{name: "delete_line", method: http.MethodDelete, path: "/backorders/lines/{line}", headers: f.manager, status: http.StatusNoContent},
		{name: "delete", method: http.MethodDelete, path: "/backorders/{id}", headers: f.manager, status: http.StatusNoContent},
		{name: "gone", method: http.MethodGet, path: "/backorders/{id}", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := call[json.RawMessage](t, f, tt.method, tt.path, tt.body, tt.headers)
			if status != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, status)
			}
		})
	}
}

func TestHandler_UpdateLineIsAtomic(t *testing.T) {
	f := newFixture(t)

	status, out := call[json.RawMessage](t, f, http.MethodPatch, "/backorders/lines/{line}", `{"price_unit":"99","confirmed_quantity":"7"}`, f.manager)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422 above projection, got %d", status)
	}
	if out.Error.Kind != "unprocessable_entity" {
		t.Errorf("Expected unprocessable_entity, got %q", out.Error.Kind)
	}
	stored, err := f.store.GetBackorderLine(context.Background(), f.lineID)
	if err != nil {
		t.Fatalf("GetBackorderLine: %v", err)
	}
	if !stored.PriceUnit.Equal(decimal.NewFromInt(15)) || !stored.ConfirmedQuantity.IsZero() {
		t.Errorf("Expected price 15 and quantity 0 kept, got %s and %s", stored.PriceUnit, stored.ConfirmedQuantity)
	}

	status, line := call[dto.BackorderLineResponse](t, f, http.MethodPatch, "/backorders/lines/{line}", `{"price_unit":"20","confirmed_quantity":"6"}`, f.manager)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if !line.Data.PriceUnit.Equal(decimal.NewFromInt(20)) || !line.Data.Subtotal.Equal(decimal.NewFromInt(120)) {
		t.Errorf("Expected price 20 and subtotal 120, got %s and %s", line.Data.PriceUnit, line.Data.Subtotal)
	}

	status, _ = call[json.RawMessage](t, f, http.MethodPatch, "/backorders/lines/{line}", `{"price_unit":"30","confirmed_quantity":"1"}`, f.customer)
	if status != http.StatusForbidden {
		t.Fatalf("Expected 403 for a price change without the capability, got %d", status)
	}
	stored, _ = f.store.GetBackorderLine(context.Background(), f.lineID)
	if !stored.ConfirmedQuantity.Equal(decimal.NewFromInt(6)) {
		t.Errorf("Expected quantity 6 kept after a forbidden update, got %s", stored.ConfirmedQuantity)
	}
}
