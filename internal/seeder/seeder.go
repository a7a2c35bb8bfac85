package seeder

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Additional-Code/fulfillment/internal/config"
	"github.com/Additional-Code/fulfillment/internal/entity"
	"github.com/Additional-Code/fulfillment/internal/repository/sales"
)

//go:embed fixtures/default.yaml
var defaultFixture []byte

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// Fixture is the seed data set. Quantities and percentages are decimal
// strings; purchase lines are planned relative to the seeding time.
type Fixture struct {
	Currencies   []CurrencySeed   `yaml:"currencies"`
	Taxes        []TaxSeed        `yaml:"taxes"`
	Products     []ProductSeed    `yaml:"products"`
	Purchases    []PurchaseSeed   `yaml:"purchases"`
	Capabilities []CapabilitySeed `yaml:"capabilities"`
}

type CurrencySeed struct {
	Code     string `yaml:"code"`
	Decimals int32  `yaml:"decimals"`
}

type TaxSeed struct {
	Name         string `yaml:"name"`
	Percent      string `yaml:"percent"`
	PriceInclude bool   `yaml:"price_include"`
	Group        string `yaml:"group"`
	Sequence     int    `yaml:"sequence"`
}

type ProductSeed struct {
	Name     string `yaml:"name"`
	SaleOK   bool   `yaml:"sale_ok"`
	OnHand   string `yaml:"on_hand"`
	Outgoing string `yaml:"outgoing"`
}

type PurchaseSeed struct {
	Number string             `yaml:"number"`
	State  string             `yaml:"state"`
	Lines  []PurchaseLineSeed `yaml:"lines"`
}

type PurchaseLineSeed struct {
	Product       string `yaml:"product"`
	Quantity      string `yaml:"quantity"`
	PlannedInDays int    `yaml:"planned_in_days"`
}

type CapabilitySeed struct {
	UserID     int64  `yaml:"user_id"`
	Capability string `yaml:"capability"`
}

// Summary counts the rows a seeding run created.
type Summary struct {
	Currencies    int
	Taxes         int
	Products      int
	PurchaseLines int
	Capabilities  int
	// ProductIDs maps seeded product names to their generated ids.
	ProductIDs map[string]int64
}

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	store  sales.Store
	file   string
	logger *zap.Logger
	now    func() time.Time
}

// New constructs a Seeder writing through the sales store.
func New(store sales.Store, cfg config.Config, logger *zap.Logger) *Seeder {
	return &Seeder{
		store:  store,
		file:   cfg.Fulfillment.SeedFile,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Load reads the fixture at path, or the embedded default when path is empty.
func Load(path string) (*Fixture, error) {
	data := defaultFixture
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read seed file: %w", err)
		}
		data = raw
	}
	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return &fixture, nil
}

// Run loads the configured fixture and applies it in one transaction.
func (s *Seeder) Run(ctx context.Context) (Summary, error) {
	fixture, err := Load(s.file)
	if err != nil {
		return Summary{}, err
	}
	return s.Apply(ctx, fixture)
}

// Apply writes the fixture. Capabilities are granted idempotently; every
// other row is inserted.
func (s *Seeder) Apply(ctx context.Context, fixture *Fixture) (Summary, error) {
	var summary Summary
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx sales.Store) error {
		summary = Summary{}
		return s.apply(ctx, tx, fixture, &summary)
	})
	if err != nil {
		return Summary{}, err
	}

	if s.logger != nil {
		s.logger.Info("seeded fulfillment data",
			zap.Int("currencies", summary.Currencies),
			zap.Int("taxes", summary.Taxes),
			zap.Int("products", summary.Products),
			zap.Int("purchase_lines", summary.PurchaseLines),
			zap.Int("capabilities", summary.Capabilities),
		)
	}
	return summary, nil
}

func (s *Seeder) apply(ctx context.Context, tx sales.Store, fixture *Fixture, summary *Summary) error {
	for _, seed := range fixture.Currencies {
		if err := tx.CreateCurrency(ctx, &entity.Currency{Code: seed.Code, Decimals: seed.Decimals}); err != nil {
			return fmt.Errorf("currency %s: %w", seed.Code, err)
		}
		summary.Currencies++
	}

	for _, seed := range fixture.Taxes {
		percent, err := parseDecimal(seed.Percent)
		if err != nil {
			return fmt.Errorf("tax %s: %w", seed.Name, err)
		}
		tax := &entity.Tax{
			Name:          seed.Name,
			Percent:       percent,
			PriceInclude:  seed.PriceInclude,
			GroupName:     seed.Group,
			GroupSequence: seed.Sequence,
		}
		if err := tx.CreateTax(ctx, tax); err != nil {
			return fmt.Errorf("tax %s: %w", seed.Name, err)
		}
		summary.Taxes++
	}

	products := make(map[string]int64, len(fixture.Products))
	summary.ProductIDs = products
	for _, seed := range fixture.Products {
		onHand, err := parseDecimal(seed.OnHand)
		if err != nil {
			return fmt.Errorf("product %s: %w", seed.Name, err)
		}
		outgoing, err := parseDecimal(seed.Outgoing)
		if err != nil {
			return fmt.Errorf("product %s: %w", seed.Name, err)
		}
		product := &entity.Product{Name: seed.Name, SaleOK: seed.SaleOK, QtyOnHand: onHand, OutgoingQty: outgoing}
		if err := tx.CreateProduct(ctx, product); err != nil {
			return fmt.Errorf("product %s: %w", seed.Name, err)
		}
		products[seed.Name] = product.ID
		summary.Products++
	}

	today := s.now()
	for _, seed := range fixture.Purchases {
		state := entity.PurchaseOrderState(seed.State)
		if state == "" {
			state = entity.PurchaseOrderStatePurchase
		}
		po := &entity.PurchaseOrder{Number: seed.Number, State: state}
		if err := tx.CreatePurchaseOrder(ctx, po); err != nil {
			return fmt.Errorf("purchase %s: %w", seed.Number, err)
		}
		for _, ls := range seed.Lines {
			productID, ok := products[ls.Product]
			if !ok {
				return fmt.Errorf("purchase %s: unknown product %q", seed.Number, ls.Product)
			}
			qty, err := parseDecimal(ls.Quantity)
			if err != nil {
				return fmt.Errorf("purchase %s: %w", seed.Number, err)
			}
			line := &entity.PurchaseOrderLine{
				OrderID:     po.ID,
				ProductID:   productID,
				ProductQty:  qty,
				DatePlanned: today.AddDate(0, 0, ls.PlannedInDays).Truncate(time.Second),
			}
			if err := tx.CreatePurchaseOrderLine(ctx, line); err != nil {
				return fmt.Errorf("purchase %s: %w", seed.Number, err)
			}
			summary.PurchaseLines++
		}
	}

	for _, seed := range fixture.Capabilities {
		if err := tx.GrantCapability(ctx, seed.UserID, seed.Capability); err != nil {
			return fmt.Errorf("capability %s: %w", seed.Capability, err)
		}
		summary.Capabilities++
	}
	return nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
