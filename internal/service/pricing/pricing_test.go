package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/fulfillment/internal/entity"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCurrencyRounder(t *testing.T) {
	tests := []struct {
		name     string
		currency *entity.Currency
		amount   string
		want     string
	}{
		{"cents", &entity.Currency{Decimals: 2}, "10.125", "10.13"},
		{"negative away from zero", &entity.Currency{Decimals: 2}, "-10.125", "-10.13"},
		{"no decimals", &entity.Currency{Decimals: 0}, "99.5", "100"},
		{"nil currency defaults to cents", nil, "1.005", "1.01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CurrencyRounder{}.Round(tt.currency, dec(tt.amount))
			if !got.Equal(dec(tt.want)) {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestPercentEngine_ComputeAll(t *testing.T) {
	eur := &entity.Currency{Code: "EUR", Decimals: 2}
	vat := &entity.Tax{ID: 1, Name: "VAT 21%", Percent: dec("21"), GroupName: "VAT", GroupSequence: 1}
	vatIncluded := &entity.Tax{ID: 2, Name: "VAT 21% incl.", Percent: dec("21"), PriceInclude: true, GroupName: "VAT", GroupSequence: 1}
	surcharge := &entity.Tax{ID: 3, Name: "RE 5.2%", Percent: dec("5.2"), GroupName: "RE", GroupSequence: 2}

	tests := []struct {
		name          string
		taxes         []*entity.Tax
		price, qty    string
		wantExcluded  string
		wantIncluded  string
		wantTaxAmount []string
	}{
		{"no taxes", nil, "10", "3", "30", "30", nil},
		{"excluded tax", []*entity.Tax{vat}, "10", "3", "30", "36.3", []string{"6.3"}},
		{"included tax", []*entity.Tax{vatIncluded}, "121", "1", "100", "121", []string{"21"}},
		{"two excluded taxes", []*entity.Tax{vat, surcharge}, "100", "1", "100", "126.2", []string{"21", "5.2"}},
	}

	engine := PercentEngine{Rounder: CurrencyRounder{}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := engine.ComputeAll(tt.taxes, dec(tt.price), eur, dec(tt.qty), 1, 1)
			if !res.TotalExcluded.Equal(dec(tt.wantExcluded)) {
				t.Errorf("Expected excluded %s, got %s", tt.wantExcluded, res.TotalExcluded)
			}
			if !res.TotalIncluded.Equal(dec(tt.wantIncluded)) {
				t.Errorf("Expected included %s, got %s", tt.wantIncluded, res.TotalIncluded)
			}
			if len(res.Taxes) != len(tt.wantTaxAmount) {
				t.Fatalf("Expected %d tax amounts, got %d", len(tt.wantTaxAmount), len(res.Taxes))
			}
			for i, want := range tt.wantTaxAmount {
				if !res.Taxes[i].Amount.Equal(dec(want)) {
					t.Errorf("Tax %d: expected %s, got %s", i, want, res.Taxes[i].Amount)
				}
			}
		})
	}
}

func TestCalculator_LineOnAvailableQuantity(t *testing.T) {
	calc := NewCalculator(PercentEngine{Rounder: CurrencyRounder{}}, CurrencyRounder{})
	vat := &entity.Tax{ID: 1, Name: "VAT", Percent: dec("10"), GroupName: "VAT"}

	line := LineInput{
		ProductID:     1,
		Quantity:      dec("10"),
		PriceUnit:     dec("20"),
		Discount:      dec("50"),
		PurchasePrice: dec("4"),
		Taxes:         []*entity.Tax{vat},
	}

	got := calc.Line(line, dec("3"), nil, 1)
	if !got.Subtotal.Equal(dec("30")) {
		t.Errorf("Expected subtotal 30, got %s", got.Subtotal)
	}
	if !got.Tax.Equal(dec("3")) {
		t.Errorf("Expected tax 3, got %s", got.Tax)
	}
	if !got.Total.Equal(dec("33")) {
		t.Errorf("Expected total 33, got %s", got.Total)
	}
	if !got.Margin.Equal(dec("18")) {
		t.Errorf("Expected margin 18, got %s", got.Margin)
	}
}

func TestCalculator_Order(t *testing.T) {
	calc := NewCalculator(PercentEngine{Rounder: CurrencyRounder{}}, CurrencyRounder{})
	vat := &entity.Tax{ID: 1, Name: "VAT", Percent: dec("20"), GroupName: "VAT", GroupSequence: 2}
	eco := &entity.Tax{ID: 2, Name: "Eco", Percent: dec("1"), GroupName: "Eco", GroupSequence: 1}

	lines := []LineInput{
		{ProductID: 1, Quantity: dec("4"), PriceUnit: dec("10"), PurchasePrice: dec("5"), Taxes: []*entity.Tax{vat}},
		{ProductID: 2, Quantity: dec("2"), PriceUnit: dec("50"), PurchasePrice: dec("30"), Taxes: []*entity.Tax{vat, eco}},
	}
	available := []decimal.Decimal{dec("2"), dec("0")}

	got := calc.Order(lines, available, nil, 1)

	if !got.Untaxed.Equal(dec("140")) {
		t.Errorf("Expected untaxed 140, got %s", got.Untaxed)
	}
	if !got.Tax.Equal(dec("29")) {
		t.Errorf("Expected tax 29, got %s", got.Tax)
	}
	if !got.Total.Equal(dec("169")) {
		t.Errorf("Expected total 169, got %s", got.Total)
	}
	if !got.Margin.Equal(dec("60")) {
		t.Errorf("Expected margin 60, got %s", got.Margin)
	}
	if !got.MarginPercent.Equal(dec("42.86")) {
		t.Errorf("Expected margin percent 42.86, got %s", got.MarginPercent)
	}

	if !got.UntaxedDisplay.Equal(dec("20")) || !got.TaxDisplay.Equal(dec("4")) || !got.TotalDisplay.Equal(dec("24")) {
		t.Errorf("Unexpected display totals %s/%s/%s", got.UntaxedDisplay, got.TaxDisplay, got.TotalDisplay)
	}
	if !got.MarginPercentDisplay.Equal(dec("50")) {
		t.Errorf("Expected display margin percent 50, got %s", got.MarginPercentDisplay)
	}

	if len(got.TaxGroupsDisplay) != 2 {
		t.Fatalf("Expected 2 tax groups, got %d", len(got.TaxGroupsDisplay))
	}
	if got.TaxGroupsDisplay[0].Group != "Eco" || got.TaxGroupsDisplay[1].Group != "VAT" {
		t.Errorf("Expected groups sorted by sequence, got %+v", got.TaxGroupsDisplay)
	}
	if !got.TaxGroupsDisplay[1].Amount.Equal(dec("4")) {
		t.Errorf("Expected VAT display amount 4, got %s", got.TaxGroupsDisplay[1].Amount)
	}
}

func TestMarginPercent(t *testing.T) {
	if got := MarginPercent(dec("10"), decimal.Zero); !got.IsZero() {
		t.Errorf("Expected zero for zero untaxed, got %s", got)
	}
	if got := MarginPercent(dec("10"), dec("-5")); !got.IsZero() {
		t.Errorf("Expected zero for negative untaxed, got %s", got)
	}
	if got := MarginPercent(dec("25"), dec("100")); !got.Equal(dec("25")) {
		t.Errorf("Expected 25, got %s", got)
	}
}
