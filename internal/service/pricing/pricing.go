// Package pricing computes taxes, currency rounding and the display amounts
// of orders and backorders.
package pricing

import (
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"

	"github.com/Additional-Code/fulfillment/internal/entity"
)

const defaultDecimals = 2

var hundred = decimal.NewFromInt(100)

// Module provides the default tax engine, rounder and calculator.
var Module = fx.Provide(
	func() Rounder { return CurrencyRounder{} },
	func(r Rounder) TaxEngine { return PercentEngine{Rounder: r} },
	NewCalculator,
)

// Rounder rounds monetary amounts to a currency's precision.
type Rounder interface {
	Round(currency *entity.Currency, amount decimal.Decimal) decimal.Decimal
}

// CurrencyRounder rounds half away from zero to the currency's decimals.
// A nil currency rounds to cents.
type CurrencyRounder struct{}

func (CurrencyRounder) Round(currency *entity.Currency, amount decimal.Decimal) decimal.Decimal {
	places := int32(defaultDecimals)
	if currency != nil && currency.Decimals >= 0 {
		places = currency.Decimals
	}
	return amount.Round(places)
}

// TaxAmount is the share of one tax in a computation.
type TaxAmount struct {
	TaxID         int64           `json:"tax_id"`
	Name          string          `json:"name"`
	Group         string          `json:"group"`
	GroupSequence int             `json:"group_sequence"`
	Base          decimal.Decimal `json:"base"`
	Amount        decimal.Decimal `json:"amount"`
}

// TaxResult is the breakdown returned by a TaxEngine.
type TaxResult struct {
	TotalExcluded decimal.Decimal `json:"total_excluded"`
	TotalIncluded decimal.Decimal `json:"total_included"`
	Taxes         []TaxAmount     `json:"taxes"`
}

// TaxEngine turns a unit price and quantity into a tax breakdown.
type TaxEngine interface {
	ComputeAll(taxes []*entity.Tax, unitPrice decimal.Decimal, currency *entity.Currency, quantity decimal.Decimal, productID, partnerID int64) TaxResult
}

// PercentEngine applies percentage taxes. Price-included taxes are first
// extracted from the unit price, then every tax is charged on the
// resulting base. Each tax amount is rounded on its own.
type PercentEngine struct {
	Rounder Rounder
}

func (e PercentEngine) ComputeAll(taxes []*entity.Tax, unitPrice decimal.Decimal, currency *entity.Currency, quantity decimal.Decimal, _, _ int64) TaxResult {
	rounder := e.Rounder
	if rounder == nil {
		rounder = CurrencyRounder{}
	}

	gross := unitPrice.Mul(quantity)
	included := decimal.Zero
	for _, tax := range taxes {
		if tax.PriceInclude {
			included = included.Add(tax.Percent)
		}
	}
	base := gross
	if !included.IsZero() {
		base = gross.Div(decimal.NewFromInt(1).Add(included.Div(hundred)))
	}
	base = rounder.Round(currency, base)

	result := TaxResult{TotalExcluded: base, TotalIncluded: base}
	for _, tax := range taxes {
		amount := rounder.Round(currency, base.Mul(tax.Percent).Div(hundred))
		result.Taxes = append(result.Taxes, TaxAmount{
			TaxID:         tax.ID,
			Name:          tax.Name,
			Group:         tax.GroupName,
			GroupSequence: tax.GroupSequence,
			Base:          base,
			Amount:        amount,
		})
		result.TotalIncluded = result.TotalIncluded.Add(amount)
	}
	return result
}

// LineAmounts are the computed money figures of one line at one quantity.
type LineAmounts struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
	Margin   decimal.Decimal `json:"margin"`
	Taxes    []TaxAmount     `json:"-"`
}

// LineInput describes an order line for amount computations.
type LineInput struct {
	ProductID     int64
	Quantity      decimal.Decimal
	PriceUnit     decimal.Decimal
	Discount      decimal.Decimal
	PurchasePrice decimal.Decimal
	Taxes         []*entity.Tax
}

// TaxGroupAmount is the tax of one group summed over an order.
type TaxGroupAmount struct {
	Group    string          `json:"group"`
	Sequence int             `json:"sequence"`
	Base     decimal.Decimal `json:"base"`
	Amount   decimal.Decimal `json:"amount"`
}

// OrderAmounts aggregates line amounts. The Display figures use the
// quantity available now instead of the ordered quantity.
type OrderAmounts struct {
	Untaxed              decimal.Decimal  `json:"untaxed"`
	Tax                  decimal.Decimal  `json:"tax"`
	Total                decimal.Decimal  `json:"total"`
	Margin               decimal.Decimal  `json:"margin"`
	MarginPercent        decimal.Decimal  `json:"margin_percent"`
	UntaxedDisplay       decimal.Decimal  `json:"untaxed_display"`
	TaxDisplay           decimal.Decimal  `json:"tax_display"`
	TotalDisplay         decimal.Decimal  `json:"total_display"`
	MarginDisplay        decimal.Decimal  `json:"margin_display"`
	MarginPercentDisplay decimal.Decimal  `json:"margin_percent_display"`
	TaxGroupsDisplay     []TaxGroupAmount `json:"tax_groups_display"`
}

// Calculator derives display amounts through a TaxEngine and Rounder.
type Calculator struct {
	engine  TaxEngine
	rounder Rounder
}

// NewCalculator builds a calculator.
func NewCalculator(engine TaxEngine, rounder Rounder) *Calculator {
	return &Calculator{engine: engine, rounder: rounder}
}

// Rounder exposes the rounding collaborator.
func (c *Calculator) Rounder() Rounder {
	return c.rounder
}

// Line computes the amounts of line at qty, which is either the ordered or
// the available quantity.
func (c *Calculator) Line(line LineInput, qty decimal.Decimal, currency *entity.Currency, partnerID int64) LineAmounts {
	price := entity.ReducedPrice(line.PriceUnit, line.Discount)
	res := c.engine.ComputeAll(line.Taxes, price, currency, qty, line.ProductID, partnerID)
	return LineAmounts{
		Subtotal: res.TotalExcluded,
		Tax:      res.TotalIncluded.Sub(res.TotalExcluded),
		Total:    res.TotalIncluded,
		Margin:   c.rounder.Round(currency, res.TotalExcluded.Sub(line.PurchasePrice.Mul(qty))),
		Taxes:    res.Taxes,
	}
}

// Order sums full and display amounts of the lines. available[i] is the
// quantity of lines[i] that can ship now.
func (c *Calculator) Order(lines []LineInput, available []decimal.Decimal, currency *entity.Currency, partnerID int64) OrderAmounts {
	var out OrderAmounts
	groups := map[string]*TaxGroupAmount{}
	for i, line := range lines {
		full := c.Line(line, line.Quantity, currency, partnerID)
		out.Untaxed = out.Untaxed.Add(full.Subtotal)
		out.Tax = out.Tax.Add(full.Tax)
		out.Margin = out.Margin.Add(full.Margin)

		qty := decimal.Zero
		if i < len(available) {
			qty = available[i]
		}
		disp := c.Line(line, qty, currency, partnerID)
		out.UntaxedDisplay = out.UntaxedDisplay.Add(disp.Subtotal)
		out.TaxDisplay = out.TaxDisplay.Add(disp.Tax)
		out.MarginDisplay = out.MarginDisplay.Add(disp.Margin)

		for _, tax := range disp.Taxes {
			g, ok := groups[tax.Group]
			if !ok {
				g = &TaxGroupAmount{Group: tax.Group, Sequence: tax.GroupSequence}
				groups[tax.Group] = g
			}
			g.Base = g.Base.Add(tax.Base)
			g.Amount = g.Amount.Add(tax.Amount)
		}
	}
	out.Total = out.Untaxed.Add(out.Tax)
	out.TotalDisplay = out.UntaxedDisplay.Add(out.TaxDisplay)
	out.MarginPercent = MarginPercent(out.Margin, out.Untaxed)
	out.MarginPercentDisplay = MarginPercent(out.MarginDisplay, out.UntaxedDisplay)

	out.TaxGroupsDisplay = make([]TaxGroupAmount, 0, len(groups))
	for _, g := range groups {
		out.TaxGroupsDisplay = append(out.TaxGroupsDisplay, *g)
	}
	sort.Slice(out.TaxGroupsDisplay, func(i, j int) bool {
		a, b := out.TaxGroupsDisplay[i], out.TaxGroupsDisplay[j]
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		return a.Group < b.Group
	})
	return out
}

// MarginPercent is margin over untaxed in percent with two decimals, or
// zero when untaxed is not positive.
func MarginPercent(margin, untaxed decimal.Decimal) decimal.Decimal {
	if !untaxed.IsPositive() {
		return decimal.Zero
	}
	return margin.Div(untaxed).Mul(hundred).Round(2)
}
