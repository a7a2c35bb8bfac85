package order

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/fulfillment/internal/entity"
	"github.com/Additional-Code/fulfillment/internal/repository/sales"
	"github.com/Additional-Code/fulfillment/internal/service/pricing"
)

// LineView is an order line with the figures derived on read.
type LineView struct {
	Line      *entity.OrderLine
	Available decimal.Decimal
	Amounts   pricing.LineAmounts
	Display   pricing.LineAmounts
}

// View is an order as presented to callers.
type View struct {
	Order    *entity.Order
	Lines    []LineView
	Messages []*entity.OrderMessage
	Amounts  pricing.OrderAmounts
}

func (s *Service) buildView(ctx context.Context, store sales.Store, rec *record) (*View, error) {
	currency, err := store.GetCurrency(ctx, rec.Order.CurrencyID)
	if err != nil && !errors.Is(err, sales.ErrNotFound) {
		return nil, err
	}

	taxes, err := s.taxesFor(ctx, store, rec.Lines)
	if err != nil {
		return nil, err
	}

	scope := s.resolver.WithStore(store).Scope()
	productIDs := make([]int64, 0, len(rec.Lines))
	for _, line := range rec.Lines {
		productIDs = append(productIDs, line.ProductID)
	}
	if err := scope.Prefetch(ctx, productIDs...); err != nil {
		return nil, err
	}

	view := &View{Order: rec.Order, Messages: rec.Messages}
	inputs := make([]pricing.LineInput, 0, len(rec.Lines))
	available := make([]decimal.Decimal, 0, len(rec.Lines))
	for _, line := range rec.Lines {
		avail, err := scope.Resolve(ctx, line.ProductID, line.Quantity)
		if err != nil {
			return nil, err
		}
		in := lineInput(line, taxes)
		view.Lines = append(view.Lines, LineView{
			Line:      line,
			Available: avail,
			Amounts:   s.calculator.Line(in, line.Quantity, currency, rec.Order.PartnerID),
			Display:   s.calculator.Line(in, avail, currency, rec.Order.PartnerID),
		})
		inputs = append(inputs, in)
		available = append(available, avail)
	}
	view.Amounts = s.calculator.Order(inputs, available, currency, rec.Order.PartnerID)
	return view, nil
}

func (s *Service) taxesFor(ctx context.Context, store sales.Store, lines []*entity.OrderLine) (map[int64]*entity.Tax, error) {
	seen := map[int64]struct{}{}
	var ids []int64
	for _, line := range lines {
		for _, id := range line.TaxIDs {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	out := make(map[int64]*entity.Tax, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	taxes, err := store.Taxes(ctx, ids...)
	if err != nil {
		return nil, err
	}
	for _, tax := range taxes {
		out[tax.ID] = tax
	}
	return out, nil
}

func lineInput(line *entity.OrderLine, taxes map[int64]*entity.Tax) pricing.LineInput {
	in := pricing.LineInput{
		ProductID:     line.ProductID,
		Quantity:      line.Quantity,
		PriceUnit:     line.PriceUnit,
		Discount:      line.Discount,
		PurchasePrice: line.PurchasePrice,
	}
	for _, id := range line.TaxIDs {
		if tax, ok := taxes[id]; ok {
			in.Taxes = append(in.Taxes, tax)
		}
	}
	return in
}
