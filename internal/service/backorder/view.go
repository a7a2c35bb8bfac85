package backorder

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Additional-Code/fulfillment/internal/actor"
	"github.com/Additional-Code/fulfillment/internal/entity"
	"github.com/Additional-Code/fulfillment/internal/service/availability"
)

// LineView is a backorder line with its replenishment projection.
type LineView struct {
	Line              *entity.BackorderLine
	Subtotal          decimal.Decimal
	ProjectedQuantity decimal.Decimal
	// ProjectedDate is the calendar date of the projected receipt, nil when
	// no purchase is planned.
	ProjectedDate *time.Time
	AvailableNow  decimal.Decimal
}

func (lv LineView) projectedDate() (time.Time, bool) {
	if lv.ProjectedDate == nil {
		return time.Time{}, false
	}
	return *lv.ProjectedDate, true
}

// View is a backorder as presented to callers.
type View struct {
	Backorder *entity.Backorder
	Name      string
	Lines     []LineView
	// Total is the sum of line subtotals.
	Total decimal.Decimal
	// ExpectedDate is the earliest projected date among lines with a
	// confirmed quantity.
	ExpectedDate    *time.Time
	GeneratedOrders []*entity.Order
}

func buildView(ctx context.Context, scope *availability.Scope, rec *record) (*View, error) {
	productIDs := make([]int64, 0, len(rec.Lines))
	for _, line := range rec.Lines {
		productIDs = append(productIDs, line.ProductID)
	}
	if err := scope.Prefetch(ctx, productIDs...); err != nil {
		return nil, err
	}

	view := &View{
		Backorder:       rec.Backorder,
		Name:            rec.Backorder.Name(),
		Total:           decimal.Zero,
		GeneratedOrders: rec.Orders,
	}
	for _, line := range rec.Lines {
		lv, err := lineView(ctx, scope, rec.Backorder, line)
		if err != nil {
			return nil, err
		}
		view.Lines = append(view.Lines, lv)
		view.Total = view.Total.Add(lv.Subtotal)

		if !line.ConfirmedQuantity.IsPositive() || lv.ProjectedDate == nil {
			continue
		}
		if view.ExpectedDate == nil || lv.ProjectedDate.Before(*view.ExpectedDate) {
			date := *lv.ProjectedDate
			view.ExpectedDate = &date
		}
	}
	return view, nil
}

func lineView(ctx context.Context, scope *availability.Scope, bo *entity.Backorder, line *entity.BackorderLine) (LineView, error) {
	lv := LineView{
		Line:              line,
		Subtotal:          line.Subtotal(),
		ProjectedQuantity: decimal.Zero,
	}

	available, err := scope.AvailableNow(ctx, line.ProductID)
	if err != nil {
		return LineView{}, err
	}
	lv.AvailableNow = available

	projection, ok, err := scope.ProjectReplenishment(ctx, line.ProductID, bo.Date)
	if err != nil {
		return LineView{}, err
	}
	if ok {
		date := actor.DateOf(projection.Date.UTC())
		lv.ProjectedQuantity = projection.Quantity
		lv.ProjectedDate = &date
	}
	return lv, nil
}
