package backorder

import (
	"context"
	"time"

	"github.com/Additional-Code/fulfillment/internal/actor"
	"github.com/Additional-Code/fulfillment/internal/entity"
	"github.com/Additional-Code/fulfillment/internal/repository/sales"
	ordersvc "github.com/Additional-Code/fulfillment/internal/service/order"
)

// followUp creates and confirms one order for a group of lines. The group
// is sorted by date, so its last line carries the latest projected date,
// which becomes the requested date at local midnight.
func (s *Service) followUp(ctx context.Context, tx sales.Store, act actor.Actor, loc *time.Location, bo *entity.Backorder, group []LineView) (*ordersvc.ConfirmResult, error) {
	originID := bo.ID
	order := &entity.Order{
		PartnerID:         bo.PartnerID,
		CompanyID:         bo.CompanyID,
		PricelistID:       bo.PricelistID,
		CurrencyID:        bo.CurrencyID,
		InvoiceAddressID:  bo.InvoiceAddressID,
		ShippingAddressID: bo.ShippingAddressID,
		PaymentTermID:     copyID(bo.PaymentTermID),
		CarrierID:         copyID(bo.CarrierID),
		BackorderOriginID: &originID,
	}
	if date, ok := group[len(group)-1].projectedDate(); ok {
		requested := actor.LocalMidnightUTC(date, loc)
		order.RequestedDate = &requested
	}

	lines := make([]*entity.OrderLine, 0, len(group))
	for _, lv := range group {
		lines = append(lines, &entity.OrderLine{
			ProductID: lv.Line.ProductID,
			Quantity:  lv.Line.ConfirmedQuantity,
			PriceUnit: lv.Line.PriceUnit,
			Discount:  lv.Line.Discount,
		})
	}

	if err := s.orders.CreateInTx(ctx, tx, order, lines); err != nil {
		return nil, err
	}
	return s.orders.ConfirmInTx(ctx, tx, act, order.ID, ordersvc.ConfirmOptions{FromBackorder: true})
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
