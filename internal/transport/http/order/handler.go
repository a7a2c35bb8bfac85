package order

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/fulfillment/internal/dto"
	"github.com/Additional-Code/fulfillment/internal/entity"
	"github.com/Additional-Code/fulfillment/internal/presentation/http/response"
	service "github.com/Additional-Code/fulfillment/internal/service/order"
	"github.com/Additional-Code/fulfillment/internal/transport/http/request"
	"github.com/Additional-Code/fulfillment/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/fulfillment/transport/http/order")

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo group.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders")
	g.GET("/:id", h.getByID)
	g.POST("", h.create)
	g.POST("/:id/confirm", h.confirm)
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := request.ID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	view, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(toDTO(view)).Build()
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	var payload dto.CreateOrderRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if payload.PartnerID == 0 || payload.CurrencyID == 0 {
		return b.WithError(errorbank.BadRequest("partner_id and currency_id are required")).Build()
	}

	order := &entity.Order{
		Number:            payload.Number,
		PartnerID:         payload.PartnerID,
		CompanyID:         payload.CompanyID,
		PricelistID:       payload.PricelistID,
		CurrencyID:        payload.CurrencyID,
		InvoiceAddressID:  payload.InvoiceAddressID,
		ShippingAddressID: payload.ShippingAddressID,
		PaymentTermID:     payload.PaymentTermID,
		CarrierID:         payload.CarrierID,
		RequestedDate:     payload.RequestedDate,
	}
	lines := make([]*entity.OrderLine, 0, len(payload.Lines))
	for _, l := range payload.Lines {
		lines = append(lines, &entity.OrderLine{
			ProductID:     l.ProductID,
			Quantity:      l.Quantity,
			PriceUnit:     l.PriceUnit,
			Discount:      l.Discount,
			PurchasePrice: l.PurchasePrice,
			TaxIDs:        l.TaxIDs,
		})
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create")
	span.SetAttributes(
		attribute.Int64("order.partner_id", order.PartnerID),
		attribute.Int("order.lines", len(lines)),
	)
	defer span.End()

	if err := h.svc.Create(ctx, order, lines); err != nil {
		return b.WithError(err).Build()
	}

	view, err := h.svc.Get(ctx, order.ID)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(toDTO(view)).Build()
}

func (h *Handler) confirm(c echo.Context) error {
	b := response.New(c)

	id, err := request.ID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}
	act, err := request.Actor(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.confirm", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	res, err := h.svc.Confirm(ctx, act, id, service.ConfirmOptions{})
	if err != nil {
		return b.WithError(err).Build()
	}

	out := dto.ConfirmOrderResponse{
		OrderID:        res.Order.ID,
		State:          string(res.Order.State),
		Confirmed:      res.Confirmed,
		RemovedLineIDs: res.RemovedLineIDs,
	}
	if res.Backorder != nil {
		out.BackorderID = &res.Backorder.ID
		out.BackorderName = res.Backorder.Name()
		b.WithMeta("notice", "Backorder "+res.Backorder.Name()+" has been generated.")
	}
	return b.WithData(out).Build()
}

func toDTO(view *service.View) dto.OrderResponse {
	order := view.Order
	out := dto.OrderResponse{
		ID:                order.ID,
		Number:            order.Number,
		State:             string(order.State),
		PartnerID:         order.PartnerID,
		CompanyID:         order.CompanyID,
		CurrencyID:        order.CurrencyID,
		BackorderID:       order.BackorderID,
		BackorderOriginID: order.BackorderOriginID,
		RequestedDate:     order.RequestedDate,
		ConfirmedAt:       order.ConfirmedAt,
		Lines:             make([]dto.OrderLineResponse, 0, len(view.Lines)),
		Amounts:           view.Amounts,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
	for _, lv := range view.Lines {
		out.Lines = append(out.Lines, dto.OrderLineResponse{
			ID:              lv.Line.ID,
			ProductID:       lv.Line.ProductID,
			Quantity:        lv.Line.Quantity,
			Available:       lv.Available,
			PriceUnit:       lv.Line.PriceUnit,
			Discount:        lv.Line.Discount,
			Subtotal:        lv.Amounts.Subtotal,
			Total:           lv.Amounts.Total,
			SubtotalDisplay: lv.Display.Subtotal,
			TotalDisplay:    lv.Display.Total,
			MarginDisplay:   lv.Display.Margin,
			TaxIDs:          lv.Line.TaxIDs,
		})
	}
	for _, msg := range view.Messages {
		out.Messages = append(out.Messages, dto.OrderMessageResponse{
			AuthorID:  msg.AuthorID,
			Body:      msg.Body,
			CreatedAt: msg.CreatedAt,
		})
	}
	return out
}
