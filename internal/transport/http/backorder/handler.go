package backorder

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/fulfillment/internal/dto"
	"github.com/Additional-Code/fulfillment/internal/entity"
	"github.com/Additional-Code/fulfillment/internal/presentation/http/response"
	service "github.com/Additional-Code/fulfillment/internal/service/backorder"
	"github.com/Additional-Code/fulfillment/internal/transport/http/request"
	"github.com/Additional-Code/fulfillment/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/fulfillment/transport/http/backorder")

// Module wires HTTP backorder handlers.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(func(e *echo.Echo, h *Handler) {
		Register(e, h)
	}),
)

// Handler exposes backorder endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs a backorder Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/backorders")
	g.GET("/:id", h.getByID)
	g.POST("/:id/confirm", h.confirm)
	g.POST("/:id/cancel", h.cancel)
	g.DELETE("/:id", h.delete)
	g.PATCH("/lines/:lineID", h.updateLine)
	g.DELETE("/lines/:lineID", h.deleteLine)
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := request.ID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "backorders.getByID", trace.WithAttributes(attribute.Int64("backorder.id", id)))
	defer span.End()

	view, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toDTO(view)).Build()
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

	ctx, span := httpTracer.Start(c.Request().Context(), "backorders.confirm", trace.WithAttributes(attribute.Int64("backorder.id", id)))
	defer span.End()

	res, err := h.svc.Confirm(ctx, act, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	out := dto.ConfirmBackorderResponse{
		BackorderID: res.Backorder.ID,
		State:       string(res.Backorder.State),
		Orders:      make([]dto.GeneratedOrder, 0, len(res.Orders)),
	}
	for _, r := range res.Orders {
		out.Orders = append(out.Orders, generated(r.Order))
	}
	return b.WithData(out).Build()
}

func (h *Handler) cancel(c echo.Context) error {
	b := response.New(c)

	id, err := request.ID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}
	act, err := request.Actor(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "backorders.cancel", trace.WithAttributes(attribute.Int64("backorder.id", id)))
	defer span.End()

	if _, err := h.svc.Cancel(ctx, act, id); err != nil {
		return b.WithError(err).Build()
	}
	view, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toDTO(view)).Build()
}

func (h *Handler) delete(c echo.Context) error {
	b := response.New(c)

	id, err := request.ID(c, "id")
	if err != nil {
		return b.WithError(err).Build()
	}
	act, err := request.Actor(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "backorders.delete", trace.WithAttributes(attribute.Int64("backorder.id", id)))
	defer span.End()

	if err := h.svc.Delete(ctx, act, id); err != nil {
		return b.WithError(err).Build()
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) updateLine(c echo.Context) error {
	b := response.New(c)

	lineID, err := request.ID(c, "lineID")
	if err != nil {
		return b.WithError(err).Build()
	}
	act, err := request.Actor(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload dto.UpdateBackorderLineRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if payload.ConfirmedQuantity == nil && payload.PriceUnit == nil {
		return b.WithError(errorbank.BadRequest("confirmed_quantity or price_unit is required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "backorders.updateLine", trace.WithAttributes(attribute.Int64("backorder_line.id", lineID)))
	defer span.End()

	line, err := h.svc.UpdateLine(ctx, act, lineID, service.LineUpdate{
		PriceUnit:         payload.PriceUnit,
		ConfirmedQuantity: payload.ConfirmedQuantity,
	})
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.BackorderLineResponse{
		ID:                line.ID,
		ProductID:         line.ProductID,
		Quantity:          line.Quantity,
		ConfirmedQuantity: line.ConfirmedQuantity,
		PriceUnit:         line.PriceUnit,
		Discount:          line.Discount,
		Subtotal:          line.Subtotal(),
	}).Build()
}

func (h *Handler) deleteLine(c echo.Context) error {
	b := response.New(c)

	lineID, err := request.ID(c, "lineID")
	if err != nil {
		return b.WithError(err).Build()
	}
	act, err := request.Actor(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "backorders.deleteLine", trace.WithAttributes(attribute.Int64("backorder_line.id", lineID)))
	defer span.End()

	if err := h.svc.DeleteLine(ctx, act, lineID); err != nil {
		return b.WithError(err).Build()
	}
	return c.NoContent(http.StatusNoContent)
}

func toDTO(view *service.View) dto.BackorderResponse {
	bo := view.Backorder
	out := dto.BackorderResponse{
		ID:            bo.ID,
		Name:          view.Name,
		State:         string(bo.State),
		OriginOrderID: bo.OriginOrderID,
		PartnerID:     bo.PartnerID,
		Date:          bo.Date,
		ExpectedDate:  view.ExpectedDate,
		Total:         view.Total,
		Lines:         make([]dto.BackorderLineResponse, 0, len(view.Lines)),
	}
	for _, lv := range view.Lines {
		out.Lines = append(out.Lines, dto.BackorderLineResponse{
			ID:                lv.Line.ID,
			ProductID:         lv.Line.ProductID,
			Quantity:          lv.Line.Quantity,
			ConfirmedQuantity: lv.Line.ConfirmedQuantity,
			PriceUnit:         lv.Line.PriceUnit,
			Discount:          lv.Line.Discount,
			Subtotal:          lv.Subtotal,
			ProjectedQuantity: lv.ProjectedQuantity,
			ProjectedDate:     lv.ProjectedDate,
			AvailableNow:      lv.AvailableNow,
		})
	}
	for _, order := range view.GeneratedOrders {
		out.GeneratedOrders = append(out.GeneratedOrders, generated(order))
	}
	return out
}

func generated(order *entity.Order) dto.GeneratedOrder {
	return dto.GeneratedOrder{
		ID:            order.ID,
		Number:        order.Number,
		State:         string(order.State),
		RequestedDate: order.RequestedDate,
	}
}
