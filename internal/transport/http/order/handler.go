package order

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/copra/internal/dto"
	"github.com/Additional-Code/copra/internal/entity"
	"github.com/Additional-Code/copra/internal/ordernumber"
	"github.com/Additional-Code/copra/internal/presentation/http/response"
	service "github.com/Additional-Code/copra/internal/service/order"
	"github.com/Additional-Code/copra/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/copra/transport/http/order")

const maxBodyBytes = 64 << 10

// Orders is the order service surface exposed over HTTP.
type Orders interface {
	Create(ctx context.Context, in service.CreateInput) (*entity.Order, error)
	Get(ctx context.Context, ref string) (*entity.Order, error)
	List(ctx context.Context, f service.Filter) (*service.Page, error)
	UpdateStatus(ctx context.Context, ref string, status entity.OrderStatus, notes string) (*entity.Order, error)
	UpdatePaymentStatus(ctx context.Context, ref string, u service.PaymentUpdate) (*entity.Order, error)
	Cancel(ctx context.Context, ref string, actor entity.Actor, reason string) (*entity.Order, error)
}

// Fees quotes delivery fees.
type Fees interface {
	DeliveryFeeForRegion(region string) decimal.Decimal
	IsKnownRegion(region string) bool
	Regions() []string
}

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc      Orders
	fees     Fees
	currency string
}

// NewHandler constructs an order Handler.
func NewHandler(svc Orders, fees Fees, currency string) *Handler {
	return &Handler{svc: svc, fees: fees, currency: currency}
}

// Register mounts customer routes on e and back-office routes on admin.
func Register(e *echo.Echo, admin *echo.Group, h *Handler) {
	g := e.Group("/orders")
	g.POST("", h.create)
	g.GET("/:ref", h.get, orderNumberOnly)
	g.POST("/:ref/cancel", h.cancel(entity.ActorCustomer), orderNumberOnly)

	e.GET("/delivery-fees", h.deliveryFees)

	a := admin.Group("/orders")
	a.GET("", h.list)
	a.GET("/:ref", h.get)
	a.PATCH("/:ref/status", h.updateStatus)
	a.PATCH("/:ref/payment", h.updatePayment)
	a.POST("/:ref/cancel", h.cancel(entity.ActorAdmin))
}

// orderNumberOnly keeps sequential numeric ids off the customer routes; those are looked up
// through /admin. Anything that is not a well-formed order number reads as not found.
func orderNumberOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !ordernumber.IsOrderNumber(c.Param("ref")) {
			return response.New(c).WithError(errorbank.NotFound("order not found")).Build()
		}
		return next(c)
	}
}

func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	var in service.CreateInput
	if err := decodeStrict(c, &in); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.create", trace.WithAttributes(attribute.Int("order.lines", len(in.Items))))
	defer span.End()

	order, err := h.svc.Create(ctx, in)
	if err != nil {
		return b.WithError(err).Build()
	}
	span.SetAttributes(attribute.String("order.number", order.Number))

	return b.WithStatus(http.StatusCreated).WithData(dto.NewOrderResponse(order, h.currency)).Build()
}

func (h *Handler) get(c echo.Context) error {
	b := response.New(c)
	ref := c.Param("ref")

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.get", trace.WithAttributes(attribute.String("order.ref", ref)))
	defer span.End()

	order, err := h.svc.Get(ctx, ref)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponse(order, h.currency)).Build()
}

func (h *Handler) cancel(actor entity.Actor) echo.HandlerFunc {
	return func(c echo.Context) error {
		b := response.New(c)
		ref := c.Param("ref")

		var req dto.CancelRequest
		if c.Request().ContentLength != 0 {
			if err := c.Bind(&req); err != nil {
				return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
			}
			if err := c.Validate(req); err != nil {
				return b.WithError(err).Build()
			}
		}

		ctx, span := httpTracer.Start(c.Request().Context(), "orders.cancel", trace.WithAttributes(
			attribute.String("order.ref", ref),
			attribute.String("actor", string(actor)),
		))
		defer span.End()

		order, err := h.svc.Cancel(ctx, ref, actor, req.Reason)
		if err != nil {
			return b.WithError(err).Build()
		}
		return b.WithData(dto.NewOrderResponse(order, h.currency)).Build()
	}
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	f := service.Filter{
		Status:        entity.OrderStatus(c.QueryParam("status")),
		PaymentStatus: entity.PaymentStatus(c.QueryParam("payment_status")),
		Search:        strings.TrimSpace(c.QueryParam("search")),
	}
	fields := map[string]string{}
	var err error
	if f.Page, err = intParam(c, "page"); err != nil {
		fields["page"] = "must be a number"
	}
	if f.PageSize, err = intParam(c, "page_size"); err != nil {
		fields["page_size"] = "must be a number"
	}
	if f.From, err = timeParam(c, "from", false); err != nil {
		fields["from"] = "must be a date (2006-01-02) or RFC3339 timestamp"
	}
	if f.To, err = timeParam(c, "to", true); err != nil {
		fields["to"] = "must be a date (2006-01-02) or RFC3339 timestamp"
	}
	if len(fields) > 0 {
		return b.WithError(errorbank.Validation("invalid query", fields)).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.list")
	defer span.End()

	page, err := h.svc.List(ctx, f)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponses(page.Items, h.currency)).
		WithPage(page.Page, page.PageSize, page.Total, page.TotalPages).
		Build()
}

func (h *Handler) updateStatus(c echo.Context) error {
	b := response.New(c)
	ref := c.Param("ref")

	var req dto.UpdateStatusRequest
	if err := c.Bind(&req); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if err := c.Validate(req); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.updateStatus", trace.WithAttributes(
		attribute.String("order.ref", ref),
		attribute.String("order.status", string(req.Status)),
	))
	defer span.End()

	order, err := h.svc.UpdateStatus(ctx, ref, req.Status, req.Notes)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponse(order, h.currency)).Build()
}

func (h *Handler) updatePayment(c echo.Context) error {
	b := response.New(c)
	ref := c.Param("ref")

	var req dto.UpdatePaymentRequest
	if err := c.Bind(&req); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if err := c.Validate(req); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.updatePayment", trace.WithAttributes(
		attribute.String("order.ref", ref),
		attribute.String("payment.status", string(req.PaymentStatus)),
	))
	defer span.End()

	order, err := h.svc.UpdatePaymentStatus(ctx, ref, service.PaymentUpdate{
		Status:    req.PaymentStatus,
		Reference: strings.TrimSpace(req.Reference),
		IsPaid:    req.IsPaid,
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewOrderResponse(order, h.currency)).Build()
}

func (h *Handler) deliveryFees(c echo.Context) error {
	b := response.New(c)

	if region := strings.TrimSpace(c.QueryParam("region")); region != "" {
		return b.WithData(dto.DeliveryFeeResponse{
			Region:   region,
			Fee:      h.fees.DeliveryFeeForRegion(region).StringFixed(2),
			Currency: h.currency,
			Known:    h.fees.IsKnownRegion(region),
		}).Build()
	}

	regions := h.fees.Regions()
	quotes := make([]dto.DeliveryFeeResponse, 0, len(regions))
	for _, region := range regions {
		quotes = append(quotes, dto.DeliveryFeeResponse{
			Region:   region,
			Fee:      h.fees.DeliveryFeeForRegion(region).StringFixed(2),
			Currency: h.currency,
			Known:    true,
		})
	}
	return b.WithData(quotes).Build()
}

// decodeStrict decodes a JSON body and rejects unknown fields, so client-supplied prices or
// totals never pass silently.
func decodeStrict(c echo.Context, v any) error {
	dec := json.NewDecoder(io.LimitReader(c.Request().Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errorbank.BadRequest("invalid payload: "+err.Error(), errorbank.WithCause(err))
	}
	return nil
}

func intParam(c echo.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// timeParam parses an RFC3339 timestamp or a plain date. A plain date used as an upper
// bound covers the whole day.
func timeParam(c echo.Context, name string, endOfDay bool) (*time.Time, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
