package payment

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/copra/internal/config"
	"github.com/Additional-Code/copra/internal/dto"
	gateway "github.com/Additional-Code/copra/internal/payment"
	"github.com/Additional-Code/copra/internal/presentation/http/response"
	service "github.com/Additional-Code/copra/internal/service/payment"
	"github.com/Additional-Code/copra/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/copra/transport/http/payment")

const maxWebhookBytes = 1 << 20

// Module wires HTTP payment handlers.
var Module = fx.Options(
	fx.Provide(func(svc *service.Service, cfg config.Config) *Handler {
		return NewHandler(svc, cfg.Store.Currency)
	}),
	fx.Invoke(Register),
)

// Payments is the payment service surface exposed over HTTP.
type Payments interface {
	Initialize(ctx context.Context, in service.InitializeInput) (*service.InitializeResult, error)
	Verify(ctx context.Context, reference string) (*service.Result, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) (string, error)
}

// Handler exposes payment endpoints over HTTP.
type Handler struct {
	svc      Payments
	currency string
}

// NewHandler constructs a payment Handler.
func NewHandler(svc Payments, currency string) *Handler {
	return &Handler{svc: svc, currency: currency}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/payments")
	g.POST("/initialize", h.initialize)
	g.GET("/verify/:reference", h.verify)
	g.POST("/webhook", h.webhook)
}

func (h *Handler) initialize(c echo.Context) error {
	b := response.New(c)

	var in service.InitializeInput
	if err := c.Bind(&in); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "payments.initialize", trace.WithAttributes(attribute.String("order.ref", in.OrderRef)))
	defer span.End()

	res, err := h.svc.Initialize(ctx, in)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(dto.NewPaymentInitializeResponse(res)).Build()
}

func (h *Handler) verify(c echo.Context) error {
	b := response.New(c)
	reference := c.Param("reference")

	ctx, span := httpTracer.Start(c.Request().Context(), "payments.verify", trace.WithAttributes(attribute.String("payment.reference", reference)))
	defer span.End()

	res, err := h.svc.Verify(ctx, reference)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.NewPaymentVerifyResponse(res, h.currency)).Build()
}

// webhook reads the raw body so the signature is checked over the exact bytes the gateway signed.
func (h *Handler) webhook(c echo.Context) error {
	b := response.New(c)

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBytes))
	if err != nil {
		return b.WithError(errorbank.BadRequest("unreadable body", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "payments.webhook")
	defer span.End()

	outcome, err := h.svc.HandleWebhook(ctx, body, c.Request().Header.Get(gateway.SignatureHeader))
	if err != nil {
		return b.WithError(err).Build()
	}
	span.SetAttributes(attribute.String("webhook.outcome", outcome))
	return b.WithData(map[string]any{"received": true}).Build()
}
