// Package payment reconciles gateway outcomes with the order lifecycle.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/copra/internal/config"
	"github.com/Additional-Code/copra/internal/entity"
	"github.com/Additional-Code/copra/internal/observability"
	"github.com/Additional-Code/copra/internal/ordernumber"
	"github.com/Additional-Code/copra/internal/payment"
	orderservice "github.com/Additional-Code/copra/internal/service/order"
	"github.com/Additional-Code/copra/internal/validation"
	"github.com/Additional-Code/copra/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/copra/service/payment")

// Webhook outcomes recorded as metrics.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
)

// Orders is the slice of the order service payments drive.
type Orders interface {
	Get(ctx context.Context, ref string) (*entity.Order, error)
	FindByPaymentReference(ctx context.Context, reference string) (*entity.Order, error)
	AttachPaymentReference(ctx context.Context, ref, reference string) (*entity.Order, error)
	UpdatePaymentStatus(ctx context.Context, ref string, u orderservice.PaymentUpdate) (*entity.Order, error)
}

// Events persists webhook deliveries for dedupe.
type Events interface {
	Record(ctx context.Context, ev *entity.PaymentEvent) (*entity.PaymentEvent, bool, error)
	MarkProcessed(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, cause string) error
}

// InitializeInput starts a payment for an order.
type InitializeInput struct {
	OrderRef string            `json:"order_ref" validate:"notblank"`
	Email    string            `json:"email,omitempty" validate:"omitempty,email"`
	Amount   *decimal.Decimal  `json:"amount,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// InitializeResult tells the client where to pay.
type InitializeResult struct {
	AuthorizationURL string          `json:"authorization_url"`
	AccessCode       string          `json:"access_code,omitempty"`
	Reference        string          `json:"reference"`
	OrderNumber      string          `json:"order_number"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
}

// Result is the reconciled view of one payment.
type Result struct {
	Status  payment.TransactionStatus `json:"status"`
	Amount  decimal.Decimal           `json:"amount"`
	Channel string                    `json:"channel,omitempty"`
	PaidAt  *time.Time                `json:"paid_at,omitempty"`
	Order   *entity.Order             `json:"order"`
}

// Service runs payment initialization, verification and webhook reconciliation.
type Service struct {
	orders      Orders
	events      Events
	gateway     payment.Gateway
	validator   *validation.Validator
	logger      *zap.Logger
	metrics     *observability.Metrics
	secret      string
	callbackURL string
	currency    string
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Orders    Orders
	Events    Events
	Gateway   payment.Gateway
	Validator *validation.Validator
	Config    config.Config
	Logger    *zap.Logger
	Metrics   *observability.Metrics `optional:"true"`
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		orders:      p.Orders,
		events:      p.Events,
		gateway:     p.Gateway,
		validator:   p.Validator,
		logger:      p.Logger,
		metrics:     p.Metrics,
		secret:      p.Config.Payment.SecretKey,
		callbackURL: p.Config.Payment.CallbackURL,
		currency:    p.Config.Store.Currency,
	}
}

// Initialize opens a gateway checkout for an unpaid order and attaches a fresh reference to it.
func (s *Service) Initialize(ctx context.Context, in InitializeInput) (*InitializeResult, error) {
	ctx, span := serviceTracer.Start(ctx, "PaymentService.Initialize", trace.WithAttributes(attribute.String("order.ref", in.OrderRef)))
	defer span.End()

	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	order, err := s.orders.Get(ctx, in.OrderRef)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, errorbank.InvalidTransition(fmt.Sprintf("order %s is %s", order.Number, order.Status))
	}
	if order.IsPaid {
		return nil, errorbank.InvalidTransition(fmt.Sprintf("order %s is already paid", order.Number))
	}
	if in.Amount != nil && !payment.AmountMatches(*in.Amount, order.Total) {
		return nil, errorbank.Validation("amount does not match order total", map[string]string{
			"amount": "must equal the order total " + order.Total.StringFixed(2),
		})
	}

	email := strings.TrimSpace(in.Email)
	if email == "" {
		email = order.Customer.Email
	}
	reference := NewReference(order.Number)

	metadata := map[string]string{"order_number": order.Number}
	for k, v := range in.Metadata {
		if _, reserved := metadata[k]; !reserved {
			metadata[k] = v
		}
	}

	auth, err := s.gateway.Initialize(ctx, payment.InitializeRequest{
		Reference:   reference,
		Email:       email,
		Amount:      order.Total,
		Currency:    s.currency,
		CallbackURL: s.callbackURL,
		Metadata:    metadata,
	})
	if err != nil {
		span.RecordError(err)
		return nil, gatewayError("payment initialization failed", err)
	}

	if _, err := s.orders.AttachPaymentReference(ctx, order.Number, auth.Reference); err != nil {
		s.logger.Error("payment initialized but reference not attached",
			zap.String("order.number", order.Number),
			zap.String("payment.reference", auth.Reference),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("payment initialized",
		zap.String("order.number", order.Number),
		zap.String("payment.reference", auth.Reference),
	)
	return &InitializeResult{
		AuthorizationURL: auth.AuthorizationURL,
		AccessCode:       auth.AccessCode,
		Reference:        auth.Reference,
		OrderNumber:      order.Number,
		Amount:           order.Total,
		Currency:         s.currency,
	}, nil
}

// Verify asks the gateway for the state of reference and applies it to the order. It is safe
// to call any number of times.
func (s *Service) Verify(ctx context.Context, reference string) (*Result, error) {
	ctx, span := serviceTracer.Start(ctx, "PaymentService.Verify", trace.WithAttributes(attribute.String("payment.reference", reference)))
	defer span.End()

	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errorbank.Validation("payment reference is required", map[string]string{"reference": "is required"})
	}

	tx, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		span.RecordError(err)
		return nil, gatewayError("payment verification failed", err)
	}

	order, err := s.resolveOrder(ctx, reference)
	if err != nil {
		return nil, err
	}
	order, err = s.reconcile(ctx, order, tx)
	if err != nil {
		return nil, err
	}
	return &Result{
		Status:  tx.Status,
		Amount:  tx.Amount,
		Channel: tx.Channel,
		PaidAt:  tx.PaidAt,
		Order:   order,
	}, nil
}

// HandleWebhook authenticates and applies a gateway webhook. Only a bad signature is reported
// to the caller; every other outcome is acknowledged and logged.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (string, error) {
	ctx, span := serviceTracer.Start(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	if !payment.VerifySignature(s.secret, body, signature) {
		s.metrics.PaymentWebhook(ctx, OutcomeRejected)
		s.logger.Warn("webhook signature rejected")
		return OutcomeRejected, errorbank.Unauthorized("invalid webhook signature")
	}

	outcome := s.processWebhook(ctx, body)
	span.SetAttributes(attribute.String("webhook.outcome", outcome))
	s.metrics.PaymentWebhook(ctx, outcome)
	return outcome, nil
}

func (s *Service) processWebhook(ctx context.Context, body []byte) string {
	ev, err := payment.ParseWebhook(body)
	if err != nil {
		s.logger.Warn("webhook ignored", zap.Error(err))
		return OutcomeIgnored
	}
	if ev.Event != payment.EventChargeSuccess && ev.Event != payment.EventChargeFailed {
		s.logger.Debug("webhook event not handled", zap.String("event", ev.Event))
		return OutcomeIgnored
	}

	reference := ev.Transaction.Reference
	logger := s.logger.With(zap.String("payment.reference", reference), zap.String("event", ev.Event))

	rec, created, err := s.events.Record(ctx, &entity.PaymentEvent{
		Reference: reference,
		Event:     ev.Event,
		Payload:   body,
	})
	if err != nil {
		logger.Error("webhook not recorded; manual reconciliation required", zap.Error(err))
		return OutcomeFailed
	}
	if !created && rec.Status == entity.PaymentEventProcessed {
		logger.Info("duplicate webhook skipped")
		return OutcomeDuplicate
	}

	tx := ev.Transaction
	if ev.Event == payment.EventChargeFailed && !tx.Status.Settled() {
		tx.Status = payment.TransactionFailed
	}

	err = s.applyWebhook(ctx, tx)
	if err != nil {
		logger.Error("webhook processing failed; manual reconciliation required", zap.Error(err))
		if markErr := s.events.MarkFailed(ctx, rec.ID, err.Error()); markErr != nil {
			logger.Error("mark webhook failed", zap.Error(markErr))
		}
		return OutcomeFailed
	}

	if err := s.events.MarkProcessed(ctx, rec.ID); err != nil {
		logger.Error("mark webhook processed", zap.Error(err))
	}
	logger.Info("webhook processed")
	return OutcomeProcessed
}

func (s *Service) applyWebhook(ctx context.Context, tx *payment.Transaction) error {
	order, err := s.resolveOrder(ctx, tx.Reference)
	if err != nil {
		return err
	}
	_, err = s.reconcile(ctx, order, tx)
	return err
}

// reconcile moves the order's payment status to match tx. Only a successful charge for the
// full total marks an order paid; failures only move a pending payment.
func (s *Service) reconcile(ctx context.Context, order *entity.Order, tx *payment.Transaction) (*entity.Order, error) {
	logger := s.logger.With(
		zap.String("order.number", order.Number),
		zap.String("payment.reference", tx.Reference),
		zap.String("payment.status", string(tx.Status)),
	)

	switch {
	case tx.Status == payment.TransactionSuccess:
		if order.PaymentStatus == entity.PaymentStatusPaid {
			return order, nil
		}
		if !payment.AmountMatches(tx.Amount, order.Total) {
			logger.Error("paid amount does not match order total; manual reconciliation required",
				zap.String("paid", tx.Amount.StringFixed(2)),
				zap.String("total", order.Total.StringFixed(2)),
			)
			return nil, errorbank.Unprocessable("paid amount does not match order total", errorbank.WithDetails(map[string]any{
				"code":  "amount_mismatch",
				"paid":  tx.Amount.StringFixed(2),
				"total": order.Total.StringFixed(2),
			}))
		}
		if order.Status.Terminal() {
			logger.Error("payment received for closed order; manual refund required", zap.String("order.status", string(order.Status)))
			return nil, errorbank.InvalidTransition(
				fmt.Sprintf("order %s is %s; payment needs a manual refund", order.Number, order.Status),
				errorbank.WithDetail("action", "manual_refund"),
			)
		}
		paid := true
		return s.orders.UpdatePaymentStatus(ctx, order.Number, orderservice.PaymentUpdate{
			Status:    entity.PaymentStatusPaid,
			Reference: tx.Reference,
			IsPaid:    &paid,
		})
	case tx.Status.Settled():
		if order.PaymentStatus != entity.PaymentStatusPending || order.Status.Terminal() {
			return order, nil
		}
		return s.orders.UpdatePaymentStatus(ctx, order.Number, orderservice.PaymentUpdate{
			Status:    entity.PaymentStatusFailed,
			Reference: tx.Reference,
		})
	default:
		return order, nil
	}
}

// resolveOrder finds the order for a reference. References this service issued embed the order
// number, which covers a checkout whose reference was replaced by a later initialization.
func (s *Service) resolveOrder(ctx context.Context, reference string) (*entity.Order, error) {
	order, err := s.orders.FindByPaymentReference(ctx, reference)
	if err == nil || !errorbank.IsKind(err, errorbank.KindNotFound) {
		return order, err
	}
	if number, ok := NumberFromReference(reference); ok {
		return s.orders.Get(ctx, number)
	}
	return nil, err
}

// NewReference returns a unique gateway reference for an order: the order number plus eight hex digits.
func NewReference(number string) string {
	id := uuid.New()
	return fmt.Sprintf("%s-%x", number, id[:4])
}

// NumberFromReference extracts the order number from a reference built by NewReference.
func NumberFromReference(reference string) (string, bool) {
	i := strings.LastIndexByte(reference, '-')
	if i < 0 || len(reference)-i-1 != 8 {
		return "", false
	}
	number := reference[:i]
	return number, ordernumber.IsOrderNumber(number)
}

func gatewayError(message string, err error) error {
	var appErr *errorbank.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	gerr, ok := payment.AsError(err)
	if !ok {
		return errorbank.Gateway(message, true, errorbank.WithCause(err))
	}
	switch gerr.Kind {
	case payment.KindInvalidAmount:
		return errorbank.Validation(message, map[string]string{"amount": gerr.Err.Error()}, errorbank.WithCause(err))
	case payment.KindRejected:
		return errorbank.Gateway(message, false, errorbank.WithCause(err), errorbank.WithDetail("gateway_kind", string(gerr.Kind)))
	default:
		return errorbank.Gateway(message, gerr.Retryable, errorbank.WithCause(err), errorbank.WithDetail("gateway_kind", string(gerr.Kind)))
	}
}
