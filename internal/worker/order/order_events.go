package order

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/copra/internal/messaging"
	"github.com/Additional-Code/copra/internal/notification"
	ordersvc "github.com/Additional-Code/copra/internal/service/order"
	"github.com/Additional-Code/copra/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/copra/worker/order")

// Module registers order lifecycle worker handlers.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(
			NewOrderEventsHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// Dispatcher sends customer notifications for an order event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev ordersvc.Event) error
}

var _ Dispatcher = (*notification.Dispatcher)(nil)

// NewOrderEventsHandler consumes order lifecycle events and notifies the customer.
func NewOrderEventsHandler(logger *zap.Logger, client messaging.Client, dispatcher *notification.Dispatcher) worker.HandlerRegistration {
	return worker.HandlerRegistration{
		Topic:   client.Topic(),
		Handler: Handle(logger, dispatcher),
	}
}

// Handle decodes one order event and dispatches it. Undecodable messages are dropped so they
// cannot block the partition; notification failures are returned for redelivery.
func Handle(logger *zap.Logger, dispatcher Dispatcher) messaging.Handler {
	return func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.orders.notify", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.String("order.event", msg.Headers[messaging.HeaderEvent]),
		))
		defer span.End()

		var event ordersvc.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("failed to decode order event", zap.ByteString("key", msg.Key), zap.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return nil
		}
		if event.Type == "" {
			event.Type = msg.Headers[messaging.HeaderEvent]
		}

		if err := dispatcher.Dispatch(ctx, event); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "dispatch failed")
			return err
		}

		logger.Info("order event processed",
			zap.Int64("order.id", event.OrderID),
			zap.String("order.number", event.Number),
			zap.String("event", event.Type),
		)
		return nil
	}
}
