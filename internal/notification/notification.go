// Package notification tells customers about their orders. Delivery is log-backed until a
// mail and WhatsApp provider are contracted.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	orderservice "github.com/Additional-Code/copra/internal/service/order"
)

// Module provides the dispatcher with the email and WhatsApp channels.
var Module = fx.Provide(
	fx.Annotate(NewEmailNotifier, fx.ResultTags(`group:"notifiers"`), fx.As(new(Notifier))),
	fx.Annotate(NewWhatsAppNotifier, fx.ResultTags(`group:"notifiers"`), fx.As(new(Notifier))),
	NewDispatcher,
)

// Message is one rendered notification.
type Message struct {
	Event       string
	OrderNumber string
	Recipient   string
	Subject     string
	Body        string
}

// Notifier delivers messages over one channel.
type Notifier interface {
	Channel() string
	// Recipient picks the address for this channel, or "" when the customer has none.
	Recipient(ev orderservice.Event) string
	Notify(ctx context.Context, msg Message) error
}

// EmailNotifier logs the email it would send.
type EmailNotifier struct {
	logger *zap.Logger
}

func NewEmailNotifier(logger *zap.Logger) *EmailNotifier {
	return &EmailNotifier{logger: logger.Named("notification.email")}
}

func (n *EmailNotifier) Channel() string { return "email" }

func (n *EmailNotifier) Recipient(ev orderservice.Event) string { return ev.Customer.Email }

func (n *EmailNotifier) Notify(_ context.Context, msg Message) error {
	n.logger.Info("email queued",
		zap.String("to", msg.Recipient),
		zap.String("subject", msg.Subject),
		zap.String("order.number", msg.OrderNumber),
	)
	return nil
}

// WhatsAppNotifier logs the WhatsApp message it would send.
type WhatsAppNotifier struct {
	logger *zap.Logger
}

func NewWhatsAppNotifier(logger *zap.Logger) *WhatsAppNotifier {
	return &WhatsAppNotifier{logger: logger.Named("notification.whatsapp")}
}

func (n *WhatsAppNotifier) Channel() string { return "whatsapp" }

func (n *WhatsAppNotifier) Recipient(ev orderservice.Event) string { return ev.Customer.WhatsApp }

func (n *WhatsAppNotifier) Notify(_ context.Context, msg Message) error {
	n.logger.Info("whatsapp message queued",
		zap.String("to", msg.Recipient),
		zap.String("order.number", msg.OrderNumber),
	)
	return nil
}

// DispatcherParams collects the registered channels.
type DispatcherParams struct {
	fx.In

	Notifiers []Notifier `group:"notifiers"`
	Logger    *zap.Logger
}

// Dispatcher fans an order event out to every channel the customer can be reached on.
type Dispatcher struct {
	notifiers []Notifier
	logger    *zap.Logger
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{notifiers: p.Notifiers, logger: p.Logger}
}

// Dispatch renders ev and sends it on each reachable channel. Events without a customer-facing
// message are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, ev orderservice.Event) error {
	subject, body, ok := Render(ev)
	if !ok {
		return nil
	}

	var errs []error
	for _, n := range d.notifiers {
		to := strings.TrimSpace(n.Recipient(ev))
		if to == "" {
			continue
		}
		err := n.Notify(ctx, Message{
			Event:       ev.Type,
			OrderNumber: ev.Number,
			Recipient:   to,
			Subject:     subject,
			Body:        body,
		})
		if err != nil {
			d.logger.Warn("notification failed",
				zap.String("channel", n.Channel()),
				zap.String("order.number", ev.Number),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", n.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// Render builds the subject and body for an order event.
func Render(ev orderservice.Event) (string, string, bool) {
	name := ev.Customer.Name
	if name == "" {
		name = "there"
	}
	amount := strings.TrimSpace(ev.Currency + " " + ev.Total)

	switch ev.Type {
	case orderservice.EventCreated:
		return "We received order " + ev.Number,
			fmt.Sprintf("Hi %s, thanks for your order %s. Total due: %s.", name, ev.Number, amount), true
	case orderservice.EventPaid:
		return "Payment received for order " + ev.Number,
			fmt.Sprintf("Hi %s, we received %s for order %s. We are getting it ready.", name, amount, ev.Number), true
	case orderservice.EventPaymentFailed:
		return "Payment for order " + ev.Number + " did not go through",
			fmt.Sprintf("Hi %s, the payment for order %s failed. You can try again from your order page.", name, ev.Number), true
	case orderservice.EventStatusChanged:
		return "Order " + ev.Number + " is " + string(ev.Status),
			fmt.Sprintf("Hi %s, your order %s is now %s.", name, ev.Number, ev.Status), true
	case orderservice.EventCancelled:
		body := fmt.Sprintf("Hi %s, your order %s has been cancelled.", name, ev.Number)
		if ev.Reason != "" {
			body += " Reason: " + ev.Reason + "."
		}
		return "Order " + ev.Number + " cancelled", body, true
	default:
		return "", "", false
	}
}
