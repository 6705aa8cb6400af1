package order

import (
	"fmt"
	"time"

	"github.com/Additional-Code/copra/internal/entity"
	"github.com/Additional-Code/copra/pkg/errorbank"
)

// Lifecycle event names published after a committed transition.
const (
	EventCreated       = "order.created"
	EventPaid          = "order.paid"
	EventStatusChanged = "order.status_changed"
	EventCancelled     = "order.cancelled"
	EventPaymentFailed = "order.payment_failed"
)

// Cancellation refusal reasons exposed in error details.
const (
	ReasonStatus = "status"
	ReasonWindow = "window"
)

type stockEffect int

const (
	stockNone stockEffect = iota
	stockDecrement
	stockRestore
)

// effect describes what applying a transition did to an order.
type effect struct {
	changed bool
	stock   stockEffect
	event   string
}

var progression = map[entity.OrderStatus]int{
	entity.OrderStatusPending:    0,
	entity.OrderStatusConfirmed:  1,
	entity.OrderStatusProcessing: 2,
	entity.OrderStatusShipped:    3,
	entity.OrderStatusDelivered:  4,
}

var paymentTransitions = map[entity.PaymentStatus][]entity.PaymentStatus{
	entity.PaymentStatusPending: {entity.PaymentStatusPaid, entity.PaymentStatusFailed},
	entity.PaymentStatusFailed:  {entity.PaymentStatusPaid, entity.PaymentStatusPending},
	entity.PaymentStatusPaid:    {entity.PaymentStatusRefunded},
}

// CanTransitionStatus reports whether an admin may move an order from one fulfilment status to another.
// Cancellation is decided by applyCancel and is not covered here.
func CanTransitionStatus(from, to entity.OrderStatus) bool {
	if from.Terminal() {
		return false
	}
	fromRank, ok := progression[from]
	if !ok {
		return false
	}
	toRank, ok := progression[to]
	return ok && toRank > fromRank
}

// CanTransitionPayment reports whether payment may move from one status to another.
func CanTransitionPayment(from, to entity.PaymentStatus) bool {
	for _, allowed := range paymentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func terminalError(o *entity.Order) error {
	return errorbank.InvalidTransition(
		fmt.Sprintf("order %s is %s and can no longer change", o.Number, o.Status),
		errorbank.WithDetail("order_status", string(o.Status)),
	)
}

// applyStatus moves the fulfilment status forward. Setting the current status is a no-op.
func applyStatus(o *entity.Order, to entity.OrderStatus, notes string, now time.Time) (effect, error) {
	if !to.Valid() {
		return effect{}, errorbank.Validation("invalid order status", map[string]string{"status": "is not a recognised order status"})
	}
	if o.Status.Terminal() {
		return effect{}, terminalError(o)
	}
	if to == o.Status {
		return effect{}, nil
	}
	if !CanTransitionStatus(o.Status, to) {
		return effect{}, errorbank.InvalidTransition(
			fmt.Sprintf("cannot move order %s from %s to %s", o.Number, o.Status, to),
			errorbank.WithDetails(map[string]any{"from": string(o.Status), "to": string(to)}),
		)
	}

	o.Status = to
	if to == entity.OrderStatusDelivered {
		o.IsDelivered = true
		o.DeliveredAt = timePtr(now)
	}
	appendNote(o, string(to), notes, now)
	return effect{changed: true, event: EventStatusChanged}, nil
}

// applyPayment records a payment status change. Entering paid decrements stock at most once.
func applyPayment(o *entity.Order, to entity.PaymentStatus, now time.Time) (effect, error) {
	if !to.Valid() {
		return effect{}, errorbank.Validation("invalid payment status", map[string]string{"payment_status": "is not a recognised payment status"})
	}
	if o.Status.Terminal() {
		return effect{}, terminalError(o)
	}
	if to == o.PaymentStatus {
		return effect{}, nil
	}
	if !CanTransitionPayment(o.PaymentStatus, to) {
		return effect{}, errorbank.InvalidTransition(
			fmt.Sprintf("cannot move payment of order %s from %s to %s", o.Number, o.PaymentStatus, to),
			errorbank.WithDetails(map[string]any{"from": string(o.PaymentStatus), "to": string(to)}),
		)
	}

	o.PaymentStatus = to
	o.IsPaid = to == entity.PaymentStatusPaid

	eff := effect{changed: true, event: EventStatusChanged}
	switch to {
	case entity.PaymentStatusPaid:
		o.PaidAt = timePtr(now)
		if o.Status == entity.OrderStatusPending {
			o.Status = entity.OrderStatusConfirmed
		}
		if !o.StockDecremented {
			o.StockDecremented = true
			eff.stock = stockDecrement
		}
		eff.event = EventPaid
	case entity.PaymentStatusFailed:
		eff.event = EventPaymentFailed
	}
	return eff, nil
}

// applyCancel cancels the order on behalf of actor. Customers may only cancel pending
// orders inside the window; admins may cancel any non-terminal order.
func applyCancel(o *entity.Order, actor entity.Actor, reason string, now time.Time, window time.Duration) (effect, error) {
	if o.Status.Terminal() {
		return effect{}, terminalError(o)
	}
	if actor != entity.ActorAdmin {
		if o.Status != entity.OrderStatusPending {
			return effect{}, errorbank.NotCancellable(
				fmt.Sprintf("order %s is %s; only pending orders can be cancelled", o.Number, o.Status),
				ReasonStatus,
			)
		}
		if now.Sub(o.CreatedAt) >= window {
			return effect{}, errorbank.NotCancellable(
				fmt.Sprintf("order %s can only be cancelled within %s of placement", o.Number, window),
				ReasonWindow,
			)
		}
	}

	eff := effect{changed: true, event: EventCancelled}
	o.Status = entity.OrderStatusCancelled
	o.CancelledAt = timePtr(now)
	o.CancelledBy = actor
	o.CancelReason = reason
	if o.StockDecremented {
		o.StockDecremented = false
		eff.stock = stockRestore
	}
	if o.PaymentStatus == entity.PaymentStatusPaid {
		o.PaymentStatus = entity.PaymentStatusRefunded
		o.IsPaid = false
	}
	return eff, nil
}

func appendNote(o *entity.Order, status, note string, now time.Time) {
	if note == "" {
		return
	}
	line := fmt.Sprintf("[%s %s] %s", now.UTC().Format(time.RFC3339), status, note)
	if o.Notes == "" {
		o.Notes = line
		return
	}
	o.Notes += "\n" + line
}

func timePtr(t time.Time) *time.Time {
	return &t
}
