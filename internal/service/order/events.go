package order

import (
	"time"

	"github.com/Additional-Code/copra/internal/entity"
)

// Event is the payload published for every committed lifecycle change.
type Event struct {
	Type          string               `json:"type"`
	OrderID       int64                `json:"order_id"`
	Number        string               `json:"order_number"`
	Status        entity.OrderStatus   `json:"order_status"`
	PaymentStatus entity.PaymentStatus `json:"payment_status"`
	Total         string               `json:"total"`
	Currency      string               `json:"currency"`
	Customer      entity.CustomerInfo  `json:"customer"`
	Reason        string               `json:"reason,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

func newEvent(kind string, o *entity.Order, currency string, now time.Time) Event {
	return Event{
		Type:          kind,
		OrderID:       o.ID,
		Number:        o.Number,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Total:         o.Total.StringFixed(2),
		Currency:      currency,
		Customer:      o.Customer,
		Reason:        o.CancelReason,
		OccurredAt:    now,
	}
}
