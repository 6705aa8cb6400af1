package entity

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// PaymentEventStatus tracks webhook processing.
type PaymentEventStatus string

const (
	PaymentEventReceived  PaymentEventStatus = "received"
	PaymentEventProcessed PaymentEventStatus = "processed"
	PaymentEventFailed    PaymentEventStatus = "failed"
)

// PaymentEvent is one gateway webhook delivery, unique per (reference, event).
type PaymentEvent struct {
	bun.BaseModel `bun:"table:payment_events"`

	ID         int64              `bun:",pk,autoincrement"`
	Reference  string             `bun:"reference,notnull"`
	Event      string             `bun:"event,notnull"`
	Status     PaymentEventStatus `bun:"status,notnull"`
	Payload    json.RawMessage    `bun:"payload,type:jsonb"`
	Error      string             `bun:"error,nullzero"`
	Attempts   int                `bun:"attempts,notnull"`
	ReceivedAt time.Time          `bun:"received_at,notnull"`
	UpdatedAt  time.Time          `bun:"updated_at,nullzero"`
}

// OrderSequence is the per-day counter behind order numbers.
type OrderSequence struct {
	bun.BaseModel `bun:"table:order_sequences"`

	Day   string `bun:"day,pk"`
	Value int64  `bun:"value,notnull"`
}
