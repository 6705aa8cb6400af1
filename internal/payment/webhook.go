package payment

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Webhook event names acted upon.
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// WebhookEvent is a decoded webhook delivery.
type WebhookEvent struct {
	Event       string
	Transaction *Transaction
}

// ParseWebhook decodes a webhook body. The signature must be checked before calling it.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var raw struct {
		Event string          `json:"event"`
		Data  transactionData `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if raw.Event == "" {
		return nil, errors.New("decode webhook: missing event")
	}
	if raw.Data.Reference == "" {
		return nil, errors.New("decode webhook: missing reference")
	}
	return &WebhookEvent{Event: raw.Event, Transaction: raw.Data.transaction()}, nil
}
