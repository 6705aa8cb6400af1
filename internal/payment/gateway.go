// Package payment talks to the card and mobile-money gateway. The Gateway port hides the
// provider; Paystack is the only implementation.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the gateway's view of a charge.
type TransactionStatus string

const (
	TransactionSuccess   TransactionStatus = "success"
	TransactionFailed    TransactionStatus = "failed"
	TransactionAbandoned TransactionStatus = "abandoned"
	TransactionPending   TransactionStatus = "pending"
	TransactionOngoing   TransactionStatus = "ongoing"
	TransactionReversed  TransactionStatus = "reversed"
)

// Settled reports whether the charge reached a final failed outcome.
func (s TransactionStatus) Settled() bool {
	return s == TransactionFailed || s == TransactionAbandoned
}

// InitializeRequest opens a hosted checkout for one order.
type InitializeRequest struct {
	Reference   string
	Email       string
	Amount      decimal.Decimal
	Currency    string
	CallbackURL string
	Metadata    map[string]string
}

// Authorization is where the customer completes the payment.
type Authorization struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Transaction is a verified charge. Amount is in major units.
type Transaction struct {
	Status          TransactionStatus
	Reference       string
	Amount          decimal.Decimal
	Currency        string
	Channel         string
	PaidAt          *time.Time
	GatewayResponse string
}

// Gateway is the payment processor port.
type Gateway interface {
	Initialize(ctx context.Context, req InitializeRequest) (*Authorization, error)
	Verify(ctx context.Context, reference string) (*Transaction, error)
}

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	KindUnavailable     ErrorKind = "unavailable"
	KindRejected        ErrorKind = "rejected"
	KindInvalidAmount   ErrorKind = "invalid_amount"
	KindInvalidResponse ErrorKind = "invalid_response"
)

// Error is returned by every Gateway call that fails.
type Error struct {
	Op        string
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("payment %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("payment %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a gateway Error from err.
func AsError(err error) (*Error, bool) {
	var gerr *Error
	ok := errors.As(err, &gerr)
	return gerr, ok
}

// ToMinor converts a major-unit amount to the gateway's minor units (pesewas).
func ToMinor(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount %s must be positive", amount.String())
	}
	minor := amount.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than two decimal places", amount.String())
	}
	return minor.IntPart(), nil
}

// FromMinor converts minor units back to a major-unit amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// AmountMatches compares two major-unit amounts at minor-unit precision.
func AmountMatches(a, b decimal.Decimal) bool {
	return a.Round(2).Equal(b.Round(2))
}
