package dto

import (
	"time"

	paymentservice "github.com/Additional-Code/copra/internal/service/payment"
)

// PaymentInitializeResponse tells the client where to complete payment.
type PaymentInitializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code,omitempty"`
	Reference        string `json:"reference"`
	OrderNumber      string `json:"order_number"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
}

func NewPaymentInitializeResponse(r *paymentservice.InitializeResult) PaymentInitializeResponse {
	return PaymentInitializeResponse{
		AuthorizationURL: r.AuthorizationURL,
		AccessCode:       r.AccessCode,
		Reference:        r.Reference,
		OrderNumber:      r.OrderNumber,
		Amount:           r.Amount.StringFixed(2),
		Currency:         r.Currency,
	}
}

// PaymentVerifyResponse is the reconciled state of a payment.
type PaymentVerifyResponse struct {
	Status  string        `json:"status"`
	Amount  string        `json:"amount"`
	Channel string        `json:"channel,omitempty"`
	PaidAt  *time.Time    `json:"paid_at,omitempty"`
	Order   OrderResponse `json:"order"`
}

func NewPaymentVerifyResponse(r *paymentservice.Result, currency string) PaymentVerifyResponse {
	return PaymentVerifyResponse{
		Status:  string(r.Status),
		Amount:  r.Amount.StringFixed(2),
		Channel: r.Channel,
		PaidAt:  r.PaidAt,
		Order:   NewOrderResponse(r.Order, currency),
	}
}
