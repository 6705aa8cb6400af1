package dto

import (
	"time"

	"github.com/Additional-Code/copra/internal/entity"
)

// OrderItemResponse is one snapshotted order line.
type OrderItemResponse struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"line_total"`
	ImageURL  string `json:"image_url,omitempty"`
}

// OrderResponse represents an order as exposed via transport layers. Money is rendered with two decimals.
type OrderResponse struct {
	ID               int64               `json:"id"`
	Number           string              `json:"order_number"`
	Customer         entity.CustomerInfo `json:"customer"`
	ShippingAddress  entity.Address      `json:"shipping_address"`
	Items            []OrderItemResponse `json:"items"`
	Subtotal         string              `json:"subtotal"`
	DeliveryFee      string              `json:"delivery_fee"`
	Total            string              `json:"total"`
	Currency         string              `json:"currency"`
	PaymentMethod    string              `json:"payment_method"`
	PaymentStatus    string              `json:"payment_status"`
	Status           string              `json:"order_status"`
	PaymentReference string              `json:"payment_reference,omitempty"`
	Notes            string              `json:"notes,omitempty"`
	IsPaid           bool                `json:"is_paid"`
	IsDelivered      bool                `json:"is_delivered"`
	CancelledBy      string              `json:"cancelled_by,omitempty"`
	CancelReason     string              `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	PaidAt           *time.Time          `json:"paid_at,omitempty"`
	DeliveredAt      *time.Time          `json:"delivered_at,omitempty"`
	CancelledAt      *time.Time          `json:"cancelled_at,omitempty"`
}

// NewOrderResponse maps an order entity.
func NewOrderResponse(o *entity.Order, currency string) OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResponse{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice.StringFixed(2),
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal().StringFixed(2),
			ImageURL:  it.ImageURL,
		})
	}
	return OrderResponse{
		ID:               o.ID,
		Number:           o.Number,
		Customer:         o.Customer,
		ShippingAddress:  o.ShippingAddress,
		Items:            items,
		Subtotal:         o.Subtotal.StringFixed(2),
		DeliveryFee:      o.DeliveryFee.StringFixed(2),
		Total:            o.Total.StringFixed(2),
		Currency:         currency,
		PaymentMethod:    string(o.PaymentMethod),
		PaymentStatus:    string(o.PaymentStatus),
		Status:           string(o.Status),
		PaymentReference: o.PaymentReference,
		Notes:            o.Notes,
		IsPaid:           o.IsPaid,
		IsDelivered:      o.IsDelivered,
		CancelledBy:      string(o.CancelledBy),
		CancelReason:     o.CancelReason,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
		PaidAt:           o.PaidAt,
		DeliveredAt:      o.DeliveredAt,
		CancelledAt:      o.CancelledAt,
	}
}

// NewOrderResponses maps a page of orders.
func NewOrderResponses(orders []entity.Order, currency string) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, NewOrderResponse(&orders[i], currency))
	}
	return out
}

// UpdateStatusRequest is the admin body for moving an order's fulfilment status.
type UpdateStatusRequest struct {
	Status entity.OrderStatus `json:"order_status" validate:"order_status"`
	Notes  string             `json:"notes,omitempty" validate:"max=1000"`
}

// UpdatePaymentRequest is the admin body for recording a payment outcome.
type UpdatePaymentRequest struct {
	PaymentStatus entity.PaymentStatus `json:"payment_status" validate:"payment_status"`
	Reference     string               `json:"payment_reference,omitempty" validate:"max=128"`
	IsPaid        *bool                `json:"is_paid,omitempty"`
}

// CancelRequest carries an optional cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// DeliveryFeeResponse quotes the delivery fee for a region.
type DeliveryFeeResponse struct {
	Region   string `json:"region"`
	Fee      string `json:"fee"`
	Currency string `json:"currency"`
	Known    bool   `json:"known_region"`
}
