package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// OrderStatuses lists fulfilment states in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentStatus is the settlement state of an order.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// PaymentMethod is how the customer intends to pay.
type PaymentMethod string

const (
	PaymentMethodMobileMoney  PaymentMethod = "mobile_money"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

// Actor identifies who initiated a lifecycle change.
type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorAdmin    Actor = "admin"
	ActorGateway  Actor = "gateway"
)

// CustomerInfo is the buyer's contact snapshot. Immutable after creation.
type CustomerInfo struct {
	Name     string `bun:"name" json:"name"`
	Email    string `bun:"email" json:"email"`
	Phone    string `bun:"phone" json:"phone"`
	WhatsApp string `bun:"whatsapp,nullzero" json:"whatsapp,omitempty"`
}

// Address is the delivery destination.
type Address struct {
	Street  string `bun:"street" json:"street"`
	City    string `bun:"city" json:"city"`
	Region  string `bun:"region" json:"region"`
	Country string `bun:"country" json:"country"`
	Zip     string `bun:"zip,nullzero" json:"zip,omitempty"`
}

// OrderItem is a line captured at checkout. Name and UnitPrice are snapshots of the
// product at creation time and are never refreshed from the live catalogue.
type OrderItem struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	ImageURL  string          `json:"image_url,omitempty"`
}

// LineTotal returns UnitPrice * Quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order represents a storefront order stored in the relational database.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID               int64           `bun:",pk,autoincrement" json:"id"`
	Number           string          `bun:"order_number,unique" json:"order_number"`
	Customer         CustomerInfo    `bun:"embed:customer_" json:"customer"`
	ShippingAddress  Address         `bun:"embed:shipping_" json:"shipping_address"`
	Items            []OrderItem     `bun:"items,type:jsonb" json:"items"`
	Subtotal         decimal.Decimal `bun:"subtotal,type:numeric(12,2)" json:"subtotal"`
	DeliveryFee      decimal.Decimal `bun:"delivery_fee,type:numeric(12,2)" json:"delivery_fee"`
	Total            decimal.Decimal `bun:"total,type:numeric(12,2)" json:"total"`
	PaymentMethod    PaymentMethod   `bun:"payment_method" json:"payment_method"`
	PaymentStatus    PaymentStatus   `bun:"payment_status" json:"payment_status"`
	Status           OrderStatus     `bun:"order_status" json:"order_status"`
	PaymentReference string          `bun:"payment_reference,nullzero" json:"payment_reference,omitempty"`
	Notes            string          `bun:"notes,nullzero" json:"notes,omitempty"`
	IsPaid           bool            `bun:"is_paid,notnull" json:"is_paid"`
	IsDelivered      bool            `bun:"is_delivered,notnull" json:"is_delivered"`
	StockDecremented bool            `bun:"stock_decremented,notnull" json:"-"`
	CancelledBy      Actor           `bun:"cancelled_by,nullzero" json:"cancelled_by,omitempty"`
	CancelReason     string          `bun:"cancel_reason,nullzero" json:"cancel_reason,omitempty"`
	CreatedAt        time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time       `bun:"updated_at,nullzero" json:"updated_at"`
	PaidAt           *time.Time      `bun:"paid_at" json:"paid_at,omitempty"`
	DeliveredAt      *time.Time      `bun:"delivered_at" json:"delivered_at,omitempty"`
	CancelledAt      *time.Time      `bun:"cancelled_at" json:"cancelled_at,omitempty"`
	Version          int             `bun:"version,notnull" json:"version"`
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	cp.PaidAt = cloneTime(o.PaidAt)
	cp.DeliveredAt = cloneTime(o.DeliveredAt)
	cp.CancelledAt = cloneTime(o.CancelledAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
