package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/copra/internal/entity"
	"github.com/Additional-Code/copra/pkg/errorbank"
)

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func pendingOrder() *entity.Order {
	return &entity.Order{
		ID:            1,
		Number:        "CO-20250314-0001",
		Items:         []entity.OrderItem{{ProductID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("25")}},
		Status:        entity.OrderStatusPending,
		PaymentStatus: entity.PaymentStatusPending,
		CreatedAt:     t0,
		Version:       1,
	}
}

func TestCanTransitionStatus(t *testing.T) {
	statuses := []entity.OrderStatus{
		entity.OrderStatusPending,
		entity.OrderStatusConfirmed,
		entity.OrderStatusProcessing,
		entity.OrderStatusShipped,
		entity.OrderStatusDelivered,
	}
	for i, from := range statuses {
		for j, to := range statuses {
			want := j > i && from != entity.OrderStatusDelivered
			assert.Equal(t, want, CanTransitionStatus(from, to), "%s -> %s", from, to)
		}
		assert.False(t, CanTransitionStatus(entity.OrderStatusCancelled, from))
	}
}

func TestCanTransitionPayment(t *testing.T) {
	allowed := map[[2]entity.PaymentStatus]bool{
		{entity.PaymentStatusPending, entity.PaymentStatusPaid}:   true,
		{entity.PaymentStatusPending, entity.PaymentStatusFailed}: true,
		{entity.PaymentStatusFailed, entity.PaymentStatusPaid}:    true,
		{entity.PaymentStatusFailed, entity.PaymentStatusPending}: true,
		{entity.PaymentStatusPaid, entity.PaymentStatusRefunded}:  true,
	}
	all := []entity.PaymentStatus{entity.PaymentStatusPending, entity.PaymentStatusPaid, entity.PaymentStatusFailed, entity.PaymentStatusRefunded}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]entity.PaymentStatus{from, to}], CanTransitionPayment(from, to), "%s -> %s", from, to)
		}
	}
}

func TestApplyStatusForwardOnly(t *testing.T) {
	o := pendingOrder()

	eff, err := applyStatus(o, entity.OrderStatusShipped, "dispatched with courier", t0)
	require.NoError(t, err)
	assert.True(t, eff.changed)
	assert.Equal(t, EventStatusChanged, eff.event)
	assert.Contains(t, o.Notes, "dispatched with courier")

	_, err = applyStatus(o, entity.OrderStatusProcessing, "", t0)
	assert.True(t, errorbank.IsKind(err, errorbank.KindInvalidTransition))
	assert.Equal(t, entity.OrderStatusShipped, o.Status)

	eff, err = applyStatus(o, entity.OrderStatusShipped, "", t0)
	require.NoError(t, err)
	assert.False(t, eff.changed)
}

func TestApplyStatusDeliveredSetsFlags(t *testing.T) {
	o := pendingOrder()
	o.Status = entity.OrderStatusShipped

	_, err := applyStatus(o, entity.OrderStatusDelivered, "", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, o.IsDelivered)
	require.NotNil(t, o.DeliveredAt)
	assert.Equal(t, t0.Add(time.Hour), *o.DeliveredAt)
}

func TestApplyStatusRejectsUnknown(t *testing.T) {
	_, err := applyStatus(pendingOrder(), entity.OrderStatus("lost"), "", t0)
	assert.True(t, errorbank.IsKind(err, errorbank.KindBadRequest))
}

func TestTerminalStatesRejectEveryTransition(t *testing.T) {
	for _, terminal := range []entity.OrderStatus{entity.OrderStatusDelivered, entity.OrderStatusCancelled} {
		t.Run(string(terminal), func(t *testing.T) {
			o := pendingOrder()
			o.Status = terminal
			before := *o

			_, err := applyStatus(o, entity.OrderStatusShipped, "", t0)
			assert.True(t, errorbank.IsKind(err, errorbank.KindInvalidTransition))
			_, err = applyStatus(o, terminal, "", t0)
			assert.True(t, errorbank.IsKind(err, errorbank.KindInvalidTransition))
			_, err = applyPayment(o, entity.PaymentStatusPaid, t0)
			assert.True(t, errorbank.IsKind(err, errorbank.KindInvalidTransition))
			_, err = applyCancel(o, entity.ActorAdmin, "", t0, time.Hour)
			assert.True(t, errorbank.IsKind(err, errorbank.KindInvalidTransition))

			assert.Equal(t, before.Status, o.Status)
			assert.Equal(t, before.PaymentStatus, o.PaymentStatus)
			assert.Equal(t, before.Notes, o.Notes)
		})
	}
}

func TestApplyPaymentPaidConfirmsAndDecrementsOnce(t *testing.T) {
	o := pendingOrder()

	eff, err := applyPayment(o, entity.PaymentStatusPaid, t0)
	require.NoError(t, err)
	assert.Equal(t, stockDecrement, eff.stock)
	assert.Equal(t, EventPaid, eff.event)
	assert.Equal(t, entity.OrderStatusConfirmed, o.Status)
	assert.True(t, o.IsPaid)
	assert.True(t, o.StockDecremented)
	require.NotNil(t, o.PaidAt)

	eff, err = applyPayment(o, entity.PaymentStatusPaid, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, eff.changed)
	assert.Equal(t, stockNone, eff.stock)
	assert.Equal(t, t0, *o.PaidAt)
}

func TestApplyPaymentAfterFailureRetries(t *testing.T) {
	o := pendingOrder()

	eff, err := applyPayment(o, entity.PaymentStatusFailed, t0)
	require.NoError(t, err)
	assert.Equal(t, EventPaymentFailed, eff.event)
	assert.False(t, o.IsPaid)
	assert.Equal(t, entity.OrderStatusPending, o.Status)

	eff, err = applyPayment(o, entity.PaymentStatusPaid, t0)
	require.NoError(t, err)
	assert.Equal(t, stockDecrement, eff.stock)
	assert.Equal(t, o.PaymentStatus == entity.PaymentStatusPaid, o.IsPaid)
}

func TestApplyPaymentRejectsInvalidMoves(t *testing.T) {
	o := pendingOrder()
	_, err := applyPayment(o, entity.PaymentStatusRefunded, t0)
	assert.True(t, errorbank.IsKind(err, errorbank.KindInvalidTransition))

	o.PaymentStatus = entity.PaymentStatusRefunded
	_, err = applyPayment(o, entity.PaymentStatusPaid, t0)
	assert.True(t, errorbank.IsKind(err, errorbank.KindInvalidTransition))
}

func TestApplyPaymentPaidKeepsLaterStatus(t *testing.T) {
	o := pendingOrder()
	o.Status = entity.OrderStatusProcessing

	_, err := applyPayment(o, entity.PaymentStatusPaid, t0)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusProcessing, o.Status)
}

func TestApplyCancelMatrix(t *testing.T) {
	cases := []struct {
		name       string
		status     entity.OrderStatus
		paid       bool
		actor      entity.Actor
		age        time.Duration
		wantReason string
		wantStock  stockEffect
		wantPay    entity.PaymentStatus
	}{
		{name: "customer pending fresh unpaid", status: entity.OrderStatusPending, actor: entity.ActorCustomer, age: time.Minute, wantPay: entity.PaymentStatusPending},
		{name: "customer pending 59m", status: entity.OrderStatusPending, actor: entity.ActorCustomer, age: 59 * time.Minute, wantPay: entity.PaymentStatusPending},
		{name: "customer pending 60m", status: entity.OrderStatusPending, actor: entity.ActorCustomer, age: time.Hour, wantReason: ReasonWindow},
		{name: "customer pending 61m", status: entity.OrderStatusPending, actor: entity.ActorCustomer, age: 61 * time.Minute, wantReason: ReasonWindow},
		{name: "customer confirmed", status: entity.OrderStatusConfirmed, paid: true, actor: entity.ActorCustomer, age: time.Minute, wantReason: ReasonStatus},
		{name: "admin pending 61m", status: entity.OrderStatusPending, actor: entity.ActorAdmin, age: 61 * time.Minute, wantPay: entity.PaymentStatusPending},
		{name: "admin confirmed paid", status: entity.OrderStatusConfirmed, paid: true, actor: entity.ActorAdmin, age: 48 * time.Hour, wantStock: stockRestore, wantPay: entity.PaymentStatusRefunded},
		{name: "admin shipped paid", status: entity.OrderStatusShipped, paid: true, actor: entity.ActorAdmin, age: time.Hour, wantStock: stockRestore, wantPay: entity.PaymentStatusRefunded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := pendingOrder()
			o.Status = tc.status
			if tc.paid {
				o.PaymentStatus = entity.PaymentStatusPaid
				o.IsPaid = true
				o.StockDecremented = true
			}

			eff, err := applyCancel(o, tc.actor, "changed my mind", t0.Add(tc.age), time.Hour)
			if tc.wantReason != "" {
				require.True(t, errorbank.IsKind(err, errorbank.KindNotCancellable), "got %v", err)
				assert.Equal(t, tc.wantReason, errorbank.From(err).Details()["reason"])
				assert.Equal(t, tc.status, o.Status)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, EventCancelled, eff.event)
			assert.Equal(t, tc.wantStock, eff.stock)
			assert.Equal(t, entity.OrderStatusCancelled, o.Status)
			assert.Equal(t, tc.wantPay, o.PaymentStatus)
			assert.Equal(t, o.PaymentStatus == entity.PaymentStatusPaid, o.IsPaid)
			assert.False(t, o.StockDecremented)
			assert.Equal(t, tc.actor, o.CancelledBy)
			assert.Equal(t, "changed my mind", o.CancelReason)
			require.NotNil(t, o.CancelledAt)
		})
	}
}
