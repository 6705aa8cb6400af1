package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/copra/internal/config"
	"github.com/Additional-Code/copra/internal/entity"
	"github.com/Additional-Code/copra/internal/observability"
	"github.com/Additional-Code/copra/internal/payment"
	orderservice "github.com/Additional-Code/copra/internal/service/order"
	"github.com/Additional-Code/copra/internal/validation"
	"github.com/Additional-Code/copra/pkg/errorbank"
)

const secret = "sk_test_secret"

type fakeOrders struct {
	mu       sync.Mutex
	orders   map[string]*entity.Order
	updates  []orderservice.PaymentUpdate
	attached []string
}

func newFakeOrders(orders ...*entity.Order) *fakeOrders {
	f := &fakeOrders{orders: map[string]*entity.Order{}}
	for _, o := range orders {
		f.orders[o.Number] = o
	}
	return f
}

func (f *fakeOrders) Get(_ context.Context, ref string) (*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[ref]; ok {
		return o.Clone(), nil
	}
	return nil, errorbank.NotFound("order not found")
}

func (f *fakeOrders) FindByPaymentReference(_ context.Context, reference string) (*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.PaymentReference == reference {
			return o.Clone(), nil
		}
	}
	return nil, errorbank.NotFound("order not found")
}

func (f *fakeOrders) AttachPaymentReference(_ context.Context, ref, reference string) (*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[ref]
	o.PaymentReference = reference
	f.attached = append(f.attached, reference)
	return o.Clone(), nil
}

func (f *fakeOrders) UpdatePaymentStatus(_ context.Context, ref string, u orderservice.PaymentUpdate) (*entity.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[ref]
	f.updates = append(f.updates, u)
	o.PaymentStatus = u.Status
	o.IsPaid = u.Status == entity.PaymentStatusPaid
	if o.IsPaid && o.Status == entity.OrderStatusPending {
		o.Status = entity.OrderStatusConfirmed
	}
	return o.Clone(), nil
}

func (f *fakeOrders) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeEvents struct {
	mu     sync.Mutex
	nextID int64
	rows   map[string]*entity.PaymentEvent
	fail   error
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{rows: map[string]*entity.PaymentEvent{}}
}

func (f *fakeEvents) Record(_ context.Context, ev *entity.PaymentEvent) (*entity.PaymentEvent, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, false, f.fail
	}
	key := ev.Reference + "|" + ev.Event
	if existing, ok := f.rows[key]; ok {
		cp := *existing
		return &cp, false, nil
	}
	f.nextID++
	ev.ID = f.nextID
	ev.Status = entity.PaymentEventReceived
	cp := *ev
	f.rows[key] = &cp
	return ev, true, nil
}

func (f *fakeEvents) set(id int64, status entity.PaymentEventStatus, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.ID == id {
			row.Status = status
			row.Error = cause
			row.Attempts++
			return nil
		}
	}
	return errors.New("no such event")
}

func (f *fakeEvents) MarkProcessed(_ context.Context, id int64) error {
	return f.set(id, entity.PaymentEventProcessed, "")
}

func (f *fakeEvents) MarkFailed(_ context.Context, id int64, cause string) error {
	return f.set(id, entity.PaymentEventFailed, cause)
}

func (f *fakeEvents) status(reference, event string) entity.PaymentEventStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[reference+"|"+event]; ok {
		return row.Status
	}
	return ""
}

type fakeGateway struct {
	initErr error
	tx      *payment.Transaction
	err     error
	lastReq payment.InitializeRequest
}

func (g *fakeGateway) Initialize(_ context.Context, req payment.InitializeRequest) (*payment.Authorization, error) {
	g.lastReq = req
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &payment.Authorization{AuthorizationURL: "https://checkout.test/" + req.Reference, AccessCode: "code", Reference: req.Reference}, nil
}

func (g *fakeGateway) Verify(_ context.Context, reference string) (*payment.Transaction, error) {
	if g.err != nil {
		return nil, g.err
	}
	tx := *g.tx
	tx.Reference = reference
	return &tx, nil
}

type fixture struct {
	svc     *Service
	orders  *fakeOrders
	events  *fakeEvents
	gateway *fakeGateway
}

func pendingOrder() *entity.Order {
	return &entity.Order{
		ID:            1,
		Number:        "CO-20250314-0001",
		Customer:      entity.CustomerInfo{Name: "Ama Mensah", Email: "ama@example.com"},
		Total:         decimal.RequireFromString("60.00"),
		Status:        entity.OrderStatusPending,
		PaymentStatus: entity.PaymentStatusPending,
	}
}

func newFixture(t *testing.T, orders ...*entity.Order) *fixture {
	t.Helper()
	f := &fixture{
		orders:  newFakeOrders(orders...),
		events:  newFakeEvents(),
		gateway: &fakeGateway{},
	}
	f.svc = NewService(Params{
		Orders:    f.orders,
		Events:    f.events,
		Gateway:   f.gateway,
		Validator: validation.New(),
		Config: config.Config{
			Store:   config.Store{Currency: "GHS"},
			Payment: config.Payment{SecretKey: secret, CallbackURL: "https://shop.test/payment/callback"},
		},
		Logger:  zap.NewNop(),
		Metrics: observability.NoopMetrics(),
	})
	return f
}

func webhook(event, reference, status string, minor int64) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"data":{"status":%q,"reference":%q,"amount":%d,"currency":"GHS","channel":"mobile_money"}}`, event, status, reference, minor))
}

func TestInitializeAttachesReference(t *testing.T) {
	f := newFixture(t, pendingOrder())

	res, err := f.svc.Initialize(context.Background(), InitializeInput{OrderRef: "CO-20250314-0001", Metadata: map[string]string{"order_number": "spoofed", "source": "web"}})
	require.NoError(t, err)

	assert.Regexp(t, `^CO-20250314-0001-[0-9a-f]{8}$`, res.Reference)
	assert.Equal(t, []string{res.Reference}, f.orders.attached)
	assert.Equal(t, "ama@example.com", f.gateway.lastReq.Email)
	assert.Equal(t, "60.00", f.gateway.lastReq.Amount.StringFixed(2))
	assert.Equal(t, "GHS", f.gateway.lastReq.Currency)
	assert.Equal(t, "CO-20250314-0001", f.gateway.lastReq.Metadata["order_number"])
	assert.Equal(t, "web", f.gateway.lastReq.Metadata["source"])
}

func TestInitializeGuards(t *testing.T) {
	paid := pendingOrder()
	paid.Number = "CO-20250314-0002"
	paid.PaymentStatus = entity.PaymentStatusPaid
	paid.IsPaid = true
	cancelled := pendingOrder()
	cancelled.Number = "CO-20250314-0003"
	cancelled.Status = entity.OrderStatusCancelled
	f := newFixture(t, pendingOrder(), paid, cancelled)
	ctx := context.Background()

	_, err := f.svc.Initialize(ctx, InitializeInput{OrderRef: paid.Number})
	assert.True(t, errorbank.IsKind(err, errorbank.KindInvalidTransition))
	_, err = f.svc.Initialize(ctx, InitializeInput{OrderRef: cancelled.Number})
	assert.True(t, errorbank.IsKind(err, errorbank.KindInvalidTransition))

	wrong := decimal.RequireFromString("59.99")
	_, err = f.svc.Initialize(ctx, InitializeInput{OrderRef: "CO-20250314-0001", Amount: &wrong})
	assert.True(t, errorbank.IsKind(err, errorbank.KindBadRequest))

	_, err = f.svc.Initialize(ctx, InitializeInput{OrderRef: " "})
	assert.True(t, errorbank.IsKind(err, errorbank.KindBadRequest))

	f.gateway.initErr = &payment.Error{Op: "initialize", Kind: payment.KindUnavailable, Retryable: true, Err: errors.New("dial tcp: timeout")}
	_, err = f.svc.Initialize(ctx, InitializeInput{OrderRef: "CO-20250314-0001"})
	require.True(t, errorbank.IsKind(err, errorbank.KindGateway))
	assert.Equal(t, true, errorbank.From(err).Details()["retryable"])
	assert.Empty(t, f.orders.attached)
}

func TestVerifySuccessMarksPaidOnce(t *testing.T) {
	o := pendingOrder()
	o.PaymentReference = "CO-20250314-0001-0a1b2c3d"
	f := newFixture(t, o)
	f.gateway.tx = &payment.Transaction{Status: payment.TransactionSuccess, Amount: decimal.RequireFromString("60"), Channel: "card"}
	ctx := context.Background()

	res, err := f.svc.Verify(ctx, o.PaymentReference)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusPaid, res.Order.PaymentStatus)
	assert.Equal(t, entity.OrderStatusConfirmed, res.Order.Status)
	assert.Equal(t, "card", res.Channel)

	_, err = f.svc.Verify(ctx, o.PaymentReference)
	require.NoError(t, err)
	assert.Equal(t, 1, f.orders.updateCount())
	require.NotNil(t, f.orders.updates[0].IsPaid)
	assert.True(t, *f.orders.updates[0].IsPaid)
}

func TestVerifyAmountMismatchDoesNotPay(t *testing.T) {
	o := pendingOrder()
	o.PaymentReference = "CO-20250314-0001-0a1b2c3d"
	f := newFixture(t, o)
	f.gateway.tx = &payment.Transaction{Status: payment.TransactionSuccess, Amount: decimal.RequireFromString("6.00")}

	_, err := f.svc.Verify(context.Background(), o.PaymentReference)
	require.True(t, errorbank.IsKind(err, errorbank.KindUnprocessableEntity))
	assert.Equal(t, "amount_mismatch", errorbank.From(err).Details()["code"])
	assert.Zero(t, f.orders.updateCount())
}

func TestVerifyFailureOnlyMovesPending(t *testing.T) {
	o := pendingOrder()
	o.PaymentReference = "CO-20250314-0001-0a1b2c3d"
	f := newFixture(t, o)
	f.gateway.tx = &payment.Transaction{Status: payment.TransactionAbandoned, Amount: decimal.RequireFromString("60")}
	ctx := context.Background()

	res, err := f.svc.Verify(ctx, o.PaymentReference)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusFailed, res.Order.PaymentStatus)

	_, err = f.svc.Verify(ctx, o.PaymentReference)
	require.NoError(t, err)
	assert.Equal(t, 1, f.orders.updateCount())
}

func TestVerifyStillPendingIsNoop(t *testing.T) {
	o := pendingOrder()
	o.PaymentReference = "CO-20250314-0001-0a1b2c3d"
	f := newFixture(t, o)
	f.gateway.tx = &payment.Transaction{Status: payment.TransactionOngoing, Amount: decimal.RequireFromString("60")}

	res, err := f.svc.Verify(context.Background(), o.PaymentReference)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusPending, res.Order.PaymentStatus)
	assert.Zero(t, f.orders.updateCount())
}

func TestVerifyFallsBackToNumberInReference(t *testing.T) {
	o := pendingOrder()
	o.PaymentReference = "CO-20250314-0001-ffffffff"
	f := newFixture(t, o)
	f.gateway.tx = &payment.Transaction{Status: payment.TransactionSuccess, Amount: decimal.RequireFromString("60")}

	res, err := f.svc.Verify(context.Background(), "CO-20250314-0001-0a1b2c3d")
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusPaid, res.Order.PaymentStatus)

	_, err = f.svc.Verify(context.Background(), "unknown-ref")
	assert.True(t, errorbank.IsKind(err, errorbank.KindNotFound))
}

func TestVerifyGatewayErrors(t *testing.T) {
	f := newFixture(t, pendingOrder())
	f.gateway.err = &payment.Error{Op: "verify", Kind: payment.KindRejected, Err: errors.New("status 400")}

	_, err := f.svc.Verify(context.Background(), "CO-20250314-0001-0a1b2c3d")
	require.True(t, errorbank.IsKind(err, errorbank.KindGateway))
	assert.Equal(t, false, errorbank.From(err).Details()["retryable"])
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t, pendingOrder())
	body := webhook(payment.EventChargeSuccess, "CO-20250314-0001-0a1b2c3d", "success", 6000)

	outcome, err := f.svc.HandleWebhook(context.Background(), body, payment.Sign("wrong", body))
	require.True(t, errorbank.IsKind(err, errorbank.KindUnauthorized))
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Zero(t, f.orders.updateCount())
}

func TestWebhookReplayProcessesOnce(t *testing.T) {
	o := pendingOrder()
	o.PaymentReference = "CO-20250314-0001-0a1b2c3d"
	f := newFixture(t, o)
	body := webhook(payment.EventChargeSuccess, o.PaymentReference, "success", 6000)
	sig := payment.Sign(secret, body)
	ctx := context.Background()

	outcome, err := f.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	outcome, err = f.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	assert.Equal(t, 1, f.orders.updateCount())
	assert.Equal(t, entity.PaymentEventProcessed, f.events.status(o.PaymentReference, payment.EventChargeSuccess))
}

func TestWebhookForCancelledOrderNeedsManualRefund(t *testing.T) {
	o := pendingOrder()
	o.PaymentReference = "CO-20250314-0001-0a1b2c3d"
	o.Status = entity.OrderStatusCancelled
	f := newFixture(t, o)
	body := webhook(payment.EventChargeSuccess, o.PaymentReference, "success", 6000)

	outcome, err := f.svc.HandleWebhook(context.Background(), body, payment.Sign(secret, body))
	require.NoError(t, err, "webhooks are acknowledged even when processing fails")
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Zero(t, f.orders.updateCount())
	assert.Equal(t, entity.PaymentEventFailed, f.events.status(o.PaymentReference, payment.EventChargeSuccess))
}

func TestWebhookFailedEventIsRetriedOnRedelivery(t *testing.T) {
	f := newFixture(t, pendingOrder())
	// reference not attached and not derivable: processing fails
	body := webhook(payment.EventChargeSuccess, "orphan-ref", "success", 6000)
	sig := payment.Sign(secret, body)

	outcome, err := f.svc.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	f.orders.orders["CO-20250314-0001"].PaymentReference = "orphan-ref"
	outcome, err = f.svc.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
}

func TestWebhookChargeFailed(t *testing.T) {
	o := pendingOrder()
	o.PaymentReference = "CO-20250314-0001-0a1b2c3d"
	f := newFixture(t, o)
	body := webhook(payment.EventChargeFailed, o.PaymentReference, "failed", 6000)

	outcome, err := f.svc.HandleWebhook(context.Background(), body, payment.Sign(secret, body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	require.Len(t, f.orders.updates, 1)
	assert.Equal(t, entity.PaymentStatusFailed, f.orders.updates[0].Status)
}

func TestWebhookAcknowledgesUnusableDeliveries(t *testing.T) {
	f := newFixture(t, pendingOrder())
	ctx := context.Background()

	for _, body := range [][]byte{
		[]byte(`{"event":"transfer.success","data":{"reference":"x"}}`),
		[]byte(`not json`),
	} {
		outcome, err := f.svc.HandleWebhook(ctx, body, payment.Sign(secret, body))
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
	}

	f.events.fail = errors.New("db down")
	body := webhook(payment.EventChargeSuccess, "CO-20250314-0001-0a1b2c3d", "success", 6000)
	outcome, err := f.svc.HandleWebhook(ctx, body, payment.Sign(secret, body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
}

func TestReferenceRoundTrip(t *testing.T) {
	ref := NewReference("CO-20250314-0042")
	number, ok := NumberFromReference(ref)
	require.True(t, ok)
	assert.Equal(t, "CO-20250314-0042", number)
	assert.NotEqual(t, ref, NewReference("CO-20250314-0042"))

	_, ok = NumberFromReference("CO-20250314-0042")
	assert.False(t, ok)
	_, ok = NumberFromReference("random-abcdefgh")
	assert.False(t, ok)
}
