package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/Additional-Code/copra"

// Metrics holds the counters recorded by the order lifecycle.
type Metrics struct {
	ordersCreated        metric.Int64Counter
	orderTransitions     metric.Int64Counter
	inventoryAdjustments metric.Int64Counter
	inventoryAnomalies   metric.Int64Counter
	paymentWebhooks      metric.Int64Counter
}

// ProvideMetrics builds instruments on the manager's meter provider.
func ProvideMetrics(m *Manager) (*Metrics, error) {
	return NewMetrics(m.MeterProvider())
}

// NewMetrics registers every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	var (
		m   Metrics
		err error
	)
	if m.ordersCreated, err = meter.Int64Counter("copra.orders.created", metric.WithDescription("Orders accepted")); err != nil {
		return nil, err
	}
	if m.orderTransitions, err = meter.Int64Counter("copra.orders.transitions", metric.WithDescription("Applied order lifecycle transitions")); err != nil {
		return nil, err
	}
	if m.inventoryAdjustments, err = meter.Int64Counter("copra.inventory.adjustments", metric.WithDescription("Stock lines adjusted")); err != nil {
		return nil, err
	}
	if m.inventoryAnomalies, err = meter.Int64Counter("copra.inventory.anomalies", metric.WithDescription("Stock adjustments that left a product below zero")); err != nil {
		return nil, err
	}
	if m.paymentWebhooks, err = meter.Int64Counter("copra.payments.webhooks", metric.WithDescription("Gateway webhooks by outcome")); err != nil {
		return nil, err
	}
	return &m, nil
}

// NoopMetrics returns instruments that record nothing.
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func (m *Metrics) OrderCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.ordersCreated.Add(ctx, 1)
}

func (m *Metrics) OrderTransition(ctx context.Context, kind, to string) {
	if m == nil {
		return
	}
	m.orderTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind), attribute.String("to", to)))
}

func (m *Metrics) InventoryAdjusted(ctx context.Context, direction string, lines int) {
	if m == nil || lines == 0 {
		return
	}
	m.inventoryAdjustments.Add(ctx, int64(lines), metric.WithAttributes(attribute.String("direction", direction)))
}

func (m *Metrics) InventoryAnomaly(ctx context.Context) {
	if m == nil {
		return
	}
	m.inventoryAnomalies.Add(ctx, 1)
}

func (m *Metrics) PaymentWebhook(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.paymentWebhooks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
