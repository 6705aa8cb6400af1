package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/copra/internal/config"
)

func TestPrometheusHandlerServesDomainMetrics(t *testing.T) {
	cfg := config.Observability{
		ServiceName:     "copra",
		Environment:     "test",
		EnableMetrics:   true,
		MetricsExporter: "prometheus",
		PrometheusPath:  "/metrics",
	}
	mgr, err := newManager(context.Background(), cfg, "GHS", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	require.True(t, mgr.MetricsEnabled())
	assert.False(t, mgr.TracingEnabled())

	metrics, err := NewMetrics(mgr.MeterProvider())
	require.NoError(t, err)
	metrics.OrderCreated(context.Background())

	rec := httptest.NewRecorder()
	mgr.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "copra_orders_created")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestUnsupportedExportersDisableQuietly(t *testing.T) {
	cfg := config.Observability{
		EnableTracing:   true,
		TraceExporter:   "zipkin",
		EnableMetrics:   true,
		MetricsExporter: "statsd",
	}
	mgr, err := newManager(context.Background(), cfg, "GHS", zap.NewNop())
	require.NoError(t, err)

	assert.False(t, mgr.TracingEnabled())
	assert.False(t, mgr.MetricsEnabled())
	assert.Nil(t, mgr.MetricsHandler())
	assert.NoError(t, mgr.Shutdown(context.Background()))
}
