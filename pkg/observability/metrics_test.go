package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.GenerationRunsTotal.WithLabelValues("success").Inc()
	m.SubscriptionOrdersTotal.WithLabelValues("generated").Add(3)

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["subbill_generation_runs_total"])
	assert.True(t, names["subbill_subscription_orders_total"])
	assert.Equal(t, float64(3), testutil.ToFloat64(m.SubscriptionOrdersTotal.WithLabelValues("generated")))
}

func TestNewMetrics_NilRegistry(t *testing.T) {
	m := NewMetrics(nil)
	require.NotNil(t, m)
	m.PlanChangesTotal.WithLabelValues("upgrade").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PlanChangesTotal.WithLabelValues("upgrade")))
}

func TestRecordStorageOperation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordStorageOperation("save_pending", "sql", nil)
	m.RecordStorageOperation("save_pending", "sql", errors.New("locked"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.StorageOperationsTotal.WithLabelValues("save_pending", "sql", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StorageOperationsTotal.WithLabelValues("save_pending", "sql", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StorageErrorsTotal.WithLabelValues("save_pending", "sql")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.RecordStorageOperation("x", "y", nil) })
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m, func(*http.Request) string { return "/plans/{id}" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
		}),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/plans/pro", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("PUT", "/plans/{id}", "409")))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RenewalsTotal.WithLabelValues("renewed").Inc()

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "subbill_renewals_total")
}
