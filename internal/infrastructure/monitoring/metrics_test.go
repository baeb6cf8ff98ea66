package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordNavigation("chromium/restrictive")
		m.RecordDelivery("page", "start")
		m.RecordHandshake("ok")
		m.AddRetriaged(3)
		m.RecordTardy("suspected-stall")
		m.IncReportsDropped()
		m.RecordExecutorAttempt("legacy", "error")
		m.SetOneShotsActive(1)
		m.RecordDiagnostic("startup-stalled")
		m.IncDiagnosticsDeduped()
		m.RecordHTTPRequest("GET", "/health", "200", time.Millisecond)
	})
	assert.Equal(t, Snapshot{}, m.GetSnapshot())
}

func TestIndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordDelivery("page", "end")
	a.RecordDelivery("page", "end")

	assert.Equal(t, 2.0, testutil.ToFloat64(a.Deliveries.WithLabelValues("page", "end")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Deliveries.WithLabelValues("page", "end")))
}

func TestSnapshotCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordNavigation("firefox/permissive")
	m.RecordTardy("awaiting-start")
	m.RecordTardy("suspected-stall")
	m.RecordExecutorAttempt("userscripts-execute", "ok")
	m.RecordExecutorAttempt("legacy", "error")

	s := m.GetSnapshot()
	assert.Equal(t, int64(1), s.Navigations)
	assert.Equal(t, int64(1), s.Stalls)
	assert.Equal(t, int64(1), s.ExecFailures)
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := NewMetrics()
	m.RecordHandshake("unreachable")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `injectcore_vault_handshakes_total{outcome="unreachable"} 1`)
}
