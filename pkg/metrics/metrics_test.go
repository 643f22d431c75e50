package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.VersionCreated()
	m.AlertCreated("r", "warning")
	m.JobRun("x", "failed", time.Second)
	h := m.Instrument(http.NotFoundHandler())
	assert.NotNil(t, h)
}

func TestCounters(t *testing.T) {
	m := New(nil)
	m.AlertCreated("burst-per-subject-per-resource", "warning")
	m.AlertCreated("burst-per-subject-per-resource", "warning")
	m.PolicyDecision("no_match")
	m.JobRun("cleanup_alerts", "skipped", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.alertsCreated.WithLabelValues("burst-per-subject-per-resource", "warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.policyDecisions.WithLabelValues("no_match")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("cleanup_alerts", "skipped")))
}

func TestInstrument_UsesRoutePattern(t *testing.T) {
	m := New(nil)
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/abc", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/documents/{id}", "418")))

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "docflow_http_requests_total")
}
