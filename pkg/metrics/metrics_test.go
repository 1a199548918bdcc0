package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PollCycle(time.Second)
		m.FetchError(ResourceSample)
		m.SampleAppended(time.Now())
		m.Notification("on")
		m.IntentsPending(3)
		m.Toggle(true)
		m.AnalysisRun(false)
	})
	assert.Nil(t, m.Registry())

	called := false
	h := m.WrapHandler("x", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.True(t, called)
}

func TestCounters(t *testing.T) {
	m := New()
	m.PollCycle(10 * time.Millisecond)
	m.PollCycle(20 * time.Millisecond)
	m.FetchError(ResourceDevices)
	m.Notification("off")
	m.Toggle(false)
	m.IntentsPending(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pollCycles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchErrors.WithLabelValues(ResourceDevices)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.fetchErrors.WithLabelValues(ResourceSample)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("off")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toggles.WithLabelValues("failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.intentsPending))
}

func TestHandler(t *testing.T) {
	m := New()
	m.SampleAppended(time.Unix(1700000000, 0))

	wrapped := m.WrapHandler("teapot", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/teapot", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "gridsync_samples_appended_total 1")
	assert.Contains(t, body, `gridsync_http_requests_total{route="teapot",status="418"} 1`)
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
