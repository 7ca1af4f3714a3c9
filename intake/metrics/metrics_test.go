package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveEvent("text", OutcomeOK, 3*time.Millisecond)
	m.ObserveEvent("text", OutcomeOK, time.Millisecond)
	m.ObserveSubmission("repair", "sysadmin")
	m.ObserveDeliveryFailure("operator")
	m.ObserveExpired(2)
	m.ObserveExpired(0)
	m.SetSessions(map[string]int{"in_flow": 3}, "in_flow", "awaiting_confirmation")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("text", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("repair", "sysadmin")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveryFailures.WithLabelValues("operator")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.expired))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessions.WithLabelValues("in_flow")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessions.WithLabelValues("awaiting_confirmation")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEvent("text", OutcomeOK, time.Millisecond)
		m.ObserveSubmission("repair", "repair")
		m.ObserveDeliveryFailure("user")
		m.ObserveJournalFailure()
		m.ObserveExpired(1)
		m.SetSessions(nil, "in_flow")
	})
	assert.Nil(t, m.Registry())
}

func TestServerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveSubmission("courier", "courier")

	srv := NewServer("127.0.0.1:0", "", m)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	assert.Error(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `servicebot_intake_submissions_total{flow="courier",variant="courier"} 1`)

	health, err := http.Get("http://" + srv.Addr().String() + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
