package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	done := m.TurnStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveTurns))
	done("success")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveTurns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("success")))

	m.RecordRouting("top_level_supervisor", "problems_team")
	m.RecordToolCall("execute_dql", false)
	m.RecordLLMCall("gemini-2.5-flash", 120, 30)
	m.RecordHopLimit()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoutingDecisions.WithLabelValues("top_level_supervisor", "problems_team")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("execute_dql", "error")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.LLMTokens.WithLabelValues("gemini-2.5-flash", "input")))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.LLMTokens.WithLabelValues("gemini-2.5-flash", "output")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HopLimitExceeded))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TurnStarted()("error")
		m.RecordRouting("a", "b")
		m.RecordWorkerMessage("w")
		m.RecordToolCall("t", true)
		m.RecordLLMCall("m", 1, 1)
		m.RecordHopLimit()
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordWorkerMessage("telemetry_fetcher")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `lookout_worker_messages_total{worker="telemetry_fetcher"} 1`)
}
