// Package metrics exposes Prometheus counters for turns, routing decisions,
// tool calls and LLM usage.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	TurnsTotal       *prometheus.CounterVec // by outcome
	TurnDuration     prometheus.Histogram
	ActiveTurns      prometheus.Gauge
	RoutingDecisions *prometheus.CounterVec // by supervisor and chosen member
	WorkerMessages   *prometheus.CounterVec // by worker
	ToolCalls        *prometheus.CounterVec // by tool and outcome
	LLMCalls         *prometheus.CounterVec // by model
	LLMTokens        *prometheus.CounterVec // by model and direction
	HopLimitExceeded prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers the collectors with reg. When reg is
// also a Gatherer, Handler serves it.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lookout_turns_total",
			Help: "Completed conversation turns by outcome",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lookout_turn_duration_seconds",
			Help:    "Wall time of a conversation turn",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		}),
		ActiveTurns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lookout_active_turns",
			Help: "Turns currently running",
		}),
		RoutingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lookout_routing_decisions_total",
			Help: "Supervisor routing decisions",
		}, []string{"supervisor", "next"}),
		WorkerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lookout_worker_messages_total",
			Help: "Messages appended by workers",
		}, []string{"worker"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lookout_tool_calls_total",
			Help: "Tool invocations by outcome",
		}, []string{"tool", "outcome"}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lookout_llm_calls_total",
			Help: "Chat completions sent to the model provider",
		}, []string{"model"}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lookout_llm_tokens_total",
			Help: "Tokens consumed by direction",
		}, []string{"model", "direction"}),
		HopLimitExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lookout_hop_limit_exceeded_total",
			Help: "Turns aborted by the hop limit",
		}),
	}

	reg.MustRegister(
		m.TurnsTotal, m.TurnDuration, m.ActiveTurns,
		m.RoutingDecisions, m.WorkerMessages, m.ToolCalls,
		m.LLMCalls, m.LLMTokens, m.HopLimitExceeded,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// TurnStarted marks a turn as running and returns a func that records its
// outcome.
func (m *Metrics) TurnStarted() func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.ActiveTurns.Inc()
	return func(outcome string) {
		m.ActiveTurns.Dec()
		m.TurnDuration.Observe(time.Since(start).Seconds())
		m.TurnsTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) RecordRouting(supervisor, next string) {
	if m == nil {
		return
	}
	m.RoutingDecisions.WithLabelValues(supervisor, next).Inc()
}

func (m *Metrics) RecordWorkerMessage(worker string) {
	if m == nil {
		return
	}
	m.WorkerMessages.WithLabelValues(worker).Inc()
}

func (m *Metrics) RecordToolCall(tool string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) RecordLLMCall(model string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.LLMCalls.WithLabelValues(model).Inc()
	m.LLMTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	m.LLMTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
}

func (m *Metrics) RecordHopLimit() {
	if m == nil {
		return
	}
	m.HopLimitExceeded.Inc()
}
