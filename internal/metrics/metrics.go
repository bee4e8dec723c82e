// Package metrics holds the Prometheus collectors for agent execution.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	agentRuns     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	notifications *prometheus.CounterVec
	throttle      *prometheus.CounterVec
	aiRequests    *prometheus.CounterVec
	quoteFetches  *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: g,
		agentRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "panwatch_agent_runs_total",
			Help: "Agent runs by final status",
		}, []string{"agent", "status"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "panwatch_agent_run_duration_seconds",
			Help:    "Agent run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"agent"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "panwatch_notifications_total",
			Help: "Notification attempts by outcome",
		}, []string{"agent", "outcome"}),
		throttle: f.NewCounterVec(prometheus.CounterOpts{
			Name: "panwatch_throttle_decisions_total",
			Help: "Throttle decisions by agent",
		}, []string{"agent", "decision"}),
		aiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "panwatch_ai_requests_total",
			Help: "AI provider requests by outcome",
		}, []string{"provider", "outcome"}),
		quoteFetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "panwatch_quote_fetches_total",
			Help: "Quote fetches by market and outcome",
		}, []string{"market", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) AgentRun(agent, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.agentRuns.WithLabelValues(agent, status).Inc()
	m.runDuration.WithLabelValues(agent).Observe(elapsed.Seconds())
}

func (m *Metrics) Notification(agent, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(agent, outcome).Inc()
}

func (m *Metrics) ThrottleDecision(agent, decision string) {
	if m == nil {
		return
	}
	m.throttle.WithLabelValues(agent, decision).Inc()
}

// AIRequest matches the ai.Observer signature once bound to a provider.
func (m *Metrics) AIRequest(provider string, err error, _ time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.aiRequests.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) QuoteFetch(market string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.quoteFetches.WithLabelValues(market, outcome).Inc()
}
