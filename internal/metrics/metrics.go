// Package metrics provides Prometheus metrics for the DM bot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bot. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Pipeline metrics
	InboundEventsTotal *prometheus.CounterVec
	IntentsTotal       *prometheus.CounterVec
	ShortCircuitsTotal *prometheus.CounterVec
	PipelineDuration   prometheus.Histogram

	// Provider metrics
	ProviderCallsTotal *prometheus.CounterVec
	ProviderLatency    *prometheus.HistogramVec

	// Outbound metrics
	GuardrailRewritesTotal *prometheus.CounterVec
	DispatchesTotal        *prometheus.CounterVec
	FollowupsTotal         *prometheus.CounterVec
}

// New creates the metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{}

	m.InboundEventsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmbot_inbound_events_total",
			Help: "Total number of inbound webhook events by message type",
		},
		[]string{"type"},
	)
	m.IntentsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmbot_intents_total",
			Help: "Router decisions by intent",
		},
		[]string{"intent"},
	)
	m.ShortCircuitsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmbot_short_circuits_total",
			Help: "Replies produced without a model call, by handler",
		},
		[]string{"handler"},
	)
	m.PipelineDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dmbot_pipeline_duration_seconds",
			Help:    "Time spent handling one inbound event",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.ProviderCallsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmbot_provider_calls_total",
			Help: "Model provider calls by provider and status",
		},
		[]string{"provider", "status"},
	)
	m.ProviderLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dmbot_provider_latency_seconds",
			Help:    "Model provider call latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		},
		[]string{"provider"},
	)

	m.GuardrailRewritesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmbot_guardrail_rewrites_total",
			Help: "Generated replies replaced by the guardrail, by reason",
		},
		[]string{"reason"},
	)
	m.DispatchesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmbot_dispatches_total",
			Help: "Outbound sends by plan type and status",
		},
		[]string{"plan_type", "status"},
	)
	m.FollowupsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmbot_followups_total",
			Help: "Followup tasks processed by final status",
		},
		[]string{"status"},
	)
	return m
}

func (m *Metrics) Inbound(msgType string) {
	if m == nil {
		return
	}
	m.InboundEventsTotal.WithLabelValues(msgType).Inc()
}

func (m *Metrics) Intent(intent string) {
	if m == nil {
		return
	}
	m.IntentsTotal.WithLabelValues(intent).Inc()
}

func (m *Metrics) ShortCircuit(handler string) {
	if m == nil {
		return
	}
	m.ShortCircuitsTotal.WithLabelValues(handler).Inc()
}

func (m *Metrics) ObservePipeline(start time.Time) {
	if m == nil {
		return
	}
	m.PipelineDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ProviderCall(provider string, ok bool, start time.Time) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.ProviderCallsTotal.WithLabelValues(provider, status).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

func (m *Metrics) GuardrailRewrite(reasons []string) {
	if m == nil {
		return
	}
	for _, r := range reasons {
		m.GuardrailRewritesTotal.WithLabelValues(r).Inc()
	}
}

func (m *Metrics) Dispatch(planType, status string) {
	if m == nil {
		return
	}
	m.DispatchesTotal.WithLabelValues(planType, status).Inc()
}

func (m *Metrics) Followup(status string) {
	if m == nil {
		return
	}
	m.FollowupsTotal.WithLabelValues(status).Inc()
}
