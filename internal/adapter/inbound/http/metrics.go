package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sentinel-Gate/toolproxy/internal/domain/proxy"
	"github.com/Sentinel-Gate/toolproxy/internal/domain/tool"
)

// Metrics holds the Prometheus metrics for the proxy. It implements
// proxy.Recorder so the orchestrator reports every call to it.
type Metrics struct {
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec
	RiskScore        *prometheus.HistogramVec
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
}

var _ proxy.Recorder = (*Metrics)(nil)

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ToolCallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolproxy",
				Name:      "tool_calls_total",
				Help:      "Total tool calls handled, by server and outcome",
			},
			[]string{"server", "outcome"}, // outcome=success or an error kind
		),
		ToolCallDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "toolproxy",
				Name:      "tool_call_duration_seconds",
				Help:      "Tool call duration in seconds, validation to result",
				Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"server"},
		),
		RiskScore: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "toolproxy",
				Name:      "risk_score",
				Help:      "Risk score of assessed tool calls",
				Buckets:   prometheus.LinearBuckets(0, 1, 13),
			},
			[]string{"server"},
		),
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolproxy",
				Name:      "http_requests_total",
				Help:      "Total HTTP API requests",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "toolproxy",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
}

// RegisterAuditDrops exposes an audit drop counter owned elsewhere.
func RegisterAuditDrops(reg prometheus.Registerer, dropped func() int64) prometheus.CounterFunc {
	return promauto.With(reg).NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "toolproxy",
			Name:      "audit_drops_total",
			Help:      "Total audit records dropped due to backpressure",
		},
		func() float64 { return float64(dropped()) },
	)
}

// RecordToolCall records one finished call.
func (m *Metrics) RecordToolCall(serverID string, result proxy.ToolCallResult, assessment *tool.Assessment) {
	outcome := "success"
	if !result.Success {
		outcome = string(result.Kind)
	}
	m.ToolCallsTotal.WithLabelValues(serverID, outcome).Inc()
	m.ToolCallDuration.WithLabelValues(serverID).Observe(float64(result.DurationMs) / 1000)
	if assessment != nil {
		m.RiskScore.WithLabelValues(serverID).Observe(float64(assessment.Score))
	}
}
