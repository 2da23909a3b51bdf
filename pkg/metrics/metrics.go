// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMStreamDuration tracks LLM streaming response duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// RateGateDecisions counts rate gate outcomes.
	RateGateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_gate_decisions_total",
			Help: "Upstream rate gate decisions by outcome",
		},
		[]string{"outcome"},
	)

	// RateGateTokens tracks the soft token count of the rate gate.
	RateGateTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rate_gate_tokens",
			Help: "Tokens currently available in the upstream rate gate",
		},
	)

	// BroadcastChannelsActive tracks open push channels.
	BroadcastChannelsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_channels_active",
			Help: "Number of open push channels",
		},
	)

	// BroadcastPublishes tracks published events.
	BroadcastPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_publishes_total",
			Help: "Events published to conversation observers",
		},
		[]string{"event"},
	)

	// BroadcastWriteFailures tracks channels closed because a write failed.
	BroadcastWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_write_failures_total",
			Help: "Push channel writes that failed and closed the channel",
		},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks total messages persisted.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages persisted",
		},
		[]string{"role"},
	)

	// TrailingDeleteFailures counts edits whose history truncation failed.
	TrailingDeleteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "message_trailing_delete_failures_total",
			Help: "Committed edits whose trailing-message delete failed",
		},
	)

	// ArtifactsGenerated tracks artifact versions written by tools.
	ArtifactsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifacts_generated_total",
			Help: "Artifact versions generated by tools",
		},
		[]string{"kind", "tool"},
	)

	// JobsTotal tracks background jobs by outcome.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_total",
			Help: "Background jobs by outcome",
		},
		[]string{"job", "outcome"},
	)

	// JobDuration tracks background job duration.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Background job duration",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"job"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for an LLM streaming response.
func RecordLLMStream(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMStreamDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// IncrementChannels increments the open push channel count.
func IncrementChannels() {
	BroadcastChannelsActive.Inc()
}

// DecrementChannels decrements the open push channel count.
func DecrementChannels() {
	BroadcastChannelsActive.Dec()
}

// RecordJob records the outcome and duration of a background job.
func RecordJob(job, outcome string, duration float64) {
	JobsTotal.WithLabelValues(job, outcome).Inc()
	JobDuration.WithLabelValues(job).Observe(duration)
}
