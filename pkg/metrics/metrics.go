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

	// LLMRequestDuration tracks voice runtime model call duration.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60},
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

	// SessionsActive tracks configuration sessions currently running on this worker.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voice_sessions_active",
			Help: "Number of active voice configuration sessions",
		},
	)

	// SessionsTotal tracks finished sessions by outcome.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_sessions_total",
			Help: "Total voice configuration sessions by outcome",
		},
		[]string{"outcome"},
	)

	// ToolCallsTotal tracks tool invocations from the voice runtime.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_tool_calls_total",
			Help: "Total tool calls by tool and result",
		},
		[]string{"tool", "result"},
	)

	// EventsPublishedTotal tracks broadcast attempts.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_events_published_total",
			Help: "Total configuration events published by type and status",
		},
		[]string{"type", "status"},
	)

	// DataMessagesTotal tracks inbound data-channel messages.
	DataMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_data_messages_total",
			Help: "Total inbound data-channel messages by status",
		},
		[]string{"status"},
	)

	// RoomDeletesTotal tracks room teardown attempts.
	RoomDeletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voice_room_deletes_total",
			Help: "Total room deletion attempts by status",
		},
		[]string{"status"},
	)

	// EventStreamsActive tracks open configuration event streams.
	EventStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voice_event_streams_active",
			Help: "Number of active configuration event streams",
		},
	)

	// DispatchesTotal tracks agent dispatch jobs.
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatches_total",
			Help: "Total agent dispatch jobs by status",
		},
		[]string{"status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMRequest records metrics for a model call.
func RecordLLMRequest(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordToolCall records a tool invocation result.
func RecordToolCall(tool, result string) {
	ToolCallsTotal.WithLabelValues(tool, result).Inc()
}

// RecordEvent records a broadcast attempt.
func RecordEvent(eventType string, ok bool) {
	EventsPublishedTotal.WithLabelValues(eventType, status(ok)).Inc()
}

// RecordRoomDelete records a room deletion attempt.
func RecordRoomDelete(ok bool) {
	RoomDeletesTotal.WithLabelValues(status(ok)).Inc()
}

// SessionStarted increments the active session count.
func SessionStarted() {
	SessionsActive.Inc()
}

// SessionEnded decrements the active session count and records the outcome.
func SessionEnded(outcome string) {
	SessionsActive.Dec()
	SessionsTotal.WithLabelValues(outcome).Inc()
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
