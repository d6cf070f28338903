// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamRecordsTotal tracks decoded stream records by outcome (accepted, dropped, ignored).
	StreamRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekipick_stream_records_total",
			Help: "Stream records seen by the decoder",
		},
		[]string{"outcome"},
	)

	// RevealTicksTotal tracks characters revealed by the scheduler timer.
	RevealTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ekipick_reveal_ticks_total",
			Help: "Characters revealed by timer ticks",
		},
	)

	// RevealsCompletedTotal tracks messages that reached the done state, by how they got there.
	RevealsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekipick_reveals_completed_total",
			Help: "Messages fully revealed",
		},
		[]string{"via"},
	)

	// TurnsTotal tracks finished turns by status.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ekipick_turns_total",
			Help: "Conversation turns by final status",
		},
		[]string{"status"},
	)

	// TurnDuration tracks wall time from request to end of stream.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ekipick_turn_duration_seconds",
			Help:    "Conversation turn duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"status"},
	)

	// RequestDuration tracks narrator HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "narrator_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks narrator HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrator_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// StreamsActive tracks open narration streams.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "narrator_streams_active",
			Help: "Number of open narration streams",
		},
	)

	// FramesSentTotal tracks frames written to narration streams by type.
	FramesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrator_frames_sent_total",
			Help: "Frames written to narration streams",
		},
		[]string{"type"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTurn records the outcome of a conversation turn.
func RecordTurn(status string, duration float64) {
	TurnsTotal.WithLabelValues(status).Inc()
	TurnDuration.WithLabelValues(status).Observe(duration)
}

// IncrementStreams increments the open narration stream count.
func IncrementStreams() {
	StreamsActive.Inc()
}

// DecrementStreams decrements the open narration stream count.
func DecrementStreams() {
	StreamsActive.Dec()
}
