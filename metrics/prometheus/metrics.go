// Package prometheus provides Prometheus metrics for VoiceWire collection runs.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "voicewire"

var (
	// collectDuration is a histogram of collection call duration in seconds,
	// labeled by outcome (idle_timeout, drain_complete, remote_closed,
	// canceled, error).
	collectDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collect_duration_seconds",
			Help:      "Histogram of collection call duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	// collectsActive is a gauge of collection calls currently in flight.
	collectsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collects_active",
			Help:      "Number of collection calls currently in flight",
		},
	)

	// framesTotal is a counter of received frames by kind.
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of frames received, by kind",
		},
		[]string{"kind"}, // kind: audio, text, heartbeat, unknown, closed
	)

	// drainEntriesTotal is a counter of turns that entered drain mode,
	// i.e. produced at least one text fragment.
	drainEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drain_entries_total",
			Help:      "Total number of turns that entered drain mode",
		},
	)

	// turnsTotal is a counter of orchestrated turns by status.
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of orchestrated turns",
		},
		[]string{"status"}, // status: success, error, canceled
	)

	// audioBytesTotal is a counter of synthesized audio bytes collected.
	audioBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total synthesized audio bytes collected",
		},
	)
)

// allMetrics lists every collector for registration.
var allMetrics = []prometheus.Collector{
	collectDuration,
	collectsActive,
	framesTotal,
	drainEntriesTotal,
	turnsTotal,
	audioBytesTotal,
}

// CollectStarted marks a collection call as in flight.
func CollectStarted() {
	collectsActive.Inc()
}

// CollectFinished records a finished collection call with its outcome.
func CollectFinished(outcome string, d time.Duration) {
	collectsActive.Dec()
	collectDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// FrameReceived counts one received frame of the given kind.
func FrameReceived(kind string) {
	framesTotal.WithLabelValues(kind).Inc()
}

// DrainEntered counts a turn entering drain mode.
func DrainEntered() {
	drainEntriesTotal.Inc()
}

// TurnCompleted records an orchestrated turn and the audio volume it produced.
func TurnCompleted(status string, audioBytes int) {
	turnsTotal.WithLabelValues(status).Inc()
	if audioBytes > 0 {
		audioBytesTotal.Add(float64(audioBytes))
	}
}
