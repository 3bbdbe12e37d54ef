// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_scribe"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Speaker stream metrics
	SpeakerStreamsActive prometheus.Gauge
	SpeakerStreamsTotal  prometheus.Counter
	DecodeErrors         prometheus.Counter

	// Segment metrics
	SegmentsWritten   prometheus.Counter
	SegmentsDiscarded *prometheus.CounterVec
	SegmentBytes      prometheus.Histogram

	// Engine metrics
	EngineLoadAttempts *prometheus.CounterVec
	EngineFallbacks    prometheus.Counter
	InferenceLatency   prometheus.Histogram
	InferenceErrors    prometheus.Counter

	// Transcript metrics
	TranscriptSegments prometheus.Counter
	TimelineEntries    prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Manifest metrics
	ManifestWrites       prometheus.Counter
	ManifestWriteRetries prometheus.Counter
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of recording sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active recording sessions",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of recording sessions in seconds",
			Buckets:   []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		}),

		SpeakerStreamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speaker_streams_active",
			Help:      "Number of currently capturing speaker streams",
		}),
		SpeakerStreamsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speaker_streams_total",
			Help:      "Total number of speaker streams started",
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of audio decode errors",
		}),

		SegmentsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_written_total",
			Help:      "Total number of audio segments persisted",
		}),
		SegmentsDiscarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_discarded_total",
			Help:      "Total number of audio segments discarded",
		}, []string{"reason"}),
		SegmentBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_bytes",
			Help:      "Size of persisted audio segments in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}),

		EngineLoadAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_load_attempts_total",
			Help:      "Total number of inference engine load attempts",
		}, []string{"device", "model", "precision", "outcome"}),
		EngineFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_fallbacks_total",
			Help:      "Total number of fallback configurations adopted after resource exhaustion",
		}),
		InferenceLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_latency_seconds",
			Help:      "Per-segment inference latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		InferenceErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_errors_total",
			Help:      "Total number of failed inference calls",
		}),

		TranscriptSegments: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_segments_total",
			Help:      "Total number of transcript segments produced",
		}),
		TimelineEntries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeline_entries_total",
			Help:      "Total number of merged timeline entries written",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		ManifestWrites: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_writes_total",
			Help:      "Total number of manifest writes",
		}),
		ManifestWriteRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_write_retries_total",
			Help:      "Total number of manifest write retries after a failed attempt",
		}),
	}
}

// RecordKafkaPublish records a Kafka publish outcome with latency.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, seconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(seconds)
}

// RecordEngineAttempt records one inference engine load attempt.
func (m *Metrics) RecordEngineAttempt(device, model, precision string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.EngineLoadAttempts.WithLabelValues(device, model, precision, outcome).Inc()
}
