// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "interview_transcription"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Chunk intake metrics
	ChunksReceived     prometheus.Counter
	AudioBytesReceived prometheus.Counter
	InvalidAudio       prometheus.Counter

	// Provider metrics
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
	BreakerOpens    *prometheus.CounterVec
	BreakerProbes   *prometheus.CounterVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses prometheus.Counter
	CacheErrors *prometheus.CounterVec

	// Transcription metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	DiarizedResults    prometheus.Counter

	// Session / room metrics
	RoomsActive       prometheus.Gauge
	ConnectionsActive prometheus.Gauge
	RoomsReaped       prometheus.Counter
	StreamsActive     prometheus.Gauge
	QueueDropped      prometheus.Counter

	// Gateway metrics
	BroadcastsTotal prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_received_total",
			Help:      "Total number of audio chunks received",
		}),
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		InvalidAudio: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_audio_total",
			Help:      "Total number of chunks rejected as invalid audio",
		}),

		ProviderCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Total number of provider transcription calls",
		}, []string{"provider", "outcome"}),
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Provider transcription call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),
		BreakerOpens: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_opens_total",
			Help:      "Total number of circuit breaker open transitions",
		}, []string{"provider"}),
		BreakerProbes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_probes_total",
			Help:      "Total number of half-open probe attempts",
		}, []string{"provider", "outcome"}),

		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		}, []string{"tier"}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		}),
		CacheErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Total number of cache tier errors (degraded to miss)",
		}, []string{"tier"}),

		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of interim transcription results emitted",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcription results emitted",
		}),
		DiarizedResults: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diarized_results_total",
			Help:      "Total number of results that received a speaker label",
		}),

		RoomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Number of currently active session rooms",
		}),
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently connected participants",
		}),
		RoomsReaped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_reaped_total",
			Help:      "Total number of idle rooms removed by the sweeper",
		}),
		StreamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of active continuous transcription streams",
		}),
		QueueDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_queue_dropped_total",
			Help:      "Total number of audio frames dropped by stream backpressure",
		}),

		BroadcastsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Total number of events broadcast to rooms",
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
	}
}

// RecordChunk records one received audio chunk.
func (m *Metrics) RecordChunk(bytes int) {
	m.ChunksReceived.Inc()
	m.AudioBytesReceived.Add(float64(bytes))
}

// RecordProviderCall records a provider call and its latency.
func (m *Metrics) RecordProviderCall(provider, outcome string, latencySeconds float64) {
	m.ProviderCalls.WithLabelValues(provider, outcome).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordBreakerOpen records a circuit transitioning to open.
func (m *Metrics) RecordBreakerOpen(provider string) {
	m.BreakerOpens.WithLabelValues(provider).Inc()
}

// RecordBreakerProbe records a half-open probe result.
func (m *Metrics) RecordBreakerProbe(provider string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.BreakerProbes.WithLabelValues(provider, outcome).Inc()
}

// RecordCacheHit records a hit on the named tier.
func (m *Metrics) RecordCacheHit(tier string) {
	m.CacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a full cache miss.
func (m *Metrics) RecordCacheMiss() {
	m.CacheMisses.Inc()
}

// RecordCacheError records a tier error that degraded to a miss.
func (m *Metrics) RecordCacheError(tier string) {
	m.CacheErrors.WithLabelValues(tier).Inc()
}

// RecordResult records an emitted transcription result.
func (m *Metrics) RecordResult(final bool) {
	if final {
		m.TranscriptsFinal.Inc()
	} else {
		m.TranscriptsPartial.Inc()
	}
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
