package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for agent self-monitoring.
// It uses a custom registry to avoid polluting the global default.
type Metrics struct {
	Registry *prometheus.Registry

	// Sampling metrics
	SnapshotDuration prometheus.Histogram
	SamplesTotal     *prometheus.CounterVec

	// Device metrics (latest observed values)
	DeviceMaxActivePct prometheus.Gauge
	AllocRetries       prometheus.Gauge
	AllocOOMs          prometheus.Gauge

	// Sink metrics
	QueueDepth        prometheus.Gauge
	DroppedSamples    prometheus.Counter
	SinkFlushDuration prometheus.Histogram
	SinkSendTotal     *prometheus.CounterVec
	SinkBatchBytes    prometheus.Histogram
	SinkRetries       prometheus.Counter

	// Agent metrics
	AgentReady prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics
// registered on a custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	sizeBuckets := prometheus.ExponentialBuckets(256, 4, 8)

	m := &Metrics{
		Registry: reg,

		SnapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trainwatch_agent_snapshot_duration_seconds",
			Help:    "Duration of device memory snapshot operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		SamplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trainwatch_agent_samples_total",
			Help: "Total number of scalar samples handled, by status.",
		}, []string{"status"}),

		DeviceMaxActivePct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainwatch_agent_device_max_active_pct",
			Help: "Latest observed peak active memory as percent of device capacity.",
		}),
		AllocRetries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainwatch_agent_alloc_retries",
			Help: "Latest observed cumulative allocation retry count.",
		}),
		AllocOOMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainwatch_agent_alloc_ooms",
			Help: "Latest observed cumulative out-of-memory event count.",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainwatch_agent_sink_queue_depth",
			Help: "Current number of samples pending in the sink queue.",
		}),
		DroppedSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainwatch_agent_sink_dropped_samples_total",
			Help: "Total number of samples dropped because the sink queue was full.",
		}),
		SinkFlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trainwatch_agent_sink_flush_duration_seconds",
			Help:    "Duration of sink flush operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		SinkSendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trainwatch_agent_sink_send_total",
			Help: "Total number of sink batch send attempts, by status.",
		}, []string{"status"}),
		SinkBatchBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trainwatch_agent_sink_batch_bytes",
			Help:    "Compressed size of sink batches in bytes.",
			Buckets: sizeBuckets,
		}),
		SinkRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainwatch_agent_sink_retries_total",
			Help: "Total number of sink send retry attempts.",
		}),

		AgentReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainwatch_agent_ready",
			Help: "Whether the agent has completed its first sample (1 = ready).",
		}),
	}

	// Register all metrics with the custom registry.
	reg.MustRegister(
		m.SnapshotDuration,
		m.SamplesTotal,
		m.DeviceMaxActivePct,
		m.AllocRetries,
		m.AllocOOMs,
		m.QueueDepth,
		m.DroppedSamples,
		m.SinkFlushDuration,
		m.SinkSendTotal,
		m.SinkBatchBytes,
		m.SinkRetries,
		m.AgentReady,
	)

	return m
}
