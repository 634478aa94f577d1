// Package agent orchestrates the sampling loop: snapshot the device memory
// monitor, fold the result into a metric map, and hand it to the emitter.
package agent

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/trainwatch/trainwatch-agent/internal/config"
	"github.com/trainwatch/trainwatch-agent/internal/emitter"
	"github.com/trainwatch/trainwatch-agent/internal/monitor"
	"github.com/trainwatch/trainwatch-agent/internal/observability"
)

// Runner periodically samples the device memory monitor and logs the result
// through the metric emitter. One Runner per process; when several workers
// share a physical device, a single reset authority must be agreed on
// because peak counters are device-level state.
type Runner struct {
	config  *config.Config
	monitor *monitor.DeviceMemoryMonitor
	emitter *emitter.MetricEmitter
	host    *HostSampler
	metrics *observability.Metrics

	step   atomic.Int64
	ready  atomic.Bool
	latest atomic.Pointer[monitor.MemStats]
}

// NewRunner creates a Runner. host may be nil to skip host-side sampling.
func NewRunner(
	cfg *config.Config,
	mon *monitor.DeviceMemoryMonitor,
	em *emitter.MetricEmitter,
	host *HostSampler,
	metrics *observability.Metrics,
) *Runner {
	return &Runner{
		config:  cfg,
		monitor: mon,
		emitter: em,
		host:    host,
		metrics: metrics,
	}
}

// IsReady reports whether the first sample has completed.
// Implements health.ReadinessChecker.
func (r *Runner) IsReady() bool {
	return r.ready.Load()
}

// LatestStats returns the most recent memory snapshot, or nil if none has
// been taken yet. Implements health.StatsProvider.
func (r *Runner) LatestStats() interface{} {
	stats := r.latest.Load()
	if stats == nil {
		return nil
	}
	return stats
}

// Run executes the sampling loop until the context is canceled. The first
// sample is taken immediately.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("sampling loop starting",
		"device_name", r.monitor.DeviceName(),
		"device_index", r.monitor.DeviceIndex(),
		"sample_interval", r.config.SampleInterval,
		"reset_peaks_per_window", r.config.ResetPeaksPerWindow,
	)

	ticker := time.NewTicker(r.config.SampleInterval)
	defer ticker.Stop()

	r.sample(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sample(ctx)
		}
	}
}

func (r *Runner) sample(ctx context.Context) {
	start := time.Now()

	stats, err := r.monitor.Snapshot(ctx)
	if err != nil {
		slog.Warn("device memory snapshot failed", "error", err)
		if r.metrics != nil {
			r.metrics.SamplesTotal.WithLabelValues("error").Inc()
		}
		return
	}
	r.latest.Store(&stats)

	fields := map[string]float64{
		"memory/max_active_gib":    stats.MaxActiveGiB,
		"memory/max_active_pct":    stats.MaxActivePct,
		"memory/max_reserved_gib":  stats.MaxReservedGiB,
		"memory/max_reserved_pct":  stats.MaxReservedPct,
		"memory/num_alloc_retries": float64(stats.NumAllocRetries),
		"memory/num_ooms":          float64(stats.NumOOMs),
	}
	if r.host != nil {
		for k, v := range r.host.Sample() {
			fields[k] = v
		}
	}

	step := r.step.Add(1) - 1
	r.emitter.Log(fields, step)

	if r.config.ResetPeaksPerWindow {
		if err := r.monitor.ResetPeaks(ctx); err != nil {
			slog.Warn("peak reset failed, next window carries current peaks", "error", err)
		}
	}

	if r.metrics != nil {
		r.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		r.metrics.SamplesTotal.WithLabelValues("emitted").Inc()
		r.metrics.DeviceMaxActivePct.Set(stats.MaxActivePct)
		r.metrics.AllocRetries.Set(float64(stats.NumAllocRetries))
		r.metrics.AllocOOMs.Set(float64(stats.NumOOMs))
		if !r.ready.Load() {
			r.metrics.AgentReady.Set(1)
		}
	}
	r.ready.Store(true)
}
