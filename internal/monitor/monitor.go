// Package monitor tracks peak device-memory utilization and allocator-health
// signals for a single accelerator device.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trainwatch/trainwatch-agent/internal/device"
	agenterrors "github.com/trainwatch/trainwatch-agent/internal/errors"
)

// gibInBytes is the binary gibibyte (1024^3), not the decimal gigabyte.
const gibInBytes = 1 << 30

// MemStats is a point-in-time view of device memory usage. Active/reserved
// peaks cover the window since the last reset; retry/OOM counts are
// cumulative since the device binding was created.
type MemStats struct {
	MaxActiveGiB    float64 `json:"max_active_gib"`
	MaxActivePct    float64 `json:"max_active_pct"`
	MaxReservedGiB  float64 `json:"max_reserved_gib"`
	MaxReservedPct  float64 `json:"max_reserved_pct"`
	NumAllocRetries int64   `json:"num_alloc_retries"`
	NumOOMs         int64   `json:"num_ooms"`
}

// DeviceMemoryMonitor wraps a single device runtime handle and interprets
// its allocator counters. Percentages are always computed against the
// capacity captured at construction; the monitor never re-queries capacity.
type DeviceMemoryMonitor struct {
	runtime       device.Runtime
	deviceName    string
	deviceIndex   int
	capacityBytes int64
	errs          *agenterrors.ErrorCollector
}

// New binds a monitor to the given runtime. It resets the device's peak
// counters and releases cached allocator memory so the first Snapshot
// reflects activity strictly after construction. errs may be nil.
func New(ctx context.Context, rt device.Runtime, errs *agenterrors.ErrorCollector) (*DeviceMemoryMonitor, error) {
	capacity := rt.CapacityBytes()
	if capacity <= 0 {
		return nil, &agenterrors.AgentError{
			Code:      agenterrors.ErrDeviceUnavailable,
			Message:   fmt.Sprintf("device %d reports capacity %d bytes", rt.Index(), capacity),
			Component: "monitor",
			Timestamp: time.Now().UnixMilli(),
		}
	}

	m := &DeviceMemoryMonitor{
		runtime:       rt,
		deviceName:    rt.Name(),
		deviceIndex:   rt.Index(),
		capacityBytes: capacity,
		errs:          errs,
	}

	if err := rt.ResetPeaks(ctx); err != nil {
		return nil, &agenterrors.AgentError{
			Code:      agenterrors.ErrDeviceUnavailable,
			Message:   fmt.Sprintf("resetting peak counters on device %d: %v", rt.Index(), err),
			Component: "monitor",
			Timestamp: time.Now().UnixMilli(),
			Err:       err,
		}
	}
	if err := rt.ReleaseCached(ctx); err != nil {
		return nil, &agenterrors.AgentError{
			Code:      agenterrors.ErrDeviceUnavailable,
			Message:   fmt.Sprintf("releasing cached memory on device %d: %v", rt.Index(), err),
			Component: "monitor",
			Timestamp: time.Now().UnixMilli(),
			Err:       err,
		}
	}

	slog.Info("device memory monitor bound",
		"device_name", m.deviceName,
		"device_index", m.deviceIndex,
		"capacity_gib", fmt.Sprintf("%.2f", toGiB(capacity)),
	)

	return m, nil
}

// DeviceName returns the bound device's human-readable name.
func (m *DeviceMemoryMonitor) DeviceName() string { return m.deviceName }

// DeviceIndex returns the bound device's index.
func (m *DeviceMemoryMonitor) DeviceIndex() int { return m.deviceIndex }

// CapacityGiB returns the construction-time device capacity in GiB.
func (m *DeviceMemoryMonitor) CapacityGiB() float64 { return toGiB(m.capacityBytes) }

// Snapshot reads the current peak counters and returns a fresh MemStats.
// Allocator distress (retries or OOMs) is logged at warning level
// synchronously, so it appears in causal order with the step that caused it.
// Percentages over 100 indicate a measurement or capacity anomaly and are
// reported, never clamped.
func (m *DeviceMemoryMonitor) Snapshot(ctx context.Context) (MemStats, error) {
	peaks, err := m.runtime.PeakStats(ctx)
	if err != nil {
		return MemStats{}, fmt.Errorf("monitor: reading peak stats from device %d: %w", m.deviceIndex, err)
	}

	stats := MemStats{
		MaxActiveGiB:    toGiB(peaks.ActiveBytesPeak),
		MaxActivePct:    m.toPct(peaks.ActiveBytesPeak),
		MaxReservedGiB:  toGiB(peaks.ReservedBytesPeak),
		MaxReservedPct:  m.toPct(peaks.ReservedBytesPeak),
		NumAllocRetries: peaks.NumAllocRetries,
		NumOOMs:         peaks.NumOOMs,
	}

	if stats.NumAllocRetries > 0 {
		slog.Warn("device memory allocation retries observed",
			"device_index", m.deviceIndex,
			"num_alloc_retries", stats.NumAllocRetries,
		)
		m.report(agenterrors.ErrAllocPressure,
			fmt.Sprintf("%d allocation retries on device %d", stats.NumAllocRetries, m.deviceIndex))
	}
	if stats.NumOOMs > 0 {
		slog.Warn("device out-of-memory events observed",
			"device_index", m.deviceIndex,
			"num_ooms", stats.NumOOMs,
		)
		m.report(agenterrors.ErrAllocPressure,
			fmt.Sprintf("%d OOM events on device %d", stats.NumOOMs, m.deviceIndex))
	}
	if stats.MaxActivePct > 100 || stats.MaxReservedPct > 100 {
		slog.Warn("peak usage exceeds construction-time capacity",
			"device_index", m.deviceIndex,
			"max_active_pct", stats.MaxActivePct,
			"max_reserved_pct", stats.MaxReservedPct,
		)
		m.report(agenterrors.ErrCapacityAnomaly,
			fmt.Sprintf("peak usage above 100%% of capacity on device %d", m.deviceIndex))
	}

	return stats, nil
}

// ResetPeaks restarts the peak-tracking window. Cumulative retry/OOM
// counters are allocator-lifetime counters and are intentionally untouched.
func (m *DeviceMemoryMonitor) ResetPeaks(ctx context.Context) error {
	if err := m.runtime.ResetPeaks(ctx); err != nil {
		return fmt.Errorf("monitor: resetting peak counters on device %d: %w", m.deviceIndex, err)
	}
	return nil
}

func (m *DeviceMemoryMonitor) report(code agenterrors.Code, msg string) {
	if m.errs == nil {
		return
	}
	m.errs.Report(agenterrors.AgentError{
		Code:      code,
		Message:   msg,
		Component: "monitor",
		Timestamp: time.Now().UnixMilli(),
	})
}

// toGiB converts bytes to gibibytes.
func toGiB(b int64) float64 {
	return float64(b) / gibInBytes
}

// toPct converts bytes to percent of construction-time capacity.
func (m *DeviceMemoryMonitor) toPct(b int64) float64 {
	return 100 * float64(b) / float64(m.capacityBytes)
}
