// Package device abstracts the accelerator device runtime behind an
// explicitly-owned handle.
//
// The default implementation scrapes allocator counters from a
// Prometheus-format stats endpoint exposed next to the training process.
// An NVML-backed implementation binding a physical NVIDIA device directly
// is available behind the `nvml` build tag.
package device

import "context"

// PeakStats holds allocator-level counters read from the device runtime.
// Active/reserved peaks are windowed (since the last ResetPeaks); the
// retry and OOM counts are cumulative for the lifetime of the binding.
type PeakStats struct {
	ActiveBytesPeak   int64
	ReservedBytesPeak int64
	NumAllocRetries   int64
	NumOOMs           int64
}

// Runtime is the contract the monitor requires of a device runtime.
// Name, index, and capacity are queried once at binding time and cached
// by implementations.
type Runtime interface {
	// Name returns the human-readable device name.
	Name() string

	// Index returns the device index within the host.
	Index() int

	// CapacityBytes returns the total device memory in bytes, as reported
	// at binding time.
	CapacityBytes() int64

	// PeakStats reads the current allocator counters.
	PeakStats(ctx context.Context) (PeakStats, error)

	// ResetPeaks zeroes the peak active/reserved tracking. Cumulative
	// retry/OOM counters are unaffected.
	ResetPeaks(ctx context.Context) error

	// ReleaseCached asks the allocator to release cached-but-unused memory.
	ReleaseCached(ctx context.Context) error
}
