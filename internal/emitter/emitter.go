// Package emitter forwards named scalar metrics to a time-series sink.
package emitter

import (
	"github.com/trainwatch/trainwatch-agent/internal/sink"
)

// mode is the emitter's lifecycle state.
type mode int

const (
	modeDisabled mode = iota
	modeEnabled
	modeClosed
)

// MetricEmitter accepts named scalar metrics tagged with a step index and
// forwards them to a sink. It is designed for single-threaded use by one
// caller; step monotonicity across Log calls is that caller's contract.
type MetricEmitter struct {
	namespace string
	mode      mode
	sink      sink.Sink
}

// New creates a MetricEmitter. When enabled is false (or s is nil) the
// emitter is permanently disabled: Log is a no-op and no sink resource is
// held. namespace, when non-empty, prefixes every metric name as
// "namespace/key".
func New(s sink.Sink, namespace string, enabled bool) *MetricEmitter {
	e := &MetricEmitter{namespace: namespace}
	if enabled && s != nil {
		e.mode = modeEnabled
		e.sink = s
	}
	return e
}

// Log forwards each metric to the sink with its qualified name. Key order
// within one call is unspecified. Logging on a disabled or closed emitter
// is a silent no-op: observability must not crash or stall the workload.
func (e *MetricEmitter) Log(metrics map[string]float64, step int64) {
	if e.mode != modeEnabled {
		return
	}
	for k, v := range metrics {
		name := k
		if e.namespace != "" {
			name = e.namespace + "/" + k
		}
		e.sink.Write(name, v, step)
	}
}

// Close flushes and releases the sink. Idempotent; subsequent Log calls
// become no-ops.
func (e *MetricEmitter) Close() error {
	if e.mode != modeEnabled {
		e.mode = modeClosed
		return nil
	}
	e.mode = modeClosed
	return e.sink.Close()
}
