package sink

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	agenterrors "github.com/trainwatch/trainwatch-agent/internal/errors"
	"github.com/trainwatch/trainwatch-agent/internal/observability"
	"github.com/trainwatch/trainwatch-agent/pkg/model"
)

// DefaultQueueDepth matches the bounded buffer depth used by comparable
// scalar writers.
const DefaultQueueDepth = 1000

// Backend persists scalar samples. Methods are invoked from the queue's
// single writer goroutine, never concurrently.
type Backend interface {
	WriteSample(s model.ScalarSample) error
	Flush() error
	Close() error
}

// Queue is a Sink that buffers samples in a bounded channel and writes them
// to a Backend from a dedicated goroutine. When the buffer is full the
// OLDEST pending sample is dropped so the writer is never blocked; telemetry
// completeness yields to the caller's forward progress.
type Queue struct {
	backend Backend
	ch      chan model.ScalarSample
	done    chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error

	metrics *observability.Metrics
	errs    *agenterrors.ErrorCollector
}

// NewQueue creates a Queue of the given depth in front of backend and starts
// its writer goroutine. Depth <= 0 falls back to DefaultQueueDepth.
// metrics and errs may be nil.
func NewQueue(backend Backend, depth int, metrics *observability.Metrics, errs *agenterrors.ErrorCollector) *Queue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	q := &Queue{
		backend: backend,
		ch:      make(chan model.ScalarSample, depth),
		done:    make(chan struct{}),
		metrics: metrics,
		errs:    errs,
	}
	go q.run()
	return q
}

// Write enqueues a sample without blocking. After Close it is a no-op.
func (q *Queue) Write(name string, value float64, step int64) {
	if q.closed.Load() {
		return
	}

	s := model.ScalarSample{
		Name:      name,
		Value:     value,
		Step:      step,
		Timestamp: time.Now().UnixMilli(),
	}

	select {
	case q.ch <- s:
	default:
		// Queue full: evict the oldest pending sample, then retry once.
		select {
		case <-q.ch:
			q.recordDrop()
		default:
		}
		select {
		case q.ch <- s:
		default:
			q.recordDrop()
		}
	}

	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.ch)))
	}
}

// Close stops accepting samples, drains the queue to the backend, flushes,
// and closes the backend. Safe to call multiple times.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.ch)
		<-q.done
	})
	return q.closeErr
}

func (q *Queue) run() {
	defer close(q.done)

	for s := range q.ch {
		if q.metrics != nil {
			q.metrics.QueueDepth.Set(float64(len(q.ch)))
		}
		if err := q.backend.WriteSample(s); err != nil {
			slog.Warn("sink backend write failed", "name", s.Name, "step", s.Step, "error", err)
		}
	}

	if err := q.backend.Flush(); err != nil {
		slog.Warn("sink backend flush failed", "error", err)
		q.closeErr = err
	}
	if err := q.backend.Close(); err != nil {
		slog.Warn("sink backend close failed", "error", err)
		if q.closeErr == nil {
			q.closeErr = err
		}
	}
}

func (q *Queue) recordDrop() {
	if q.metrics != nil {
		q.metrics.DroppedSamples.Inc()
		q.metrics.SamplesTotal.WithLabelValues("dropped").Inc()
	}
	if q.errs != nil {
		q.errs.Report(agenterrors.AgentError{
			Code:      agenterrors.ErrSinkQueueFull,
			Message:   "sink queue full, dropped oldest pending sample",
			Component: "sink.queue",
			Timestamp: time.Now().UnixMilli(),
		})
	}
}
