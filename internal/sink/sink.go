// Package sink delivers scalar metric samples to a time-series destination.
//
// The emitter only sees the Sink interface. The Queue implementation adds a
// bounded asynchronous buffer in front of a Backend so the sampling loop
// never blocks on sink I/O; backends persist samples to a local run
// directory or send them to a remote ingest endpoint.
package sink

// Sink consumes fully-qualified scalar samples. Write must not block the
// caller beyond enqueueing; Close flushes pending samples and releases the
// destination.
type Sink interface {
	Write(name string, value float64, step int64)
	Close() error
}
