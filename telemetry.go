package speechgate

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrorKind tags the failure class recorded on an ErrorEvent.
type ErrorKind string

const (
	ErrorKindRateLimit ErrorKind = "rate_limit"
	ErrorKindTimeout   ErrorKind = "timeout"
	ErrorKindProvider  ErrorKind = "provider"
	ErrorKindBilling   ErrorKind = "billing"
)

// ErrorEvent is the write-once record of one failed upstream call or
// billing discrepancy, shipped to an analytics sink for offline analysis.
type ErrorEvent struct {
	Kind         ErrorKind
	Message      string
	Tenant       BillingTarget
	RequestID    string
	QueueWait    time.Duration
	PayloadBytes int
	Environment  string
	OccurredAt   time.Time
}

// Sink ingests error events. Record must never panic and must not block
// beyond a small bounded time; internal failures return false and are
// otherwise swallowed.
type Sink interface {
	Record(event ErrorEvent) bool
}

// Dispatcher forwards events to a Sink from a background worker through a
// bounded buffer, so a burst of failures can never block the request path
// or grow memory without bound. Events are dropped when the buffer is full.
type Dispatcher struct {
	sink    Sink
	events  chan ErrorEvent
	dropped atomic.Int64
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewDispatcher creates a Dispatcher with the given buffer size and starts
// its worker. If logger is nil, slog.Default() is used.
func NewDispatcher(sink Sink, buffer int, logger *slog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultTelemetryBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sink:   sink,
		events: make(chan ErrorEvent, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Dispatch enqueues an event without blocking. Returns false when the event
// was dropped because the buffer is full or the dispatcher is closed. Safe
// to call concurrently with Close.
func (d *Dispatcher) Dispatch(event ErrorEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.dropped.Add(1)
		return false
	}
	select {
	case d.events <- event:
		return true
	default:
		d.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops the worker after draining buffered events. Idempotent; later
// Dispatch calls are counted as drops instead of sending on the closed
// channel.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.events {
		d.record(event)
	}
}

func (d *Dispatcher) record(event ErrorEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("telemetry sink panicked", "panic", r)
		}
	}()
	if !d.sink.Record(event) {
		d.logger.Debug("telemetry sink rejected event", "kind", string(event.Kind))
	}
}
