package speechgate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// AdmissionController bounds the number of in-flight provider calls with a
// fixed-capacity semaphore sized below the provider's hard TPS ceiling. It
// is an explicit, injectable component: tests construct isolated instances
// and production can later swap in a distributed limiter without touching
// call sites.
type AdmissionController struct {
	sem       *semaphore.Weighted
	capacity  int64
	timeout   time.Duration
	queueWarn time.Duration
	inFlight  atomic.Int64

	env        string
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// CallMeta carries request attribution for telemetry on failed calls.
type CallMeta struct {
	Tenant       BillingTarget
	RequestID    string
	PayloadBytes int
}

// CallStats reports the observable timings of one admission-wrapped call.
type CallStats struct {
	QueueWait time.Duration
	Elapsed   time.Duration
}

// NewAdmissionController creates a controller with the given concurrency
// capacity and per-call timeout (queue wait plus execution). The dispatcher
// and logger may be nil.
func NewAdmissionController(cfg AdmissionConfig, dispatcher *Dispatcher, logger *slog.Logger) *AdmissionController {
	if logger == nil {
		logger = slog.Default()
	}
	capacity := int64(cfg.Capacity)
	if capacity <= 0 {
		capacity = DefaultAdmissionCapacity
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultAdmissionTimeout
	}
	queueWarn := cfg.QueueWarn
	if queueWarn <= 0 {
		queueWarn = DefaultQueueWarn
	}
	return &AdmissionController{
		sem:        semaphore.NewWeighted(capacity),
		capacity:   capacity,
		timeout:    timeout,
		queueWarn:  queueWarn,
		env:        cfg.Environment,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Capacity returns the configured concurrency ceiling.
func (a *AdmissionController) Capacity() int64 { return a.capacity }

// InFlight returns the number of calls currently holding a slot.
func (a *AdmissionController) InFlight() int64 { return a.inFlight.Load() }

// Do acquires an admission slot, runs fn on its own goroutine, and releases
// the slot on every exit path. The controller's timeout bounds queue wait
// plus execution; expiry returns TimeoutError with no partial side effects.
// Failure classification happens after the slot is released so failure
// handling never holds capacity. No retries happen here.
func (a *AdmissionController) Do(ctx context.Context, meta CallMeta, fn func(context.Context) (RawResult, error)) (RawResult, CallStats, error) {
	queueStart := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.sem.Acquire(ctx, 1); err != nil {
		stats := CallStats{QueueWait: time.Since(queueStart), Elapsed: time.Since(queueStart)}
		if errors.Is(err, context.DeadlineExceeded) {
			terr := &TimeoutError{QueueWait: stats.QueueWait, Elapsed: stats.Elapsed}
			a.report(ErrorKindTimeout, terr.Error(), meta, stats.QueueWait)
			return RawResult{}, stats, terr
		}
		return RawResult{}, stats, err
	}

	queueWait := time.Since(queueStart)
	if queueWait > a.queueWarn {
		a.logger.Warn("admission queue wait is high",
			"queue_wait_ms", queueWait.Milliseconds(),
			"capacity", a.capacity,
			"tenant", meta.Tenant.String(),
		)
	}

	type outcome struct {
		res RawResult
		err error
	}
	done := make(chan outcome, 1)

	a.inFlight.Add(1)
	go func() {
		res, err := func() (RawResult, error) {
			defer a.sem.Release(1)
			defer a.inFlight.Add(-1)
			return fn(ctx)
		}()
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		stats := CallStats{QueueWait: queueWait, Elapsed: time.Since(queueStart)}
		if out.err != nil {
			cerr := a.classify(out.err, queueWait)
			a.reportFailure(cerr, meta, queueWait)
			return RawResult{}, stats, cerr
		}
		return out.res, stats, nil

	case <-ctx.Done():
		// fn observes ctx and returns shortly; its deferred release frees
		// the slot independently of this return path.
		stats := CallStats{QueueWait: queueWait, Elapsed: time.Since(queueStart)}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			terr := &TimeoutError{QueueWait: queueWait, Elapsed: stats.Elapsed}
			a.report(ErrorKindTimeout, terr.Error(), meta, queueWait)
			return RawResult{}, stats, terr
		}
		return RawResult{}, stats, ctx.Err()
	}
}

// classify converts upstream failures into the typed taxonomy: rate-limit
// signals become RateLimitError, deadline expiry becomes TimeoutError, and
// everything else passes through as ProviderError.
func (a *AdmissionController) classify(err error, queueWait time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{QueueWait: queueWait, Elapsed: a.timeout}
	}

	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode == 429 {
		return &RateLimitError{QueueWait: queueWait, Message: err.Error()}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit") {
		return &RateLimitError{QueueWait: queueWait, Message: err.Error()}
	}

	if pe != nil {
		return pe
	}
	return &ProviderError{Err: err}
}

func (a *AdmissionController) reportFailure(err error, meta CallMeta, queueWait time.Duration) {
	switch {
	case errors.Is(err, ErrRateLimited):
		a.report(ErrorKindRateLimit, err.Error(), meta, queueWait)
	case errors.Is(err, ErrTimeout):
		a.report(ErrorKindTimeout, err.Error(), meta, queueWait)
	}
}

// report forwards an error event through the dispatcher. Best effort: a
// full buffer or missing dispatcher drops the event silently.
func (a *AdmissionController) report(kind ErrorKind, message string, meta CallMeta, queueWait time.Duration) {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.Dispatch(ErrorEvent{
		Kind:         kind,
		Message:      message,
		Tenant:       meta.Tenant,
		RequestID:    meta.RequestID,
		QueueWait:    queueWait,
		PayloadBytes: meta.PayloadBytes,
		Environment:  a.env,
		OccurredAt:   time.Now().UTC(),
	})
}
