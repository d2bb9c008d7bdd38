package speechgate_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sg "github.com/edukit/speechgate"
)

func newController(capacity int, timeout time.Duration, dispatcher *sg.Dispatcher) *sg.AdmissionController {
	return sg.NewAdmissionController(sg.AdmissionConfig{
		Capacity:  capacity,
		Timeout:   timeout,
		QueueWarn: time.Second,
	}, dispatcher, nil)
}

// Test 1: Concurrency never exceeds capacity and all callers complete.
func TestAdmission_ConcurrencyBound(t *testing.T) {
	const capacity = 18
	const callers = 50

	ctrl := newController(capacity, 10*time.Second, nil)

	var mu sync.Mutex
	var inFlight, maxObserved int

	fn := func(ctx context.Context) (sg.RawResult, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxObserved {
			maxObserved = inFlight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return sg.RawResult{}, nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := ctrl.Do(context.Background(), sg.CallMeta{}, fn)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, maxObserved, capacity)
	assert.Eventually(t, func() bool { return ctrl.InFlight() == 0 },
		time.Second, 10*time.Millisecond)
}

// Test 2: Timeout returns TimeoutError and the slot drains back.
func TestAdmission_Timeout(t *testing.T) {
	ctrl := newController(1, 50*time.Millisecond, nil)

	fn := func(ctx context.Context) (sg.RawResult, error) {
		select {
		case <-time.After(500 * time.Millisecond):
			return sg.RawResult{}, nil
		case <-ctx.Done():
			return sg.RawResult{}, ctx.Err()
		}
	}

	_, stats, err := ctrl.Do(context.Background(), sg.CallMeta{}, fn)
	require.ErrorIs(t, err, sg.ErrTimeout)
	var terr *sg.TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.GreaterOrEqual(t, stats.Elapsed, 50*time.Millisecond)

	// The worker observes cancellation and releases its slot.
	assert.Eventually(t, func() bool { return ctrl.InFlight() == 0 },
		time.Second, 5*time.Millisecond)
}

// Test 3: Waiting for a slot counts against the same timeout.
func TestAdmission_QueueWaitTimesOut(t *testing.T) {
	ctrl := newController(1, 50*time.Millisecond, nil)

	block := make(chan struct{})
	go ctrl.Do(context.Background(), sg.CallMeta{}, func(ctx context.Context) (sg.RawResult, error) {
		<-block
		return sg.RawResult{}, nil
	})

	// Give the first call time to take the only slot.
	time.Sleep(10 * time.Millisecond)

	_, _, err := ctrl.Do(context.Background(), sg.CallMeta{}, func(ctx context.Context) (sg.RawResult, error) {
		return sg.RawResult{}, nil
	})
	assert.ErrorIs(t, err, sg.ErrTimeout)
	close(block)
}

// Test 4: Rate-limit signals are classified from status codes and messages.
func TestAdmission_RateLimitClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"status 429", &sg.ProviderError{StatusCode: 429, Err: errors.New("throttled")}},
		{"too many requests message", errors.New("upstream said: Too Many Requests")},
		{"rate limit message", fmt.Errorf("wrapped: %w", errors.New("rate limit reached"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newController(2, time.Second, nil)
			_, _, err := ctrl.Do(context.Background(), sg.CallMeta{}, func(ctx context.Context) (sg.RawResult, error) {
				return sg.RawResult{}, tt.err
			})
			require.ErrorIs(t, err, sg.ErrRateLimited)
			assert.True(t, sg.IsRetryable(err))
		})
	}
}

// Test 5: Other provider failures pass through as ProviderError.
func TestAdmission_GenericProviderError(t *testing.T) {
	ctrl := newController(2, time.Second, nil)
	cause := errors.New("recognizer crashed")

	_, _, err := ctrl.Do(context.Background(), sg.CallMeta{}, func(ctx context.Context) (sg.RawResult, error) {
		return sg.RawResult{}, cause
	})

	var perr *sg.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, cause)
	assert.False(t, sg.IsRetryable(err))
}

// Test 6: Rate-limit and timeout failures reach the telemetry sink.
func TestAdmission_TelemetryOnFailure(t *testing.T) {
	sink := &captureSink{}
	dispatcher := sg.NewDispatcher(sink, 16, nil)
	ctrl := newController(1, time.Second, dispatcher)

	_, _, err := ctrl.Do(context.Background(), sg.CallMeta{Tenant: sg.Teacher("t1"), RequestID: "r1"},
		func(ctx context.Context) (sg.RawResult, error) {
			return sg.RawResult{}, &sg.ProviderError{StatusCode: 429, Err: errors.New("too many requests")}
		})
	require.ErrorIs(t, err, sg.ErrRateLimited)

	dispatcher.Close()
	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, sg.ErrorKindRateLimit, events[0].Kind)
	assert.Equal(t, "r1", events[0].RequestID)
	assert.Equal(t, sg.Teacher("t1"), events[0].Tenant)
}

// captureSink collects events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []sg.ErrorEvent
	fail   bool
}

func (s *captureSink) Record(e sg.ErrorEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return false
	}
	s.events = append(s.events, e)
	return true
}

func (s *captureSink) Events() []sg.ErrorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sg.ErrorEvent, len(s.events))
	copy(out, s.events)
	return out
}
