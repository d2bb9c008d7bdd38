package speechgate_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sg "github.com/edukit/speechgate"
)

// Test 1: Dispatched events reach the sink in order.
func TestDispatcher_Delivers(t *testing.T) {
	sink := &captureSink{}
	d := sg.NewDispatcher(sink, 16, nil)

	for i := 0; i < 5; i++ {
		require.True(t, d.Dispatch(sg.ErrorEvent{Kind: sg.ErrorKindProvider, RequestID: "r"}))
	}
	d.Close()

	assert.Len(t, sink.Events(), 5)
	assert.Zero(t, d.Dropped())
}

// Test 2: A full buffer drops events instead of blocking the caller.
func TestDispatcher_DropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := sg.NewDispatcher(sink, 1, nil)

	// First event occupies the worker, second fills the buffer.
	d.Dispatch(sg.ErrorEvent{})
	sink.waitBusy(t)
	d.Dispatch(sg.ErrorEvent{})

	done := make(chan bool, 1)
	go func() { done <- d.Dispatch(sg.ErrorEvent{}) }()

	select {
	case accepted := <-done:
		assert.False(t, accepted)
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full buffer")
	}
	assert.Equal(t, int64(1), d.Dropped())

	close(sink.release)
	d.Close()
}

// Test 3: Dispatch after (or racing with) Close is a counted drop, never a
// send on the closed channel.
func TestDispatcher_DispatchAfterClose(t *testing.T) {
	sink := &captureSink{}
	d := sg.NewDispatcher(sink, 4, nil)
	d.Close()

	assert.NotPanics(t, func() {
		assert.False(t, d.Dispatch(sg.ErrorEvent{Kind: sg.ErrorKindProvider}))
	})
	assert.Equal(t, int64(1), d.Dropped())
	assert.Empty(t, sink.Events())

	// Close is idempotent.
	assert.NotPanics(t, d.Close)

	d2 := sg.NewDispatcher(sink, 4, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotPanics(t, func() { d2.Dispatch(sg.ErrorEvent{}) })
		}()
	}
	d2.Close()
	wg.Wait()
}

// Test 4: Sink failures and panics are swallowed.
func TestDispatcher_SwallowsSinkFailures(t *testing.T) {
	sink := &captureSink{fail: true}
	d := sg.NewDispatcher(sink, 4, nil)

	require.True(t, d.Dispatch(sg.ErrorEvent{}))
	d.Close()

	panicking := &panicSink{}
	d2 := sg.NewDispatcher(panicking, 4, nil)
	require.True(t, d2.Dispatch(sg.ErrorEvent{}))
	require.True(t, d2.Dispatch(sg.ErrorEvent{}))
	d2.Close()
	assert.Equal(t, int64(2), panicking.calls.Load())
}

type blockingSink struct {
	mu      sync.Mutex
	busy    bool
	release chan struct{}
}

func (s *blockingSink) Record(sg.ErrorEvent) bool {
	s.mu.Lock()
	s.busy = true
	s.mu.Unlock()
	<-s.release
	return true
}

func (s *blockingSink) waitBusy(t *testing.T) {
	t.Helper()
	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.busy
	}, time.Second, time.Millisecond)
}

type panicSink struct {
	calls atomic.Int64
}

func (s *panicSink) Record(sg.ErrorEvent) bool {
	s.calls.Add(1)
	panic("sink store unreachable")
}
