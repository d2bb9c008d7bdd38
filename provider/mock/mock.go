package mock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edukit/speechgate"
)

// Provider is a mock speech-assessment provider for testing.
type Provider struct {
	name         string
	latency      time.Duration
	failAfter    int
	callCount    atomic.Int64
	staticErr    error
	result       speechgate.RawResult
	responseFunc func(speechgate.Sample) (speechgate.RawResult, error)

	mu          sync.Mutex
	inFlight    int64
	maxInFlight int64
}

var _ speechgate.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name: "mock",
		result: speechgate.RawResult{
			Recognized:    "hello world",
			Accuracy:      92,
			Fluency:       88,
			Completeness:  100,
			Pronunciation: 90,
			AudioDuration: 3 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithFailAfter makes the provider fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithResult sets the result returned by the mock.
func WithResult(r speechgate.RawResult) Option {
	return func(p *Provider) { p.result = r }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(speechgate.Sample) (speechgate.RawResult, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Assess(ctx context.Context, sample speechgate.Sample) (speechgate.RawResult, error) {
	p.enter()
	defer p.leave()

	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return speechgate.RawResult{}, ctx.Err()
		}
	}

	count := p.callCount.Add(1)

	if p.staticErr != nil {
		return speechgate.RawResult{}, p.staticErr
	}

	if p.failAfter > 0 && int(count) > p.failAfter {
		return speechgate.RawResult{}, &speechgate.ProviderError{StatusCode: 429, Err: errors.New("too many requests")}
	}

	if p.responseFunc != nil {
		return p.responseFunc(sample)
	}

	return p.result, nil
}

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

// MaxInFlight returns the highest number of concurrent Assess calls
// observed, for asserting admission bounds.
func (p *Provider) MaxInFlight() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInFlight
}

func (p *Provider) enter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight++
	if p.inFlight > p.maxInFlight {
		p.maxInFlight = p.inFlight
	}
}

func (p *Provider) leave() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight--
}
