package speechgate

import (
	"sync"
	"time"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthUnhealthyPeriod  = 30 * time.Second
)

// HealthTracker tracks per-provider health using a circuit breaker pattern.
// It is observational only: the gateway reports state but never retries.
type HealthTracker struct {
	mu        sync.RWMutex
	providers map[string]*providerHealth
}

type providerHealth struct {
	state       HealthState
	failures    []time.Time // sliding window of failure timestamps
	unhealthyAt time.Time   // when state transitioned to unhealthy
}

// HealthState describes the health of a provider.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthUnhealthy
	HealthHalfOpen
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NewHealthTracker creates a new HealthTracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		providers: make(map[string]*providerHealth),
	}
}

// GetHealth returns the current health state for a provider.
func (h *HealthTracker) GetHealth(provider string) HealthState {
	h.mu.RLock()
	ph, ok := h.providers[provider]
	h.mu.RUnlock()

	if !ok {
		return HealthHealthy
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Check if unhealthy period has elapsed → transition to half-open.
	if ph.state == HealthUnhealthy && time.Since(ph.unhealthyAt) >= healthUnhealthyPeriod {
		ph.state = HealthHalfOpen
	}

	return ph.state
}

// RecordSuccess records a successful call to a provider.
func (h *HealthTracker) RecordSuccess(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph := h.getOrCreate(provider)
	ph.state = HealthHealthy
	ph.failures = ph.failures[:0]
}

// RecordFailure records a failed call to a provider.
func (h *HealthTracker) RecordFailure(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph := h.getOrCreate(provider)
	if ph.state == HealthUnhealthy {
		return
	}

	now := time.Now()

	// Prune old failures outside the window.
	cutoff := now.Add(-healthFailureWindow)
	valid := ph.failures[:0]
	for _, t := range ph.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	ph.failures = append(valid, now)

	if len(ph.failures) >= healthFailureThreshold {
		ph.state = HealthUnhealthy
		ph.unhealthyAt = now
	}
}

func (h *HealthTracker) getOrCreate(provider string) *providerHealth {
	ph, ok := h.providers[provider]
	if !ok {
		ph = &providerHealth{state: HealthHealthy}
		h.providers[provider] = ph
	}
	return ph
}
