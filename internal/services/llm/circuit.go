package llm

import (
	"fmt"
	"sync"
	"time"
)

// circuitState tracks one breaker key
type circuitState struct {
	failures    int
	openedAt    time.Time
	halfOpen    bool
	lastFailure time.Time
}

// CircuitBreaker fails calls fast once a key has accumulated enough
// consecutive failures. Keys are per-source ("text_extraction_<source>"),
// so one misbehaving source cannot starve the rest of the pipeline.
type CircuitBreaker struct {
	failureThreshold int
	openTimeout      time.Duration
	states           map[string]*circuitState
	mu               sync.Mutex
}

// ErrCircuitOpen is returned when a call is rejected without being attempted
var ErrCircuitOpen = fmt.Errorf("circuit breaker open")

// NewCircuitBreaker creates a breaker with the pipeline defaults:
// 3 consecutive failures open the circuit for 45 seconds.
func NewCircuitBreaker(failureThreshold int, openTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if openTimeout <= 0 {
		openTimeout = 45 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		openTimeout:      openTimeout,
		states:           make(map[string]*circuitState),
	}
}

// Allow reports whether a call for this key may proceed. After the open
// window elapses the breaker admits a single trial call (half-open).
func (cb *CircuitBreaker) Allow(key string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, ok := cb.states[key]
	if !ok || state.failures < cb.failureThreshold {
		return true
	}

	if time.Since(state.openedAt) >= cb.openTimeout {
		if !state.halfOpen {
			state.halfOpen = true
			return true
		}
		return false
	}
	return false
}

// RecordSuccess closes the circuit for the key
func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.states, key)
}

// RecordFailure counts a failure; crossing the threshold opens the circuit
func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, ok := cb.states[key]
	if !ok {
		state = &circuitState{}
		cb.states[key] = state
	}

	state.failures++
	state.lastFailure = time.Now()
	state.halfOpen = false
	if state.failures >= cb.failureThreshold {
		state.openedAt = time.Now()
	}
}
