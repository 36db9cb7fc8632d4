package protocol

import (
	"sync"
	"time"
)

// CircuitState represents the state of a per-target circuit.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitHalfOpen                     // Probing recovery
	CircuitOpen                         // Refusing dispatch
)

func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half_open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

type circuit struct {
	state     CircuitState
	failures  int
	openedAt  time.Time
	testCount int
}

// CircuitBreaker stops dispatching to a target after repeated transport
// failures, then admits one trial message once the cooldown has passed.
type CircuitBreaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit

	failureThreshold int
	cooldownPeriod   time.Duration
	testLimit        int
	now              func() time.Time
}

// NewCircuitBreaker opens a target's circuit after failureThreshold
// consecutive failures.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		circuits:         make(map[string]*circuit),
		failureThreshold: failureThreshold,
		cooldownPeriod:   cooldown,
		testLimit:        1,
		now:              time.Now,
	}
}

func (cb *CircuitBreaker) get(target string) *circuit {
	c, ok := cb.circuits[target]
	if !ok {
		c = &circuit{}
		cb.circuits[target] = c
	}
	return c
}

// ShouldAdmit reports whether a message to target may be sent now.
func (cb *CircuitBreaker) ShouldAdmit(target string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	c := cb.get(target)

	if c.state == CircuitOpen && cb.now().Sub(c.openedAt) > cb.cooldownPeriod {
		c.state = CircuitHalfOpen
		c.testCount = 0
	}

	switch c.state {
	case CircuitHalfOpen:
		if c.testCount < cb.testLimit {
			c.testCount++
			return true
		}
		return false
	case CircuitOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess(target string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	c := cb.get(target)
	c.state = CircuitClosed
	c.failures = 0
}

// RecordFailure counts a failure; a failed trial re-opens immediately.
func (cb *CircuitBreaker) RecordFailure(target string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	c := cb.get(target)
	c.failures++

	if c.state == CircuitHalfOpen || c.failures >= cb.failureThreshold {
		c.state = CircuitOpen
		c.openedAt = cb.now()
		c.testCount = 0
	}
}

// State returns the current circuit state for target.
func (cb *CircuitBreaker) State(target string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.get(target).state
}
