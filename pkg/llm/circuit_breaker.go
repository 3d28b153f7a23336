package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by CircuitBreaker.Allow while the provider is
// considered down.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	// CircuitHalfOpen lets a single probe request through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// Cooldown is how long the circuit stays open before a probe is allowed.
	Cooldown time.Duration
}

// DefaultCircuitBreakerConfig trips after 5 failures and probes after 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

// CircuitBreaker stops calling an LLM provider after repeated failures.
// It is shared by every goroutine that talks to the same provider.
type CircuitBreaker struct {
	mu         sync.Mutex
	cfg        CircuitBreakerConfig
	state      CircuitState
	failures   int
	openedAt   time.Time
	probeInUse bool
	now        func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Threshold < 1 {
		cfg.Threshold = DefaultCircuitBreakerConfig().Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCircuitBreakerConfig().Cooldown
	}
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed, now: time.Now}
}

// Allow reports whether a request may proceed. The returned error wraps
// ErrCircuitOpen when it may not.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		waited := cb.now().Sub(cb.openedAt)
		if waited < cb.cfg.Cooldown {
			return fmt.Errorf("%w: %d consecutive failures, retry in %v",
				ErrCircuitOpen, cb.failures, (cb.cfg.Cooldown - waited).Round(time.Second))
		}
		cb.state = CircuitHalfOpen
		cb.probeInUse = true
		return nil
	case CircuitHalfOpen:
		if cb.probeInUse {
			return fmt.Errorf("%w: probe request in flight", ErrCircuitOpen)
		}
		cb.probeInUse = true
		return nil
	default:
		return nil
	}
}

// Record feeds the outcome of an allowed request back into the breaker.
// Caller cancellation says nothing about the provider and is ignored.
func (cb *CircuitBreaker) Record(err error) {
	if err != nil && errors.Is(err, context.Canceled) {
		cb.mu.Lock()
		cb.probeInUse = false
		cb.mu.Unlock()
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probeInUse = false
	if err == nil {
		cb.failures = 0
		cb.state = CircuitClosed
		return
	}

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.Threshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current count of consecutive failures.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
