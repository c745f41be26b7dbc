package resilience

import (
	"fmt"
	"sync"
	"time"
)

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 10,
		ResetTimeout:     30 * time.Second,
	}
}

func (c CircuitBreakerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("circuit breaker failure threshold must be positive")
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("circuit breaker reset timeout must be positive")
	}
	return nil
}

// CircuitBreaker stops traffic to a provider after a run of consecutive
// failures. After the reset timeout a single trial request is let through; its
// outcome closes or re-opens the circuit.
type CircuitBreaker struct {
	mu               sync.Mutex
	provider         string
	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time

	consecutiveFailures int
	state               CircuitState
	reopenAt            time.Time
	trialInFlight       bool
}

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
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

func NewCircuitBreaker(provider string, threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		provider:         provider,
		failureThreshold: threshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
		state:            CircuitClosed,
	}
}

func NewCircuitBreakerFromConfig(provider string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if !cfg.Enabled {
		return nil
	}
	return NewCircuitBreaker(provider, cfg.FailureThreshold, cfg.ResetTimeout)
}

func (cb *CircuitBreaker) Provider() string {
	return cb.provider
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a request may be sent. A nil breaker always allows.
func (cb *CircuitBreaker) Allow() bool {
	if cb == nil {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Before(cb.reopenAt) {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.trialInFlight = true
		return true
	case CircuitHalfOpen:
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true
	default:
		return true
	}
}

// Release ends a trial request whose outcome says nothing about provider
// health, such as rate limiting or a rejected request. The state is kept and
// the next Allow admits a new trial.
func (cb *CircuitBreaker) Release() {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialInFlight = false
}

func (cb *CircuitBreaker) RecordResult(err error) {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trialInFlight = false
	if err == nil {
		cb.consecutiveFailures = 0
		cb.state = CircuitClosed
		return
	}

	cb.consecutiveFailures++
	if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= cb.failureThreshold {
		cb.state = CircuitOpen
		cb.reopenAt = cb.now().Add(cb.resetTimeout)
	}
}
