package utils

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker rejects a call
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState represents the state of a circuit breaker
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the string representation of the breaker state
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	Name string
	// MaxFailures consecutive failures open the circuit.
	MaxFailures int
	// Cooldown is how long the circuit stays open before a probe is let through.
	Cooldown time.Duration
	// SuccessThreshold probes must succeed in half-open to close again.
	SuccessThreshold int
}

// DefaultCircuitBreakerConfig returns a default configuration
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxFailures:      5,
		Cooldown:         30 * time.Second,
		SuccessThreshold: 1,
	}
}

// CircuitBreaker stops calling a failing dependency for a cooldown period
type CircuitBreaker struct {
	cfg       CircuitBreakerConfig
	logger    *Logger
	now       func() time.Time
	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
	inFlight  bool
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg CircuitBreakerConfig, logger *Logger) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if logger == nil {
		logger = GetLogger()
	}
	return &CircuitBreaker{
		cfg:    cfg,
		logger: logger.WithSource("circuit_breaker"),
		now:    time.Now,
	}
}

// Execute runs fn unless the circuit is open. A panic in fn counts as a failure and is re-raised.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) (err error) {
	if acquireErr := cb.acquire(); acquireErr != nil {
		return acquireErr
	}
	defer func() {
		if r := recover(); r != nil {
			cb.release(fmt.Errorf("%s: panicked: %v", cb.cfg.Name, r))
			panic(r)
		}
		cb.release(err)
	}()
	return fn(ctx)
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			return fmt.Errorf("%s: %w", cb.cfg.Name, ErrCircuitOpen)
		}
		cb.transition(BreakerHalfOpen)
		cb.inFlight = true
		return nil
	case BreakerHalfOpen:
		// one probe at a time
		if cb.inFlight {
			return fmt.Errorf("%s: %w", cb.cfg.Name, ErrCircuitOpen)
		}
		cb.inFlight = true
		return nil
	default:
		return fmt.Errorf("%s: %w", cb.cfg.Name, ErrCircuitOpen)
	}
}

func (cb *CircuitBreaker) release(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.inFlight = false
	if err != nil && !errors.Is(err, context.Canceled) {
		cb.failures++
		cb.successes = 0
		if cb.state == BreakerHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.openedAt = cb.now()
			cb.transition(BreakerOpen)
		}
		return
	}

	cb.failures = 0
	if cb.state == BreakerHalfOpen {
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.successes = 0
			cb.transition(BreakerClosed)
		}
	}
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	if cb.state == to {
		return
	}
	cb.logger.Info("Circuit breaker state changed", map[string]interface{}{
		"circuit_breaker": cb.cfg.Name,
		"old_state":       cb.state.String(),
		"new_state":       to.String(),
		"failures":        cb.failures,
	})
	cb.state = to
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot for health endpoints
func (cb *CircuitBreaker) Stats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]interface{}{
		"name":     cb.cfg.Name,
		"state":    cb.state.String(),
		"failures": cb.failures,
	}
}
