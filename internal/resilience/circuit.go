package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreaker rejects calls to a service after Threshold consecutive
// failures, then lets a single probe through once ResetTimeout has passed.
type CircuitBreaker struct {
	name         string
	threshold    int
	resetTimeout time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time
	open     bool
	now      func() time.Time
}

// NewCircuitBreaker creates a closed breaker. Non-positive arguments fall back
// to 5 failures and 30 seconds.
func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Allow returns ErrCircuitOpen while the breaker is open and the reset
// timeout has not elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.open && cb.now().Sub(cb.openedAt) < cb.resetTimeout {
		return ErrCircuitOpen
	}
	return nil
}

// Record updates the breaker with the outcome of a call. Only failures for
// which IsTransient holds count towards opening it.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || !IsTransient(err) {
		if cb.open {
			zap.L().Info("circuit breaker closed", zap.String("service", cb.name))
		}
		cb.failures = 0
		cb.open = false
		return
	}

	cb.failures++
	if cb.open || cb.failures >= cb.threshold {
		if !cb.open {
			zap.L().Warn("circuit breaker opened",
				zap.String("service", cb.name),
				zap.Int("failures", cb.failures),
			)
		}
		cb.open = true
		cb.openedAt = cb.now()
	}
}
