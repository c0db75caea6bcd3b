package router

import (
	"sync"
	"time"

	"github.com/af-corp/vllm-gateway/internal/config"
)

// HealthTracker keeps one circuit breaker per backend address. A nil *HealthTracker
// is valid and allows every request, which is how the breaker is disabled.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	failureThreshold      int
	recoveryProbeInterval time.Duration
	onChange              func(backend string, state CircuitState)
}

// NewHealthTracker returns nil when cfg.FailureThreshold is 0.
func NewHealthTracker(cfg config.CircuitBreakerConfig, onChange func(backend string, state CircuitState)) *HealthTracker {
	if cfg.FailureThreshold <= 0 {
		return nil
	}
	return &HealthTracker{
		breakers:              make(map[string]*CircuitBreaker),
		failureThreshold:      cfg.FailureThreshold,
		recoveryProbeInterval: cfg.RecoveryProbeInterval,
		onChange:              onChange,
	}
}

// GetBreaker returns (or lazily creates) the circuit breaker for a backend.
func (ht *HealthTracker) GetBreaker(backend string) *CircuitBreaker {
	ht.mu.RLock()
	cb, ok := ht.breakers[backend]
	ht.mu.RUnlock()
	if ok {
		return cb
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	if cb, ok := ht.breakers[backend]; ok {
		return cb
	}
	var notify func(CircuitState)
	if ht.onChange != nil {
		notify = func(s CircuitState) { ht.onChange(backend, s) }
	}
	cb = NewCircuitBreaker(ht.failureThreshold, ht.recoveryProbeInterval, notify)
	ht.breakers[backend] = cb
	return cb
}

func (ht *HealthTracker) Allow(backend string) bool {
	if ht == nil {
		return true
	}
	return ht.GetBreaker(backend).Allow()
}

func (ht *HealthTracker) RecordSuccess(backend string) {
	if ht == nil {
		return
	}
	ht.GetBreaker(backend).RecordSuccess()
}

func (ht *HealthTracker) RecordFailure(backend string) {
	if ht == nil {
		return
	}
	ht.GetBreaker(backend).RecordFailure()
}
