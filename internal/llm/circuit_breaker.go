package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the breaker rejects a call without trying it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds the configuration for a provider's circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in logs. Default: "llm"
	Name string

	// MaxFailures is the number of consecutive transient failures that trip the circuit.
	// Default: 3
	MaxFailures uint32

	// Timeout is how long the circuit stays open before allowing a trial request.
	// Default: 30 seconds
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of trial requests allowed while half-open.
	// Default: 2
	HalfOpenMaxSuccesses uint32

	Logger *log.Logger
}

// CircuitBreakerMetrics holds counters about breaker traffic.
type CircuitBreakerMetrics struct {
	TotalRequests        uint64
	TotalSuccesses       uint64
	TotalFailures        uint64
	Rejected             uint64
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker wraps gobreaker to protect a provider from cascading failures.
//
// Only transient gateway errors count against the circuit. A fatal error such
// as a rejected prompt or a cancelled caller says nothing about backend health.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	config  CircuitBreakerConfig
	mu      sync.RWMutex
	metrics CircuitBreakerMetrics
}

// NewCircuitBreaker creates a breaker with the default configuration.
func NewCircuitBreaker(name string) *CircuitBreaker {
	return NewCircuitBreakerWithConfig(CircuitBreakerConfig{Name: name})
}

// NewCircuitBreakerWithConfig creates a breaker with the given configuration.
// Zero fields take their defaults.
func NewCircuitBreakerWithConfig(config CircuitBreakerConfig) *CircuitBreaker {
	if config.Name == "" {
		config.Name = "llm"
	}
	if config.MaxFailures == 0 {
		config.MaxFailures = 3
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HalfOpenMaxSuccesses == 0 {
		config.HalfOpenMaxSuccesses = 2
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	cb := &CircuitBreaker{config: config}
	cb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.HalfOpenMaxSuccesses,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			config.Logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return cb
}

// call runs fn through the breaker. An open circuit yields a fatal
// GatewayError wrapping ErrCircuitOpen.
func (cb *CircuitBreaker) call(ctx context.Context, provider string, fn func() (string, error)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &GatewayError{Kind: Fatal, Provider: provider, Err: err}
	}

	result, err := cb.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			cb.record(func(m *CircuitBreakerMetrics) { m.Rejected++ })
			return "", &GatewayError{Kind: Fatal, Provider: provider, Err: ErrCircuitOpen}
		}
		cb.record(func(m *CircuitBreakerMetrics) { m.TotalRequests++; m.TotalFailures++ })
		return "", err
	}

	cb.record(func(m *CircuitBreakerMetrics) { m.TotalRequests++; m.TotalSuccesses++ })
	return result.(string), nil
}

// State returns "closed", "open" or "half-open".
func (cb *CircuitBreaker) State() string {
	switch cb.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Metrics returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	counts := cb.breaker.Counts()
	m := cb.metrics
	m.ConsecutiveSuccesses = counts.ConsecutiveSuccesses
	m.ConsecutiveFailures = counts.ConsecutiveFailures
	return m
}

func (cb *CircuitBreaker) record(update func(*CircuitBreakerMetrics)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	update(&cb.metrics)
}
