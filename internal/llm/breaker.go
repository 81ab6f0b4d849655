package llm

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"    // Normal operation
	CircuitOpen     CircuitState = "open"      // Failing, rejecting requests
	CircuitHalfOpen CircuitState = "half_open" // Testing with limited requests
)

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	FailureThreshold    int           // Consecutive failures to open the circuit
	SuccessThreshold    int           // Consecutive successes in half-open to close
	Cooldown            time.Duration // How long to stay open before half-open
	HalfOpenMaxRequests int           // Max in-flight probes in half-open state
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Cooldown:            30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// BreakerProvider wraps a Provider with the circuit breaker pattern. A
// provider that keeps failing stops receiving calls for a cooldown period,
// so one dead gateway cannot burn an entire stage's timeout budget.
type BreakerProvider struct {
	provider Provider
	config   BreakerConfig
	log      zerolog.Logger

	mu                   sync.Mutex
	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	halfOpenInFlight     int
}

// NewBreakerProvider wraps a provider with a circuit breaker.
func NewBreakerProvider(provider Provider, cfg BreakerConfig, log zerolog.Logger) *BreakerProvider {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultBreakerConfig()
	}
	return &BreakerProvider{
		provider: provider,
		config:   cfg,
		log:      log,
		state:    CircuitClosed,
	}
}

// Name returns the wrapped provider's identifier.
func (b *BreakerProvider) Name() string { return b.provider.Name() }

// Available reports the wrapped provider's availability.
func (b *BreakerProvider) Available() bool { return b.provider.Available() }

// State returns the current circuit state.
func (b *BreakerProvider) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Chat forwards to the wrapped provider when the circuit allows it.
func (b *BreakerProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := b.before(); err != nil {
		return nil, &CallError{Provider: b.provider.Name(), Kind: KindNetwork, Err: err}
	}

	resp, err := b.provider.Chat(ctx, req)
	b.after(err)
	return resp, err
}

// before checks whether a call may proceed and updates half-open accounting.
func (b *BreakerProvider) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(b.openedAt) < b.config.Cooldown {
			return ErrCircuitOpen
		}
		b.transition(CircuitHalfOpen)
		b.halfOpenInFlight = 1
		return nil
	default: // half-open
		if b.halfOpenInFlight >= b.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		b.halfOpenInFlight++
		return nil
	}
}

// after records the call outcome and drives state transitions.
func (b *BreakerProvider) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitHalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	if err != nil {
		b.consecutiveSuccesses = 0
		b.consecutiveFailures++
		switch b.state {
		case CircuitHalfOpen:
			b.transition(CircuitOpen)
			b.openedAt = time.Now()
		case CircuitClosed:
			if b.consecutiveFailures >= b.config.FailureThreshold {
				b.transition(CircuitOpen)
				b.openedAt = time.Now()
			}
		}
		return
	}

	b.consecutiveFailures = 0
	b.consecutiveSuccesses++
	if b.state == CircuitHalfOpen && b.consecutiveSuccesses >= b.config.SuccessThreshold {
		b.transition(CircuitClosed)
	}
}

// transition changes state, logging the change. Caller holds the mutex.
func (b *BreakerProvider) transition(next CircuitState) {
	if b.state == next {
		return
	}
	b.log.Warn().
		Str("provider", b.provider.Name()).
		Str("from", string(b.state)).
		Str("to", string(next)).
		Msg("circuit breaker state change")
	b.state = next
	if next == CircuitClosed {
		b.consecutiveFailures = 0
		b.consecutiveSuccesses = 0
	}
}
