package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// CircuitState represents the state of a circuit breaker.
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

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. A billing error opens it at once.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before a probe.
	ResetTimeout time.Duration
	// OnStateChange is called on every transition.
	OnStateChange func(from, to CircuitState)
}

// DefaultBreakerConfig returns the breaker settings used for providers.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker guards a single provider.
type CircuitBreaker struct {
	cfg   BreakerConfig
	mu    sync.Mutex
	state CircuitState

	failures    int
	lastFailure time.Time

	now func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// ExecuteVal runs fn unless the circuit is open.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	cb.record(err)
	return val, err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	if cb.state != CircuitClosed {
		cb.transition(CircuitClosed)
	}
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitOpen {
		return nil
	}
	if cb.now().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout {
		cb.transition(CircuitHalfOpen)
		return nil
	}
	return ErrCircuitOpen
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err == nil:
		cb.failures = 0
		if cb.state == CircuitHalfOpen {
			cb.transition(CircuitClosed)
		}
		return
	case errors.Is(err, context.Canceled):
		// cancellation says nothing about provider health
		return
	}

	cb.failures++
	cb.lastFailure = cb.now()
	if cb.state == CircuitHalfOpen || IsBilling(err) || cb.failures >= cb.cfg.FailureThreshold {
		if cb.state != CircuitOpen {
			cb.transition(CircuitOpen)
		}
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// Guard bundles the protections applied to one provider: a rate limiter,
// retry of transient errors and a circuit breaker.
type Guard struct {
	Service string
	Limiter *rate.Limiter
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// NewGuard returns a Guard for service allowing rps requests per second.
// rps <= 0 disables rate limiting.
func NewGuard(service string, rps float64) *Guard {
	g := &Guard{
		Service: service,
		Retry:   DefaultRetryConfig(),
		Breaker: NewCircuitBreaker(BreakerConfig{
			OnStateChange: func(from, to CircuitState) {
				zap.L().Warn("provider circuit state change",
					zap.String("service", service),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		}),
	}
	if rps > 0 {
		g.Limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return g
}

// Call runs fn for operation op under g's protections. Each attempt waits
// for the limiter and passes through the breaker.
func Call[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	retry := g.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = RetryLogger(g.Service, op)
	}
	return DoVal(ctx, retry, func(ctx context.Context) (T, error) {
		if g.Limiter != nil {
			if err := g.Limiter.Wait(ctx); err != nil {
				var zero T
				return zero, eris.Wrapf(err, "%s: rate limiter", g.Service)
			}
		}
		if g.Breaker == nil {
			return fn(ctx)
		}
		return ExecuteVal(ctx, g.Breaker, fn)
	})
}
