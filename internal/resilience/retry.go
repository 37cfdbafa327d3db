package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retry behavior with exponential backoff and jitter.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// JitterFraction adds ±fraction of the computed delay.
	JitterFraction float64

	// ShouldRetry overrides IsTransient when set.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the retry settings used for provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// DoVal executes fn, retrying transient errors, and returns its value.
// Context cancellation stops retries immediately.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !cfg.ShouldRetry(err) || attempt == cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(backoff(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = IsTransient
	}
	return cfg
}

func backoff(attempt int, cfg RetryConfig) time.Duration {
	delay := math.Min(
		float64(cfg.InitialBackoff)*math.Pow(cfg.Multiplier, float64(attempt)),
		float64(cfg.MaxBackoff),
	)
	if cfg.JitterFraction > 0 {
		delay += (rand.Float64()*2 - 1) * delay * cfg.JitterFraction
	}
	return time.Duration(math.Max(delay, 0))
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying provider call",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
