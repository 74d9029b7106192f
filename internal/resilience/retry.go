package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	apperrors "github.com/codeforge/forge/internal/errors"
	"github.com/codeforge/forge/internal/observability/metrics"
	"github.com/codeforge/forge/internal/observability/statsd"
)

// Operation is one provider call wrapped by the resilience layer.
type Operation func(ctx context.Context) (any, error)

// Retry defaults, matching the provider SLAs the system was tuned against.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 2 * time.Second
	DefaultMaxDelay   = 30 * time.Second

	// jitterFraction bounds the random spread added to each backoff delay.
	jitterFraction = 0.3
)

// RetryConfig holds retry tuning knobs.
type RetryConfig struct {
	// MaxRetries is the total number of attempts, including the first.
	MaxRetries int
	// BaseDelay seeds the exponential backoff schedule.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff delay before jitter.
	MaxDelay time.Duration
}

// Sanitize applies guardrails to retry configuration values.
func (c *RetryConfig) Sanitize() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
}

// CallerOptions groups dependencies for the resilient caller.
type CallerOptions struct {
	Registry *Registry   // Required: per-provider breaker registry
	Config   RetryConfig // Retry settings
	Logger   *slog.Logger
	Metrics  statsd.Sink

	// Sleep is the backoff wait; overridable in tests. Defaults to a
	// timer that respects context cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter returns a random duration in [0, max); overridable in tests.
	Jitter func(max time.Duration) time.Duration
}

// Caller wraps provider operations with circuit-breaker protection and
// classified exponential-backoff retry. Permanent errors and
// breaker-open rejections propagate immediately; transient errors are
// retried with capped exponential backoff plus jitter.
type Caller struct {
	registry *Registry
	cfg      RetryConfig
	logger   *slog.Logger
	metrics  statsd.Sink
	sleep    func(ctx context.Context, d time.Duration) error
	jitter   func(max time.Duration) time.Duration
}

// NewCaller constructs a resilient caller.
func NewCaller(opts CallerOptions) (*Caller, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("breaker registry is required")
	}

	cfg := opts.Config
	cfg.Sanitize()

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "resilient_caller")
	}

	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	jitter := opts.Jitter
	if jitter == nil {
		jitter = randomJitter
	}

	return &Caller{
		registry: opts.Registry,
		cfg:      cfg,
		logger:   logger,
		metrics:  opts.Metrics,
		sleep:    sleep,
		jitter:   jitter,
	}, nil
}

// Call executes op through the provider's circuit breaker with up to
// MaxRetries attempts. The final attempt's error propagates once
// retries are exhausted.
func (c *Caller) Call(ctx context.Context, provider string, op Operation) (any, error) {
	breaker := c.registry.GetOrCreate(provider)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		var result any
		err := breaker.Execute(func() error {
			var opErr error
			result, opErr = op(ctx)
			return opErr
		})
		if err == nil {
			if attempt > 1 && c.logger != nil {
				c.logger.InfoContext(ctx, "provider call recovered",
					"provider", provider,
					"attempt", attempt,
					"max_retries", c.cfg.MaxRetries,
				)
			}
			c.emitAttempt(provider, attempt, nil)
			return result, nil
		}

		if apperrors.IsBreakerOpen(err) {
			// Fail fast; retrying would only hammer an open circuit.
			c.emitAttempt(provider, attempt, err)
			return nil, err
		}

		lastErr = err
		transient := Transient(err)
		c.emitAttempt(provider, attempt, err)

		if !transient || attempt == c.cfg.MaxRetries {
			if c.logger != nil {
				c.logger.ErrorContext(ctx, "provider call failed",
					"provider", provider,
					"attempt", attempt,
					"max_retries", c.cfg.MaxRetries,
					"transient", transient,
					"error", err,
				)
			}
			return nil, err
		}

		wait := c.backoff(attempt)
		if c.logger != nil {
			c.logger.WarnContext(ctx, "provider call failed, retrying",
				"provider", provider,
				"attempt", attempt,
				"max_retries", c.cfg.MaxRetries,
				"retry_in", wait,
				"error", err,
			)
		}
		if sleepErr := c.sleep(ctx, wait); sleepErr != nil {
			return nil, sleepErr
		}
	}

	return nil, lastErr
}

// backoff computes base*2^(attempt-1) capped at MaxDelay, plus jitter
// up to 30% of the capped delay.
func (c *Caller) backoff(attempt int) time.Duration {
	delay := c.cfg.BaseDelay << uint(attempt-1)
	if delay > c.cfg.MaxDelay || delay <= 0 {
		delay = c.cfg.MaxDelay
	}
	return delay + c.jitter(time.Duration(float64(delay)*jitterFraction))
}

func (c *Caller) emitAttempt(provider string, attempt int, err error) {
	metrics.EmitProviderCall(c.metrics, metrics.ProviderCallMetric{
		Provider: provider,
		Attempt:  attempt,
		Err:      err,
	})
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max))) // #nosec G404 -- jitter does not need crypto randomness
}

// sleepContext waits for d but returns early if the context ends.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
