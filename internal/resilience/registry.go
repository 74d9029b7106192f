package resilience

import (
	"log/slog"
	"sync"

	"github.com/codeforge/forge/internal/observability/metrics"
	"github.com/codeforge/forge/internal/observability/statsd"
)

// RegistryOptions groups dependencies for the breaker registry.
type RegistryOptions struct {
	Config  BreakerConfig // Breaker settings applied to every provider
	Logger  *slog.Logger  // Optional: structured logger
	Metrics statsd.Sink   // Optional: metrics sink (StatsD-compatible)

	// OnStateChange is an optional listener for breaker transitions,
	// invoked after logging/metrics. It must not call back into the
	// originating breaker.
	OnStateChange StateChangeFunc
}

// Registry caches one circuit breaker per provider identity for the
// lifetime of the process. Breakers are created lazily on first use.
type Registry struct {
	cfg           BreakerConfig
	logger        *slog.Logger
	metrics       statsd.Sink
	onStateChange StateChangeFunc

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry constructs a breaker registry.
func NewRegistry(opts RegistryOptions) *Registry {
	cfg := opts.Config
	cfg.Sanitize()

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "breaker_registry")
	}

	return &Registry{
		cfg:           cfg,
		logger:        logger,
		metrics:       opts.Metrics,
		onStateChange: opts.OnStateChange,
		breakers:      make(map[string]*Breaker),
	}
}

// GetOrCreate returns the provider's breaker, creating it on first use.
func (r *Registry) GetOrCreate(provider string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[provider]; ok {
		return b
	}

	b := NewBreaker(provider, r.cfg)
	b.onStateChange = r.stateChanged
	r.breakers[provider] = b

	if r.logger != nil {
		r.logger.Debug("circuit breaker created",
			"provider", provider,
			"failure_threshold", r.cfg.FailureThreshold,
			"recovery_timeout", r.cfg.RecoveryTimeout,
			"half_open_max_calls", r.cfg.HalfOpenMaxCalls,
		)
	}

	return b
}

// States returns a snapshot of every known breaker's state, keyed by
// provider identity. Used by monitoring surfaces.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]State, len(r.breakers))
	for provider, b := range r.breakers {
		out[provider] = b.State()
	}
	return out
}

func (r *Registry) stateChanged(provider string, from, to State) {
	if r.logger != nil {
		r.logger.Warn("circuit breaker state change",
			"provider", provider,
			"from", string(from),
			"to", string(to),
		)
	}

	metrics.EmitBreakerState(r.metrics, metrics.BreakerMetric{
		Provider: provider,
		From:     string(from),
		To:       string(to),
	})

	if r.onStateChange != nil {
		r.onStateChange(provider, from, to)
	}
}
