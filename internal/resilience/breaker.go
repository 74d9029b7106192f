// Package resilience shields the workflow executor from unreliable
// generation providers. It combines a per-provider circuit breaker with
// classified exponential-backoff retry so one provider's outage neither
// hammers the provider nor blocks calls routed elsewhere.
package resilience

import (
	"sync"
	"time"

	apperrors "github.com/codeforge/forge/internal/errors"
)

// State represents circuit breaker state.
type State string

const (
	// StateClosed passes calls through and counts consecutive failures.
	StateClosed State = "closed"
	// StateOpen rejects every call without invoking the wrapped operation.
	StateOpen State = "open"
	// StateHalfOpen admits a bounded number of concurrent probe calls.
	StateHalfOpen State = "half_open"
)

// BreakerConfig holds circuit breaker tuning knobs.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before probing.
	RecoveryTimeout time.Duration
	// HalfOpenMaxCalls bounds concurrent probes while half-open.
	HalfOpenMaxCalls int
}

// Default breaker settings, matching the provider SLAs the system was tuned against.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
	DefaultHalfOpenMaxCalls = 2
)

// Sanitize applies guardrails to breaker configuration values.
func (c *BreakerConfig) Sanitize() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}
}

// StateChangeFunc is notified when a breaker changes state.
type StateChangeFunc func(provider string, from, to State)

// Breaker is a per-provider circuit breaker. One instance exists per
// provider identity for the lifetime of the process; all transitions
// happen inside the mutex so concurrent callers can neither race past
// the failure threshold nor double-count a single failure.
type Breaker struct {
	provider string
	cfg      BreakerConfig

	onStateChange StateChangeFunc
	now           func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	halfOpenCalls int
}

// NewBreaker constructs a breaker for the given provider identity.
func NewBreaker(provider string, cfg BreakerConfig) *Breaker {
	cfg.Sanitize()
	return &Breaker{
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
		state:    StateClosed,
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op through the breaker. The admission decision and the
// post-call state update are each serialized sections; op itself runs
// outside the lock so probes and closed-state calls stay concurrent.
func (b *Breaker) Execute(op func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := op()
	if err != nil {
		b.recordFailure()
		return err
	}

	b.recordSuccess()
	return nil
}

// allow decides whether a call may proceed. While open it lazily
// transitions to half-open once the recovery timeout has elapsed since
// the last failure; there is no background timer.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.cfg.RecoveryTimeout {
		b.transition(StateHalfOpen)
		b.halfOpenCalls = 0
	}

	switch b.state {
	case StateOpen:
		return apperrors.BreakerOpenf(
			"provider %q is temporarily unavailable, try again later", b.provider)
	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			return apperrors.BreakerOpenf(
				"provider %q is temporarily unavailable, try again later", b.provider)
		}
		b.halfOpenCalls++
	case StateClosed:
	}
	return nil
}

// recordSuccess resets the breaker. A single half-open success is
// enough to confirm recovery.
func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.failures = 0
	b.halfOpenCalls = 0
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	switch {
	case b.state == StateHalfOpen:
		// Recovery probe failed; no need to re-accumulate a threshold.
		b.transition(StateOpen)
	case b.state == StateClosed && b.failures >= b.cfg.FailureThreshold:
		b.transition(StateOpen)
		b.halfOpenCalls = 0
	}
}

// Reset forces the breaker back to closed with all counters cleared.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.failures = 0
	b.halfOpenCalls = 0
	b.lastFailure = time.Time{}
}

// transition must be called with the mutex held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onStateChange != nil {
		b.onStateChange(b.provider, from, to)
	}
}
