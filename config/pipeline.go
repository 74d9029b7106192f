package config

import "time"

// PipelineConfig tunes workflow execution.
type PipelineConfig struct {
	// MaxIterations caps the qa -> code retry loop per job.
	MaxIterations int `env:"PIPELINE_MAX_ITERATIONS" envDefault:"5"`

	// StepTimeout is the deadline for a single node execution.
	StepTimeout time.Duration `env:"PIPELINE_STEP_TIMEOUT" envDefault:"5m"`

	// JobTimeout is the deadline for a whole job run.
	JobTimeout time.Duration `env:"PIPELINE_JOB_TIMEOUT" envDefault:"30m"`

	// WorkerCount is the number of concurrent job workers.
	WorkerCount int `env:"PIPELINE_WORKERS" envDefault:"4"`

	// PollInterval is how often idle workers check for queued jobs.
	PollInterval time.Duration `env:"PIPELINE_POLL_INTERVAL" envDefault:"1s"`
}

// Sanitize applies guardrails to pipeline configuration values.
func (c *PipelineConfig) Sanitize() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 5
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 5 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Minute
	}
	if c.JobTimeout < c.StepTimeout {
		c.JobTimeout = c.StepTimeout
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
}

// ResilienceConfig tunes provider circuit breakers and retry behavior.
type ResilienceConfig struct {
	// BreakerFailureThreshold is the consecutive-failure count that
	// opens a provider's circuit.
	BreakerFailureThreshold int `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`

	// BreakerRecoveryTimeout is how long an open circuit waits before
	// allowing probe calls.
	BreakerRecoveryTimeout time.Duration `env:"BREAKER_RECOVERY_TIMEOUT" envDefault:"60s"`

	// BreakerHalfOpenMaxCalls is the probe budget while half-open.
	BreakerHalfOpenMaxCalls int `env:"BREAKER_HALF_OPEN_MAX_CALLS" envDefault:"2"`

	// RetryMaxAttempts is the total attempts per provider call,
	// including the first.
	RetryMaxAttempts int `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`

	// RetryBaseDelay seeds the exponential backoff schedule.
	RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY" envDefault:"2s"`

	// RetryMaxDelay caps the backoff delay before jitter.
	RetryMaxDelay time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30s"`
}

// Sanitize applies guardrails to resilience configuration values.
func (c *ResilienceConfig) Sanitize() {
	if c.BreakerFailureThreshold <= 0 {
		c.BreakerFailureThreshold = 5
	}
	if c.BreakerRecoveryTimeout <= 0 {
		c.BreakerRecoveryTimeout = 60 * time.Second
	}
	if c.BreakerHalfOpenMaxCalls <= 0 {
		c.BreakerHalfOpenMaxCalls = 2
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		c.RetryMaxDelay = c.RetryBaseDelay
	}
}

// JanitorConfig tunes the background cleanup loop.
type JanitorConfig struct {
	// Interval is how often cleanup runs.
	Interval time.Duration `env:"JANITOR_INTERVAL" envDefault:"1h"`

	// CompletedMaxAge is how long finished jobs are kept before the
	// janitor removes them.
	CompletedMaxAge time.Duration `env:"JANITOR_COMPLETED_MAX_AGE" envDefault:"48h"`
}

// Sanitize applies guardrails to janitor configuration values.
func (c *JanitorConfig) Sanitize() {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.CompletedMaxAge <= 0 {
		c.CompletedMaxAge = 48 * time.Hour
	}
}
