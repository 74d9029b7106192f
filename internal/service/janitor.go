package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/codeforge/forge/config"
	"github.com/codeforge/forge/internal/core"
	"github.com/codeforge/forge/internal/observability/statsd"
)

// JanitorOptions groups dependencies for the Janitor.
type JanitorOptions struct {
	Store   core.JobStore        // Required: job store backend
	Config  config.JanitorConfig // Required: janitor configuration
	Logger  *slog.Logger         // Optional: structured logger
	Metrics statsd.Sink          // Optional: metrics sink (StatsD-compatible)
}

// Janitor periodically removes old finished jobs and sweeps index
// entries whose job record has expired.
type Janitor struct {
	store   core.JobStore
	config  config.JanitorConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewJanitor constructs a Janitor.
func NewJanitor(opts JanitorOptions) (*Janitor, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}

	cfg := opts.Config
	cfg.Sanitize()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Janitor{
		store:   opts.Store,
		config:  cfg,
		logger:  logger.With("component", "janitor"),
		metrics: opts.Metrics,
	}, nil
}

// Run starts the cleanup loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (j *Janitor) Run(ctx context.Context) error {
	j.logger.InfoContext(ctx, "starting janitor",
		"interval", j.config.Interval,
		"completed_max_age", j.config.CompletedMaxAge)

	// Jitter start so several instances do not sweep in lockstep.
	j.waitWithJitter(ctx)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.InfoContext(ctx, "janitor stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			j.runCleanup(ctx)
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (j *Janitor) waitWithJitter(ctx context.Context) {
	maxJitter := int64(j.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		j.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		// Graceful shutdown during jitter
	}
}

// runCleanup performs one cleanup pass. Errors are logged, not fatal:
// the loop keeps running and tries again next interval.
func (j *Janitor) runCleanup(ctx context.Context) {
	start := time.Now()

	removed, err := j.store.Cleanup(ctx, j.config.CompletedMaxAge)
	if err != nil {
		j.logCleanupError(ctx, err, "cleanup finished jobs")
	}

	swept, sweepErr := j.store.SweepIndexes(ctx)
	if sweepErr != nil {
		j.logCleanupError(ctx, sweepErr, "sweep indexes")
	}

	elapsed := time.Since(start)
	j.logger.InfoContext(ctx, "cleanup pass finished",
		"removed", removed,
		"swept", swept,
		"elapsed", elapsed)
	j.emitCleanupMetrics(removed, swept, elapsed, err != nil || sweepErr != nil)
}

func (j *Janitor) logCleanupError(ctx context.Context, err error, operation string) {
	if isContextCancellation(err) {
		j.logger.InfoContext(ctx, "cleanup interrupted by shutdown", "operation", operation)
		return
	}
	j.logger.ErrorContext(ctx, "cleanup operation failed",
		"operation", operation,
		"error", err)
}

func (j *Janitor) emitCleanupMetrics(removed, swept int64, elapsed time.Duration, failed bool) {
	if j.metrics == nil {
		return
	}
	result := "success"
	if failed {
		result = "error"
	}
	tags := map[string]string{"result": result}
	j.metrics.Count("janitor.jobs_removed", removed, tags)
	j.metrics.Count("janitor.index_entries_swept", swept, tags)
	j.metrics.Timing("janitor.pass_duration", elapsed, tags)
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
