// Package data provides job persistence backends. Two implementations of
// core.JobStore exist: an in-process MemoryStore for single-node deployments
// and tests, and a RedisStore for deployments where several workers share
// the queue. Both enforce the same mutation rules: frozen jobs are never
// modified, status only moves along the documented edges, and progress is
// clamped to [0,100] and never decreases.
package data

import (
	"time"

	"github.com/codeforge/forge/internal/core"
	"github.com/codeforge/forge/internal/domain/model"
)

// CompletedJobTTL is how long finished jobs are retained before expiry.
const CompletedJobTTL = 48 * time.Hour

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// applyUpdate mutates job in place according to the store update rules and
// reports whether anything changed. The caller must hold any lock protecting
// the job. Rules, in order:
//
//   - frozen jobs (terminal or waiting_for_input) are never touched
//   - a non-empty Error forces status failed
//   - a status change is applied only when the edge is allowed; an illegal
//     edge makes the whole update a no-op
//   - the first transition to running stamps StartedAt; any terminal
//     transition stamps CompletedAt
//   - progress is clamped and only ever increases
func applyUpdate(job *model.Job, params core.UpdateJobParams, now time.Time) bool {
	if job.Status.Frozen() {
		return false
	}

	status := params.Status
	if params.Error != nil && *params.Error != "" {
		failed := model.JobStatusFailed
		status = &failed
	}

	if status != nil && *status != job.Status {
		if !job.Status.CanTransition(*status) {
			return false
		}
		job.Status = *status
		if *status == model.JobStatusRunning && job.StartedAt == nil {
			started := now
			job.StartedAt = &started
		}
		if status.Terminal() {
			completed := now
			job.CompletedAt = &completed
		}
	}

	if params.Progress != nil {
		p := clampProgress(*params.Progress)
		if p > job.Progress {
			job.Progress = p
		}
	}
	if params.Result != nil {
		job.Result = append([]byte(nil), params.Result...)
	}
	if params.Error != nil && *params.Error != "" {
		job.Error = *params.Error
	}
	if params.Clarification != nil {
		job.ClarificationData = append([]byte(nil), params.Clarification...)
	}

	return true
}
