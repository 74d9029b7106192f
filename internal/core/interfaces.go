// Package core defines the contracts between the orchestration layer and its
// collaborators (ports in hexagonal architecture). Service implementations
// depend on these interfaces, not concrete implementations.
package core

import (
	"context"
	"time"

	"github.com/codeforge/forge/internal/domain/model"
)

// Pagination bounds for ListForProject.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NormalizePage clamps page and pageSize to their legal ranges.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// JobStore defines the durable job lifecycle contract. Both backends
// (process-local and Redis) expose identical externally observable
// semantics: same state machine, same pagination contract.
//
// Get and Update on a missing job return (nil, nil) — a lost job is
// not an error. Backend connectivity errors always propagate: a
// silently dropped status update corrupts the state machine.
type JobStore interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	Update(ctx context.Context, id string, params UpdateJobParams) (*model.Job, error)
	// TryClaim atomically moves a queued job to running; it reports
	// false when another worker won the race or the job is gone.
	TryClaim(ctx context.Context, id string) (bool, error)
	ListForProject(ctx context.Context, projectID string, page, pageSize int) (*model.JobPage, error)
	ListPending(ctx context.Context) ([]*model.Job, error)
	// Cleanup removes terminal jobs older than the cutoff and returns
	// the number removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
	// SweepIndexes removes per-project index entries whose job record
	// no longer exists. Runs independently of record expiry.
	SweepIndexes(ctx context.Context) (int64, error)
}

// UpdateJobParams carries the optional fields of a job update. Nil
// fields are left untouched. Setting Error forces status failed.
type UpdateJobParams struct {
	Status        *model.JobStatus
	Progress      *float64
	Result        []byte
	Error         *string
	Clarification []byte
}

// StatusOf is a convenience for building a status pointer inline.
func StatusOf(s model.JobStatus) *model.JobStatus { return &s }

// ProgressOf is a convenience for building a progress pointer inline.
func ProgressOf(p float64) *float64 { return &p }

// ErrorOf is a convenience for building an error-message pointer inline.
func ErrorOf(msg string) *string { return &msg }

// Step is the consumed generation-step contract. Implementations are
// opaque to the orchestrator: prompt construction and output parsing
// live behind this boundary. Errors should be resilience.StepErrors so
// the retry classifier can tell transient from permanent failures.
type Step interface {
	Run(ctx context.Context, state *model.PipelineState) (model.Patch, error)
}

// StepFunc adapts a function to the Step interface.
type StepFunc func(ctx context.Context, state *model.PipelineState) (model.Patch, error)

// Run calls fn(ctx, state).
func (fn StepFunc) Run(ctx context.Context, state *model.PipelineState) (model.Patch, error) {
	return fn(ctx, state)
}

// ProgressFunc is invoked with (jobID, progress, nodeName) after every
// node. Subscriber failures are logged and never propagated into the run.
type ProgressFunc func(jobID string, progress float64, node string)
