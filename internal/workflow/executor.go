package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeforge/forge/internal/core"
	"github.com/codeforge/forge/internal/domain/model"
	apperrors "github.com/codeforge/forge/internal/errors"
	"github.com/codeforge/forge/internal/resilience"
)

// Execution defaults, tuned for LLM-backed steps.
const (
	DefaultStepTimeout   = 5 * time.Minute
	DefaultMaxIterations = 5
)

// Result is the outcome of a completed or suspended graph walk.
type Result struct {
	State *model.PipelineState
	// Clarification is non-nil when a step suspended the walk to ask
	// the user a question. The job should move to waiting_for_input.
	Clarification []byte
}

// Suspended reports whether the walk stopped awaiting user input.
func (r *Result) Suspended() bool { return len(r.Clarification) > 0 }

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	Store  core.JobStore        // required
	Steps  map[string]core.Step // required: node name -> step
	Caller *resilience.Caller   // required
	Logger *slog.Logger

	StepTimeout   time.Duration // per-node deadline, default DefaultStepTimeout
	MaxIterations int           // qa retry ceiling, default DefaultMaxIterations

	// OnProgress is invoked after every node. Failures inside the
	// subscriber never affect the walk.
	OnProgress core.ProgressFunc
}

// Executor walks agent graphs. Each node runs behind the resilient
// caller for its provider; node patches are merged into the pipeline
// state at a single point and progress is mirrored into the job store
// after every node.
type Executor struct {
	store         core.JobStore
	steps         map[string]core.Step
	caller        *resilience.Caller
	logger        *slog.Logger
	stepTimeout   time.Duration
	maxIterations int
	onProgress    core.ProgressFunc
}

// NewExecutor creates an Executor from options.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("executor: store is required")
	}
	if len(opts.Steps) == 0 {
		return nil, fmt.Errorf("executor: steps are required")
	}
	if opts.Caller == nil {
		return nil, fmt.Errorf("executor: caller is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stepTimeout := opts.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Executor{
		store:         opts.Store,
		steps:         opts.Steps,
		caller:        opts.Caller,
		logger:        logger.With("component", "workflow_executor"),
		stepTimeout:   stepTimeout,
		maxIterations: maxIterations,
		onProgress:    opts.OnProgress,
	}, nil
}

// Execute walks the graph for the job's agent type to completion or
// suspension. The returned error, when non-nil, is the step or graph
// failure that ended the walk; the job's terminal status is the
// caller's responsibility.
func (e *Executor) Execute(ctx context.Context, job *model.Job) (*Result, error) {
	graph, err := GraphFor(job.AgentType)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeGraph, "select graph")
	}

	state := &model.PipelineState{
		ProjectID:     job.ProjectID,
		JobID:         job.ID,
		AgentType:     job.AgentType,
		InputContext:  job.InputContext,
		MaxIterations: e.maxIterations,
		Progress:      job.Progress,
	}

	limit := recursionLimit(state.MaxIterations)
	executions := 0
	current := graph.Entry()

	for current != End {
		if executions >= limit {
			return nil, apperrors.Graphf("recursion limit of %d node executions exceeded at node %q", limit, current)
		}
		executions++

		if err := e.checkCancelled(ctx, job.ID); err != nil {
			return nil, err
		}

		node, ok := graph.node(current)
		if !ok {
			return nil, apperrors.Graphf("graph routed to unknown node %q", current)
		}
		step, ok := e.steps[node.name]
		if !ok {
			return nil, apperrors.Graphf("no step registered for node %q", node.name)
		}

		e.logger.InfoContext(ctx, "running node",
			"job_id", job.ID,
			"node", node.name,
			"iteration", state.IterationCount)

		patch, err := e.runStep(ctx, node, step, state)
		if err != nil {
			state.Errors = append(state.Errors, fmt.Sprintf("%s: %v", node.name, err))
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeStep, "node %s", node.name)
		}

		e.merge(state, node, patch)
		e.mirrorProgress(ctx, job.ID, state)

		if len(patch.Clarification) > 0 {
			e.logger.InfoContext(ctx, "node requested clarification",
				"job_id", job.ID,
				"node", node.name)
			return &Result{State: state, Clarification: patch.Clarification}, nil
		}

		current = node.next(state)
	}

	state.Progress = model.ProgressDone
	return &Result{State: state}, nil
}

// runStep executes one node behind the resilient caller for its
// provider, under the per-step deadline. The step receives a snapshot
// so it can never alias executor-owned state.
func (e *Executor) runStep(ctx context.Context, node graphNode, step core.Step, state *model.PipelineState) (model.Patch, error) {
	provider := resilience.ProviderFor(model.AgentType(node.name))

	out, err := e.caller.Call(ctx, provider, func(ctx context.Context) (any, error) {
		stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
		return step.Run(stepCtx, state.Snapshot())
	})
	if err != nil {
		return model.Patch{}, err
	}
	patch, ok := out.(model.Patch)
	if !ok {
		return model.Patch{}, apperrors.Internal(fmt.Sprintf("node %s returned %T, want model.Patch", node.name, out))
	}
	return patch, nil
}

// merge is the single point where node output is folded into the
// pipeline state. Nil patch fields leave the state untouched; the code
// node implicitly counts a loop traversal unless the patch sets the
// counter explicitly.
func (e *Executor) merge(state *model.PipelineState, node graphNode, patch model.Patch) {
	if patch.RequirementsSpec != nil {
		state.RequirementsSpec = patch.RequirementsSpec
	}
	if patch.ArchitectureSpec != nil {
		state.ArchitectureSpec = patch.ArchitectureSpec
	}
	if patch.GeneratedCode != nil {
		state.GeneratedCode = patch.GeneratedCode
	}
	if patch.QAResult != nil {
		state.QAResult = patch.QAResult
	}
	if patch.Roadmap != nil {
		state.Roadmap = patch.Roadmap
	}
	if patch.PedagogyResponse != nil {
		state.PedagogyResponse = patch.PedagogyResponse
	}

	if patch.IterationCount != nil {
		state.IterationCount = *patch.IterationCount
	} else if node.name == model.NodeCode {
		state.IterationCount++
	}

	state.CurrentNode = node.name
	progress := node.progress
	if patch.Progress > 0 {
		progress = patch.Progress
	}
	if progress > state.Progress {
		state.Progress = progress
	}
}

// mirrorProgress writes the node boundary progress into the job record
// and notifies the subscriber. Store failures here are logged, not
// fatal: the walk itself is the source of truth until it finishes.
func (e *Executor) mirrorProgress(ctx context.Context, jobID string, state *model.PipelineState) {
	if _, err := e.store.Update(ctx, jobID, core.UpdateJobParams{
		Progress: core.ProgressOf(state.Progress),
	}); err != nil {
		e.logger.WarnContext(ctx, "failed to mirror node progress",
			"job_id", jobID,
			"node", state.CurrentNode,
			"error", err)
	}
	if e.onProgress != nil {
		e.onProgress(jobID, state.Progress, state.CurrentNode)
	}
}

// checkCancelled consults the job record between nodes so an external
// cancel takes effect at the next node boundary.
func (e *Executor) checkCancelled(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "job deadline exceeded")
		}
		return apperrors.Wrap(err, apperrors.ErrCodeCanceled, "execution context done")
	}
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return apperrors.NotFoundf("job %s disappeared mid-run", jobID)
	}
	if job.Status == model.JobStatusCancelled {
		return apperrors.Canceled("job cancelled")
	}
	return nil
}
