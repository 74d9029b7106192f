// Package service hosts the orchestration services: the Orchestrator
// (job submission, status, cancel/resume, and the worker pool that
// drives workflow execution), the job event Notifier, and the Janitor
// cleanup loop.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/codeforge/forge/config"
	"github.com/codeforge/forge/internal/core"
	"github.com/codeforge/forge/internal/domain/model"
	apperrors "github.com/codeforge/forge/internal/errors"
	"github.com/codeforge/forge/internal/observability/metrics"
	"github.com/codeforge/forge/internal/observability/statsd"
	"github.com/codeforge/forge/internal/resilience"
	"github.com/codeforge/forge/internal/workflow"
)

// OrchestratorOptions groups dependencies for the Orchestrator.
type OrchestratorOptions struct {
	Store core.JobStore        // Required: job store backend
	Steps map[string]core.Step // Required: generation steps by node name

	Pipeline   config.PipelineConfig   // Pipeline tuning
	Resilience config.ResilienceConfig // Breaker and retry tuning

	Logger   *slog.Logger // Optional: structured logger
	Metrics  statsd.Sink  // Optional: metrics sink (StatsD-compatible)
	Notifier *Notifier    // Optional: job event fan-out

	// Caller overrides the resilient caller built from Resilience.
	// Tests use this to collapse backoff delays.
	Caller *resilience.Caller
}

// Orchestrator owns the job lifecycle: it accepts submissions, serves
// status queries, cancels and resumes jobs, and runs the worker pool
// that claims queued jobs and walks their agent graphs.
type Orchestrator struct {
	store    core.JobStore
	executor *workflow.Executor
	cfg      config.PipelineConfig
	logger   *slog.Logger
	metrics  statsd.Sink
	notifier *Notifier

	// running tracks claimed jobs so progress callbacks can be
	// enriched with project and agent identity.
	running sync.Map // job id -> *model.Job
}

// NewOrchestrator constructs an Orchestrator and its internal
// resilience and workflow stack.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if len(opts.Steps) == 0 {
		return nil, errors.New("at least one generation step is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := opts.Pipeline
	cfg.Sanitize()
	resCfg := opts.Resilience
	resCfg.Sanitize()

	caller := opts.Caller
	if caller == nil {
		registry := resilience.NewRegistry(resilience.RegistryOptions{
			Config: resilience.BreakerConfig{
				FailureThreshold: resCfg.BreakerFailureThreshold,
				RecoveryTimeout:  resCfg.BreakerRecoveryTimeout,
				HalfOpenMaxCalls: resCfg.BreakerHalfOpenMaxCalls,
			},
			Logger:  logger,
			Metrics: opts.Metrics,
		})
		var err error
		caller, err = resilience.NewCaller(resilience.CallerOptions{
			Registry: registry,
			Config: resilience.RetryConfig{
				MaxRetries: resCfg.RetryMaxAttempts,
				BaseDelay:  resCfg.RetryBaseDelay,
				MaxDelay:   resCfg.RetryMaxDelay,
			},
			Logger:  logger,
			Metrics: opts.Metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("build resilient caller: %w", err)
		}
	}

	o := &Orchestrator{
		store:    opts.Store,
		cfg:      cfg,
		logger:   logger.With("component", "orchestrator"),
		metrics:  opts.Metrics,
		notifier: opts.Notifier,
	}

	executor, err := workflow.NewExecutor(workflow.ExecutorOptions{
		Store:         opts.Store,
		Steps:         opts.Steps,
		Caller:        caller,
		Logger:        logger,
		StepTimeout:   cfg.StepTimeout,
		MaxIterations: cfg.MaxIterations,
		OnProgress:    o.publishProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("build workflow executor: %w", err)
	}
	o.executor = executor
	return o, nil
}

// Submit validates and enqueues a new job. Workers pick it up on their
// next poll.
func (o *Orchestrator) Submit(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}

	job, err := o.store.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "job submitted",
		"job_id", job.ID,
		"project_id", job.ProjectID,
		"agent_type", job.AgentType)
	metrics.EmitJobLifecycle(o.metrics, metrics.JobMetric{
		AgentType:  string(job.AgentType),
		Transition: "submit",
		Result:     metrics.ResultSuccess,
	})
	return job, nil
}

// GetStatus returns the caller-facing status view of a job.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (model.JobStatusResponse, error) {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return model.JobStatusResponse{}, err
	}
	if job == nil {
		return model.JobStatusResponse{}, apperrors.NotFoundf("job %s not found", jobID)
	}
	return job.StatusResponse(), nil
}

// List returns a page of a project's jobs, newest first.
func (o *Orchestrator) List(ctx context.Context, projectID string, page, pageSize int) (*model.JobPage, error) {
	if _, err := uuid.Parse(projectID); err != nil {
		return nil, apperrors.Validationf("project id must be a valid UUID")
	}
	return o.store.ListForProject(ctx, projectID, page, pageSize)
}

// Cancel stops a queued or running job. Jobs that already finished or
// suspended awaiting input cannot be cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperrors.NotFoundf("job %s not found", jobID)
	}
	if job.Status.Frozen() {
		return nil, apperrors.Conflictf("job %s is %s and cannot be cancelled", jobID, job.Status)
	}

	updated, err := o.store.Update(ctx, jobID, core.UpdateJobParams{
		Status: core.StatusOf(model.JobStatusCancelled),
	})
	if err != nil {
		return nil, err
	}
	if updated == nil || updated.Status != model.JobStatusCancelled {
		// lost the race against a terminal transition
		return nil, apperrors.Conflictf("job %s finished before it could be cancelled", jobID)
	}

	o.logger.InfoContext(ctx, "job cancelled", "job_id", jobID)
	metrics.EmitJobLifecycle(o.metrics, metrics.JobMetric{
		AgentType:  string(updated.AgentType),
		Transition: "cancel",
		Result:     metrics.ResultSuccess,
	})
	o.publishTerminal(ctx, updated)
	return updated, nil
}

// Resume continues a job that suspended awaiting user input. The
// original job is left untouched; a new job is created carrying the
// original input plus the supplied answers.
func (o *Orchestrator) Resume(ctx context.Context, jobID string, answers json.RawMessage) (*model.Job, error) {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperrors.NotFoundf("job %s not found", jobID)
	}
	if job.Status != model.JobStatusWaitingForInput {
		return nil, apperrors.Conflictf("job %s is %s, only waiting_for_input jobs can be resumed", jobID, job.Status)
	}
	if len(answers) > 0 && !json.Valid(answers) {
		return nil, apperrors.Validation("answers must be valid JSON")
	}

	merged, err := mergeAnswers(job.InputContext, answers)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "merge clarification answers")
	}

	resumed, err := o.Submit(ctx, &model.CreateJobRequest{
		ProjectID:    job.ProjectID,
		AgentType:    job.AgentType,
		InputContext: merged,
		OwnerID:      job.OwnerID,
	})
	if err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "job resumed",
		"job_id", jobID,
		"resumed_job_id", resumed.ID)
	return resumed, nil
}

// mergeAnswers folds clarification answers into the original input
// context. Object inputs get a clarification_responses key; anything
// else is wrapped so nothing is lost.
func mergeAnswers(input, answers json.RawMessage) (json.RawMessage, error) {
	merged := map[string]json.RawMessage{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &merged); err != nil {
			merged = map[string]json.RawMessage{"original_input": input}
		}
	}
	if len(answers) > 0 {
		merged["clarification_responses"] = answers
	}
	return json.Marshal(merged)
}

// Run starts the worker pool and blocks until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "starting job workers",
		"workers", o.cfg.WorkerCount,
		"poll_interval", o.cfg.PollInterval)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < o.cfg.WorkerCount; i++ {
		g.Go(func() error {
			return o.workerLoop(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// workerLoop polls for queued jobs until the context is cancelled.
func (o *Orchestrator) workerLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			o.drainQueue(ctx)
		}
	}
}

// drainQueue claims and runs every queued job it can win. Claim losses
// are normal when several workers poll the same queue.
func (o *Orchestrator) drainQueue(ctx context.Context) {
	pending, err := o.store.ListPending(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "failed to list pending jobs", "error", err)
		return
	}

	for _, job := range pending {
		if ctx.Err() != nil {
			return
		}
		won, err := o.store.TryClaim(ctx, job.ID)
		if err != nil {
			o.logger.WarnContext(ctx, "failed to claim job", "job_id", job.ID, "error", err)
			continue
		}
		if !won {
			continue
		}
		claimed, err := o.store.Get(ctx, job.ID)
		if err != nil || claimed == nil {
			o.logger.WarnContext(ctx, "claimed job vanished", "job_id", job.ID, "error", err)
			continue
		}
		o.runJob(ctx, claimed)
	}
}

// runJob executes one claimed job to a final status under the
// whole-job deadline.
func (o *Orchestrator) runJob(ctx context.Context, job *model.Job) {
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, o.cfg.JobTimeout)
	defer cancel()

	o.running.Store(job.ID, job)
	defer o.running.Delete(job.ID)

	o.logger.InfoContext(ctx, "job started",
		"job_id", job.ID,
		"project_id", job.ProjectID,
		"agent_type", job.AgentType)
	o.publish(ctx, JobEvent{
		Type:      EventProgress,
		JobID:     job.ID,
		ProjectID: job.ProjectID,
		AgentType: job.AgentType,
		Status:    model.JobStatusRunning,
		Progress:  model.ProgressStarted,
	})

	result, err := o.executor.Execute(jobCtx, job)
	if err != nil {
		o.finishFailed(ctx, job, err, time.Since(start))
		return
	}
	if result.Suspended() {
		o.finishWaiting(ctx, job, result)
		return
	}
	o.finishCompleted(ctx, job, result, time.Since(start))
}

func (o *Orchestrator) finishCompleted(ctx context.Context, job *model.Job, result *workflow.Result, elapsed time.Duration) {
	payload := buildResult(result.State)
	updated, err := o.store.Update(ctx, job.ID, core.UpdateJobParams{
		Status:   core.StatusOf(model.JobStatusCompleted),
		Progress: core.ProgressOf(model.ProgressDone),
		Result:   payload,
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to record job completion",
			"job_id", job.ID, "error", err)
		return
	}

	o.logger.InfoContext(ctx, "job completed",
		"job_id", job.ID,
		"agent_type", job.AgentType,
		"iterations", result.State.IterationCount,
		"elapsed", elapsed)
	metrics.EmitJobLifecycle(o.metrics, metrics.JobMetric{
		AgentType:  string(job.AgentType),
		Transition: "complete",
		Result:     metrics.ResultSuccess,
		Duration:   elapsed,
	})
	if updated != nil {
		o.publishTerminal(ctx, updated)
	}
}

func (o *Orchestrator) finishWaiting(ctx context.Context, job *model.Job, result *workflow.Result) {
	updated, err := o.store.Update(ctx, job.ID, core.UpdateJobParams{
		Status:        core.StatusOf(model.JobStatusWaitingForInput),
		Result:        buildResult(result.State),
		Clarification: result.Clarification,
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to suspend job",
			"job_id", job.ID, "error", err)
		return
	}

	o.logger.InfoContext(ctx, "job awaiting user input",
		"job_id", job.ID,
		"node", result.State.CurrentNode)
	metrics.EmitJobLifecycle(o.metrics, metrics.JobMetric{
		AgentType:  string(job.AgentType),
		Transition: "suspend",
		Result:     metrics.ResultSuccess,
	})
	if updated != nil {
		o.publish(ctx, JobEvent{
			Type:      EventWaiting,
			JobID:     updated.ID,
			ProjectID: updated.ProjectID,
			AgentType: updated.AgentType,
			Status:    updated.Status,
			Progress:  updated.Progress,
		})
	}
}

func (o *Orchestrator) finishFailed(ctx context.Context, job *model.Job, execErr error, elapsed time.Duration) {
	if apperrors.IsCanceled(execErr) {
		o.logger.InfoContext(ctx, "job run stopped by cancellation",
			"job_id", job.ID, "elapsed", elapsed)
		metrics.EmitJobLifecycle(o.metrics, metrics.JobMetric{
			AgentType:  string(job.AgentType),
			Transition: "cancel",
			Result:     metrics.ResultNoop,
		})
		return
	}

	msg := failureMessage(execErr)
	updated, err := o.store.Update(ctx, job.ID, core.UpdateJobParams{
		Error: core.ErrorOf(msg),
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to record job failure",
			"job_id", job.ID, "error", err)
		return
	}

	o.logger.ErrorContext(ctx, "job failed",
		"job_id", job.ID,
		"agent_type", job.AgentType,
		"elapsed", elapsed,
		"error", execErr)
	metrics.EmitJobLifecycle(o.metrics, metrics.JobMetric{
		AgentType:  string(job.AgentType),
		Transition: "fail",
		Result:     metrics.ResultError,
		Duration:   elapsed,
		Err:        execErr,
	})
	if updated != nil {
		o.publishTerminal(ctx, updated)
	}
}

// failureMessage maps an execution error to the user-safe message
// stored on the job.
func failureMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || apperrors.IsTimeout(err) {
		return "job timed out before finishing"
	}
	return apperrors.UserMessage(err)
}

// buildResult flattens the final pipeline state into the job result
// payload.
func buildResult(state *model.PipelineState) json.RawMessage {
	payload := struct {
		AgentType        model.AgentType `json:"agent_type"`
		RequirementsSpec json.RawMessage `json:"requirements_spec,omitempty"`
		ArchitectureSpec json.RawMessage `json:"architecture_spec,omitempty"`
		GeneratedCode    json.RawMessage `json:"generated_code,omitempty"`
		QAResult         *model.QAResult `json:"qa_result,omitempty"`
		Roadmap          json.RawMessage `json:"roadmap,omitempty"`
		PedagogyResponse json.RawMessage `json:"pedagogy_response,omitempty"`
		Iterations       int             `json:"iterations"`
		Errors           []string        `json:"errors,omitempty"`
	}{
		AgentType:        state.AgentType,
		RequirementsSpec: state.RequirementsSpec,
		ArchitectureSpec: state.ArchitectureSpec,
		GeneratedCode:    state.GeneratedCode,
		QAResult:         state.QAResult,
		Roadmap:          state.Roadmap,
		PedagogyResponse: state.PedagogyResponse,
		Iterations:       state.IterationCount,
		Errors:           state.Errors,
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return out
}

// publishProgress is the executor's per-node callback.
func (o *Orchestrator) publishProgress(jobID string, progress float64, node string) {
	event := JobEvent{
		Type:     EventProgress,
		JobID:    jobID,
		Status:   model.JobStatusRunning,
		Progress: progress,
		Node:     node,
	}
	if v, ok := o.running.Load(jobID); ok {
		if job, ok := v.(*model.Job); ok {
			event.ProjectID = job.ProjectID
			event.AgentType = job.AgentType
		}
	}
	o.publish(context.Background(), event)
}

func (o *Orchestrator) publishTerminal(ctx context.Context, job *model.Job) {
	o.publish(ctx, JobEvent{
		Type:      EventTerminal,
		JobID:     job.ID,
		ProjectID: job.ProjectID,
		AgentType: job.AgentType,
		Status:    job.Status,
		Progress:  job.Progress,
		Error:     job.Error,
	})
}

func (o *Orchestrator) publish(ctx context.Context, event JobEvent) {
	if o.notifier == nil {
		return
	}
	o.notifier.Publish(ctx, event)
}
