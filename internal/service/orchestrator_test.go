package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/codeforge/forge/config"
	"github.com/codeforge/forge/internal/core"
	"github.com/codeforge/forge/internal/data"
	"github.com/codeforge/forge/internal/domain/model"
	apperrors "github.com/codeforge/forge/internal/errors"
	"github.com/codeforge/forge/internal/mocks"
	"github.com/codeforge/forge/internal/resilience"
	"github.com/codeforge/forge/internal/testutil"
)

func instantCaller(t *testing.T) *resilience.Caller {
	t.Helper()
	caller, err := resilience.NewCaller(resilience.CallerOptions{
		Registry: resilience.NewRegistry(resilience.RegistryOptions{}),
		Sleep:    func(ctx context.Context, d time.Duration) error { return nil },
		Jitter:   func(max time.Duration) time.Duration { return 0 },
	})
	require.NoError(t, err)
	return caller
}

// happySteps cover every node with canned output.
func happySteps() map[string]core.Step {
	patch := func(p model.Patch) core.Step {
		return core.StepFunc(func(ctx context.Context, state *model.PipelineState) (model.Patch, error) {
			return p, nil
		})
	}
	return map[string]core.Step{
		model.NodeResearch:  patch(model.Patch{RequirementsSpec: json.RawMessage(`{"features": ["list", "filter"]}`)}),
		model.NodeWireframe: patch(model.Patch{ArchitectureSpec: json.RawMessage(`{"pages": 3}`)}),
		model.NodeCode:      patch(model.Patch{GeneratedCode: json.RawMessage(`{"files": 7}`)}),
		model.NodeQA:        patch(model.Patch{QAResult: &model.QAResult{Passed: true, Score: 0.9}}),
		model.NodeRoadmap:   patch(model.Patch{Roadmap: json.RawMessage(`{"milestones": 4}`)}),
		model.NodePedagogy:  patch(model.Patch{PedagogyResponse: json.RawMessage(`{"hint": "start small"}`)}),
	}
}

func newTestOrchestrator(t *testing.T, store core.JobStore, steps map[string]core.Step) *Orchestrator {
	t.Helper()
	if steps == nil {
		steps = happySteps()
	}
	o, err := NewOrchestrator(OrchestratorOptions{
		Store:    store,
		Steps:    steps,
		Caller:   instantCaller(t),
		Notifier: NewNotifier(NotifierOptions{}),
		Pipeline: config.PipelineConfig{
			WorkerCount:  2,
			PollInterval: 10 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	return o
}

func TestNewOrchestrator_Validation(t *testing.T) {
	store := data.NewMemoryStore(data.MemoryStoreOptions{})

	_, err := NewOrchestrator(OrchestratorOptions{Steps: happySteps()})
	assert.Error(t, err)

	_, err = NewOrchestrator(OrchestratorOptions{Store: store})
	assert.Error(t, err)
}

func TestOrchestrator_Submit(t *testing.T) {
	store := data.NewMemoryStore(data.MemoryStoreOptions{})
	o := newTestOrchestrator(t, store, nil)
	ctx := context.Background()

	job, err := o.Submit(ctx, testutil.NewJobRequest().Build())
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, job.Status)

	status, err := o.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, status.JobID)
	assert.Equal(t, model.JobStatusQueued, status.Status)
}

func TestOrchestrator_SubmitRejectsInvalidRequest(t *testing.T) {
	store := data.NewMemoryStore(data.MemoryStoreOptions{})
	o := newTestOrchestrator(t, store, nil)

	_, err := o.Submit(context.Background(), testutil.NewJobRequest().WithProjectID("nope").Build())
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestOrchestrator_GetStatusMissing(t *testing.T) {
	store := data.NewMemoryStore(data.MemoryStoreOptions{})
	o := newTestOrchestrator(t, store, nil)

	_, err := o.GetStatus(context.Background(), uuid.NewString())
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestOrchestrator_ListValidatesProjectID(t *testing.T) {
	store := data.NewMemoryStore(data.MemoryStoreOptions{})
	o := newTestOrchestrator(t, store, nil)

	_, err := o.List(context.Background(), "not-a-uuid", 1, 10)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestOrchestrator_Cancel(t *testing.T) {
	store := data.NewMemoryStore(data.MemoryStoreOptions{})
	o := newTestOrchestrator(t, store, nil)
	ctx := context.Background()

	job, err := o.Submit(ctx, testutil.NewJobRequest().Build())
	require.NoError(t, err)

	cancelled, err := o.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, cancelled.Status)

	// a second cancel conflicts
	_, err = o.Cancel(ctx, job.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	_, err = o.Cancel(ctx, uuid.NewString())
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestOrchestrator_CancelWaitingJobConflicts(t *testing.T) {
	store := data.NewMemoryStore(data.MemoryStoreOptions{})
	o := newTestOrchestrator(t, store, nil)
	ctx := context.Background()

	job := suspendedJob(t, store)

	_, err := o.Cancel(ctx, job.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

// suspendedJob drives a job into waiting_for_input through the store.
func suspendedJob(t *testing.T, store core.JobStore) *model.Job {
	t.Helper()
	ctx := context.Background()

	job, err := store.Create(ctx, testutil.NewJobRequest().
		WithInputContext(`{"description": "recipe box", "platform": "web"}`).
		Build())
	require.NoError(t, err)
	won, err := store.TryClaim(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, won)
	suspended, err := store.Update(ctx, job.ID, core.UpdateJobParams{
		Status:        core.StatusOf(model.JobStatusWaitingForInput),
		Clarification: json.RawMessage(`{"question": "which auth provider?"}`),
	})
	require.NoError(t, err)
	require.Equal(t, model.JobStatusWaitingForInput, suspended.Status)
	return suspended
}

func TestOrchestrator_Resume(t *testing.T) {
	store := data.NewMemoryStore(data.MemoryStoreOptions{})
	o := newTestOrchestrator(t, store, nil)
	ctx := context.Background()

	job := suspendedJob(t, store)

	resumed, err := o.Resume(ctx, job.ID, json.RawMessage(`{"auth": "oauth"}`))
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, resumed.ID)
	assert.Equal(t, job.ProjectID, resumed.ProjectID)
	assert.Equal(t, model.JobStatusQueued, resumed.Status)
	assert.Equal(t, 0.0, resumed.Progress)

	var input map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(resumed.InputContext, &input))
	assert.JSONEq(t, `"recipe box"`, string(input["description"]))
	assert.JSONEq(t, `{"auth": "oauth"}`, string(input["clarification_responses"]))

	// the original job stays frozen in waiting_for_input
	original, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusWaitingForInput, original.Status)
}

func TestOrchestrator_ResumeRequiresWaitingJob(t *testing.T) {
	store := data.NewMemoryStore(data.MemoryStoreOptions{})
	o := newTestOrchestrator(t, store, nil)
	ctx := context.Background()

	job, err := o.Submit(ctx, testutil.NewJobRequest().Build())
	require.NoError(t, err)

	_, err = o.Resume(ctx, job.ID, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	_, err = o.Resume(ctx, uuid.NewString(), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestOrchestrator_ResumeRejectsMalformedAnswers(t *testing.T) {
	store := data.NewMemoryStore(data.MemoryStoreOptions{})
	o := newTestOrchestrator(t, store, nil)

	job := suspendedJob(t, store)

	_, err := o.Resume(context.Background(), job.ID, json.RawMessage(`{"broken":`))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func claimForRun(t *testing.T, store core.JobStore, jobID string) *model.Job {
	t.Helper()
	ctx := context.Background()
	won, err := store.TryClaim(ctx, jobID)
	require.NoError(t, err)
	require.True(t, won)
	job, err := store.Get(ctx, jobID)
	require.NoError(t, err)
	return job
}

func TestOrchestrator_RunJobCompletesPipeline(t *testing.T) {
	store := data.NewMemoryStore(data.MemoryStoreOptions{})
	o := newTestOrchestrator(t, store, nil)
	ctx := context.Background()

	var events []JobEvent
	o.notifier.Subscribe("test", func(ctx context.Context, event JobEvent) {
		events = append(events, event)
	})

	job, err := o.Submit(ctx, testutil.NewJobRequest().WithAgentType(model.AgentTypePipeline).Build())
	require.NoError(t, err)
	o.runJob(ctx, claimForRun(t, store, job.ID))

	final, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, final.Status)
	assert.Equal(t, model.ProgressDone, final.Progress)
	require.NotNil(t, final.CompletedAt)

	var result map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(final.Result, &result))
	assert.JSONEq(t, `{"features": ["list", "filter"]}`, string(result["requirements_spec"]))
	assert.JSONEq(t, `{"files": 7}`, string(result["generated_code"]))
	assert.Contains(t, result, "qa_result")

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventTerminal, last.Type)
	assert.Equal(t, model.JobStatusCompleted, last.Status)

	var progressSeen []float64
	for _, e := range events {
		if e.Type == EventProgress {
			progressSeen = append(progressSeen, e.Progress)
		}
	}
	assert.Equal(t, []float64{
		model.ProgressStarted,
		model.ProgressResearch,
		model.ProgressWireframe,
		model.ProgressCode,
		model.ProgressQA,
	}, progressSeen)
}

func TestOrchestrator_RunJobRecordsFailure(t *testing.T) {
	store := data.NewMemoryStore(data.MemoryStoreOptions{})
	steps := happySteps()
	steps[model.NodeResearch] = core.StepFunc(func(ctx context.Context, state *model.PipelineState) (model.Patch, error) {
		return model.Patch{}, &resilience.StepError{
			Kind:    resilience.StepErrAuth,
			Message: "key revoked",
		}
	})
	o := newTestOrchestrator(t, store, steps)
	ctx := context.Background()

	job, err := o.Submit(ctx, testutil.NewJobRequest().WithAgentType(model.AgentTypePipeline).Build())
	require.NoError(t, err)
	o.runJob(ctx, claimForRun(t, store, job.ID))

	final, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, final.Status)
	assert.NotEmpty(t, final.Error)
	assert.NotContains(t, final.Error, "key revoked", "raw provider detail must not leak to users")
	require.NotNil(t, final.CompletedAt)
}

func TestOrchestrator_RunJobFailsWithTimeoutMessage(t *testing.T) {
	store := data.NewMemoryStore(data.MemoryStoreOptions{})
	steps := happySteps()
	steps[model.NodeResearch] = core.StepFunc(func(ctx context.Context, state *model.PipelineState) (model.Patch, error) {
		<-ctx.Done()
		return model.Patch{}, ctx.Err()
	})
	o, err := NewOrchestrator(OrchestratorOptions{
		Store:    store,
		Steps:    steps,
		Caller:   instantCaller(t),
		Notifier: NewNotifier(NotifierOptions{}),
		Pipeline: config.PipelineConfig{
			WorkerCount:  2,
			PollInterval: 10 * time.Millisecond,
			StepTimeout:  20 * time.Millisecond,
			JobTimeout:   20 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	job, err := o.Submit(ctx, testutil.NewJobRequest().WithAgentType(model.AgentTypePipeline).Build())
	require.NoError(t, err)
	o.runJob(ctx, claimForRun(t, store, job.ID))

	final, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, final.Status)
	assert.Equal(t, "job timed out before finishing", final.Error)
	require.NotNil(t, final.CompletedAt)
}

func TestOrchestrator_RunJobSuspendsForClarification(t *testing.T) {
	store := data.NewMemoryStore(data.MemoryStoreOptions{})
	steps := happySteps()
	clarification := json.RawMessage(`{"question": "mobile or desktop?"}`)
	steps[model.NodeResearch] = core.StepFunc(func(ctx context.Context, state *model.PipelineState) (model.Patch, error) {
		return model.Patch{Clarification: clarification}, nil
	})
	o := newTestOrchestrator(t, store, steps)
	ctx := context.Background()

	var events []JobEvent
	o.notifier.Subscribe("test", func(ctx context.Context, event JobEvent) {
		events = append(events, event)
	})

	job, err := o.Submit(ctx, testutil.NewJobRequest().WithAgentType(model.AgentTypePipeline).Build())
	require.NoError(t, err)
	o.runJob(ctx, claimForRun(t, store, job.ID))

	final, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusWaitingForInput, final.Status)
	assert.JSONEq(t, string(clarification), string(final.ClarificationData))
	assert.Nil(t, final.CompletedAt)

	last := events[len(events)-1]
	assert.Equal(t, EventWaiting, last.Type)
}

func TestOrchestrator_RunJobStopsOnCancellation(t *testing.T) {
	store := data.NewMemoryStore(data.MemoryStoreOptions{})
	steps := happySteps()
	steps[model.NodeResearch] = core.StepFunc(func(ctx context.Context, state *model.PipelineState) (model.Patch, error) {
		_, err := store.Update(ctx, state.JobID, core.UpdateJobParams{
			Status: core.StatusOf(model.JobStatusCancelled),
		})
		return model.Patch{}, err
	})
	o := newTestOrchestrator(t, store, steps)
	ctx := context.Background()

	job, err := o.Submit(ctx, testutil.NewJobRequest().WithAgentType(model.AgentTypePipeline).Build())
	require.NoError(t, err)
	o.runJob(ctx, claimForRun(t, store, job.ID))

	final, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, final.Status)
	assert.Empty(t, final.Error)
}

func TestOrchestrator_WorkerPoolDrivesJobToCompletion(t *testing.T) {
	store := data.NewMemoryStore(data.MemoryStoreOptions{})
	o := newTestOrchestrator(t, store, nil)

	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(runCtx) }()

	job, err := o.Submit(context.Background(), testutil.NewJobRequest().
		WithAgentType(model.AgentTypeRoadmap).
		Build())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := store.Get(context.Background(), job.ID)
		return err == nil && current != nil && current.Status == model.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond, "worker should pick up and finish the job")

	stop()
	select {
	case err := <-done:
		assert.NoError(t, err, "graceful shutdown must not report an error")
	case <-time.After(2 * time.Second):
		t.Fatal("worker pool did not stop after context cancellation")
	}
}

func TestOrchestrator_SubmitPropagatesStoreErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := mocks.NewMockJobStore(ctrl)
	mockStore.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		Return(nil, apperrors.Store("redis unreachable"))

	o := newTestOrchestrator(t, mockStore, nil)

	_, err := o.Submit(context.Background(), testutil.NewJobRequest().Build())
	require.Error(t, err)
	assert.True(t, apperrors.IsStore(err))
}
