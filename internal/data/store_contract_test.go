package data

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeforge/forge/internal/core"
	"github.com/codeforge/forge/internal/domain/model"
	"github.com/codeforge/forge/internal/testutil"
)

// storeFactory builds a fresh store wired to the given clock. Both backends
// run the same contract suite so their observable behavior cannot drift.
type storeFactory func(t *testing.T, tp TimeProvider) core.JobStore

func runJobStoreContract(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	baseTime := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	t.Run("create and get roundtrip", func(t *testing.T) {
		store := newStore(t, NewFixedTimeProvider(baseTime))

		req := testutil.NewJobRequest().
			WithAgentType(model.AgentTypeResearch).
			WithInputContext(`{"description": "inventory tracker"}`).
			WithOwnerID("user-1").
			Build()
		created, err := store.Create(ctx, req)
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)
		assert.Equal(t, model.JobStatusQueued, created.Status)
		assert.Equal(t, 0.0, created.Progress)
		assert.True(t, created.CreatedAt.Equal(baseTime))

		got, err := store.Get(ctx, created.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, req.ProjectID, got.ProjectID)
		assert.Equal(t, "user-1", got.OwnerID)
		assert.Equal(t, model.AgentTypeResearch, got.AgentType)
		assert.JSONEq(t, `{"description": "inventory tracker"}`, string(got.InputContext))
		assert.Nil(t, got.StartedAt)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("create rejects invalid requests", func(t *testing.T) {
		store := newStore(t, NewFixedTimeProvider(baseTime))

		cases := []struct {
			name string
			req  *model.CreateJobRequest
		}{
			{"bad project id", testutil.NewJobRequest().WithProjectID("not-a-uuid").Build()},
			{"bad agent type", testutil.NewJobRequest().WithAgentType("sorcery").Build()},
			{"malformed input context", testutil.NewJobRequest().WithInputContext(`{"unclosed":`).Build()},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := store.Create(ctx, tc.req)
				assert.Error(t, err)
			})
		}
	})

	t.Run("get missing job returns nil without error", func(t *testing.T) {
		store := newStore(t, NewFixedTimeProvider(baseTime))

		got, err := store.Get(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("update missing job returns nil without error", func(t *testing.T) {
		store := newStore(t, NewFixedTimeProvider(baseTime))

		updated, err := store.Update(ctx, uuid.NewString(), core.UpdateJobParams{
			Progress: core.ProgressOf(50),
		})
		require.NoError(t, err)
		assert.Nil(t, updated)
	})

	t.Run("running transition stamps started_at once", func(t *testing.T) {
		tp := NewFixedTimeProvider(baseTime)
		store := newStore(t, tp)
		job := mustCreate(t, store, testutil.NewJobRequest().Build())

		tp.AddTime(time.Minute)
		updated, err := store.Update(ctx, job.ID, core.UpdateJobParams{
			Status: core.StatusOf(model.JobStatusRunning),
		})
		require.NoError(t, err)
		require.NotNil(t, updated.StartedAt)
		assert.True(t, updated.StartedAt.Equal(baseTime.Add(time.Minute)))
	})

	t.Run("terminal transition stamps completed_at", func(t *testing.T) {
		tp := NewFixedTimeProvider(baseTime)
		store := newStore(t, tp)
		job := mustCreate(t, store, testutil.NewJobRequest().Build())
		mustUpdate(t, store, job.ID, core.UpdateJobParams{Status: core.StatusOf(model.JobStatusRunning)})

		tp.AddTime(5 * time.Minute)
		updated, err := store.Update(ctx, job.ID, core.UpdateJobParams{
			Status:   core.StatusOf(model.JobStatusCompleted),
			Progress: core.ProgressOf(model.ProgressDone),
			Result:   json.RawMessage(`{"app": "built"}`),
		})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, updated.Status)
		assert.Equal(t, model.ProgressDone, updated.Progress)
		assert.JSONEq(t, `{"app": "built"}`, string(updated.Result))
		require.NotNil(t, updated.CompletedAt)
		assert.True(t, updated.CompletedAt.Equal(baseTime.Add(5*time.Minute)))
	})

	t.Run("terminal jobs are never mutated", func(t *testing.T) {
		store := newStore(t, NewFixedTimeProvider(baseTime))
		job := mustCreate(t, store, testutil.NewJobRequest().Build())
		mustUpdate(t, store, job.ID, core.UpdateJobParams{Status: core.StatusOf(model.JobStatusCancelled)})

		after, err := store.Update(ctx, job.ID, core.UpdateJobParams{
			Status:   core.StatusOf(model.JobStatusRunning),
			Progress: core.ProgressOf(90),
			Error:    core.ErrorOf("late failure"),
		})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCancelled, after.Status)
		assert.Equal(t, 0.0, after.Progress)
		assert.Empty(t, after.Error)
	})

	t.Run("illegal status edge voids the whole update", func(t *testing.T) {
		store := newStore(t, NewFixedTimeProvider(baseTime))
		job := mustCreate(t, store, testutil.NewJobRequest().Build())

		// queued cannot jump straight to completed
		after, err := store.Update(ctx, job.ID, core.UpdateJobParams{
			Status:   core.StatusOf(model.JobStatusCompleted),
			Progress: core.ProgressOf(100),
		})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusQueued, after.Status)
		assert.Equal(t, 0.0, after.Progress)
	})

	t.Run("error message forces failed", func(t *testing.T) {
		store := newStore(t, NewFixedTimeProvider(baseTime))
		job := mustCreate(t, store, testutil.NewJobRequest().Build())
		mustUpdate(t, store, job.ID, core.UpdateJobParams{Status: core.StatusOf(model.JobStatusRunning)})

		after, err := store.Update(ctx, job.ID, core.UpdateJobParams{
			Error: core.ErrorOf("model returned garbage"),
		})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, after.Status)
		assert.Equal(t, "model returned garbage", after.Error)
		assert.NotNil(t, after.CompletedAt)
	})

	t.Run("progress is clamped and monotonic", func(t *testing.T) {
		store := newStore(t, NewFixedTimeProvider(baseTime))
		job := mustCreate(t, store, testutil.NewJobRequest().Build())
		mustUpdate(t, store, job.ID, core.UpdateJobParams{Status: core.StatusOf(model.JobStatusRunning)})

		after := mustUpdate(t, store, job.ID, core.UpdateJobParams{Progress: core.ProgressOf(60)})
		assert.Equal(t, 60.0, after.Progress)

		// lower values are ignored
		after = mustUpdate(t, store, job.ID, core.UpdateJobParams{Progress: core.ProgressOf(40)})
		assert.Equal(t, 60.0, after.Progress)

		// values above 100 are clamped
		after = mustUpdate(t, store, job.ID, core.UpdateJobParams{Progress: core.ProgressOf(150)})
		assert.Equal(t, 100.0, after.Progress)
	})

	t.Run("waiting_for_input freezes the job", func(t *testing.T) {
		store := newStore(t, NewFixedTimeProvider(baseTime))
		job := mustCreate(t, store, testutil.NewJobRequest().Build())
		mustUpdate(t, store, job.ID, core.UpdateJobParams{Status: core.StatusOf(model.JobStatusRunning)})

		clarification := json.RawMessage(`{"question": "which database?"}`)
		after := mustUpdate(t, store, job.ID, core.UpdateJobParams{
			Status:        core.StatusOf(model.JobStatusWaitingForInput),
			Clarification: clarification,
		})
		assert.Equal(t, model.JobStatusWaitingForInput, after.Status)
		assert.JSONEq(t, string(clarification), string(after.ClarificationData))
		assert.Nil(t, after.CompletedAt, "waiting_for_input is not terminal")

		after = mustUpdate(t, store, job.ID, core.UpdateJobParams{Progress: core.ProgressOf(99)})
		assert.Equal(t, 0.0, after.Progress)
	})

	t.Run("try claim wins exactly once", func(t *testing.T) {
		tp := NewFixedTimeProvider(baseTime)
		store := newStore(t, tp)
		job := mustCreate(t, store, testutil.NewJobRequest().Build())

		won, err := store.TryClaim(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, won)

		won, err = store.TryClaim(ctx, job.ID)
		require.NoError(t, err)
		assert.False(t, won)

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusRunning, got.Status)
		assert.Equal(t, model.ProgressStarted, got.Progress)
		require.NotNil(t, got.StartedAt)
	})

	t.Run("try claim on missing job reports false", func(t *testing.T) {
		store := newStore(t, NewFixedTimeProvider(baseTime))

		won, err := store.TryClaim(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.False(t, won)
	})

	t.Run("list for project paginates newest first", func(t *testing.T) {
		tp := NewFixedTimeProvider(baseTime)
		store := newStore(t, tp)
		projectID := uuid.NewString()

		var ids []string
		for i := 0; i < 5; i++ {
			job := mustCreate(t, store, testutil.NewJobRequest().WithProjectID(projectID).Build())
			ids = append(ids, job.ID)
			tp.AddTime(time.Second)
		}
		// a job in another project must not leak in
		mustCreate(t, store, testutil.NewJobRequest().Build())

		page, err := store.ListForProject(ctx, projectID, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		assert.Equal(t, 1, page.Page)
		assert.Equal(t, 2, page.PageSize)
		require.Len(t, page.Jobs, 2)
		assert.Equal(t, ids[4], page.Jobs[0].ID)
		assert.Equal(t, ids[3], page.Jobs[1].ID)

		page, err = store.ListForProject(ctx, projectID, 3, 2)
		require.NoError(t, err)
		require.Len(t, page.Jobs, 1)
		assert.Equal(t, ids[0], page.Jobs[0].ID)

		page, err = store.ListForProject(ctx, projectID, 4, 2)
		require.NoError(t, err)
		assert.Empty(t, page.Jobs)
		assert.Equal(t, 5, page.Total)
	})

	t.Run("list for unknown project returns empty page", func(t *testing.T) {
		store := newStore(t, NewFixedTimeProvider(baseTime))

		page, err := store.ListForProject(ctx, uuid.NewString(), 1, 10)
		require.NoError(t, err)
		assert.Empty(t, page.Jobs)
		assert.Equal(t, 0, page.Total)
	})

	t.Run("list pending returns queued jobs oldest first", func(t *testing.T) {
		tp := NewFixedTimeProvider(baseTime)
		store := newStore(t, tp)

		first := mustCreate(t, store, testutil.NewJobRequest().Build())
		tp.AddTime(time.Second)
		second := mustCreate(t, store, testutil.NewJobRequest().Build())
		tp.AddTime(time.Second)
		claimed := mustCreate(t, store, testutil.NewJobRequest().Build())

		won, err := store.TryClaim(ctx, claimed.ID)
		require.NoError(t, err)
		require.True(t, won)

		pending, err := store.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, first.ID, pending[0].ID)
		assert.Equal(t, second.ID, pending[1].ID)
	})

	t.Run("cleanup removes only old terminal jobs", func(t *testing.T) {
		tp := NewFixedTimeProvider(baseTime)
		store := newStore(t, tp)
		projectID := uuid.NewString()

		oldDone := mustCreate(t, store, testutil.NewJobRequest().WithProjectID(projectID).Build())
		mustUpdate(t, store, oldDone.ID, core.UpdateJobParams{Status: core.StatusOf(model.JobStatusCancelled)})
		stillQueued := mustCreate(t, store, testutil.NewJobRequest().WithProjectID(projectID).Build())

		tp.AddTime(49 * time.Hour)
		freshDone := mustCreate(t, store, testutil.NewJobRequest().WithProjectID(projectID).Build())
		mustUpdate(t, store, freshDone.ID, core.UpdateJobParams{Status: core.StatusOf(model.JobStatusCancelled)})

		removed, err := store.Cleanup(ctx, 48*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		gone, err := store.Get(ctx, oldDone.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)
		for _, id := range []string{stillQueued.ID, freshDone.ID} {
			kept, err := store.Get(ctx, id)
			require.NoError(t, err)
			assert.NotNil(t, kept)
		}

		page, err := store.ListForProject(ctx, projectID, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
	})
}

func mustCreate(t *testing.T, store core.JobStore, req *model.CreateJobRequest) *model.Job {
	t.Helper()
	job, err := store.Create(context.Background(), req)
	require.NoError(t, err)
	return job
}

func mustUpdate(t *testing.T, store core.JobStore, id string, params core.UpdateJobParams) *model.Job {
	t.Helper()
	job, err := store.Update(context.Background(), id, params)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}
