package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeforge/forge/internal/core"
	"github.com/codeforge/forge/internal/domain/model"
)

// MemoryStore is an in-process JobStore backed by a map. It is safe for
// concurrent use and suitable for single-node deployments and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]*model.Job
	byProj   map[string][]string // job ids per project, creation order
	timeProv TimeProvider
}

// MemoryStoreOptions configures a MemoryStore.
type MemoryStoreOptions struct {
	TimeProvider TimeProvider // defaults to RealTimeProvider
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts MemoryStoreOptions) *MemoryStore {
	tp := opts.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &MemoryStore{
		jobs:     make(map[string]*model.Job),
		byProj:   make(map[string][]string),
		timeProv: tp,
	}
}

var _ core.JobStore = (*MemoryStore)(nil)

// Create stores a new queued job and indexes it under its project.
func (s *MemoryStore) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := newJobFromRequest(req, s.timeProv.Now())
	s.jobs[job.ID] = job
	s.byProj[job.ProjectID] = append(s.byProj[job.ProjectID], job.ID)
	return job.Clone(), nil
}

// Get returns a copy of the job, or nil when it does not exist.
func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return job.Clone(), nil
}

// Update applies params to the job under the store mutation rules and
// returns the resulting job. Unknown ids return nil without error.
func (s *MemoryStore) Update(ctx context.Context, id string, params core.UpdateJobParams) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	applyUpdate(job, params, s.timeProv.Now())
	return job.Clone(), nil
}

// TryClaim atomically moves a queued job to running, stamping StartedAt
// and the pickup progress. It reports whether this caller won the claim.
func (s *MemoryStore) TryClaim(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != model.JobStatusQueued {
		return false, nil
	}
	now := s.timeProv.Now()
	job.Status = model.JobStatusRunning
	job.StartedAt = &now
	if job.Progress < model.ProgressStarted {
		job.Progress = model.ProgressStarted
	}
	return true, nil
}

// ListForProject returns a page of the project's jobs, newest first.
// Pages are 1-based.
func (s *MemoryStore) ListForProject(ctx context.Context, projectID string, page, pageSize int) (*model.JobPage, error) {
	page, pageSize = core.NormalizePage(page, pageSize)

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byProj[projectID]
	total := len(ids)
	result := &model.JobPage{
		Jobs:     []*model.Job{},
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}

	// ids are in creation order, newest last
	start := total - page*pageSize
	end := start + pageSize
	if end < 1 {
		return result, nil
	}
	if start < 0 {
		start = 0
	}
	for i := end - 1; i >= start; i-- {
		if job, ok := s.jobs[ids[i]]; ok {
			result.Jobs = append(result.Jobs, job.Clone())
		}
	}
	return result, nil
}

// ListPending returns all queued jobs, oldest first.
func (s *MemoryStore) ListPending(ctx context.Context) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Job
	for _, job := range s.jobs {
		if job.Status == model.JobStatusQueued {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Cleanup removes terminal jobs that finished more than olderThan ago and
// returns how many were removed.
func (s *MemoryStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.timeProv.Now().Add(-olderThan)
	var removed int64
	for id, job := range s.jobs {
		if !job.Status.Terminal() || job.CompletedAt == nil {
			continue
		}
		if job.CompletedAt.After(cutoff) {
			continue
		}
		delete(s.jobs, id)
		s.dropFromIndex(job.ProjectID, id)
		removed++
	}
	return removed, nil
}

// SweepIndexes drops project index entries whose job no longer exists and
// returns how many entries were dropped.
func (s *MemoryStore) SweepIndexes(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped int64
	for proj, ids := range s.byProj {
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := s.jobs[id]; ok {
				kept = append(kept, id)
			} else {
				dropped++
			}
		}
		if len(kept) == 0 {
			delete(s.byProj, proj)
		} else {
			s.byProj[proj] = kept
		}
	}
	return dropped, nil
}

func (s *MemoryStore) dropFromIndex(projectID, id string) {
	ids := s.byProj[projectID]
	for i, v := range ids {
		if v == id {
			s.byProj[projectID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byProj[projectID]) == 0 {
		delete(s.byProj, projectID)
	}
}

// newJobFromRequest builds the initial queued job record. Shared by both
// backends so they create identical records.
func newJobFromRequest(req *model.CreateJobRequest, now time.Time) *model.Job {
	return &model.Job{
		ID:           uuid.NewString(),
		ProjectID:    req.ProjectID,
		OwnerID:      req.OwnerID,
		AgentType:    req.AgentType,
		Status:       model.JobStatusQueued,
		InputContext: append([]byte(nil), req.InputContext...),
		Progress:     0,
		CreatedAt:    now,
	}
}
