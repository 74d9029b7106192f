package testutil

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/codeforge/forge/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			ProjectID:    uuid.NewString(),
			AgentType:    model.AgentTypePipeline,
			InputContext: json.RawMessage(`{"description": "a todo list app"}`),
		},
	}
}

// WithProjectID sets the project id.
func (b *JobRequestBuilder) WithProjectID(projectID string) *JobRequestBuilder {
	b.req.ProjectID = projectID
	return b
}

// WithAgentType sets the agent type.
func (b *JobRequestBuilder) WithAgentType(agentType model.AgentType) *JobRequestBuilder {
	b.req.AgentType = agentType
	return b
}

// WithInputContext sets the input context from a string.
func (b *JobRequestBuilder) WithInputContext(input string) *JobRequestBuilder {
	b.req.InputContext = json.RawMessage(input)
	return b
}

// WithOwnerID sets the owner id.
func (b *JobRequestBuilder) WithOwnerID(ownerID string) *JobRequestBuilder {
	b.req.OwnerID = ownerID
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	cp := *b.req
	return &cp
}

// JobBuilder provides a fluent interface for building Job objects for testing.
type JobBuilder struct {
	job *model.Job
}

// NewJob creates a new JobBuilder with sensible defaults.
func NewJob() *JobBuilder {
	return &JobBuilder{
		job: &model.Job{
			ID:           uuid.NewString(),
			ProjectID:    uuid.NewString(),
			AgentType:    model.AgentTypePipeline,
			Status:       model.JobStatusQueued,
			InputContext: json.RawMessage(`{"description": "a todo list app"}`),
			CreatedAt:    time.Now().UTC(),
		},
	}
}

// WithID sets the job id.
func (b *JobBuilder) WithID(id string) *JobBuilder {
	b.job.ID = id
	return b
}

// WithProjectID sets the project id.
func (b *JobBuilder) WithProjectID(projectID string) *JobBuilder {
	b.job.ProjectID = projectID
	return b
}

// WithAgentType sets the agent type.
func (b *JobBuilder) WithAgentType(agentType model.AgentType) *JobBuilder {
	b.job.AgentType = agentType
	return b
}

// WithStatus sets the status.
func (b *JobBuilder) WithStatus(status model.JobStatus) *JobBuilder {
	b.job.Status = status
	return b
}

// WithProgress sets the progress.
func (b *JobBuilder) WithProgress(progress float64) *JobBuilder {
	b.job.Progress = progress
	return b
}

// WithCreatedAt sets the creation time.
func (b *JobBuilder) WithCreatedAt(t time.Time) *JobBuilder {
	b.job.CreatedAt = t
	return b
}

// WithCompletedAt sets the completion time.
func (b *JobBuilder) WithCompletedAt(t time.Time) *JobBuilder {
	b.job.CompletedAt = &t
	return b
}

// Build returns the constructed Job.
func (b *JobBuilder) Build() *model.Job {
	return b.job.Clone()
}

// PipelineStateBuilder provides a fluent interface for building PipelineState objects for testing.
type PipelineStateBuilder struct {
	state *model.PipelineState
}

// NewPipelineState creates a new PipelineStateBuilder with sensible defaults.
func NewPipelineState() *PipelineStateBuilder {
	return &PipelineStateBuilder{
		state: &model.PipelineState{
			ProjectID:     uuid.NewString(),
			JobID:         uuid.NewString(),
			AgentType:     model.AgentTypePipeline,
			InputContext:  json.RawMessage(`{"description": "a todo list app"}`),
			MaxIterations: 5,
		},
	}
}

// WithAgentType sets the agent type.
func (b *PipelineStateBuilder) WithAgentType(agentType model.AgentType) *PipelineStateBuilder {
	b.state.AgentType = agentType
	return b
}

// WithMaxIterations sets the iteration ceiling.
func (b *PipelineStateBuilder) WithMaxIterations(n int) *PipelineStateBuilder {
	b.state.MaxIterations = n
	return b
}

// WithQAResult sets the QA verdict.
func (b *PipelineStateBuilder) WithQAResult(passed bool, score float64) *PipelineStateBuilder {
	b.state.QAResult = &model.QAResult{Passed: passed, Score: score}
	return b
}

// Build returns the constructed PipelineState.
func (b *PipelineStateBuilder) Build() *model.PipelineState {
	return b.state.Snapshot()
}
