// Package model defines the core data types and structures used throughout the forge orchestration system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AgentType identifies which generation step (or the full pipeline) a job runs.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type AgentType string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// AgentTypeResearch runs the requirements analysis step.
	AgentTypeResearch AgentType = "research"
	// AgentTypeWireframe runs the architecture design step.
	AgentTypeWireframe AgentType = "wireframe"
	// AgentTypeCode runs the code generation step.
	AgentTypeCode AgentType = "code"
	// AgentTypeQA runs the quality review step.
	AgentTypeQA AgentType = "qa"
	// AgentTypeRoadmap runs the learning roadmap step.
	AgentTypeRoadmap AgentType = "roadmap"
	// AgentTypePedagogy runs the tutoring step.
	AgentTypePedagogy AgentType = "pedagogy"
	// AgentTypePipeline runs the full builder pipeline (research through qa).
	AgentTypePipeline AgentType = "pipeline"

	// JobStatusQueued indicates a job is waiting to be picked up.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning indicates a job is currently executing.
	JobStatusRunning JobStatus = "running"
	// JobStatusWaitingForInput indicates a job paused awaiting user answers.
	JobStatusWaitingForInput JobStatus = "waiting_for_input"
	// JobStatusCancelled indicates a job was cancelled by the caller.
	JobStatusCancelled JobStatus = "cancelled"
	// JobStatusCompleted indicates a job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job failed to complete.
	JobStatusFailed JobStatus = "failed"
)

// MaxInputContextBytes bounds the opaque input payload accepted at submission.
const MaxInputContextBytes = 64 * 1024

// UnmarshalText implements encoding.TextUnmarshaler for AgentType to allow env parsing.
func (t *AgentType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	at := AgentType(v)
	if at.Valid() {
		*t = at
		return nil
	}
	return fmt.Errorf("invalid AgentType: %q", v)
}

// Valid returns true if the AgentType is valid.
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeResearch, AgentTypeWireframe, AgentTypeCode, AgentTypeQA,
		AgentTypeRoadmap, AgentTypePedagogy, AgentTypePipeline:
		return true
	default:
		return false
	}
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusWaitingForInput,
		JobStatusCancelled, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for the statuses a job can never leave.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Frozen returns true once further updates must be ignored. A job
// waiting for input is frozen too: resuming creates a new job rather
// than mutating the paused one.
func (s JobStatus) Frozen() bool {
	return s.Terminal() || s == JobStatusWaitingForInput
}

// CanTransition reports whether the documented state machine allows
// moving from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case JobStatusQueued:
		// Queued jobs may be cancelled or failed without ever running.
		return next == JobStatusRunning || next == JobStatusCancelled || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed ||
			next == JobStatusWaitingForInput || next == JobStatusCancelled
	default:
		return false
	}
}

// Job represents one durable unit of orchestration work.
type Job struct {
	ID                string          `json:"job_id"`
	ProjectID         string          `json:"project_id"`
	OwnerID           string          `json:"owner_id,omitempty"`
	AgentType         AgentType       `json:"agent_type"`
	Status            JobStatus       `json:"status"`
	InputContext      json.RawMessage `json:"input_context,omitempty"`
	Progress          float64         `json:"progress"`
	Result            json.RawMessage `json:"result,omitempty"`
	Error             string          `json:"error,omitempty"`
	ClarificationData json.RawMessage `json:"clarification_data,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// Terminal returns true once the job has reached a final status.
func (j *Job) Terminal() bool {
	return j.Status.Terminal()
}

// Frozen returns true once the job must no longer be mutated.
func (j *Job) Frozen() bool {
	return j.Status.Frozen()
}

// Duration returns the wall-clock execution time, or zero if the job
// has not both started and finished.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (j *Job) Clone() *Job {
	cp := *j
	cp.InputContext = cloneRaw(j.InputContext)
	cp.Result = cloneRaw(j.Result)
	cp.ClarificationData = cloneRaw(j.ClarificationData)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	cp := make(json.RawMessage, len(raw))
	copy(cp, raw)
	return cp
}

// CreateJobRequest represents a request to submit a new job.
type CreateJobRequest struct {
	ProjectID    string          `json:"project_id"`
	AgentType    AgentType       `json:"agent_type"`
	InputContext json.RawMessage `json:"input_context"`
	OwnerID      string          `json:"owner_id,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if _, err := uuid.Parse(r.ProjectID); err != nil {
		return errors.New("project id must be a valid UUID")
	}
	if !r.AgentType.Valid() {
		return errors.New("invalid agent type")
	}
	if len(r.InputContext) > MaxInputContextBytes {
		return errors.New("input context exceeds maximum size")
	}
	if len(r.InputContext) > 0 && !json.Valid(r.InputContext) {
		return errors.New("input context must be valid JSON")
	}
	return nil
}

// JobStatusResponse is the status view returned to the calling API layer.
type JobStatusResponse struct {
	JobID       string          `json:"job_id"`
	Status      JobStatus       `json:"status"`
	Progress    float64         `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// StatusResponse builds the caller-facing status view for the job.
func (j *Job) StatusResponse() JobStatusResponse {
	return JobStatusResponse{
		JobID:       j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		Result:      cloneRaw(j.Result),
		Error:       j.Error,
		CompletedAt: j.CompletedAt,
	}
}

// JobPage is one page of a newest-first project job listing.
type JobPage struct {
	Jobs     []*Job `json:"jobs"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}
