package data

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/codeforge/forge/internal/domain/model"
	apperrors "github.com/codeforge/forge/internal/errors"
)

// Hash field names of a job record.
const (
	fieldID            = "id"
	fieldProjectID     = "project_id"
	fieldOwnerID       = "owner_id"
	fieldAgentType     = "agent_type"
	fieldStatus        = "status"
	fieldInputContext  = "input_context"
	fieldProgress      = "progress"
	fieldResult        = "result"
	fieldError         = "error"
	fieldClarification = "clarification_data"
	fieldCreatedAt     = "created_at"
	fieldStartedAt     = "started_at"
	fieldCompletedAt   = "completed_at"
)

func formatProgress(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// jobToFields flattens a job into hash fields. Empty optional fields are
// omitted so HGETALL round-trips cleanly.
func jobToFields(job *model.Job) map[string]any {
	fields := map[string]any{
		fieldID:        job.ID,
		fieldProjectID: job.ProjectID,
		fieldAgentType: string(job.AgentType),
		fieldStatus:    string(job.Status),
		fieldProgress:  formatProgress(job.Progress),
		fieldCreatedAt: formatTime(job.CreatedAt),
	}
	if job.OwnerID != "" {
		fields[fieldOwnerID] = job.OwnerID
	}
	if len(job.InputContext) > 0 {
		fields[fieldInputContext] = string(job.InputContext)
	}
	if len(job.Result) > 0 {
		fields[fieldResult] = string(job.Result)
	}
	if job.Error != "" {
		fields[fieldError] = job.Error
	}
	if len(job.ClarificationData) > 0 {
		fields[fieldClarification] = string(job.ClarificationData)
	}
	if job.StartedAt != nil {
		fields[fieldStartedAt] = formatTime(*job.StartedAt)
	}
	if job.CompletedAt != nil {
		fields[fieldCompletedAt] = formatTime(*job.CompletedAt)
	}
	return fields
}

// jobFromFields rebuilds a job from hash fields.
func jobFromFields(fields map[string]string) (*model.Job, error) {
	job := &model.Job{
		ID:        fields[fieldID],
		ProjectID: fields[fieldProjectID],
		OwnerID:   fields[fieldOwnerID],
		AgentType: model.AgentType(fields[fieldAgentType]),
		Status:    model.JobStatus(fields[fieldStatus]),
		Error:     fields[fieldError],
	}
	if v := fields[fieldInputContext]; v != "" {
		job.InputContext = json.RawMessage(v)
	}
	if v := fields[fieldResult]; v != "" {
		job.Result = json.RawMessage(v)
	}
	if v := fields[fieldClarification]; v != "" {
		job.ClarificationData = json.RawMessage(v)
	}
	if v := fields[fieldProgress]; v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeStore, "parse job progress")
		}
		job.Progress = p
	}
	if v := fields[fieldCreatedAt]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeStore, "parse job created_at")
		}
		job.CreatedAt = t
	}
	if v := fields[fieldStartedAt]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeStore, "parse job started_at")
		}
		job.StartedAt = &t
	}
	if v := fields[fieldCompletedAt]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeStore, "parse job completed_at")
		}
		job.CompletedAt = &t
	}
	return job, nil
}

func sortJobsByCreated(jobs []*model.Job) {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
}
