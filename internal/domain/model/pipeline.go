package model

import "encoding/json"

// Node names for the builder pipeline graph.
const (
	NodeResearch  = "research"
	NodeWireframe = "wireframe"
	NodeCode      = "code"
	NodeQA        = "qa"
	NodeRoadmap   = "roadmap"
	NodePedagogy  = "pedagogy"
)

// Per-node progress values reported after each pipeline stage.
// Single-node agents report ProgressDone directly.
const (
	ProgressStarted   = 5.0
	ProgressResearch  = 20.0
	ProgressWireframe = 40.0
	ProgressCode      = 60.0
	ProgressQA        = 80.0
	ProgressDone      = 100.0
)

// QAResult is the structured outcome of the quality review step.
type QAResult struct {
	Passed bool     `json:"passed"`
	Score  float64  `json:"score"`
	Issues []string `json:"issues,omitempty"`
}

// PipelineState is the per-execution scratch record threaded through
// graph nodes. It is created fresh for each execution, mirrored into
// the job's progress/result at node boundaries, and discarded at the
// end. It is never shared across jobs.
type PipelineState struct {
	ProjectID    string          `json:"project_id"`
	JobID        string          `json:"job_id"`
	AgentType    AgentType       `json:"agent_type"`
	InputContext json.RawMessage `json:"input_context,omitempty"`

	// Accumulated step outputs.
	RequirementsSpec json.RawMessage `json:"requirements_spec,omitempty"`
	ArchitectureSpec json.RawMessage `json:"architecture_spec,omitempty"`
	GeneratedCode    json.RawMessage `json:"generated_code,omitempty"`
	QAResult         *QAResult       `json:"qa_result,omitempty"`
	Roadmap          json.RawMessage `json:"roadmap,omitempty"`
	PedagogyResponse json.RawMessage `json:"pedagogy_response,omitempty"`

	// Control flow.
	IterationCount int      `json:"iteration_count"`
	MaxIterations  int      `json:"max_iterations"`
	Errors         []string `json:"errors,omitempty"`

	// Progress tracking.
	Progress    float64 `json:"progress"`
	CurrentNode string  `json:"current_node"`
}

// Snapshot returns a deep copy of the state handed to nodes, so a
// step collaborator can never alias the executor-owned record.
func (s *PipelineState) Snapshot() *PipelineState {
	cp := *s
	cp.InputContext = cloneRaw(s.InputContext)
	cp.RequirementsSpec = cloneRaw(s.RequirementsSpec)
	cp.ArchitectureSpec = cloneRaw(s.ArchitectureSpec)
	cp.GeneratedCode = cloneRaw(s.GeneratedCode)
	cp.Roadmap = cloneRaw(s.Roadmap)
	cp.PedagogyResponse = cloneRaw(s.PedagogyResponse)
	if s.QAResult != nil {
		q := *s.QAResult
		q.Issues = append([]string(nil), s.QAResult.Issues...)
		cp.QAResult = &q
	}
	cp.Errors = append([]string(nil), s.Errors...)
	return &cp
}

// Patch is the partial state update returned by a node. Nodes never
// mutate PipelineState directly; the executor owns the single merge
// point that folds patches back into the state.
type Patch struct {
	RequirementsSpec json.RawMessage
	ArchitectureSpec json.RawMessage
	GeneratedCode    json.RawMessage
	QAResult         *QAResult
	Roadmap          json.RawMessage
	PedagogyResponse json.RawMessage

	// IterationCount, when non-nil, replaces the state counter. The
	// code node uses this to count loop traversals.
	IterationCount *int

	// Clarification, when set, suspends the job awaiting user input.
	Clarification json.RawMessage

	// Progress, when > 0, overrides the node's default progress value.
	// Zero means "use the node default".
	Progress float64
}
