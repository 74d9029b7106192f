package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeforge/forge/internal/domain/model"
	"github.com/codeforge/forge/internal/testutil"
)

func TestGraphFor(t *testing.T) {
	tests := []struct {
		agentType model.AgentType
		entry     string
		wantErr   bool
	}{
		{agentType: model.AgentTypePipeline, entry: model.NodeResearch},
		{agentType: model.AgentTypeResearch, entry: model.NodeResearch},
		{agentType: model.AgentTypeWireframe, entry: model.NodeWireframe},
		{agentType: model.AgentTypeCode, entry: model.NodeCode},
		{agentType: model.AgentTypeQA, entry: model.NodeQA},
		{agentType: model.AgentTypeRoadmap, entry: model.NodeRoadmap},
		{agentType: model.AgentTypePedagogy, entry: model.NodePedagogy},
		{agentType: model.AgentType("sorcery"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.agentType), func(t *testing.T) {
			graph, err := GraphFor(tt.agentType)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.entry, graph.Entry())
		})
	}
}

func TestPipelineGraph_LinearRouting(t *testing.T) {
	graph := PipelineGraph()
	state := testutil.NewPipelineState().Build()

	tests := []struct {
		from string
		want string
	}{
		{model.NodeResearch, model.NodeWireframe},
		{model.NodeWireframe, model.NodeCode},
		{model.NodeCode, model.NodeQA},
	}
	for _, tt := range tests {
		node, ok := graph.node(tt.from)
		require.True(t, ok)
		assert.Equal(t, tt.want, node.next(state))
	}
}

func TestPipelineGraph_QARouting(t *testing.T) {
	graph := PipelineGraph()
	qa, ok := graph.node(model.NodeQA)
	require.True(t, ok)

	tests := []struct {
		name  string
		state *model.PipelineState
		want  string
	}{
		{
			name:  "passing verdict ends the walk",
			state: testutil.NewPipelineState().WithQAResult(true, 0.95).Build(),
			want:  End,
		},
		{
			name:  "missing verdict ends the walk",
			state: testutil.NewPipelineState().Build(),
			want:  End,
		},
		{
			name: "failing verdict loops back to code",
			state: func() *model.PipelineState {
				s := testutil.NewPipelineState().WithMaxIterations(5).WithQAResult(false, 0.3).Build()
				s.IterationCount = 1
				return s
			}(),
			want: model.NodeCode,
		},
		{
			name: "failing verdict at the ceiling ends the walk",
			state: func() *model.PipelineState {
				s := testutil.NewPipelineState().WithMaxIterations(2).WithQAResult(false, 0.3).Build()
				s.IterationCount = 2
				return s
			}(),
			want: End,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, qa.next(tt.state))
		})
	}
}

func TestSingleNodeGraph(t *testing.T) {
	graph := SingleNodeGraph(model.NodeRoadmap)
	state := testutil.NewPipelineState().Build()

	node, ok := graph.node(model.NodeRoadmap)
	require.True(t, ok)
	assert.Equal(t, model.ProgressDone, node.progress)
	assert.Equal(t, End, node.next(state))
}

func TestRecursionLimit(t *testing.T) {
	assert.Equal(t, 15, recursionLimit(5))
	assert.Equal(t, 7, recursionLimit(1))
}
