// Package workflow executes agent graphs over a job's pipeline state.
// A graph is a set of named nodes with routing functions; the executor
// walks it node by node, merging each node's patch into the state and
// mirroring progress into the job store.
package workflow

import (
	"fmt"

	"github.com/codeforge/forge/internal/domain/model"
)

// End is the pseudo-node that terminates a graph walk.
const End = "__end__"

// routeFunc picks the next node after a node completes.
type routeFunc func(state *model.PipelineState) string

type graphNode struct {
	name     string
	progress float64 // reported after the node completes
	next     routeFunc
}

// Graph is an immutable agent graph. Build one with PipelineGraph or
// SingleNodeGraph.
type Graph struct {
	entry string
	nodes map[string]graphNode
}

// Entry returns the graph's entry node name.
func (g *Graph) Entry() string { return g.entry }

// node looks up a node by name.
func (g *Graph) node(name string) (graphNode, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

func linearNext(next string) routeFunc {
	return func(*model.PipelineState) string { return next }
}

// qaVerdict applies the fail-open rule: a missing QA result counts as a
// pass, so a review step that produced no verdict never loops the
// pipeline forever.
func qaVerdict(state *model.PipelineState) bool {
	if state.QAResult == nil {
		return true
	}
	return state.QAResult.Passed
}

// PipelineGraph builds the full builder pipeline:
//
//	research -> wireframe -> code -> qa
//
// with one conditional edge: a failed QA verdict routes back to code
// until the iteration ceiling is reached, after which the walk ends
// with the failing verdict recorded in the state.
func PipelineGraph() *Graph {
	return &Graph{
		entry: model.NodeResearch,
		nodes: map[string]graphNode{
			model.NodeResearch:  {name: model.NodeResearch, progress: model.ProgressResearch, next: linearNext(model.NodeWireframe)},
			model.NodeWireframe: {name: model.NodeWireframe, progress: model.ProgressWireframe, next: linearNext(model.NodeCode)},
			model.NodeCode:      {name: model.NodeCode, progress: model.ProgressCode, next: linearNext(model.NodeQA)},
			model.NodeQA: {name: model.NodeQA, progress: model.ProgressQA, next: func(state *model.PipelineState) string {
				if qaVerdict(state) {
					return End
				}
				if state.IterationCount >= state.MaxIterations {
					return End
				}
				return model.NodeCode
			}},
		},
	}
}

// SingleNodeGraph builds a graph that runs exactly one node and ends.
func SingleNodeGraph(node string) *Graph {
	return &Graph{
		entry: node,
		nodes: map[string]graphNode{
			node: {name: node, progress: model.ProgressDone, next: linearNext(End)},
		},
	}
}

// GraphFor selects the graph for an agent type. The pipeline agent gets
// the full builder graph; every other agent runs as a single node.
func GraphFor(agentType model.AgentType) (*Graph, error) {
	switch agentType {
	case model.AgentTypePipeline:
		return PipelineGraph(), nil
	case model.AgentTypeResearch:
		return SingleNodeGraph(model.NodeResearch), nil
	case model.AgentTypeWireframe:
		return SingleNodeGraph(model.NodeWireframe), nil
	case model.AgentTypeCode:
		return SingleNodeGraph(model.NodeCode), nil
	case model.AgentTypeQA:
		return SingleNodeGraph(model.NodeQA), nil
	case model.AgentTypeRoadmap:
		return SingleNodeGraph(model.NodeRoadmap), nil
	case model.AgentTypePedagogy:
		return SingleNodeGraph(model.NodePedagogy), nil
	default:
		return nil, fmt.Errorf("no graph for agent type %q", agentType)
	}
}

// recursionLimit bounds total node executions for a walk. The pipeline
// revisits code and qa once per retry loop, so the bound scales with
// the iteration ceiling plus slack for the linear prefix.
func recursionLimit(maxIterations int) int {
	return maxIterations*2 + 5
}
