// Package steps provides deterministic local Step implementations used
// in development mode and integration tests. Deployments register their
// own provider-backed steps; these stand-ins produce small, stable
// artifacts so the full pipeline can be exercised without any remote
// provider.
package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codeforge/forge/internal/core"
	"github.com/codeforge/forge/internal/domain/model"
)

// Dev returns a complete step set covering every pipeline node.
func Dev() map[string]core.Step {
	return map[string]core.Step{
		model.NodeResearch:  core.StepFunc(researchStep),
		model.NodeWireframe: core.StepFunc(wireframeStep),
		model.NodeCode:      core.StepFunc(codeStep),
		model.NodeQA:        core.StepFunc(qaStep),
		model.NodeRoadmap:   core.StepFunc(roadmapStep),
		model.NodePedagogy:  core.StepFunc(pedagogyStep),
	}
}

// description pulls the user's prompt out of the input context, falling
// back to a placeholder so every artifact stays self-describing.
func description(state *model.PipelineState) string {
	var input struct {
		Description string `json:"description"`
	}
	if len(state.InputContext) > 0 {
		if err := json.Unmarshal(state.InputContext, &input); err == nil && input.Description != "" {
			return input.Description
		}
	}
	return "unspecified application"
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		// all inputs are local literals; this cannot fail at runtime
		panic(fmt.Sprintf("steps: marshal artifact: %v", err))
	}
	return raw
}

func researchStep(ctx context.Context, state *model.PipelineState) (model.Patch, error) {
	return model.Patch{
		RequirementsSpec: mustJSON(map[string]any{
			"summary":  description(state),
			"features": []string{"create", "read", "update", "delete"},
			"entities": []string{"user", "item"},
		}),
	}, nil
}

func wireframeStep(ctx context.Context, state *model.PipelineState) (model.Patch, error) {
	return model.Patch{
		ArchitectureSpec: mustJSON(map[string]any{
			"pages":      []string{"home", "detail", "settings"},
			"components": []string{"list", "form", "nav"},
		}),
	}, nil
}

func codeStep(ctx context.Context, state *model.PipelineState) (model.Patch, error) {
	return model.Patch{
		GeneratedCode: mustJSON(map[string]any{
			"language": "typescript",
			"files": map[string]string{
				"index.ts": "// " + description(state),
			},
			"iteration": state.IterationCount + 1,
		}),
	}, nil
}

func qaStep(ctx context.Context, state *model.PipelineState) (model.Patch, error) {
	return model.Patch{
		QAResult: &model.QAResult{Passed: true, Score: 1.0},
	}, nil
}

func roadmapStep(ctx context.Context, state *model.PipelineState) (model.Patch, error) {
	return model.Patch{
		Roadmap: mustJSON(map[string]any{
			"milestones": []string{"scaffold", "core features", "polish"},
		}),
	}, nil
}

func pedagogyStep(ctx context.Context, state *model.PipelineState) (model.Patch, error) {
	return model.Patch{
		PedagogyResponse: mustJSON(map[string]any{
			"topic": description(state),
			"hint":  "break the problem into the smallest piece you can build today",
		}),
	}, nil
}
