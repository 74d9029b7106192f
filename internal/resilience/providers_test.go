package resilience

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeforge/forge/internal/domain/model"
)

func TestProviderFor(t *testing.T) {
	tests := []struct {
		agentType model.AgentType
		provider  string
	}{
		{model.AgentTypeResearch, ProviderOpenAI},
		{model.AgentTypeWireframe, ProviderOpenAI},
		{model.AgentTypeQA, ProviderOpenAI},
		{model.AgentTypeCode, ProviderGoogle},
		{model.AgentTypePedagogy, ProviderAnthropic},
		{model.AgentTypeRoadmap, ProviderAnthropic},
		{model.AgentTypePipeline, ProviderOpenAI},
	}
	for _, tt := range tests {
		t.Run(string(tt.agentType), func(t *testing.T) {
			assert.Equal(t, tt.provider, ProviderFor(tt.agentType))
		})
	}
}
