package resilience

import "github.com/codeforge/forge/internal/domain/model"

// Provider identities scoping circuit-breaker isolation. Each
// generation step is served by exactly one remote provider, so an
// outage on one never fails fast the others.
const (
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderAnthropic = "anthropic"
)

// ProviderFor maps a step to its generation provider for breaker routing.
func ProviderFor(agentType model.AgentType) string {
	switch agentType {
	case model.AgentTypeResearch, model.AgentTypeQA, model.AgentTypeWireframe:
		return ProviderOpenAI
	case model.AgentTypeCode:
		return ProviderGoogle
	case model.AgentTypePedagogy, model.AgentTypeRoadmap:
		return ProviderAnthropic
	default:
		return ProviderOpenAI
	}
}
