// Package metrics emits standardised orchestration metrics through a
// StatsD-compatible sink. All emitters tolerate a nil sink.
package metrics

import (
	"strconv"
	"time"

	obserrors "github.com/codeforge/forge/internal/observability/errors"
	"github.com/codeforge/forge/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	AgentType  string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"agent_type": in.AgentType,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// BreakerMetric captures a circuit breaker state transition.
type BreakerMetric struct {
	Provider string
	From     string
	To       string
}

// EmitBreakerState emits a breaker transition counter plus a gauge of
// whether the provider circuit is currently open.
func EmitBreakerState(sink statsd.Sink, in BreakerMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"provider": in.Provider,
		"from":     in.From,
		"to":       in.To,
	}
	sink.Count("breaker.transition", 1, tags)

	open := 0.0
	if in.To == "open" {
		open = 1.0
	}
	sink.Gauge("breaker.open", open, map[string]string{"provider": in.Provider})
}

// ProviderCallMetric captures one attempt against a generation provider.
type ProviderCallMetric struct {
	Provider string
	Attempt  int
	Err      error
}

// EmitProviderCall emits per-attempt provider call metrics.
func EmitProviderCall(sink statsd.Sink, in ProviderCallMetric) {
	if sink == nil {
		return
	}

	result := ResultSuccess
	tags := map[string]string{
		"provider": in.Provider,
		"attempt":  strconv.Itoa(in.Attempt),
	}
	if in.Err != nil {
		result = ResultError
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}
	tags["result"] = result

	sink.Count("provider.call", 1, tags)
}

// CloneTags creates a shallow copy of a tag map, filtering out empty maps.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
