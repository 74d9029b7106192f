package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/codeforge/forge/internal/domain/model"
)

// EventType distinguishes job event kinds.
type EventType string

const (
	// EventProgress is emitted after every completed pipeline node.
	EventProgress EventType = "progress"
	// EventWaiting is emitted when a job suspends awaiting user input.
	EventWaiting EventType = "waiting"
	// EventTerminal is emitted once per job on reaching a final status.
	EventTerminal EventType = "terminal"
)

// JobEvent is the payload fanned out to subscribers. The API layer uses
// these to push status over its own transport (SSE, websockets).
type JobEvent struct {
	Type      EventType       `json:"type"`
	JobID     string          `json:"job_id"`
	ProjectID string          `json:"project_id"`
	AgentType model.AgentType `json:"agent_type"`
	Status    model.JobStatus `json:"status"`
	Progress  float64         `json:"progress"`
	Node      string          `json:"node,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// SubscriberFunc receives job events. It must not block for long; slow
// consumers should buffer internally.
type SubscriberFunc func(ctx context.Context, event JobEvent)

type subscriberRegistration struct {
	name string
	fn   SubscriberFunc
}

// NotifierOptions configures a Notifier.
type NotifierOptions struct {
	Logger *slog.Logger
}

// Notifier fans job events out to registered subscribers. Subscriber
// panics are contained so a broken consumer can never take down a job
// run.
type Notifier struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs []subscriberRegistration
}

// NewNotifier constructs a Notifier.
func NewNotifier(opts NotifierOptions) *Notifier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger.With("component", "job_notifier")}
}

// Subscribe registers a named subscriber for all subsequent events.
func (n *Notifier) Subscribe(name string, fn SubscriberFunc) {
	if fn == nil {
		return
	}
	if name == "" {
		name = "subscriber"
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, subscriberRegistration{name: name, fn: fn})
}

// Publish delivers the event to every subscriber in registration order.
func (n *Notifier) Publish(ctx context.Context, event JobEvent) {
	n.mu.RLock()
	subs := make([]subscriberRegistration, len(n.subs))
	copy(subs, n.subs)
	n.mu.RUnlock()

	for _, sub := range subs {
		n.deliver(ctx, sub, event)
	}
}

func (n *Notifier) deliver(ctx context.Context, sub subscriberRegistration, event JobEvent) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.ErrorContext(ctx, "job event subscriber panicked",
				"subscriber", sub.name,
				"job_id", event.JobID,
				"panic", r)
		}
	}()
	sub.fn(ctx, event)
}
