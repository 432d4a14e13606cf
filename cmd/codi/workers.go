package main

import (
	"context"

	"github.com/codi-dev/codi/internal/agent"
	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/signal"
	"github.com/codi-dev/codi/internal/task"
)

// workerFactory builds a project-scoped worker instance.
type workerFactory func(projectID string) agent.Worker

// projectRouter registers once per role and fans each event out to a
// worker bound to the event's project. Worker instances are cheap;
// their state lives in the project store.
type projectRouter struct {
	name      string
	factory   workerFactory
	prototype agent.Worker
}

var (
	_ agent.Producer   = (*projectRouter)(nil)
	_ agent.Subscriber = (*projectRouter)(nil)
)

func newProjectRouter(factory workerFactory) *projectRouter {
	proto := factory("")
	return &projectRouter{name: proto.Name(), factory: factory, prototype: proto}
}

func (r *projectRouter) Name() string { return r.name }

func (r *projectRouter) Produces() []artifact.Type {
	if p, ok := r.prototype.(agent.Producer); ok {
		return p.Produces()
	}
	return nil
}

func (r *projectRouter) SubscribesTo() []signal.Signal {
	if s, ok := r.prototype.(agent.Subscriber); ok {
		return s.SubscribesTo()
	}
	return nil
}

func (r *projectRouter) HandleSignal(ctx context.Context, event *signal.Event) error {
	w := r.factory(event.ProjectID)
	if s, ok := w.(agent.Subscriber); ok {
		return s.HandleSignal(ctx, event)
	}
	return nil
}

// runBackgroundAgent executes one background task by driving the
// target agent's handler with a synthetic event built from the prompt.
func runBackgroundAgent(ctx context.Context, registry *agent.Registry, stores *artifact.Manager, t *task.BackgroundTask) (string, error) {
	event := &signal.Event{
		Signal:    signal.NeedsAnalysis,
		ProjectID: t.ProjectID,
		Source:    "tasks",
		Priority:  signal.PriorityNormal,
		Context: map[string]interface{}{
			"user_message": t.Prompt,
			"task_id":      t.ID,
		},
	}
	if err := registry.HandleDirect(ctx, t.Agent, event); err != nil {
		return "", err
	}
	if store := stores.Get(t.ProjectID); store != nil {
		if produced := store.GetByProducer(t.Agent, "", 1); len(produced) > 0 {
			return produced[0].ContentString(), nil
		}
	}
	return "", nil
}
