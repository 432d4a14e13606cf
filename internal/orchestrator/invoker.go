package orchestrator

import (
	"context"

	"github.com/codi-dev/codi/internal/agent"
	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/common/appctx"
	"github.com/codi-dev/codi/internal/signal"
	"github.com/codi-dev/codi/internal/task"
)

// Invoker is the delegation wiring: sync invocation drives the target
// agent's handler inline, async hands the prompt to the background
// task manager. Signals remain the canonical activation path.
type Invoker struct {
	registry *agent.Registry
	tasks    *task.Manager
	stores   *artifact.Manager
}

var _ agent.Invoker = (*Invoker)(nil)

// NewInvoker creates the delegation wiring.
func NewInvoker(registry *agent.Registry, tasks *task.Manager, stores *artifact.Manager) *Invoker {
	return &Invoker{registry: registry, tasks: tasks, stores: stores}
}

// InvokeSync runs the target agent's handler with a synthetic analysis
// event and returns the content of its newest artifact.
func (i *Invoker) InvokeSync(ctx context.Context, agentName, prompt string) (string, error) {
	turn := appctx.TurnFrom(ctx)

	event := &signal.Event{
		Signal:    signal.NeedsAnalysis,
		ProjectID: turn.ProjectID,
		Source:    "delegation",
		Priority:  signal.PriorityNormal,
		Context:   map[string]interface{}{"user_message": prompt},
	}
	if err := i.registry.HandleDirect(ctx, agentName, event); err != nil {
		return "", err
	}

	if store := i.stores.Get(turn.ProjectID); store != nil {
		if produced := store.GetByProducer(agentName, "", 1); len(produced) > 0 {
			return produced[0].ContentString(), nil
		}
	}
	return "", nil
}

// InvokeAsync launches the prompt as a background task and returns its
// id immediately.
func (i *Invoker) InvokeAsync(ctx context.Context, agentName, prompt string) (string, error) {
	if _, err := i.registry.Get(agentName); err != nil {
		return "", err
	}

	turn := appctx.TurnFrom(ctx)
	t, err := i.tasks.Launch(ctx, task.LaunchInput{
		Description:     "delegated to " + agentName,
		Prompt:          prompt,
		Agent:           agentName,
		ParentSessionID: turn.SessionID,
		ProjectID:       turn.ProjectID,
		UserID:          turn.UserID,
	})
	if err != nil {
		return "", err
	}
	return t.ID, nil
}
