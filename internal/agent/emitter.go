package agent

import (
	"context"

	"github.com/codi-dev/codi/internal/signal"
)

// SignalEmitter is the shared subscriber-side helper workers embed to
// emit signals attributed to themselves within their project scope.
type SignalEmitter struct {
	agentName string
	projectID string
	engine    *signal.Engine
}

// NewSignalEmitter binds an agent name and project to the engine.
func NewSignalEmitter(agentName, projectID string, engine *signal.Engine) *SignalEmitter {
	return &SignalEmitter{agentName: agentName, projectID: projectID, engine: engine}
}

// EmitSignal emits sig for the worker's project with the worker as source.
func (e *SignalEmitter) EmitSignal(ctx context.Context, sig signal.Signal, sigContext map[string]interface{}, artifactIDs []string) (*signal.Event, error) {
	return e.engine.Emit(ctx, sig, e.projectID, signal.EmitOptions{
		Context:     sigContext,
		Source:      e.agentName,
		ArtifactIDs: artifactIDs,
	})
}

// ResolveSignal removes sig from the project's active set, typically
// after the worker has satisfied it.
func (e *SignalEmitter) ResolveSignal(sig signal.Signal) {
	e.engine.Resolve(sig, e.projectID)
}
