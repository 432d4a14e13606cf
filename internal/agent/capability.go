// Package agent defines the worker contract: the capability interfaces
// every worker role implements to participate in the artifact/signal
// protocol, and the registry that makes those capabilities routable.
package agent

import (
	"context"

	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/signal"
)

// Worker is the minimal identity every agent carries.
type Worker interface {
	Name() string
}

// Producer is the capability of writing artifacts. A worker declares
// the artifact types it can produce; the declaration feeds the
// registry, which the evaluator consults before emitting signals.
type Producer interface {
	Worker
	Produces() []artifact.Type
}

// Subscriber is the capability of waking on signals. The declared
// subscription list is static; HandleSignal is invoked by the engine
// for each matching emission. A worker implements Producer, Subscriber,
// both, or neither.
type Subscriber interface {
	Worker
	SubscribesTo() []signal.Signal
	HandleSignal(ctx context.Context, event *signal.Event) error
}

// Invoker lets a worker delegate to another worker. Sync invocation
// awaits the result; async launches a background task and returns its
// id. Delegation is a courtesy; the canonical activation mechanism is
// the signal engine.
type Invoker interface {
	InvokeSync(ctx context.Context, agentName, prompt string) (string, error)
	InvokeAsync(ctx context.Context, agentName, prompt string) (taskID string, err error)
}
