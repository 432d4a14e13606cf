package agent

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/artifact"
	apperrors "github.com/codi-dev/codi/internal/common/errors"
	"github.com/codi-dev/codi/internal/common/logger"
	"github.com/codi-dev/codi/internal/signal"
)

// Capabilities records what one registered agent can do. The registry
// holds capability sets, not type hierarchies.
type Capabilities struct {
	SubscribesTo []signal.Signal
	Produces     []artifact.Type
}

// Registry is the authoritative mapping from agent name to its
// capabilities. Routing and the evaluator's "can anyone satisfy this"
// pre-check both consult it.
type Registry struct {
	engine *signal.Engine
	logger *logger.Logger

	mu      sync.RWMutex
	workers map[string]Worker
	caps    map[string]Capabilities
}

// NewRegistry creates an agent registry bound to a signal engine.
func NewRegistry(engine *signal.Engine, log *logger.Logger) *Registry {
	return &Registry{
		engine:  engine,
		logger:  log.Named("registry"),
		workers: make(map[string]Worker),
		caps:    make(map[string]Capabilities),
	}
}

// Register records a worker's capabilities and, when it subscribes to
// signals, wires its handler into the engine. A worker may implement
// Producer, Subscriber, both, or neither.
func (r *Registry) Register(w Worker) error {
	name := w.Name()

	caps := Capabilities{}
	if producer, ok := w.(Producer); ok {
		caps.Produces = producer.Produces()
	}

	if subscriber, ok := w.(Subscriber); ok {
		caps.SubscribesTo = subscriber.SubscribesTo()
		for _, sig := range caps.SubscribesTo {
			if err := r.engine.Subscribe(name, sig, subscriber.HandleSignal, 0); err != nil {
				return err
			}
		}
	}

	r.mu.Lock()
	r.workers[name] = w
	r.caps[name] = caps
	r.mu.Unlock()

	r.logger.Info("agent registered",
		zap.String("agent", name),
		zap.Int("signals", len(caps.SubscribesTo)),
		zap.Int("artifact_types", len(caps.Produces)))
	return nil
}

// Unregister removes a worker and its engine subscriptions.
func (r *Registry) Unregister(name string) {
	r.engine.UnsubscribeAll(name)

	r.mu.Lock()
	delete(r.workers, name)
	delete(r.caps, name)
	r.mu.Unlock()
}

// Get returns the registered worker, or a typed rejection.
func (r *Registry) Get(name string) (Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[name]
	if !ok {
		return nil, apperrors.UnknownAgent(name)
	}
	return w, nil
}

// CapabilitiesOf returns the capability set of a registered agent.
func (r *Registry) CapabilitiesOf(name string) (Capabilities, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps, ok := r.caps[name]
	return caps, ok
}

// SubscribersOf returns the names of agents subscribed to a signal.
func (r *Registry) SubscribersOf(sig signal.Signal) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, caps := range r.caps {
		for _, s := range caps.SubscribesTo {
			if s == sig {
				names = append(names, name)
				break
			}
		}
	}
	return names
}

// CanSatisfy reports whether any registered agent subscribes to the
// signal. The evaluator uses it to warn about unroutable attractors.
func (r *Registry) CanSatisfy(sig signal.Signal) bool {
	return len(r.SubscribersOf(sig)) > 0
}

// Names returns all registered agent names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	return names
}

// HandleDirect invokes a registered subscriber's handler with a
// synthetic event. Used by the delegation path.
func (r *Registry) HandleDirect(ctx context.Context, name string, event *signal.Event) error {
	w, err := r.Get(name)
	if err != nil {
		return err
	}
	subscriber, ok := w.(Subscriber)
	if !ok {
		return apperrors.BadRequest("agent '" + name + "' does not handle signals")
	}
	return subscriber.HandleSignal(ctx, event)
}
