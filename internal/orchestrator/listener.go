package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/common/logger"
	"github.com/codi-dev/codi/internal/events"
	"github.com/codi-dev/codi/internal/events/bus"
	"github.com/codi-dev/codi/internal/signal"
)

// AgentSignalListener receives front-end signals (plan approvals and
// the like) over the per-project bus channel and folds them into the
// engine and artifact state of the worker process.
type AgentSignalListener struct {
	bus    bus.EventBus
	stores *artifact.Manager
	engine *signal.Engine
	logger *logger.Logger

	mu   sync.Mutex
	subs map[string]bus.Subscription
}

// NewAgentSignalListener creates the listener. Call Attach per project.
func NewAgentSignalListener(b bus.EventBus, stores *artifact.Manager, engine *signal.Engine, log *logger.Logger) *AgentSignalListener {
	return &AgentSignalListener{
		bus:    b,
		stores: stores,
		engine: engine,
		logger: log.Named("agent-signals"),
		subs:   make(map[string]bus.Subscription),
	}
}

// Attach subscribes to the project's signal channel. Idempotent.
func (l *AgentSignalListener) Attach(projectID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.subs[projectID]; ok {
		return nil
	}
	sub, err := l.bus.Subscribe(events.AgentSignalChannel(projectID), l.handle)
	if err != nil {
		return err
	}
	l.subs[projectID] = sub
	l.logger.Info("listening for agent signals", zap.String("project_id", projectID))
	return nil
}

// Detach unsubscribes from the project's signal channel.
func (l *AgentSignalListener) Detach(projectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sub, ok := l.subs[projectID]; ok {
		_ = sub.Unsubscribe()
		delete(l.subs, projectID)
	}
}

// Close detaches every project.
func (l *AgentSignalListener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for projectID, sub := range l.subs {
		_ = sub.Unsubscribe()
		delete(l.subs, projectID)
	}
}

func (l *AgentSignalListener) handle(ctx context.Context, event *bus.Event) error {
	signalType, _ := event.Data["signal_type"].(string)
	projectID, _ := event.Data["project_id"].(string)
	if signalType == "" || projectID == "" {
		l.logger.Warn("malformed agent signal", zap.String("event_id", event.ID))
		return nil
	}

	store := l.stores.Get(projectID)
	if store == nil {
		l.logger.Debug("agent signal for inactive project",
			zap.String("project_id", projectID),
			zap.String("signal_type", signalType))
		return nil
	}

	switch signalType {
	case "plan_approval":
		if err := ApprovePlan(ctx, store, event.Source); err != nil {
			return err
		}
		_, err := l.engine.Emit(ctx, signal.PlanApproved, projectID, signal.EmitOptions{Source: event.Source})
		return err

	case "plan_rejection":
		if err := RejectPlan(ctx, store, event.Source); err != nil {
			return err
		}
		_, err := l.engine.Emit(ctx, signal.PlanRejected, projectID, signal.EmitOptions{Source: event.Source})
		return err
	}

	// Anything else maps straight onto the engine's closed set.
	if sig, ok := signal.Parse(signalType); ok {
		data, _ := event.Data["data"].(map[string]interface{})
		_, err := l.engine.Emit(ctx, sig, projectID, signal.EmitOptions{
			Source:  event.Source,
			Context: data,
		})
		return err
	}

	l.logger.Warn("unknown agent signal type", zap.String("signal_type", signalType))
	return nil
}
