package signal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/codi-dev/codi/internal/common/errors"
	"github.com/codi-dev/codi/internal/common/logger"
)

// historyCap bounds the in-memory emission history. History is
// advisory and never persisted.
const historyCap = 500

// CrashReporter is notified when a subscriber's handler fails or
// panics. The orchestration wiring uses it to produce an error
// artifact on the offending agent's behalf.
type CrashReporter func(agentName string, event *Event, err error)

// Engine routes signal emissions to subscribers and tracks the active
// signal set per project. Construct one per process and inject it;
// there is no package-level instance.
type Engine struct {
	logger *logger.Logger

	mu            sync.Mutex
	subscriptions map[Signal][]Subscription
	active        map[string]map[Signal]struct{}
	history       []*Event
	global        []Subscription
	crashReporter CrashReporter
}

// NewEngine creates a signal engine.
func NewEngine(log *logger.Logger) *Engine {
	return &Engine{
		logger:        log.Named("signals"),
		subscriptions: make(map[Signal][]Subscription),
		active:        make(map[string]map[Signal]struct{}),
	}
}

// SetCrashReporter installs the handler-failure callback.
func (e *Engine) SetCrashReporter(r CrashReporter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.crashReporter = r
}

// Subscribe registers a handler for a signal. Idempotent per
// (agent, signal): re-subscribing replaces the previous entry.
// Subscribers are kept sorted by priority descending; the sort is
// stable so equal priorities keep registration order.
func (e *Engine) Subscribe(agentName string, sig Signal, handler Handler, priority int) error {
	if !sig.Valid() {
		return apperrors.UnknownSignal(string(sig))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscriptions[sig]
	for i := range subs {
		if subs[i].AgentName == agentName {
			subs[i].Handler = handler
			subs[i].Priority = priority
			e.sortLocked(sig)
			return nil
		}
	}

	e.subscriptions[sig] = append(subs, Subscription{
		AgentName: agentName,
		Signal:    sig,
		Handler:   handler,
		Priority:  priority,
	})
	e.sortLocked(sig)

	e.logger.Debug("agent subscribed",
		zap.String("agent", agentName),
		zap.String("signal", string(sig)),
		zap.Int("priority", priority))
	return nil
}

// Unsubscribe removes the (agent, signal) subscription if present.
func (e *Engine) Unsubscribe(agentName string, sig Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscriptions[sig]
	for i := range subs {
		if subs[i].AgentName == agentName {
			e.subscriptions[sig] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll removes every subscription held by an agent.
func (e *Engine) UnsubscribeAll(agentName string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for sig, subs := range e.subscriptions {
		kept := subs[:0]
		for _, sub := range subs {
			if sub.AgentName != agentName {
				kept = append(kept, sub)
			}
		}
		e.subscriptions[sig] = kept
	}
}

// RegisterGlobalHandler adds a handler invoked for every emission,
// after the per-signal subscribers.
func (e *Engine) RegisterGlobalHandler(name string, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.global = append(e.global, Subscription{AgentName: name, Handler: handler})
}

// EmitOptions carries the optional fields of an emission.
type EmitOptions struct {
	Context     map[string]interface{}
	Source      string
	Priority    Priority
	ArtifactIDs []string
}

// Emit constructs an event, records it, updates the active set, and
// invokes subscribers sequentially in priority order on the caller's
// goroutine. Handler failures are logged and isolated. Returns the
// emitted event.
func (e *Engine) Emit(ctx context.Context, sig Signal, projectID string, opts EmitOptions) (*Event, error) {
	if !sig.Valid() {
		return nil, apperrors.UnknownSignal(string(sig))
	}

	source := opts.Source
	if source == "" {
		source = "system"
	}
	priority := opts.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	event := &Event{
		Signal:        sig,
		ProjectID:     projectID,
		Context:       opts.Context,
		Source:        source,
		Priority:      priority,
		ArtifactIDs:   opts.ArtifactIDs,
		EmittedAt:     time.Now().UTC(),
		CorrelationID: newCorrelationID(),
	}

	// Record the event and snapshot the subscriber list under the
	// lock; handler invocation happens outside it.
	e.mu.Lock()
	e.history = append(e.history, event)
	if len(e.history) > historyCap {
		e.history = e.history[len(e.history)-historyCap:]
	}
	projectActive, ok := e.active[projectID]
	if !ok {
		projectActive = make(map[Signal]struct{})
		e.active[projectID] = projectActive
	}
	if counterpart, exists := Incompatible(sig); exists {
		delete(projectActive, counterpart)
	}
	projectActive[sig] = struct{}{}

	handlers := make([]Subscription, 0, len(e.subscriptions[sig])+len(e.global))
	handlers = append(handlers, e.subscriptions[sig]...)
	handlers = append(handlers, e.global...)
	reporter := e.crashReporter
	e.mu.Unlock()

	e.logger.Info("signal emitted",
		zap.String("signal", string(sig)),
		zap.String("project_id", projectID),
		zap.String("source", source),
		zap.String("correlation_id", event.CorrelationID),
		zap.Int("subscribers", len(handlers)))

	for _, sub := range handlers {
		if err := e.invoke(ctx, sub, event); err != nil {
			e.logger.Error("signal handler failed",
				zap.String("agent", sub.AgentName),
				zap.String("signal", string(sig)),
				zap.String("correlation_id", event.CorrelationID),
				zap.Error(err))
			if reporter != nil {
				reporter(sub.AgentName, event, err)
			}
		}
	}

	return event, nil
}

// invoke runs one handler, converting panics into errors so a crashing
// agent cannot take down the emitter.
func (e *Engine) invoke(ctx context.Context, sub Subscription, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.Handler(ctx, event)
}

// EmitBatch emits each signal in order. There is no transactional
// guarantee; a failed emission does not stop the rest.
func (e *Engine) EmitBatch(ctx context.Context, signals []Signal, projectID string, opts EmitOptions) []*Event {
	events := make([]*Event, 0, len(signals))
	for _, sig := range signals {
		event, err := e.Emit(ctx, sig, projectID, opts)
		if err != nil {
			e.logger.Warn("batch emission skipped invalid signal",
				zap.String("signal", string(sig)),
				zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events
}

// Resolve removes a signal from a project's active set.
func (e *Engine) Resolve(sig Signal, projectID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if projectActive, ok := e.active[projectID]; ok {
		delete(projectActive, sig)
	}
}

// Active returns the project's active signals in stable order.
func (e *Engine) Active(projectID string) []Signal {
	e.mu.Lock()
	defer e.mu.Unlock()

	projectActive := e.active[projectID]
	signals := make([]Signal, 0, len(projectActive))
	for sig := range projectActive {
		signals = append(signals, sig)
	}
	sort.Slice(signals, func(i, j int) bool { return signals[i] < signals[j] })
	return signals
}

// IsActive reports whether a signal is in the project's active set.
func (e *Engine) IsActive(sig Signal, projectID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[projectID][sig]
	return ok
}

// HistoryFilter restricts History results. Zero values match all.
type HistoryFilter struct {
	ProjectID string
	Signal    Signal
	Limit     int
}

// History returns recorded emissions, newest first.
func (e *Engine) History(filter HistoryFilter) []*Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	var events []*Event
	for i := len(e.history) - 1; i >= 0; i-- {
		event := e.history[i]
		if filter.ProjectID != "" && event.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Signal != "" && event.Signal != filter.Signal {
			continue
		}
		events = append(events, event)
		if filter.Limit > 0 && len(events) >= filter.Limit {
			break
		}
	}
	return events
}

// ClearProject drops the active signal set for a project.
func (e *Engine) ClearProject(projectID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, projectID)
}

// Subscribers returns the agent names subscribed to a signal, in
// invocation order.
func (e *Engine) Subscribers(sig Signal) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.subscriptions[sig]))
	for _, sub := range e.subscriptions[sig] {
		names = append(names, sub.AgentName)
	}
	return names
}

// sortLocked re-sorts one signal's subscriber list by priority
// descending. Callers must hold the lock.
func (e *Engine) sortLocked(sig Signal) {
	subs := e.subscriptions[sig]
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].Priority > subs[j].Priority })
}
