// Package orchestrator is the outer loop: it accepts one user turn,
// seeds session and artifact state, and drives the attractor evaluator
// until convergence, a block, or budget exhaustion.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/agent"
	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/attractor"
	"github.com/codi-dev/codi/internal/common/appctx"
	apperrors "github.com/codi-dev/codi/internal/common/errors"
	"github.com/codi-dev/codi/internal/common/logger"
	"github.com/codi-dev/codi/internal/common/tracing"
	"github.com/codi-dev/codi/internal/persistence"
	"github.com/codi-dev/codi/internal/session"
	"github.com/codi-dev/codi/internal/signal"
)

// Notifier is the slice of the broadcast bridge the executor uses.
type Notifier interface {
	Publish(ctx context.Context, projectID string, message map[string]interface{}) error
}

// Config holds the convergence loop budgets.
type Config struct {
	MaxIterations int
	Timeout       time.Duration
	PollInterval  time.Duration
}

// TurnInput is one user turn.
type TurnInput struct {
	ProjectID     string
	UserID        string
	TaskID        string
	UserMessage   string
	ProjectFolder string
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	Converged  bool
	Evaluation *attractor.Evaluation
	Summary    string
	SessionID  string
	Duration   time.Duration
}

// Executor runs user turns. At most one turn runs per project;
// overlapping turns are rejected with a typed error.
type Executor struct {
	cfg      Config
	stores   *artifact.Manager
	engine   *signal.Engine
	registry *agent.Registry
	sessions *session.Manager
	store    persistence.Port
	notify   Notifier
	logger   *logger.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// NewExecutor creates the turn executor.
func NewExecutor(cfg Config, stores *artifact.Manager, engine *signal.Engine, registry *agent.Registry, sessions *session.Manager, store persistence.Port, notify Notifier, log *logger.Logger) *Executor {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Executor{
		cfg:      cfg,
		stores:   stores,
		engine:   engine,
		registry: registry,
		sessions: sessions,
		store:    store,
		notify:   notify,
		logger:   log.Named("executor"),
		active:   make(map[string]struct{}),
	}
}

// RunTurn executes one user turn end to end. Cancellation of ctx stops
// the convergence loop at its next polling step and records it.
func (e *Executor) RunTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	if in.ProjectID == "" {
		return nil, apperrors.ValidationError("project_id", "project id is required")
	}

	e.mu.Lock()
	if _, busy := e.active[in.ProjectID]; busy {
		e.mu.Unlock()
		return nil, apperrors.TurnInProgress(in.ProjectID)
	}
	e.active[in.ProjectID] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, in.ProjectID)
		e.mu.Unlock()
	}()

	ctx, span := tracing.Tracer("codi-orchestrator").Start(ctx, "executor.run_turn")
	defer span.End()

	started := time.Now()
	log := e.logger.WithProjectID(in.ProjectID)

	rootSession, err := e.sessions.GetOrCreate(ctx, in.ProjectID, in.UserID, "orchestrator")
	if err != nil {
		return nil, err
	}
	if err := e.sessions.AddMessage(rootSession.ID, session.RoleUser, in.UserMessage, "", nil); err != nil {
		return nil, err
	}

	ctx = appctx.WithTurn(ctx, appctx.Turn{
		ProjectID: in.ProjectID,
		UserID:    in.UserID,
		TaskID:    in.TaskID,
		SessionID: rootSession.ID,
	})

	e.record(ctx, in, persistence.OpAgentTaskStarted, persistence.RecordPending, "turn started", 0)
	e.broadcast(ctx, in.ProjectID, map[string]interface{}{"status": "started"})
	if e.store != nil && in.TaskID != "" {
		startedAt := started.UTC()
		if err := e.store.UpsertAgentTask(ctx, in.TaskID, persistence.TaskUpdate{
			Status:    "running",
			StartedAt: &startedAt,
		}); err != nil {
			log.Warn("agent task upsert failed", zap.Error(err))
		}
	}

	store := e.stores.GetOrCreate(in.ProjectID, in.ProjectFolder)
	evaluator := attractor.NewEvaluator(in.ProjectID, store, e.engine, e.registry, nil, e.logger)

	if err := e.applyIntent(ctx, store, in); err != nil {
		log.Warn("intent handling failed", zap.Error(err))
	}

	eval, loopErr := evaluator.RunUntilSatisfied(ctx, nil, e.cfg.Timeout, e.cfg.PollInterval, e.cfg.MaxIterations)
	duration := time.Since(started)

	result := &TurnResult{
		Evaluation: eval,
		SessionID:  rootSession.ID,
		Duration:   duration,
	}

	switch {
	case loopErr != nil && ctx.Err() != nil:
		result.Summary = "The run was cancelled."
		e.record(ctx, in, persistence.OpAgentTaskCancelled, persistence.RecordCancelled, result.Summary, duration)
	case eval != nil && eval.AllSatisfied:
		result.Converged = true
		result.Summary = fmt.Sprintf("All goals satisfied in %s.", duration.Round(time.Millisecond))
		e.record(ctx, in, persistence.OpAgentTaskCompleted, persistence.RecordSuccess, result.Summary, duration)
	default:
		result.Summary = e.describeOutcome(eval, store)
		e.record(ctx, in, persistence.OpAgentTaskFailed, persistence.RecordFailed, result.Summary, duration)
	}

	if e.store != nil && in.TaskID != "" {
		completedAt := time.Now().UTC()
		status := "failed"
		if result.Converged {
			status = "completed"
		} else if ctx.Err() != nil {
			status = "cancelled"
		}
		if err := e.store.UpsertAgentTask(ctx, in.TaskID, persistence.TaskUpdate{
			Status:        status,
			ResultSummary: result.Summary,
			CompletedAt:   &completedAt,
			DurationMS:    duration.Milliseconds(),
		}); err != nil {
			log.Warn("agent task upsert failed", zap.Error(err))
		}
	}

	if err := e.sessions.AddMessage(rootSession.ID, session.RoleAssistant, result.Summary, "orchestrator", nil); err != nil {
		log.Warn("summary message append failed", zap.Error(err))
	}

	finalStatus := "blocked"
	switch {
	case result.Converged:
		finalStatus = "converged"
	case ctx.Err() != nil:
		finalStatus = "cancelled"
	}
	e.broadcast(ctx, in.ProjectID, map[string]interface{}{
		"status":  finalStatus,
		"summary": result.Summary,
	})

	log.Info("turn finished",
		zap.Bool("converged", result.Converged),
		zap.Duration("duration", duration))
	return result, nil
}

// applyIntent emits signals carried explicitly by the user message
// before the convergence loop starts.
func (e *Executor) applyIntent(ctx context.Context, store *artifact.Store, in TurnInput) error {
	lower := strings.ToLower(in.UserMessage)
	sigContext := map[string]interface{}{"user_message": in.UserMessage}

	switch {
	case strings.Contains(lower, "approve") && strings.Contains(lower, "plan"):
		if err := ApprovePlan(ctx, store, "user"); err != nil {
			return err
		}
		_, err := e.engine.Emit(ctx, signal.PlanApproved, in.ProjectID, signal.EmitOptions{
			Source: "user", Context: sigContext,
		})
		return err

	case strings.Contains(lower, "reject") && strings.Contains(lower, "plan"):
		if err := RejectPlan(ctx, store, "user"); err != nil {
			return err
		}
		_, err := e.engine.Emit(ctx, signal.PlanRejected, in.ProjectID, signal.EmitOptions{
			Source: "user", Context: sigContext,
		})
		return err

	case strings.Contains(lower, "plan") && (strings.Contains(lower, "make") || strings.Contains(lower, "create") || strings.Contains(lower, "draft")):
		_, err := e.engine.Emit(ctx, signal.NeedsAnalysis, in.ProjectID, signal.EmitOptions{
			Source: "user", Context: sigContext,
		})
		return err
	}

	// No explicit intent: let the evaluator derive the work, but hand
	// the message to whoever wakes first on needs_scaffold.
	if len(store.FileArtifacts()) == 0 {
		_, err := e.engine.Emit(ctx, signal.IntentParsed, in.ProjectID, signal.EmitOptions{
			Source: "user", Context: sigContext, Priority: signal.PriorityLow,
		})
		return err
	}
	return nil
}

// describeOutcome builds the not-converged summary: blocked goals and
// outstanding errors.
func (e *Executor) describeOutcome(eval *attractor.Evaluation, store *artifact.Store) string {
	if eval == nil {
		return "The run made no progress."
	}

	var sb strings.Builder
	sb.WriteString("Not all goals were reached.")

	if blocked := eval.Blocked(); len(blocked) > 0 {
		sb.WriteString(" Blocked: ")
		names := make([]string, 0, len(blocked))
		for _, b := range blocked {
			if b.BlockedOn != "" {
				names = append(names, b.Attractor.Name+" (waiting on "+b.BlockedOn+")")
			} else {
				names = append(names, b.Attractor.Name)
			}
		}
		sb.WriteString(strings.Join(names, ", "))
		sb.WriteString(".")
	}

	if unsatisfied := eval.Unsatisfied(); len(unsatisfied) > 0 {
		sb.WriteString(" Unsatisfied: " + strings.Join(unsatisfied, ", ") + ".")
	}

	for _, errArt := range store.ActiveErrors() {
		sb.WriteString(" Error: " + errArt.ContentString() + ".")
	}
	return sb.String()
}

// broadcast relays turn progress to WebSocket subscribers as
// agent_status events attributed to the orchestrator, best-effort.
func (e *Executor) broadcast(ctx context.Context, projectID string, fields map[string]interface{}) {
	if e.notify == nil {
		return
	}
	message := map[string]interface{}{
		"type":      "agent_status",
		"agent":     "orchestrator",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		message[k] = v
	}
	if err := e.notify.Publish(ctx, projectID, message); err != nil {
		e.logger.Warn("broadcast failed", zap.Error(err))
	}
}

// record appends an operation log entry for the turn, best-effort.
func (e *Executor) record(ctx context.Context, in TurnInput, opType persistence.OperationType, status persistence.RecordStatus, message string, duration time.Duration) {
	if e.store == nil {
		return
	}
	if err := e.store.InsertOperationLog(ctx, &persistence.OperationLogRecord{
		UserID:        in.UserID,
		ProjectID:     in.ProjectID,
		OperationType: opType,
		AgentType:     persistence.AgentOrchestrator,
		Message:       message,
		Status:        status,
		DurationMS:    duration.Milliseconds(),
	}); err != nil {
		e.logger.Warn("operation log insert failed", zap.Error(err))
	}
}
