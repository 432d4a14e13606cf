package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codi-dev/codi/internal/agent"
	"github.com/codi-dev/codi/internal/artifact"
	apperrors "github.com/codi-dev/codi/internal/common/errors"
	"github.com/codi-dev/codi/internal/common/logger"
	"github.com/codi-dev/codi/internal/events/bus"
	"github.com/codi-dev/codi/internal/persistence"
	"github.com/codi-dev/codi/internal/session"
	"github.com/codi-dev/codi/internal/signal"
)

// testWorker reacts to declared signals with an arbitrary handler.
type testWorker struct {
	name    string
	signals []signal.Signal
	handler func(ctx context.Context, event *signal.Event) error
}

func (w *testWorker) Name() string                  { return w.name }
func (w *testWorker) SubscribesTo() []signal.Signal { return w.signals }

func (w *testWorker) HandleSignal(ctx context.Context, event *signal.Event) error {
	return w.handler(ctx, event)
}

// turnNotifier records what the executor broadcasts.
type turnNotifier struct {
	mu       sync.Mutex
	messages []map[string]interface{}
}

func (n *turnNotifier) Publish(ctx context.Context, projectID string, message map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *turnNotifier) statuses() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.messages))
	for _, m := range n.messages {
		if s, ok := m["status"].(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (n *turnNotifier) last() map[string]interface{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.messages) == 0 {
		return nil
	}
	return n.messages[len(n.messages)-1]
}

type executorFixture struct {
	executor *Executor
	stores   *artifact.Manager
	engine   *signal.Engine
	registry *agent.Registry
	sessions *session.Manager
	store    *persistence.MemoryPort
	notify   *turnNotifier
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	log := logger.Default()
	store := persistence.NewMemoryPort()
	stores := artifact.NewManager("", persistence.NewOperationRecorder(store, log), log)
	engine := signal.NewEngine(log)
	registry := agent.NewRegistry(engine, log)
	sessions := session.NewManager(session.Config{}, log)
	notify := &turnNotifier{}

	executor := NewExecutor(Config{
		MaxIterations: 50,
		Timeout:       5 * time.Second,
		PollInterval:  5 * time.Millisecond,
	}, stores, engine, registry, sessions, store, notify, log)

	return &executorFixture{
		executor: executor,
		stores:   stores,
		engine:   engine,
		registry: registry,
		sessions: sessions,
		store:    store,
		notify:   notify,
	}
}

// persistFor writes an artifact into the named project's store.
func (f *executorFixture) persistFor(t *testing.T, projectID string, artifactType artifact.Type, producer string, content interface{}, metadata map[string]interface{}) *artifact.Artifact {
	t.Helper()
	a, err := artifact.New(artifactType, producer, content, metadata)
	require.NoError(t, err)
	persisted, err := f.stores.GetOrCreate(projectID, "").Persist(context.Background(), a)
	require.NoError(t, err)
	return persisted
}

// registerHappyPath wires workers that satisfy the default goal set.
func (f *executorFixture) registerHappyPath(t *testing.T, projectID string) {
	t.Helper()
	register := func(name string, sigs []signal.Signal, handler func(ctx context.Context, e *signal.Event) error) {
		require.NoError(t, f.registry.Register(&testWorker{name: name, signals: sigs, handler: handler}))
	}

	register("scaffolder", []signal.Signal{signal.NeedsScaffold}, func(ctx context.Context, e *signal.Event) error {
		f.persistFor(t, projectID, artifact.TypeFile, "scaffolder", "<html></html>", map[string]interface{}{
			artifact.MetaFilePath: "index.html",
		})
		f.engine.Resolve(signal.NeedsScaffold, projectID)
		return nil
	})
	register("builder", []signal.Signal{signal.NeedsBuild}, func(ctx context.Context, e *signal.Event) error {
		f.persistFor(t, projectID, artifact.TypeBuild, "builder", "built", map[string]interface{}{
			artifact.MetaSuccess:     true,
			artifact.MetaTestsPassed: true,
		})
		f.engine.Resolve(signal.NeedsBuild, projectID)
		return nil
	})
	register("previewer", []signal.Signal{signal.NeedsPreview}, func(ctx context.Context, e *signal.Event) error {
		f.persistFor(t, projectID, artifact.TypePreview, "previewer", "up", map[string]interface{}{
			artifact.MetaURL: "http://localhost:3000",
		})
		f.engine.Resolve(signal.NeedsPreview, projectID)
		return nil
	})
	register("gitops", []signal.Signal{signal.NeedsCommit}, func(ctx context.Context, e *signal.Event) error {
		f.persistFor(t, projectID, artifact.TypeLog, "gitops", "committed", map[string]interface{}{
			artifact.MetaOperation: "commit",
			"commit_sha":           "abc123",
		})
		f.engine.Resolve(signal.NeedsCommit, projectID)
		return nil
	})
}

func TestRunTurn(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a project id", func(t *testing.T) {
		f := newExecutorFixture(t)
		_, err := f.executor.RunTurn(ctx, TurnInput{})
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationError))
	})

	t.Run("converges from an empty project", func(t *testing.T) {
		f := newExecutorFixture(t)
		f.registerHappyPath(t, "p1")

		result, err := f.executor.RunTurn(ctx, TurnInput{
			ProjectID:   "p1",
			UserID:      "u1",
			UserMessage: "build me a landing page",
		})
		require.NoError(t, err)
		assert.True(t, result.Converged, "summary: %s", result.Summary)
		assert.Contains(t, result.Summary, "All goals satisfied")

		store := f.stores.Get("p1")
		require.NotNil(t, store)
		assert.NotEmpty(t, store.FileArtifacts())
		assert.True(t, store.BuildSucceeded())
		assert.True(t, store.HasPreview())

		// The root session carries the user turn and the summary.
		s, err := f.sessions.Get(result.SessionID)
		require.NoError(t, err)
		require.Len(t, s.Messages, 2)
		assert.Equal(t, session.RoleUser, s.Messages[0].Role)
		assert.Equal(t, session.RoleAssistant, s.Messages[1].Role)

		// Every step of the run leaves its audit record.
		for opType, want := range map[persistence.OperationType]int{
			persistence.OpAgentTaskStarted:   1,
			persistence.OpAgentTaskCompleted: 1,
			persistence.OpFileWritten:        1,
			persistence.OpBuildCompleted:     1,
			persistence.OpPreviewDeployed:    1,
			persistence.OpGitCommit:          1,
		} {
			recs, err := f.store.ListOperationLogs(ctx, persistence.OperationLogFilter{
				ProjectID:     "p1",
				OperationType: opType,
			})
			require.NoError(t, err)
			assert.Len(t, recs, want, string(opType))
		}
		commits, err := f.store.ListOperationLogs(ctx, persistence.OperationLogFilter{
			ProjectID:     "p1",
			OperationType: persistence.OpGitCommit,
		})
		require.NoError(t, err)
		require.Len(t, commits, 1)
		assert.Equal(t, "abc123", commits[0].CommitSHA)

		assert.Equal(t, []string{"started", "converged"}, f.notify.statuses())
		last := f.notify.last()
		require.NotNil(t, last)
		assert.Equal(t, "agent_status", last["type"])
		assert.Equal(t, "orchestrator", last["agent"])
	})

	t.Run("recovers from a failed build", func(t *testing.T) {
		f := newExecutorFixture(t)
		f.registerHappyPath(t, "p1")
		f.registry.Unregister("builder")

		var buildAttempts int
		var mu sync.Mutex
		require.NoError(t, f.registry.Register(&testWorker{
			name:    "builder",
			signals: []signal.Signal{signal.NeedsBuild},
			handler: func(ctx context.Context, e *signal.Event) error {
				mu.Lock()
				buildAttempts++
				attempt := buildAttempts
				mu.Unlock()
				if attempt == 1 {
					f.persistFor(t, "p1", artifact.TypeBuild, "builder", "tsc: 3 errors", map[string]interface{}{
						artifact.MetaSuccess: false,
					})
					f.persistFor(t, "p1", artifact.TypeError, "builder", "missing dependency", map[string]interface{}{
						artifact.MetaRecoverable: true,
					})
					f.engine.Resolve(signal.NeedsBuild, "p1")
					return nil
				}
				f.persistFor(t, "p1", artifact.TypeBuild, "builder", "built", map[string]interface{}{
					artifact.MetaSuccess:     true,
					artifact.MetaTestsPassed: true,
				})
				f.engine.Resolve(signal.NeedsBuild, "p1")
				return nil
			},
		}))
		require.NoError(t, f.registry.Register(&testWorker{
			name:    "sage",
			signals: []signal.Signal{signal.ErrorOccurred},
			handler: func(ctx context.Context, e *signal.Event) error {
				store := f.stores.Get("p1")
				for _, errArt := range store.ActiveErrors() {
					if errArt.MetaBool(artifact.MetaRecoverable) {
						store.Invalidate(errArt.ID)
					}
				}
				f.engine.Resolve(signal.ErrorOccurred, "p1")
				return nil
			},
		}))

		result, err := f.executor.RunTurn(ctx, TurnInput{
			ProjectID:   "p1",
			UserID:      "u1",
			UserMessage: "build it",
		})
		require.NoError(t, err)
		assert.True(t, result.Converged, "summary: %s", result.Summary)

		mu.Lock()
		attempts := buildAttempts
		mu.Unlock()
		assert.GreaterOrEqual(t, attempts, 2)
		assert.False(t, f.stores.Get("p1").HasErrors())

		// The audit trail keeps the failure and the recovery.
		failed, err := f.store.ListOperationLogs(ctx, persistence.OperationLogFilter{
			ProjectID:     "p1",
			OperationType: persistence.OpBuildFailed,
		})
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, persistence.RecordFailed, failed[0].Status)
		assert.Equal(t, persistence.AgentBuilder, failed[0].AgentType)

		completedBuilds, err := f.store.ListOperationLogs(ctx, persistence.OperationLogFilter{
			ProjectID:     "p1",
			OperationType: persistence.OpBuildCompleted,
		})
		require.NoError(t, err)
		require.Len(t, completedBuilds, 1)
		assert.Equal(t, persistence.RecordSuccess, completedBuilds[0].Status)
	})

	t.Run("pending plan blocks the turn", func(t *testing.T) {
		f := newExecutorFixture(t)
		f.registerHappyPath(t, "p1")
		f.persistFor(t, "p1", artifact.TypeFile, "scaffolder", "seed", nil)
		f.persistFor(t, "p1", artifact.TypePlan, "planner", "1. build it", map[string]interface{}{
			artifact.MetaPlanStatus: artifact.PlanPendingReview,
		})

		result, err := f.executor.RunTurn(ctx, TurnInput{
			ProjectID:   "p1",
			UserID:      "u1",
			UserMessage: "keep going",
		})
		require.NoError(t, err)
		assert.False(t, result.Converged)
		assert.Contains(t, result.Summary, "plan_approved")

		// Approval through a later turn unblocks everything.
		result, err = f.executor.RunTurn(ctx, TurnInput{
			ProjectID:   "p1",
			UserID:      "u1",
			UserMessage: "I approve the plan",
		})
		require.NoError(t, err)
		assert.True(t, result.Converged, "summary: %s", result.Summary)

		plan := f.stores.Get("p1").GetLatest(artifact.TypePlan, "")
		require.NotNil(t, plan)
		assert.Equal(t, artifact.PlanApproved, plan.MetaString(artifact.MetaPlanStatus))
	})

	t.Run("rejects overlapping turns per project", func(t *testing.T) {
		f := newExecutorFixture(t)

		turnDone := make(chan struct{})
		go func() {
			defer close(turnDone)
			_, _ = f.executor.RunTurn(ctx, TurnInput{
				ProjectID:   "p1",
				UserMessage: "slow turn",
			})
		}()

		require.Eventually(t, func() bool {
			_, err := f.executor.RunTurn(ctx, TurnInput{ProjectID: "p1", UserMessage: "again"})
			return apperrors.IsCode(err, apperrors.ErrCodeTurnInProgress)
		}, 2*time.Second, time.Millisecond)

		// A different project is not affected.
		_, err := f.executor.RunTurn(ctx, TurnInput{ProjectID: "p2", UserMessage: "other"})
		require.NoError(t, err)

		<-turnDone

		// The slot frees up once the turn finishes.
		_, err = f.executor.RunTurn(ctx, TurnInput{ProjectID: "p1", UserMessage: "retry"})
		require.NoError(t, err)
	})

	t.Run("records cancellation", func(t *testing.T) {
		f := newExecutorFixture(t)
		cancelCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		result, err := f.executor.RunTurn(cancelCtx, TurnInput{
			ProjectID:   "p1",
			UserMessage: "never finishes",
		})
		require.NoError(t, err)
		assert.False(t, result.Converged)
		assert.Contains(t, result.Summary, "cancelled")
	})

	t.Run("tracks task state when a task id is given", func(t *testing.T) {
		f := newExecutorFixture(t)
		f.registerHappyPath(t, "p1")

		_, err := f.executor.RunTurn(ctx, TurnInput{
			ProjectID:   "p1",
			TaskID:      "task-1",
			UserMessage: "go",
		})
		require.NoError(t, err)

		record, ok := f.store.GetAgentTask("task-1")
		require.True(t, ok)
		assert.Equal(t, "completed", record.Status)
		require.NotNil(t, record.CompletedAt)
		assert.NotEmpty(t, record.ResultSummary)
	})
}

func TestApplyIntent(t *testing.T) {
	ctx := context.Background()

	t.Run("plan rejection supersedes and signals", func(t *testing.T) {
		f := newExecutorFixture(t)
		store := f.stores.GetOrCreate("p1", "")
		f.persistFor(t, "p1", artifact.TypePlan, "planner", "v1", map[string]interface{}{
			artifact.MetaPlanStatus: artifact.PlanPendingReview,
		})

		require.NoError(t, f.executor.applyIntent(ctx, store, TurnInput{
			ProjectID:   "p1",
			UserMessage: "please reject this plan",
		}))
		assert.True(t, f.engine.IsActive(signal.PlanRejected, "p1"))
		plan := store.GetLatest(artifact.TypePlan, "")
		require.NotNil(t, plan)
		assert.Equal(t, artifact.PlanRejected, plan.MetaString(artifact.MetaPlanStatus))
	})

	t.Run("plan drafting request wakes analysis", func(t *testing.T) {
		f := newExecutorFixture(t)
		store := f.stores.GetOrCreate("p1", "")
		require.NoError(t, f.executor.applyIntent(ctx, store, TurnInput{
			ProjectID:   "p1",
			UserMessage: "draft a plan for a todo app",
		}))
		assert.True(t, f.engine.IsActive(signal.NeedsAnalysis, "p1"))
	})

	t.Run("empty project seeds intent", func(t *testing.T) {
		f := newExecutorFixture(t)
		store := f.stores.GetOrCreate("p1", "")
		require.NoError(t, f.executor.applyIntent(ctx, store, TurnInput{
			ProjectID:   "p1",
			UserMessage: "make me a website",
		}))
		assert.True(t, f.engine.IsActive(signal.IntentParsed, "p1"))
	})

	t.Run("existing files mean no seed", func(t *testing.T) {
		f := newExecutorFixture(t)
		store := f.stores.GetOrCreate("p1", "")
		f.persistFor(t, "p1", artifact.TypeFile, "scaffolder", "x", nil)
		require.NoError(t, f.executor.applyIntent(ctx, store, TurnInput{
			ProjectID:   "p1",
			UserMessage: "tweak the header",
		}))
		assert.False(t, f.engine.IsActive(signal.IntentParsed, "p1"))
	})
}

func TestPlanReview(t *testing.T) {
	ctx := context.Background()
	log := logger.Default()

	t.Run("no pending plan is a no-op", func(t *testing.T) {
		store := artifact.NewStore("p1", artifact.StoreOptions{}, log)
		require.NoError(t, ApprovePlan(ctx, store, "user"))
		require.NoError(t, RejectPlan(ctx, store, "user"))
	})

	t.Run("approval records the reviewer", func(t *testing.T) {
		store := artifact.NewStore("p1", artifact.StoreOptions{}, log)
		a, err := artifact.New(artifact.TypePlan, "planner", "the plan", map[string]interface{}{
			artifact.MetaPlanStatus: artifact.PlanPendingReview,
		})
		require.NoError(t, err)
		_, err = store.Persist(ctx, a)
		require.NoError(t, err)

		require.NoError(t, ApprovePlan(ctx, store, "alice"))
		latest := store.GetLatest(artifact.TypePlan, "")
		require.NotNil(t, latest)
		assert.Equal(t, artifact.PlanApproved, latest.MetaString(artifact.MetaPlanStatus))
		assert.Equal(t, "alice", latest.MetaString("reviewed_by"))
		assert.Equal(t, "the plan", latest.ContentString())
		assert.Nil(t, store.PendingPlan())
	})
}

func TestAgentSignalListener(t *testing.T) {
	ctx := context.Background()
	log := logger.Default()

	setup := func(t *testing.T) (*bus.MemoryEventBus, *artifact.Manager, *signal.Engine, *AgentSignalListener) {
		t.Helper()
		b := bus.NewMemoryEventBus(log)
		stores := artifact.NewManager("", nil, log)
		engine := signal.NewEngine(log)
		l := NewAgentSignalListener(b, stores, engine, log)
		return b, stores, engine, l
	}

	publish := func(t *testing.T, b *bus.MemoryEventBus, projectID, signalType string, data map[string]interface{}) {
		t.Helper()
		event := bus.NewEvent("agent.signal", "frontend", map[string]interface{}{
			"signal_type": signalType,
			"project_id":  projectID,
			"data":        data,
		})
		require.NoError(t, b.Publish(ctx, "signals.project."+projectID, event))
	}

	t.Run("plan approval folds into artifact state", func(t *testing.T) {
		b, stores, engine, l := setup(t)
		defer l.Close()

		store := stores.GetOrCreate("p1", "")
		a, err := artifact.New(artifact.TypePlan, "planner", "plan", map[string]interface{}{
			artifact.MetaPlanStatus: artifact.PlanPendingReview,
		})
		require.NoError(t, err)
		_, err = store.Persist(ctx, a)
		require.NoError(t, err)

		require.NoError(t, l.Attach("p1"))
		require.NoError(t, l.Attach("p1"))

		publish(t, b, "p1", "plan_approval", nil)

		require.Eventually(t, func() bool {
			return engine.IsActive(signal.PlanApproved, "p1")
		}, time.Second, 2*time.Millisecond)
		latest := store.GetLatest(artifact.TypePlan, "")
		require.NotNil(t, latest)
		assert.Equal(t, artifact.PlanApproved, latest.MetaString(artifact.MetaPlanStatus))
	})

	t.Run("named signals pass through to the engine", func(t *testing.T) {
		b, stores, engine, l := setup(t)
		defer l.Close()

		stores.GetOrCreate("p1", "")
		require.NoError(t, l.Attach("p1"))

		publish(t, b, "p1", "needs_build", map[string]interface{}{"reason": "manual"})
		require.Eventually(t, func() bool {
			return engine.IsActive(signal.NeedsBuild, "p1")
		}, time.Second, 2*time.Millisecond)
	})

	t.Run("signals for inactive projects are dropped", func(t *testing.T) {
		b, _, engine, l := setup(t)
		defer l.Close()

		require.NoError(t, l.Attach("ghost"))
		publish(t, b, "ghost", "needs_build", nil)
		time.Sleep(20 * time.Millisecond)
		assert.False(t, engine.IsActive(signal.NeedsBuild, "ghost"))
	})

	t.Run("detach stops delivery", func(t *testing.T) {
		b, stores, engine, l := setup(t)
		defer l.Close()

		stores.GetOrCreate("p1", "")
		require.NoError(t, l.Attach("p1"))
		l.Detach("p1")

		publish(t, b, "p1", "needs_build", nil)
		time.Sleep(20 * time.Millisecond)
		assert.False(t, engine.IsActive(signal.NeedsBuild, "p1"))
	})
}

func TestDescribeOutcome(t *testing.T) {
	f := newExecutorFixture(t)
	store := f.stores.GetOrCreate("p1", "")
	f.persistFor(t, "p1", artifact.TypeError, "builder", "npm exploded", map[string]interface{}{
		artifact.MetaRecoverable: false,
	})

	eval := f.executor.describeOutcome(nil, store)
	assert.Equal(t, "The run made no progress.", eval)

	result, err := f.executor.RunTurn(context.Background(), TurnInput{
		ProjectID:   "p1",
		UserMessage: "go",
	})
	require.NoError(t, err)
	assert.False(t, result.Converged)
	assert.Contains(t, result.Summary, "npm exploded")
	assert.True(t, strings.Contains(result.Summary, "no_errors") || strings.Contains(result.Summary, "Unsatisfied"))
}
