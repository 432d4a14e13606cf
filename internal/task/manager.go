package task

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/common/appctx"
	apperrors "github.com/codi-dev/codi/internal/common/errors"
	"github.com/codi-dev/codi/internal/common/logger"
	"github.com/codi-dev/codi/internal/persistence"
	"github.com/codi-dev/codi/internal/session"
)

// Runner executes one agent invocation for a task. It must honor ctx
// cancellation at its suspension points and return the task's result
// text.
type Runner interface {
	Run(ctx context.Context, t *BackgroundTask) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, t *BackgroundTask) (string, error)

func (f RunnerFunc) Run(ctx context.Context, t *BackgroundTask) (string, error) {
	return f(ctx, t)
}

// Notifier is the slice of the broadcast bridge the manager uses for
// agent_status events. Nil disables broadcasting.
type Notifier interface {
	Publish(ctx context.Context, projectID string, message map[string]interface{}) error
}

// Config bounds the manager.
type Config struct {
	Timeout        time.Duration // per-task wall clock; 0 means no limit
	ResultMaxChars int           // result/error truncation threshold
}

// Manager tracks background tasks and enforces per-key concurrency.
type Manager struct {
	cfg      Config
	runner   Runner
	sessions *session.Manager
	store    persistence.Port
	notify   Notifier
	logger   *logger.Logger

	mu      sync.Mutex
	tasks   map[string]*BackgroundTask
	running map[string]struct{}
	byKey   map[string]string
	cancels map[string]context.CancelFunc
	wanted  map[string]bool // cancel requested

	wg sync.WaitGroup
}

// NewManager creates a background task manager.
func NewManager(cfg Config, runner Runner, sessions *session.Manager, store persistence.Port, notify Notifier, log *logger.Logger) *Manager {
	if cfg.ResultMaxChars <= 0 {
		cfg.ResultMaxChars = 1000
	}
	return &Manager{
		cfg:      cfg,
		runner:   runner,
		sessions: sessions,
		store:    store,
		notify:   notify,
		logger:   log.Named("tasks"),
		tasks:    make(map[string]*BackgroundTask),
		running:  make(map[string]struct{}),
		byKey:    make(map[string]string),
		cancels:  make(map[string]context.CancelFunc),
		wanted:   make(map[string]bool),
	}
}

// Launch registers and starts a background task. When a concurrency
// key is given and another task runs under it, the launch is rejected
// with a typed error and nothing is registered.
func (m *Manager) Launch(ctx context.Context, in LaunchInput) (*BackgroundTask, error) {
	if in.Agent == "" {
		return nil, apperrors.ValidationError("agent", "agent name is required")
	}

	childSession, err := m.sessions.Create(ctx, session.CreateInput{
		ParentID:  in.ParentSessionID,
		Agent:     in.Agent,
		ProjectID: in.ProjectID,
		UserID:    in.UserID,
		Title:     in.Description,
		Skills:    in.Skills,
		Category:  in.Category,
	})
	if err != nil {
		return nil, err
	}

	t := &BackgroundTask{
		ID:              uuid.New().String(),
		SessionID:       childSession.ID,
		ParentSessionID: in.ParentSessionID,
		ProjectID:       in.ProjectID,
		Agent:           in.Agent,
		Description:     in.Description,
		Prompt:          in.Prompt,
		Status:          StatusRunning,
		StartedAt:       time.Now().UTC(),
		Progress:        Progress{LastUpdate: time.Now().UTC()},
		ConcurrencyKey:  in.ConcurrencyKey,
		Category:        in.Category,
		Skills:          append([]string(nil), in.Skills...),
	}

	m.mu.Lock()
	if in.ConcurrencyKey != "" {
		if holder, busy := m.byKey[in.ConcurrencyKey]; busy {
			m.mu.Unlock()
			m.sessions.Delete(childSession.ID)
			return nil, apperrors.ConcurrencyKeyBusy(in.ConcurrencyKey, holder)
		}
		m.byKey[in.ConcurrencyKey] = t.ID
	}
	m.tasks[t.ID] = t
	m.running[t.ID] = struct{}{}
	m.mu.Unlock()

	m.logger.Info("task launched",
		zap.String("task_id", t.ID),
		zap.String("agent", t.Agent),
		zap.String("concurrency_key", t.ConcurrencyKey))

	m.recordStart(ctx, t, in.ProjectID, in.UserID)
	m.broadcastStatus(ctx, in.ProjectID, t, "running")
	m.start(t, in.ProjectID, in.UserID)

	return t.clone(), nil
}

// Resume re-invokes an existing session as a new background task. The
// session must exist and not be completed.
func (m *Manager) Resume(ctx context.Context, in ResumeInput) (*BackgroundTask, error) {
	s, err := m.sessions.Get(in.SessionID)
	if err != nil {
		return nil, err
	}
	if s.Status == session.StatusCompleted {
		return nil, apperrors.SessionFinished(in.SessionID)
	}

	t := &BackgroundTask{
		ID:              uuid.New().String(),
		SessionID:       s.ID,
		ParentSessionID: in.ParentSessionID,
		ProjectID:       s.ProjectID,
		Agent:           s.Agent,
		Description:     in.Description,
		Prompt:          in.Prompt,
		Status:          StatusRunning,
		StartedAt:       time.Now().UTC(),
		Progress:        Progress{LastUpdate: time.Now().UTC()},
		ConcurrencyKey:  in.ConcurrencyKey,
	}

	m.mu.Lock()
	if in.ConcurrencyKey != "" {
		if holder, busy := m.byKey[in.ConcurrencyKey]; busy {
			m.mu.Unlock()
			return nil, apperrors.ConcurrencyKeyBusy(in.ConcurrencyKey, holder)
		}
		m.byKey[in.ConcurrencyKey] = t.ID
	}
	m.tasks[t.ID] = t
	m.running[t.ID] = struct{}{}
	m.mu.Unlock()

	_ = m.sessions.UpdateStatus(s.ID, session.StatusActive)
	if err := m.sessions.AddMessage(s.ID, session.RoleUser, in.Prompt, "", nil); err != nil {
		m.logger.Warn("resume message append failed", zap.Error(err))
	}

	m.recordStart(ctx, t, s.ProjectID, s.UserID)
	m.broadcastStatus(ctx, s.ProjectID, t, "running")
	m.start(t, s.ProjectID, s.UserID)

	return t.clone(), nil
}

// start schedules the runner on its own goroutine with the task's wall
// clock budget.
func (m *Manager) start(t *BackgroundTask, projectID, userID string) {
	runCtx, cancel := appctx.Detached(m.cfg.Timeout)

	m.mu.Lock()
	m.cancels[t.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		result, err := m.runner.Run(runCtx, t.clone())
		m.finish(t.ID, projectID, userID, result, err, runCtx.Err())
	}()
}

// finish is the single completion path for every outcome: success,
// failure, timeout and cancellation all pass through here.
func (m *Manager) finish(taskID, projectID, userID, result string, runErr, ctxErr error) {
	now := time.Now().UTC()
	ctx := context.Background()

	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok || t.Status.Terminal() {
		m.mu.Unlock()
		return
	}

	cancelled := m.wanted[taskID]
	timedOut := !cancelled && errors.Is(ctxErr, context.DeadlineExceeded)

	switch {
	case cancelled:
		t.Status = StatusCancelled
	case timedOut:
		t.Status = StatusFailed
		t.Error = truncate("task timed out", m.cfg.ResultMaxChars)
	case runErr != nil:
		t.Status = StatusFailed
		t.Error = truncate(runErr.Error(), m.cfg.ResultMaxChars)
	default:
		t.Status = StatusCompleted
		t.Result = truncate(result, m.cfg.ResultMaxChars)
	}
	t.CompletedAt = &now

	if t.ConcurrencyKey != "" && m.byKey[t.ConcurrencyKey] == taskID {
		delete(m.byKey, t.ConcurrencyKey)
	}
	delete(m.running, taskID)
	delete(m.cancels, taskID)
	delete(m.wanted, taskID)
	snapshot := t.clone()
	m.mu.Unlock()

	m.logger.Info("task finished",
		zap.String("task_id", taskID),
		zap.String("status", string(snapshot.Status)))

	m.recordFinish(ctx, snapshot, projectID, userID)
	m.notifyParent(snapshot)
	m.broadcastStatus(ctx, projectID, snapshot, string(snapshot.Status))

	_ = m.sessions.UpdateStatus(snapshot.SessionID, session.StatusIdle)
}

// notifyParent appends an assistant message about the outcome to the
// parent session.
func (m *Manager) notifyParent(t *BackgroundTask) {
	if t.ParentSessionID == "" {
		return
	}
	var content string
	switch t.Status {
	case StatusCompleted:
		content = "Background task '" + t.Description + "' completed."
		if t.Result != "" {
			content += "\n" + t.Result
		}
	case StatusCancelled:
		content = "Background task '" + t.Description + "' was cancelled."
	default:
		content = "Background task '" + t.Description + "' failed: " + t.Error
	}
	if err := m.sessions.AddMessage(t.ParentSessionID, session.RoleAssistant, content, t.Agent, nil); err != nil {
		m.logger.Warn("parent notification failed",
			zap.String("task_id", t.ID), zap.Error(err))
	}
}

// GetTask returns a copy of the task.
func (m *Manager) GetTask(id string) (*BackgroundTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, apperrors.NotFound("task", id)
	}
	return t.clone(), nil
}

// GetRunningTasks returns every task still running.
func (m *Manager) GetRunningTasks() []*BackgroundTask {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*BackgroundTask, 0, len(m.running))
	for id := range m.running {
		out = append(out, m.tasks[id].clone())
	}
	return out
}

// Cancel requests cooperative cancellation. Idempotent: cancelling a
// finished or already-cancelled task is a no-op.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound("task", id)
	}
	if t.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}
	m.wanted[id] = true
	cancel := m.cancels[id]
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.logger.Info("task cancellation requested", zap.String("task_id", id))
	return nil
}

// CancelAll cancels every running task and returns how many were
// signalled.
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Cancel(id)
	}
	return len(ids)
}

// CancelBySession cancels every running task bound to the session or
// to any of its descendant sessions, and returns how many were
// signalled. Cancelling a parent session takes its whole subtree down.
func (m *Manager) CancelBySession(sessionID string) int {
	lineage := map[string]bool{sessionID: true}
	queue := []string{sessionID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range m.sessions.GetChildren(current) {
			if lineage[child.ID] {
				continue
			}
			lineage[child.ID] = true
			queue = append(queue, child.ID)
		}
	}

	m.mu.Lock()
	var ids []string
	for id := range m.running {
		t := m.tasks[id]
		if lineage[t.SessionID] || lineage[t.ParentSessionID] {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Cancel(id)
	}
	return len(ids)
}

// UpdateProgress is called by the running worker between tool calls.
func (m *Manager) UpdateProgress(id, toolName, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return apperrors.NotFound("task", id)
	}
	if toolName != "" {
		t.Progress.ToolCalls++
		t.Progress.LastTool = toolName
	}
	t.Progress.LastUpdate = time.Now().UTC()
	_ = message // surfaced through broadcasts, not stored
	return nil
}

// Wait blocks until every running task goroutine has finished. Used by
// shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) recordStart(ctx context.Context, t *BackgroundTask, projectID, userID string) {
	if m.store == nil {
		return
	}
	if err := m.store.InsertOperationLog(ctx, &persistence.OperationLogRecord{
		UserID:        userID,
		ProjectID:     projectID,
		OperationType: persistence.OpAgentTaskStarted,
		AgentType:     persistence.AgentType(t.Agent),
		Message:       t.Description,
		Status:        persistence.RecordPending,
	}); err != nil {
		m.logger.Warn("operation log insert failed", zap.Error(err))
	}
	started := t.StartedAt
	if err := m.store.UpsertAgentTask(ctx, t.ID, persistence.TaskUpdate{
		Status:    string(StatusRunning),
		StartedAt: &started,
	}); err != nil {
		m.logger.Warn("agent task upsert failed", zap.Error(err))
	}
}

func (m *Manager) recordFinish(ctx context.Context, t *BackgroundTask, projectID, userID string) {
	if m.store == nil {
		return
	}
	opType := persistence.OpAgentTaskCompleted
	recStatus := persistence.RecordSuccess
	switch t.Status {
	case StatusFailed:
		opType = persistence.OpAgentTaskFailed
		recStatus = persistence.RecordFailed
	case StatusCancelled:
		opType = persistence.OpAgentTaskCancelled
		recStatus = persistence.RecordCancelled
	}

	duration := int64(0)
	if t.CompletedAt != nil {
		duration = t.CompletedAt.Sub(t.StartedAt).Milliseconds()
	}
	if err := m.store.InsertOperationLog(ctx, &persistence.OperationLogRecord{
		UserID:        userID,
		ProjectID:     projectID,
		OperationType: opType,
		AgentType:     persistence.AgentType(t.Agent),
		Message:       t.Description,
		Status:        recStatus,
		DurationMS:    duration,
		ErrorMessage:  t.Error,
	}); err != nil {
		m.logger.Warn("operation log insert failed", zap.Error(err))
	}
	if err := m.store.UpsertAgentTask(ctx, t.ID, persistence.TaskUpdate{
		Status:        string(t.Status),
		Error:         t.Error,
		ResultSummary: t.Result,
		CompletedAt:   t.CompletedAt,
		DurationMS:    duration,
	}); err != nil {
		m.logger.Warn("agent task upsert failed", zap.Error(err))
	}
}

func (m *Manager) broadcastStatus(ctx context.Context, projectID string, t *BackgroundTask, status string) {
	if m.notify == nil || projectID == "" {
		return
	}
	if err := m.notify.Publish(ctx, projectID, map[string]interface{}{
		"type":        "agent_status",
		"agent":       t.Agent,
		"task_id":     t.ID,
		"status":      status,
		"description": t.Description,
	}); err != nil {
		m.logger.Warn("status broadcast failed", zap.Error(err))
	}
}

// truncate bounds s to max bytes, marking the cut. The cut always
// lands on a rune boundary so truncated output stays valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	const marker = "... (truncated)"
	if max <= len(marker) {
		return cutAtRune(s, max)
	}
	return cutAtRune(s, max-len(marker)) + marker
}

// cutAtRune returns the longest prefix of s within n bytes that ends
// on a rune boundary.
func cutAtRune(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
