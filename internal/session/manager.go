package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/codi-dev/codi/internal/common/errors"
	"github.com/codi-dev/codi/internal/common/logger"
)

// Config bounds the manager.
type Config struct {
	TTL        time.Duration // stale cutoff for pruning
	MessageCap int           // per-session message list bound
	PruneEvery time.Duration // background prune cadence; 0 disables
}

// Manager owns all sessions in the process.
type Manager struct {
	cfg    Config
	logger *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager creates a session manager. Call Start to enable periodic
// pruning; Stop shuts it down.
func NewManager(cfg Config, log *logger.Logger) *Manager {
	if cfg.MessageCap <= 0 {
		cfg.MessageCap = 200
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}
	return &Manager{
		cfg:      cfg,
		logger:   log.Named("sessions"),
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the prune loop when configured.
func (m *Manager) Start() {
	if m.cfg.PruneEvery <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(m.cfg.PruneEvery)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				if n := m.PruneStaleSessions(); n > 0 {
					m.logger.Info("pruned stale sessions", zap.Int("count", n))
				}
			}
		}
	}()
}

// Stop halts the prune loop. Idempotent.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Create registers a new session. A ParentID must reference an
// existing session; lineage cycles are impossible because the child id
// is fresh.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*Session, error) {
	if in.Agent == "" {
		return nil, apperrors.ValidationError("agent", "agent name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if in.ParentID != "" {
		if _, ok := m.sessions[in.ParentID]; !ok {
			return nil, apperrors.NotFound("session", in.ParentID)
		}
	}

	now := time.Now().UTC()
	s := &Session{
		ID:           uuid.New().String(),
		ParentID:     in.ParentID,
		Agent:        in.Agent,
		ProjectID:    in.ProjectID,
		UserID:       in.UserID,
		TaskID:       in.TaskID,
		Title:        in.Title,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
		ActiveSkills: append([]string(nil), in.Skills...),
		Category:     in.Category,
	}
	m.sessions[s.ID] = s

	m.logger.Debug("session created",
		zap.String("session_id", s.ID),
		zap.String("agent", s.Agent),
		zap.String("parent_id", s.ParentID))
	return s.clone(), nil
}

// Get returns a copy of the session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("session", id)
	}
	return s.clone(), nil
}

// GetOrCreate returns the newest active session matching
// (projectID, userID, agent), creating one when none exists.
func (m *Manager) GetOrCreate(ctx context.Context, projectID, userID, agent string) (*Session, error) {
	m.mu.RLock()
	var best *Session
	for _, s := range m.sessions {
		if s.ProjectID == projectID && s.UserID == userID && s.Agent == agent && s.Status == StatusActive {
			if best == nil || s.UpdatedAt.After(best.UpdatedAt) {
				best = s
			}
		}
	}
	m.mu.RUnlock()

	if best != nil {
		return best.clone(), nil
	}
	return m.Create(ctx, CreateInput{Agent: agent, ProjectID: projectID, UserID: userID})
}

// GetChildren returns direct children of a session, oldest first.
func (m *Manager) GetChildren(parentID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var children []*Session
	for _, s := range m.sessions {
		if s.ParentID == parentID {
			children = append(children, s.clone())
		}
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].CreatedAt.Before(children[j].CreatedAt)
	})
	return children
}

// GetActiveSessions returns every session with status active.
func (m *Manager) GetActiveSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []*Session
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			active = append(active, s.clone())
		}
	}
	return active
}

// IsSubagentSession reports whether the session has a parent.
func (m *Manager) IsSubagentSession(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return ok && s.ParentID != ""
}

// AddMessage appends a message and applies the cap policy: when the
// list exceeds the cap, the oldest non-system messages are dropped
// first. System messages survive the cap.
func (m *Manager) AddMessage(id string, role MessageRole, content, agent string, toolCalls []ToolCallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return apperrors.NotFound("session", id)
	}
	if s.Status == StatusCompleted {
		return apperrors.SessionFinished(id)
	}

	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Agent:     agent,
		ToolCalls: toolCalls,
	})
	s.Messages = applyCap(s.Messages, m.cfg.MessageCap)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// applyCap drops oldest non-system messages until len <= cap. When
// system messages alone exceed the cap, they are all retained.
func applyCap(messages []Message, limit int) []Message {
	if len(messages) <= limit {
		return messages
	}
	drop := len(messages) - limit
	kept := make([]Message, 0, limit)
	for _, msg := range messages {
		if drop > 0 && msg.Role != RoleSystem {
			drop--
			continue
		}
		kept = append(kept, msg)
	}
	return kept
}

// UpdateStatus transitions a session's lifecycle state.
func (m *Manager) UpdateStatus(id string, status SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return apperrors.NotFound("session", id)
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes a session unconditionally.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// PruneStaleSessions removes sessions older than the TTL that are not
// active. A parent is kept while any child session remains. Returns
// the number pruned.
func (m *Manager) PruneStaleSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	hasChildren := make(map[string]bool)
	for _, s := range m.sessions {
		if s.ParentID != "" {
			hasChildren[s.ParentID] = true
		}
	}

	cutoff := time.Now().UTC().Add(-m.cfg.TTL)
	pruned := 0
	for id, s := range m.sessions {
		if s.Status == StatusActive {
			continue
		}
		if s.UpdatedAt.After(cutoff) {
			continue
		}
		if hasChildren[id] {
			continue
		}
		delete(m.sessions, id)
		pruned++
	}
	return pruned
}

// GetSessionContext returns the session's messages prefixed by its
// ancestors' messages, root first. Lineage depth is naturally bounded
// because parent links are acyclic.
func (m *Manager) GetSessionContext(id string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("session", id)
	}

	var chain []*Session
	for cur := s; cur != nil; {
		chain = append([]*Session{cur}, chain...)
		if cur.ParentID == "" {
			break
		}
		parent, ok := m.sessions[cur.ParentID]
		if !ok {
			break
		}
		cur = parent
	}

	var messages []Message
	for _, node := range chain {
		messages = append(messages, node.Messages...)
	}
	return messages, nil
}

// ListSessions returns sessions matching the filter, newest first.
// limit <= 0 means no limit.
func (m *Manager) ListSessions(filter ListFilter, limit int) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, s := range m.sessions {
		if filter.ProjectID != "" && s.ProjectID != filter.ProjectID {
			continue
		}
		if filter.UserID != "" && s.UserID != filter.UserID {
			continue
		}
		if filter.Agent != "" && s.Agent != filter.Agent {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
