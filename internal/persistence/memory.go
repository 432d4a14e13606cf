package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codi-dev/codi/internal/artifact"
)

// MemoryPort keeps everything in process memory. It is the default
// backend and the one tests run against.
type MemoryPort struct {
	mu        sync.RWMutex
	logs      []*OperationLogRecord
	tasks     map[string]TaskUpdate
	artifacts map[string]*artifact.Artifact
}

var _ Port = (*MemoryPort)(nil)

// NewMemoryPort creates an empty in-memory backend.
func NewMemoryPort() *MemoryPort {
	return &MemoryPort{
		tasks:     make(map[string]TaskUpdate),
		artifacts: make(map[string]*artifact.Artifact),
	}
}

func (m *MemoryPort) InsertOperationLog(ctx context.Context, record *OperationLogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *record
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	m.logs = append(m.logs, &stored)
	record.ID = stored.ID
	record.CreatedAt = stored.CreatedAt
	return nil
}

func (m *MemoryPort) ListOperationLogs(ctx context.Context, filter OperationLogFilter) ([]*OperationLogRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*OperationLogRecord
	for _, rec := range m.logs {
		if filter.ProjectID != "" && rec.ProjectID != filter.ProjectID {
			continue
		}
		if filter.UserID != "" && rec.UserID != filter.UserID {
			continue
		}
		if filter.OperationType != "" && rec.OperationType != filter.OperationType {
			continue
		}
		if filter.AgentType != "" && rec.AgentType != filter.AgentType {
			continue
		}
		if !filter.Since.IsZero() && rec.CreatedAt.Before(filter.Since) {
			continue
		}
		copied := *rec
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryPort) UpsertAgentTask(ctx context.Context, taskID string, update TaskUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.tasks[taskID]
	if update.Status != "" {
		existing.Status = update.Status
	}
	if update.Error != "" {
		existing.Error = update.Error
	}
	if update.ResultSummary != "" {
		existing.ResultSummary = update.ResultSummary
	}
	if update.StartedAt != nil {
		existing.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		existing.CompletedAt = update.CompletedAt
	}
	if update.DurationMS != 0 {
		existing.DurationMS = update.DurationMS
	}
	m.tasks[taskID] = existing
	return nil
}

// GetAgentTask is a read helper for tests and diagnostics.
func (m *MemoryPort) GetAgentTask(taskID string) (TaskUpdate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	update, ok := m.tasks[taskID]
	return update, ok
}

func (m *MemoryPort) UpsertArtifact(ctx context.Context, a *artifact.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[a.ID] = a.Clone()
	return nil
}

func (m *MemoryPort) LoadArtifact(ctx context.Context, id string) (*artifact.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.artifacts[id]
	if !ok {
		return nil, nil
	}
	return a.Clone(), nil
}

func (m *MemoryPort) Close() error { return nil }
