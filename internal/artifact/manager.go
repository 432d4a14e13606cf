package artifact

import (
	"sync"

	"github.com/codi-dev/codi/internal/common/logger"
)

// Manager hands out one Store per project. A store lives for the
// duration of the project's orchestration activity; concurrent turns
// for the same project share the same instance.
type Manager struct {
	artifactsDir string
	meta         MetadataStore
	logger       *logger.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager creates a store manager. artifactsDir is the relative
// directory name used inside each project folder; meta may be nil.
func NewManager(artifactsDir string, meta MetadataStore, log *logger.Logger) *Manager {
	return &Manager{
		artifactsDir: artifactsDir,
		meta:         meta,
		logger:       log,
		stores:       make(map[string]*Store),
	}
}

// GetOrCreate returns the project's store, creating it on first use.
// projectDir may be empty for projects without an on-disk folder.
func (m *Manager) GetOrCreate(projectID, projectDir string) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.stores[projectID]; ok {
		return store
	}
	store := NewStore(projectID, StoreOptions{
		ProjectDir:   projectDir,
		ArtifactsDir: m.artifactsDir,
		Meta:         m.meta,
	}, m.logger)
	m.stores[projectID] = store
	return store
}

// Get returns the project's store or nil when none has been created.
func (m *Manager) Get(projectID string) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stores[projectID]
}

// Drop removes a project's store from the manager. In-memory state is
// discarded; file artifacts remain on disk.
func (m *Manager) Drop(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, projectID)
}
