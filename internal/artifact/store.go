package artifact

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/common/logger"
)

// MetadataStore is the optional persistence port for artifact metadata.
// When nil, artifact metadata lives only in-process (file content may
// still live on disk).
type MetadataStore interface {
	UpsertArtifact(ctx context.Context, a *Artifact) error
	LoadArtifact(ctx context.Context, id string) (*Artifact, error)
}

// Store is the single source of truth for one project's working
// artifacts during a run. Reads are lock-free snapshots; cache writes
// and status transitions take a short critical section.
type Store struct {
	projectID string
	diskDir   string // "" disables the on-disk layer
	meta      MetadataStore
	logger    *logger.Logger

	mu    sync.RWMutex
	cache map[string]*Artifact
	seq   uint64
}

// StoreOptions configures a project store.
type StoreOptions struct {
	// ProjectDir is the project folder. File-type artifacts are written
	// under <ProjectDir>/<ArtifactsDir>/<id>.json. Empty disables disk.
	ProjectDir string
	// ArtifactsDir is the relative artifact directory name, typically
	// ".codi/artifacts".
	ArtifactsDir string
	// Meta is the optional persistence port.
	Meta MetadataStore
}

// NewStore creates a store scoped to a project. Existing on-disk file
// artifacts are reloaded so state can be re-derived after a restart.
func NewStore(projectID string, opts StoreOptions, log *logger.Logger) *Store {
	diskDir := ""
	if opts.ProjectDir != "" {
		dir := opts.ArtifactsDir
		if dir == "" {
			dir = ".codi/artifacts"
		}
		diskDir = filepath.Join(opts.ProjectDir, dir)
	}

	s := &Store{
		projectID: projectID,
		diskDir:   diskDir,
		meta:      opts.Meta,
		logger:    log.Named("artifacts").WithProjectID(projectID),
		cache:     make(map[string]*Artifact),
	}
	s.loadFromDisk()
	return s
}

// ProjectID returns the project this store is scoped to.
func (s *Store) ProjectID() string {
	return s.projectID
}

// Persist caches the artifact, writes file-type artifacts to disk, and
// forwards metadata to the persistence port when one is configured.
// Disk and port failures are logged and do not fail the call; the
// in-memory copy stays authoritative.
func (s *Store) Persist(ctx context.Context, a *Artifact) (*Artifact, error) {
	if a.ProjectID == "" {
		a.ProjectID = s.projectID
	}
	if a.ContentHash == "" {
		hash, err := HashContent(a.Content)
		if err != nil {
			return nil, err
		}
		a.ContentHash = hash
	}

	s.mu.Lock()
	s.seq++
	a.seq = s.seq
	s.cache[a.ID] = a
	s.mu.Unlock()

	if a.Type == TypeFile {
		if err := s.writeToDisk(a); err != nil {
			s.logger.Warn("failed to write artifact to disk",
				zap.String("artifact_id", a.ID),
				zap.Error(err))
		}
	}

	if s.meta != nil {
		if err := s.meta.UpsertArtifact(ctx, a); err != nil {
			s.logger.Warn("failed to persist artifact metadata",
				zap.String("artifact_id", a.ID),
				zap.Error(err))
		}
	}

	s.logger.Debug("artifact persisted",
		zap.String("artifact_id", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("producer", a.Producer),
		zap.String("content_hash", a.ContentHash))

	return a.Clone(), nil
}

// Get returns the artifact by id from cache, disk, or the persistence
// port. Returns nil when not found anywhere.
func (s *Store) Get(ctx context.Context, id string) *Artifact {
	s.mu.RLock()
	a, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		return a.Clone()
	}

	if a := s.readFromDisk(id); a != nil {
		s.mu.Lock()
		s.seq++
		a.seq = s.seq
		s.cache[a.ID] = a
		s.mu.Unlock()
		return a.Clone()
	}

	if s.meta != nil {
		loaded, err := s.meta.LoadArtifact(ctx, id)
		if err != nil {
			s.logger.Warn("failed to load artifact from persistence port",
				zap.String("artifact_id", id),
				zap.Error(err))
			return nil
		}
		if loaded != nil {
			s.mu.Lock()
			s.seq++
			loaded.seq = s.seq
			s.cache[loaded.ID] = loaded
			s.mu.Unlock()
			return loaded.Clone()
		}
	}

	return nil
}

// GetByType returns artifacts of the given type sorted by created_at
// descending. An empty status matches any status. limit <= 0 means no
// limit.
func (s *Store) GetByType(artifactType Type, status Status, limit int) []*Artifact {
	return s.query(func(a *Artifact) bool {
		if a.Type != artifactType {
			return false
		}
		return status == "" || a.Status == status
	}, limit)
}

// GetByProducer returns artifacts by producer, optionally filtered by
// type, sorted by created_at descending.
func (s *Store) GetByProducer(producer string, artifactType Type, limit int) []*Artifact {
	return s.query(func(a *Artifact) bool {
		if a.Producer != producer {
			return false
		}
		return artifactType == "" || a.Type == artifactType
	}, limit)
}

// GetLatest returns the newest active artifact of the given type,
// optionally restricted to one producer. Nil when none exist.
func (s *Store) GetLatest(artifactType Type, producer string) *Artifact {
	matches := s.query(func(a *Artifact) bool {
		if a.Type != artifactType || a.Status != StatusActive {
			return false
		}
		return producer == "" || a.Producer == producer
	}, 1)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// Exists reports whether an active artifact of the given type exists,
// optionally restricted to one producer.
func (s *Store) Exists(artifactType Type, producer string) bool {
	return s.GetLatest(artifactType, producer) != nil
}

// Supersede marks the old artifact superseded and creates a new active
// artifact linked to it. Per contract it is a no-op returning nil when
// the id is unknown.
func (s *Store) Supersede(ctx context.Context, id string, newContent interface{}, metadata map[string]interface{}) (*Artifact, error) {
	s.mu.Lock()
	old, ok := s.cache[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("supersede of unknown artifact ignored", zap.String("artifact_id", id))
		return nil, nil
	}
	old.Status = StatusSuperseded
	oldClone := old.Clone()
	s.mu.Unlock()

	s.recordTransition(ctx, oldClone)

	if metadata == nil {
		metadata = oldClone.Metadata
	}

	replacement, err := New(oldClone.Type, oldClone.Producer, newContent, metadata)
	if err != nil {
		return nil, err
	}
	replacement.ProjectID = s.projectID
	replacement.ParentID = id
	replacement.RelatedIDs = append(append([]string(nil), oldClone.RelatedIDs...), id)

	return s.Persist(ctx, replacement)
}

// Invalidate sets the artifact status to invalid.
func (s *Store) Invalidate(id string) {
	s.mu.Lock()
	a, ok := s.cache[id]
	if ok {
		a.Status = StatusInvalid
		a = a.Clone()
	}
	s.mu.Unlock()
	if ok {
		s.recordTransition(context.Background(), a)
	}
}

// recordTransition mirrors a status change to the disk layer and the
// persistence port. Failures are logged, never fatal.
func (s *Store) recordTransition(ctx context.Context, a *Artifact) {
	if a.Type == TypeFile {
		if err := s.writeToDisk(a); err != nil {
			s.logger.Warn("failed to update artifact on disk",
				zap.String("artifact_id", a.ID),
				zap.Error(err))
		}
	}
	if s.meta != nil {
		if err := s.meta.UpsertArtifact(ctx, a); err != nil {
			s.logger.Warn("failed to persist artifact status",
				zap.String("artifact_id", a.ID),
				zap.Error(err))
		}
	}
}

// All returns every cached artifact sorted by created_at descending.
func (s *Store) All() []*Artifact {
	return s.query(func(*Artifact) bool { return true }, 0)
}

// query snapshots matching artifacts under the read lock, then sorts
// outside it.
func (s *Store) query(match func(*Artifact) bool, limit int) []*Artifact {
	s.mu.RLock()
	var matches []*Artifact
	for _, a := range s.cache {
		if match(a) {
			matches = append(matches, a.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].seq > matches[j].seq
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// diskPath returns the canonical on-disk location for an artifact id.
func (s *Store) diskPath(id string) string {
	return filepath.Join(s.diskDir, id+".json")
}

func (s *Store) writeToDisk(a *Artifact) error {
	if s.diskDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.diskDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.diskPath(a.ID), data, 0o644)
}

func (s *Store) readFromDisk(id string) *Artifact {
	if s.diskDir == "" {
		return nil
	}
	data, err := os.ReadFile(s.diskPath(id))
	if err != nil {
		return nil
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		s.logger.Warn("failed to decode artifact document",
			zap.String("artifact_id", id),
			zap.Error(err))
		return nil
	}
	return &a
}

// loadFromDisk repopulates the cache from persisted artifact documents.
func (s *Store) loadFromDisk() {
	if s.diskDir == "" {
		return
	}
	entries, err := os.ReadDir(s.diskDir)
	if err != nil {
		return
	}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := entry.Name()[:len(entry.Name())-len(".json")]
		if a := s.readFromDisk(id); a != nil {
			s.mu.Lock()
			s.seq++
			a.seq = s.seq
			s.cache[a.ID] = a
			s.mu.Unlock()
			loaded++
		}
	}
	if loaded > 0 {
		s.logger.Info("reloaded artifacts from disk", zap.Int("count", loaded))
	}
}
