// Package artifact provides the immutable, content-addressed shared
// state that all agent workers read from and write to.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type classifies what an artifact represents.
type Type string

const (
	TypeFile     Type = "file"
	TypeDiff     Type = "diff"
	TypeBuild    Type = "build"
	TypePreview  Type = "preview"
	TypeError    Type = "error"
	TypeLog      Type = "log"
	TypePlan     Type = "plan"
	TypeTask     Type = "task"
	TypeAnalysis Type = "analysis"
	TypeIntent   Type = "intent"
)

// Types lists every valid artifact type.
func Types() []Type {
	return []Type{
		TypeFile, TypeDiff, TypeBuild, TypePreview, TypeError,
		TypeLog, TypePlan, TypeTask, TypeAnalysis, TypeIntent,
	}
}

// Valid reports whether t is a member of the closed type set.
func (t Type) Valid() bool {
	switch t {
	case TypeFile, TypeDiff, TypeBuild, TypePreview, TypeError,
		TypeLog, TypePlan, TypeTask, TypeAnalysis, TypeIntent:
		return true
	}
	return false
}

// Status tracks an artifact's lifecycle. Content never changes after
// creation; only the status field transitions.
type Status string

const (
	StatusPending    Status = "pending"
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
	StatusInvalid    Status = "invalid"
)

// Conventional metadata keys per artifact type.
const (
	MetaFilePath    = "file_path"
	MetaOperation   = "operation" // create, update, delete
	MetaErrorType   = "error_type"
	MetaStackTrace  = "stack_trace"
	MetaRecoverable = "recoverable"
	MetaSuccess     = "success"
	MetaCommand     = "command"
	MetaExitCode    = "exit_code"
	MetaTestsPassed = "tests_passed"
	MetaContainerID = "container_id"
	MetaURL         = "url"
	MetaPlanStatus  = "status" // pending_review, approved, rejected
)

// Plan review states stored under MetaPlanStatus.
const (
	PlanPendingReview = "pending_review"
	PlanApproved      = "approved"
	PlanRejected      = "rejected"
)

// File operation values stored under MetaOperation.
const (
	FileOpCreate = "create"
	FileOpUpdate = "update"
	FileOpDelete = "delete"
)

// hashPrefixLen is the retained hex prefix of the content hash. Long
// enough to dedupe, short enough for logs.
const hashPrefixLen = 16

// Artifact is the primitive unit of shared state. Immutable after
// creation except for the status transitions applied by the store.
type Artifact struct {
	ID          string                 `json:"id"`
	Type        Type                   `json:"type"`
	Producer    string                 `json:"producer"`
	ProjectID   string                 `json:"project_id"`
	Content     interface{}            `json:"content"`
	ContentHash string                 `json:"content_hash"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Status      Status                 `json:"status"`
	ParentID    string                 `json:"parent_id,omitempty"`
	RelatedIDs  []string               `json:"related_ids,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`

	// seq orders artifacts persisted within the same clock tick. It is
	// assigned by the store and never serialized.
	seq uint64
}

// New constructs an active artifact with a fresh id and content hash.
func New(artifactType Type, producer string, content interface{}, metadata map[string]interface{}) (*Artifact, error) {
	if !artifactType.Valid() {
		return nil, fmt.Errorf("invalid artifact type %q", artifactType)
	}
	hash, err := HashContent(content)
	if err != nil {
		return nil, fmt.Errorf("failed to hash artifact content: %w", err)
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &Artifact{
		ID:          uuid.New().String(),
		Type:        artifactType,
		Producer:    producer,
		Content:     content,
		ContentHash: hash,
		Metadata:    metadata,
		Status:      StatusActive,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// HashContent canonicalizes content and returns a short hex digest.
// Strings and byte slices hash their raw bytes; structured content is
// hashed over its deterministic JSON serialization (Go marshals map
// keys in sorted order).
func HashContent(content interface{}) (string, error) {
	var raw []byte
	switch c := content.(type) {
	case string:
		raw = []byte(c)
	case []byte:
		raw = c
	default:
		encoded, err := json.Marshal(c)
		if err != nil {
			return "", err
		}
		raw = encoded
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:hashPrefixLen], nil
}

// ContentString renders the content payload as a string.
func (a *Artifact) ContentString() string {
	switch c := a.Content.(type) {
	case string:
		return c
	case []byte:
		return string(c)
	default:
		encoded, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprintf("%v", c)
		}
		return string(encoded)
	}
}

// MetaString returns a string metadata value, or "" when absent.
func (a *Artifact) MetaString(key string) string {
	if v, ok := a.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetaBool returns a bool metadata value, or false when absent.
func (a *Artifact) MetaBool(key string) bool {
	if v, ok := a.Metadata[key].(bool); ok {
		return v
	}
	return false
}

// Clone returns a shallow copy. The store hands out clones so callers
// cannot mutate cached state.
func (a *Artifact) Clone() *Artifact {
	cp := *a
	if a.RelatedIDs != nil {
		cp.RelatedIDs = append([]string(nil), a.RelatedIDs...)
	}
	if a.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
