package persistence

import (
	"context"

	"github.com/codi-dev/codi/internal/artifact"
)

// Port is the narrow relational interface the core depends on. It
// includes the optional artifact metadata surface; the memory backend
// makes every deployment satisfy the full interface.
type Port interface {
	artifact.MetadataStore

	// InsertOperationLog appends one audit record. The backend assigns
	// ID and CreatedAt when absent.
	InsertOperationLog(ctx context.Context, record *OperationLogRecord) error

	// ListOperationLogs returns matching records, newest first.
	ListOperationLogs(ctx context.Context, filter OperationLogFilter) ([]*OperationLogRecord, error)

	// UpsertAgentTask records the durable view of a background task or
	// turn. Partial updates merge over the existing row.
	UpsertAgentTask(ctx context.Context, taskID string, update TaskUpdate) error

	// Close releases backend resources.
	Close() error
}
