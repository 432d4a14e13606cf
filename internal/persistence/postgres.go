package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/common/logger"
)

// PostgresPort is the shared-database backend for multi-process
// deployments where workers and the gateway must see the same audit
// trail.
type PostgresPort struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

var _ Port = (*PostgresPort)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS operation_logs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	project_id TEXT NOT NULL DEFAULT '',
	operation_type TEXT NOT NULL,
	agent_type TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	details TEXT NOT NULL DEFAULT '',
	file_path TEXT NOT NULL DEFAULT '',
	commit_sha TEXT NOT NULL DEFAULT '',
	branch_name TEXT NOT NULL DEFAULT '',
	lines_added INTEGER NOT NULL DEFAULT 0,
	lines_removed INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_operation_logs_project ON operation_logs(project_id, created_at);

CREATE TABLE IF NOT EXISTS agent_tasks (
	task_id TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	result_summary TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	producer TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	document JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_project_type ON artifacts(project_id, type, created_at);
`

// NewPostgresPort connects to dsn and applies the schema.
func NewPostgresPort(ctx context.Context, dsn string, log *logger.Logger) (*PostgresPort, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return &PostgresPort{pool: pool, logger: log.Named("postgres")}, nil
}

func (p *PostgresPort) InsertOperationLog(ctx context.Context, record *OperationLogRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO operation_logs (
			id, user_id, project_id, operation_type, agent_type, message,
			status, details, file_path, commit_sha, branch_name,
			lines_added, lines_removed, duration_ms, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		record.ID, record.UserID, record.ProjectID, string(record.OperationType),
		string(record.AgentType), record.Message, string(record.Status),
		record.Details, record.FilePath, record.CommitSHA, record.BranchName,
		record.LinesAdded, record.LinesRemoved, record.DurationMS,
		record.ErrorMessage, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert operation log: %w", err)
	}
	return nil
}

func (p *PostgresPort) ListOperationLogs(ctx context.Context, filter OperationLogFilter) ([]*OperationLogRecord, error) {
	var conditions []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ProjectID != "" {
		conditions = append(conditions, "project_id = "+arg(filter.ProjectID))
	}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = "+arg(filter.UserID))
	}
	if filter.OperationType != "" {
		conditions = append(conditions, "operation_type = "+arg(string(filter.OperationType)))
	}
	if filter.AgentType != "" {
		conditions = append(conditions, "agent_type = "+arg(string(filter.AgentType)))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= "+arg(filter.Since))
	}

	query := `SELECT id, user_id, project_id, operation_type, agent_type, message,
		status, details, file_path, commit_sha, branch_name,
		lines_added, lines_removed, duration_ms, error_message, created_at
		FROM operation_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operation logs: %w", err)
	}
	defer rows.Close()

	var out []*OperationLogRecord
	for rows.Next() {
		var rec OperationLogRecord
		var opType, agentType, status string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ProjectID, &opType,
			&agentType, &rec.Message, &status, &rec.Details, &rec.FilePath,
			&rec.CommitSHA, &rec.BranchName, &rec.LinesAdded, &rec.LinesRemoved,
			&rec.DurationMS, &rec.ErrorMessage, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan operation log: %w", err)
		}
		rec.OperationType = OperationType(opType)
		rec.AgentType = AgentType(agentType)
		rec.Status = RecordStatus(status)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (p *PostgresPort) UpsertAgentTask(ctx context.Context, taskID string, update TaskUpdate) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO agent_tasks (task_id, status, error, result_summary, started_at, completed_at, duration_ms, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (task_id) DO UPDATE SET
			status = CASE WHEN EXCLUDED.status != '' THEN EXCLUDED.status ELSE agent_tasks.status END,
			error = CASE WHEN EXCLUDED.error != '' THEN EXCLUDED.error ELSE agent_tasks.error END,
			result_summary = CASE WHEN EXCLUDED.result_summary != '' THEN EXCLUDED.result_summary ELSE agent_tasks.result_summary END,
			started_at = COALESCE(EXCLUDED.started_at, agent_tasks.started_at),
			completed_at = COALESCE(EXCLUDED.completed_at, agent_tasks.completed_at),
			duration_ms = CASE WHEN EXCLUDED.duration_ms != 0 THEN EXCLUDED.duration_ms ELSE agent_tasks.duration_ms END,
			updated_at = EXCLUDED.updated_at`,
		taskID, update.Status, update.Error, update.ResultSummary,
		update.StartedAt, update.CompletedAt, update.DurationMS, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert agent task %s: %w", taskID, err)
	}
	return nil
}

func (p *PostgresPort) UpsertArtifact(ctx context.Context, a *artifact.Artifact) error {
	document, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal artifact %s: %w", a.ID, err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO artifacts (id, project_id, type, producer, status, content_hash, document, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			document = EXCLUDED.document`,
		a.ID, a.ProjectID, string(a.Type), a.Producer, string(a.Status),
		a.ContentHash, document, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert artifact %s: %w", a.ID, err)
	}
	return nil
}

func (p *PostgresPort) LoadArtifact(ctx context.Context, id string) (*artifact.Artifact, error) {
	var document []byte
	err := p.pool.QueryRow(ctx,
		`SELECT document FROM artifacts WHERE id = $1`, id).Scan(&document)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", id, err)
	}
	var a artifact.Artifact
	if err := json.Unmarshal(document, &a); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", id, err)
	}
	return &a, nil
}

func (p *PostgresPort) Close() error {
	p.pool.Close()
	return nil
}
