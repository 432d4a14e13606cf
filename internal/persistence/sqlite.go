package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/common/logger"
)

// SQLitePort stores operation logs, agent tasks and artifact metadata
// in a local sqlite database. Artifact content is stored as JSON; the
// disk layer of the artifact store remains the canonical file form.
type SQLitePort struct {
	db     *sql.DB
	logger *logger.Logger
}

var _ Port = (*SQLitePort)(nil)

const sqliteSchema = `
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
	duration_ms INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_operation_logs_project ON operation_logs(project_id, created_at);

CREATE TABLE IF NOT EXISTS agent_tasks (
	task_id TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	result_summary TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	producer TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	document TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_project_type ON artifacts(project_id, type, created_at);
`

// NewSQLitePort opens (creating if needed) the database at path and
// applies the schema.
func NewSQLitePort(path string, log *logger.Logger) (*SQLitePort, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLitePort{db: db, logger: log.Named("sqlite")}, nil
}

func (p *SQLitePort) InsertOperationLog(ctx context.Context, record *OperationLogRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO operation_logs (
			id, user_id, project_id, operation_type, agent_type, message,
			status, details, file_path, commit_sha, branch_name,
			lines_added, lines_removed, duration_ms, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (p *SQLitePort) ListOperationLogs(ctx context.Context, filter OperationLogFilter) ([]*OperationLogRecord, error) {
	var conditions []string
	var args []interface{}
	if filter.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.OperationType != "" {
		conditions = append(conditions, "operation_type = ?")
		args = append(args, string(filter.OperationType))
	}
	if filter.AgentType != "" {
		conditions = append(conditions, "agent_type = ?")
		args = append(args, string(filter.AgentType))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since)
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
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
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

func (p *SQLitePort) UpsertAgentTask(ctx context.Context, taskID string, update TaskUpdate) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO agent_tasks (task_id, status, error, result_summary, started_at, completed_at, duration_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = CASE WHEN excluded.status != '' THEN excluded.status ELSE agent_tasks.status END,
			error = CASE WHEN excluded.error != '' THEN excluded.error ELSE agent_tasks.error END,
			result_summary = CASE WHEN excluded.result_summary != '' THEN excluded.result_summary ELSE agent_tasks.result_summary END,
			started_at = COALESCE(excluded.started_at, agent_tasks.started_at),
			completed_at = COALESCE(excluded.completed_at, agent_tasks.completed_at),
			duration_ms = CASE WHEN excluded.duration_ms != 0 THEN excluded.duration_ms ELSE agent_tasks.duration_ms END,
			updated_at = excluded.updated_at`,
		taskID, update.Status, update.Error, update.ResultSummary,
		update.StartedAt, update.CompletedAt, update.DurationMS, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert agent task %s: %w", taskID, err)
	}
	return nil
}

func (p *SQLitePort) UpsertArtifact(ctx context.Context, a *artifact.Artifact) error {
	document, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal artifact %s: %w", a.ID, err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, project_id, type, producer, status, content_hash, document, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			document = excluded.document`,
		a.ID, a.ProjectID, string(a.Type), a.Producer, string(a.Status),
		a.ContentHash, string(document), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert artifact %s: %w", a.ID, err)
	}
	return nil
}

func (p *SQLitePort) LoadArtifact(ctx context.Context, id string) (*artifact.Artifact, error) {
	var document string
	err := p.db.QueryRowContext(ctx,
		`SELECT document FROM artifacts WHERE id = ?`, id).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", id, err)
	}
	var a artifact.Artifact
	if err := json.Unmarshal([]byte(document), &a); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", id, err)
	}
	return &a, nil
}

func (p *SQLitePort) Close() error {
	return p.db.Close()
}
