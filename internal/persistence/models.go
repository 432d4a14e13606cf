// Package persistence is the narrow relational port of the core:
// append-only operation logs, agent task upserts, and optional
// artifact metadata. Memory, sqlite and postgres backends ship; which
// one runs is a config decision.
package persistence

import "time"

// OperationType classifies an operation log record. The set is open:
// unknown values round-trip untouched so new writers do not break old
// readers.
type OperationType string

const (
	OpAgentTaskStarted   OperationType = "agent_task_started"
	OpAgentTaskCompleted OperationType = "agent_task_completed"
	OpAgentTaskFailed    OperationType = "agent_task_failed"
	OpAgentTaskCancelled OperationType = "agent_task_cancelled"
	OpBuildCompleted     OperationType = "build_completed"
	OpBuildFailed        OperationType = "build_failed"
	OpFileWritten        OperationType = "file_written"
	OpGitCommit          OperationType = "git_commit"
	OpGitPush            OperationType = "git_push"
	OpPreviewDeployed    OperationType = "preview_deployed"
	OpPlanReviewed       OperationType = "plan_reviewed"
)

// AgentType classifies which worker role performed an operation. Open
// set, same forward-compatibility rule as OperationType.
type AgentType string

const (
	AgentOrchestrator AgentType = "orchestrator"
	AgentScaffolder   AgentType = "scaffolder"
	AgentBuilder      AgentType = "builder"
	AgentPreviewer    AgentType = "previewer"
	AgentPlanner      AgentType = "planner"
	AgentReviewer     AgentType = "reviewer"
	AgentGitOps       AgentType = "gitops"
	AgentSage         AgentType = "sage"
)

// RecordStatus is the outcome field of an operation log record.
type RecordStatus string

const (
	RecordSuccess   RecordStatus = "success"
	RecordFailed    RecordStatus = "failed"
	RecordCancelled RecordStatus = "cancelled"
	RecordPending   RecordStatus = "pending"
)

// OperationLogRecord is one append-only audit entry.
type OperationLogRecord struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	ProjectID     string        `json:"project_id"`
	OperationType OperationType `json:"operation_type"`
	AgentType     AgentType     `json:"agent_type"`
	Message       string        `json:"message"`
	Status        RecordStatus  `json:"status"`
	Details       string        `json:"details,omitempty"`
	FilePath      string        `json:"file_path,omitempty"`
	CommitSHA     string        `json:"commit_sha,omitempty"`
	BranchName    string        `json:"branch_name,omitempty"`
	LinesAdded    int           `json:"lines_added,omitempty"`
	LinesRemoved  int           `json:"lines_removed,omitempty"`
	DurationMS    int64         `json:"duration_ms,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// OperationLogFilter narrows ListOperationLogs. Zero values match all.
type OperationLogFilter struct {
	ProjectID     string
	UserID        string
	OperationType OperationType
	AgentType     AgentType
	Since         time.Time
	Limit         int
}

// TaskUpdate is the upsert payload for an agent task row.
type TaskUpdate struct {
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	ResultSummary string     `json:"result_summary,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMS    int64      `json:"duration_ms,omitempty"`
}
