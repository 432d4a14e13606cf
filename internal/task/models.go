// Package task runs long agent invocations out-of-band: launch,
// resume, progress tracking, cooperative cancellation, per-key
// concurrency limits and wall clock timeouts.
package task

import "time"

// TaskStatus is the lifecycle state of a background task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Progress is the live view a running task updates through
// UpdateProgress.
type Progress struct {
	ToolCalls  int       `json:"tool_calls"`
	LastTool   string    `json:"last_tool,omitempty"`
	LastUpdate time.Time `json:"last_update"`
}

// BackgroundTask is one tracked invocation.
type BackgroundTask struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	ParentSessionID string     `json:"parent_session_id,omitempty"`
	ProjectID       string     `json:"project_id,omitempty"`
	Agent           string     `json:"agent"`
	Description     string     `json:"description"`
	Prompt          string     `json:"prompt"`
	Status          TaskStatus `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Error           string     `json:"error,omitempty"`
	Result          string     `json:"result,omitempty"`
	Progress        Progress   `json:"progress"`
	ConcurrencyKey  string     `json:"concurrency_key,omitempty"`
	Category        string     `json:"category,omitempty"`
	Skills          []string   `json:"skills,omitempty"`
}

// clone returns a copy safe to hand to callers.
func (t *BackgroundTask) clone() *BackgroundTask {
	out := *t
	out.Skills = append([]string(nil), t.Skills...)
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		out.CompletedAt = &completed
	}
	return &out
}

// LaunchInput names what a new background task needs.
type LaunchInput struct {
	Description     string
	Prompt          string
	Agent           string
	ParentSessionID string
	ParentMessageID string
	ParentAgent     string
	ProjectID       string
	UserID          string
	Category        string
	Skills          []string
	ConcurrencyKey  string
}

// ResumeInput re-invokes an existing session with new input.
type ResumeInput struct {
	SessionID       string
	Prompt          string
	ParentSessionID string
	Description     string
	ConcurrencyKey  string
}
