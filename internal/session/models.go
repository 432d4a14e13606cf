// Package session holds conversational state for agent invocations:
// message history with a cap, parent/child lineage, and TTL pruning.
package session

import (
	"time"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusIdle      SessionStatus = "idle"
	StatusCompleted SessionStatus = "completed"
)

// MessageRole identifies who authored a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// ToolCallRecord notes one tool invocation attached to a message.
type ToolCallRecord struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Result    string                 `json:"result,omitempty"`
}

// Message is one turn in a session's history.
type Message struct {
	Role      MessageRole      `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	Agent     string           `json:"agent,omitempty"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
}

// Session is one conversational context. A child session points to its
// parent through ParentID; cycles are rejected at creation.
type Session struct {
	ID           string        `json:"id"`
	ParentID     string        `json:"parent_id,omitempty"`
	Agent        string        `json:"agent"`
	ProjectID    string        `json:"project_id,omitempty"`
	UserID       string        `json:"user_id,omitempty"`
	TaskID       string        `json:"task_id,omitempty"`
	Title        string        `json:"title,omitempty"`
	Status       SessionStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Messages     []Message     `json:"messages"`
	ActiveSkills []string      `json:"active_skills,omitempty"`
	Category     string        `json:"category,omitempty"`
}

// clone returns a copy safe to hand to callers.
func (s *Session) clone() *Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	out.ActiveSkills = append([]string(nil), s.ActiveSkills...)
	return &out
}

// CreateInput names what a new session needs.
type CreateInput struct {
	ParentID  string
	Agent     string
	ProjectID string
	UserID    string
	TaskID    string
	Title     string
	Skills    []string
	Category  string
}

// ListFilter narrows ListSessions.
type ListFilter struct {
	ProjectID string
	UserID    string
	Agent     string
	Status    SessionStatus
}
