// Package ports defines the narrow interfaces through which the core
// talks to outside systems: the LLM, the tool surfaces, and nothing
// else. Model selection policy and tool implementations live outside
// the core.
package ports

import "context"

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of an LLM conversation.
type ChatMessage struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ToolDef describes a tool offered to the model.
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// StreamChunk is one increment of a streamed completion.
type StreamChunk struct {
	Delta string
	Done  bool
	Err   error
}

// LLM is the language model port. The core treats it as opaque.
type LLM interface {
	// Invoke sends a conversation and returns the model's reply.
	Invoke(ctx context.Context, modelID string, messages []ChatMessage, tools []ToolDef) (*ChatMessage, error)

	// Stream sends a conversation and returns the reply incrementally.
	Stream(ctx context.Context, modelID string, messages []ChatMessage, tools []ToolDef) (<-chan StreamChunk, error)
}
