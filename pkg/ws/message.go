// Package ws defines the WebSocket wire protocol between the gateway
// and front-end clients: the message envelope, the inbound actions and
// the closed set of outbound event types.
package ws

import (
	"encoding/json"
	"time"
)

// MessageType classifies an envelope.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeResponse     MessageType = "response"
	MessageTypeNotification MessageType = "notification"
	MessageTypeError        MessageType = "error"
)

// Inbound actions clients may send.
const (
	ActionPing              = "ping"
	ActionUserMessage       = "user_message"
	ActionUserInputResponse = "user_input_response"
	ActionSubscribe         = "project.subscribe"
	ActionUnsubscribe       = "project.unsubscribe"
)

// Outbound event types pushed to clients. The set is closed; the
// front end switches on these values.
const (
	EventAgentStatus        = "agent_status"
	EventToolExecution      = "tool_execution"
	EventFileOperation      = "file_operation"
	EventGitOperation       = "git_operation"
	EventBuildStatus        = "build_status"
	EventBuildProgress      = "build_progress"
	EventDeploymentComplete = "deployment_complete"
	EventReviewProgress     = "review_progress"
	EventReviewIssue        = "review_issue"
	EventAgentError         = "agent_error"
	EventUserInputRequired  = "user_input_required"
	EventPong               = "pong"
	EventTaskSubmitted      = "task_submitted"
)

// Error codes used in error envelopes.
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
	ErrorCodeInternalError = "INTERNAL_ERROR"
)

// Message is the base envelope for all WebSocket traffic.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorPayload is the payload of an error envelope.
type ErrorPayload struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewResponse creates a response envelope for a request id.
func NewResponse(id, action string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        id,
		Type:      MessageTypeResponse,
		Action:    action,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewNotification creates a server push envelope.
func NewNotification(action string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      MessageTypeNotification,
		Action:    action,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewError creates an error envelope.
func NewError(id, action, code, message string, details map[string]interface{}) (*Message, error) {
	data, err := json.Marshal(ErrorPayload{Code: code, Message: message, Details: details})
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        id,
		Type:      MessageTypeError,
		Action:    action,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// ParsePayload decodes the payload into v. A nil payload is a no-op.
func (m *Message) ParsePayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
