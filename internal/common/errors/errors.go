// Package errors provides typed application errors for the orchestration core.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants.
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	// Orchestration-specific rejection codes. These are returned to
	// callers directly and never recorded as error artifacts.
	ErrCodeConcurrencyKeyBusy = "CONCURRENCY_KEY_BUSY"
	ErrCodeTurnInProgress     = "TURN_IN_PROGRESS"
	ErrCodeUnknownAgent       = "UNKNOWN_AGENT"
	ErrCodeUnknownSignal      = "UNKNOWN_SIGNAL"
	ErrCodeSessionFinished    = "SESSION_FINISHED"
	ErrCodeTaskNotCancellable = "TASK_NOT_CANCELLABLE"
)

// AppError represents an application-specific error with a stable code.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// InternalError creates a new internal error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationError creates a new validation error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    fmt.Sprintf("%s: %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// ConcurrencyKeyBusy rejects a background task launch whose concurrency
// key is already held by a running task.
func ConcurrencyKeyBusy(key, taskID string) *AppError {
	return &AppError{
		Code:       ErrCodeConcurrencyKeyBusy,
		Message:    fmt.Sprintf("concurrency key '%s' is held by running task %s", key, taskID),
		HTTPStatus: http.StatusConflict,
	}
}

// TurnInProgress rejects a user turn for a project that already has a
// convergence loop running.
func TurnInProgress(projectID string) *AppError {
	return &AppError{
		Code:       ErrCodeTurnInProgress,
		Message:    fmt.Sprintf("a turn is already running for project %s", projectID),
		HTTPStatus: http.StatusConflict,
	}
}

// UnknownAgent rejects a reference to an agent that is not registered.
func UnknownAgent(name string) *AppError {
	return &AppError{
		Code:       ErrCodeUnknownAgent,
		Message:    fmt.Sprintf("agent '%s' is not registered", name),
		HTTPStatus: http.StatusBadRequest,
	}
}

// UnknownSignal rejects a reference to a signal outside the closed set.
func UnknownSignal(name string) *AppError {
	return &AppError{
		Code:       ErrCodeUnknownSignal,
		Message:    fmt.Sprintf("unknown signal '%s'", name),
		HTTPStatus: http.StatusBadRequest,
	}
}

// SessionFinished rejects a resume of a completed or cancelled session.
func SessionFinished(sessionID string) *AppError {
	return &AppError{
		Code:       ErrCodeSessionFinished,
		Message:    fmt.Sprintf("session %s is no longer resumable", sessionID),
		HTTPStatus: http.StatusConflict,
	}
}

// IsCode reports whether err is an AppError with the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// AsAppError extracts an AppError from err, or wraps it as an internal error.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalError("unexpected error", err)
}
