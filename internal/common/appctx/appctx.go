// Package appctx provides context utilities for background operations.
package appctx

import (
	"context"
	"time"
)

// Detached returns a context that is not tied to any caller's
// cancellation. Use it for work that must outlive the request that
// started it, such as background task execution. A positive timeout
// bounds the work; zero means no deadline. The returned CancelFunc
// stops the work either way.
func Detached(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(context.Background(), timeout)
	}
	return context.WithCancel(context.Background())
}

// Turn carries the identity of one user turn through the orchestration
// core. It replaces ad-hoc attribute lookups on loosely typed contexts:
// every component that needs the project or user takes a Turn explicitly.
type Turn struct {
	ProjectID string
	UserID    string
	TaskID    string
	SessionID string
}

type turnKey struct{}

// WithTurn attaches turn identity to a context.
func WithTurn(ctx context.Context, turn Turn) context.Context {
	return context.WithValue(ctx, turnKey{}, turn)
}

// TurnFrom extracts turn identity from a context. The zero value is
// returned when none is attached.
func TurnFrom(ctx context.Context) Turn {
	if turn, ok := ctx.Value(turnKey{}).(Turn); ok {
		return turn
	}
	return Turn{}
}
