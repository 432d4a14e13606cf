// Package signal provides the typed pub/sub event system that activates
// agent workers. Agents are never called directly; they subscribe to
// signals and wake when one is emitted for their project.
package signal

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Signal is a named event type from a closed set.
type Signal string

const (
	NeedsBuild          Signal = "needs_build"
	BuildFailed         Signal = "build_failed"
	NeedsPreview        Signal = "needs_preview"
	PreviewStale        Signal = "preview_stale"
	NeedsImplementation Signal = "needs_implementation"
	CodeReviewNeeded    Signal = "code_review_needed"
	TestsFailing        Signal = "tests_failing"
	DirtyGitState       Signal = "dirty_git_state"
	NeedsCommit         Signal = "needs_commit"
	NeedsPush           Signal = "needs_push"
	PlanApproved        Signal = "plan_approved"
	PlanRejected        Signal = "plan_rejected"
	TaskComplete        Signal = "task_complete"
	ErrorOccurred       Signal = "error_occurred"
	ErrorResolved       Signal = "error_resolved"
	NeedsAnalysis       Signal = "needs_analysis"
	IntentParsed        Signal = "intent_parsed"
	NeedsUIDesign       Signal = "needs_ui_design"
	NeedsUIPolish       Signal = "needs_ui_polish"
	NeedsScaffold       Signal = "needs_scaffold"
)

// All lists every signal in the closed set.
func All() []Signal {
	return []Signal{
		NeedsBuild, BuildFailed, NeedsPreview, PreviewStale,
		NeedsImplementation, CodeReviewNeeded, TestsFailing,
		DirtyGitState, NeedsCommit, NeedsPush, PlanApproved,
		PlanRejected, TaskComplete, ErrorOccurred, ErrorResolved,
		NeedsAnalysis, IntentParsed, NeedsUIDesign, NeedsUIPolish,
		NeedsScaffold,
	}
}

// Valid reports whether s is a member of the closed set.
func (s Signal) Valid() bool {
	for _, known := range All() {
		if s == known {
			return true
		}
	}
	return false
}

// Parse maps a string to a Signal, case-insensitively.
func Parse(raw string) (Signal, bool) {
	s := Signal(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// Priority orders subscriber invocation and classifies emissions.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Event is a runtime emission of a signal.
type Event struct {
	Signal        Signal                 `json:"signal"`
	ProjectID     string                 `json:"project_id"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Source        string                 `json:"source"`
	Priority      Priority               `json:"priority"`
	ArtifactIDs   []string               `json:"artifact_ids,omitempty"`
	EmittedAt     time.Time              `json:"emitted_at"`
	CorrelationID string                 `json:"correlation_id"`
}

// Handler processes one signal event. Handlers may suspend on LLM and
// tool calls; errors are caught by the engine and isolated from other
// subscribers.
type Handler func(ctx context.Context, event *Event) error

// Subscription binds an agent to a signal. Uniqueness is per
// (agent, signal).
type Subscription struct {
	AgentName string
	Signal    Signal
	Handler   Handler
	Priority  int
}

// incompatible lists signal pairs that cannot both be active for a
// project. The table is symmetric: emitting either side voids the other.
var incompatible = map[Signal]Signal{
	PlanApproved:  PlanRejected,
	PlanRejected:  PlanApproved,
	ErrorOccurred: ErrorResolved,
	ErrorResolved: ErrorOccurred,
}

// Incompatible returns the signal that s voids, if any.
func Incompatible(s Signal) (Signal, bool) {
	counterpart, ok := incompatible[s]
	return counterpart, ok
}

// newCorrelationID returns a short id suitable for log correlation.
func newCorrelationID() string {
	return uuid.New().String()[:8]
}
