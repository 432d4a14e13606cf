// Package attractor implements the declarative goal layer: named
// predicates over artifact state with fallback signals, and the
// evaluator that drives the convergence loop.
package attractor

import (
	"time"

	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/signal"
)

// Predicate inspects artifact state and reports whether the goal holds.
type Predicate func(store *artifact.Store) (bool, error)

// Attractor is one declarative goal state.
type Attractor struct {
	Name        string
	Description string
	Predicate   Predicate

	// SignalOnUnsatisfied is emitted when the predicate is false and
	// all dependencies hold. Empty means the attractor surfaces as
	// blocked and waits for outside action.
	SignalOnUnsatisfied signal.Signal

	// Priority orders evaluation, higher first.
	Priority int

	// DependsOn names attractors whose predicates must hold before
	// this one is evaluated.
	DependsOn []string
}

// Status of one attractor within an evaluation.
type Status string

const (
	StatusSatisfied   Status = "satisfied"
	StatusUnsatisfied Status = "unsatisfied"
	StatusBlocked     Status = "blocked"
)

// Result is one attractor's outcome within an evaluation.
type Result struct {
	Attractor *Attractor
	Status    Status
	Signal    signal.Signal // set when an emission is warranted
	BlockedOn string        // dependency name; "" for predicate errors and goals awaiting outside action
	Err       error
}

// Evaluation aggregates one evaluate() pass.
type Evaluation struct {
	Results      []Result
	AllSatisfied bool
	EvaluatedAt  time.Time
}

// Unsatisfied returns the names of attractors not satisfied, blocked
// ones included.
func (e *Evaluation) Unsatisfied() []string {
	var names []string
	for _, r := range e.Results {
		if r.Status != StatusSatisfied {
			names = append(names, r.Attractor.Name)
		}
	}
	return names
}

// Blocked returns the results stuck behind a dependency, a predicate
// error, or an outside action.
func (e *Evaluation) Blocked() []Result {
	var blocked []Result
	for _, r := range e.Results {
		if r.Status == StatusBlocked {
			blocked = append(blocked, r)
		}
	}
	return blocked
}

// SignalsToEmit lists the fallback signals of unsatisfied attractors.
func (e *Evaluation) SignalsToEmit() []signal.Signal {
	var sigs []signal.Signal
	for _, r := range e.Results {
		if r.Status == StatusUnsatisfied && r.Signal != "" {
			sigs = append(sigs, r.Signal)
		}
	}
	return sigs
}

// Defaults returns the standard attractor set. Priorities put error
// hygiene first, then scaffold, plan gate, build, tests, preview, git.
func Defaults() []*Attractor {
	return []*Attractor{
		{
			Name:                "no_errors",
			Description:         "no active error artifacts",
			Priority:            100,
			SignalOnUnsatisfied: signal.ErrorOccurred,
			Predicate: func(s *artifact.Store) (bool, error) {
				return !s.HasErrors(), nil
			},
		},
		{
			Name:                "has_scaffold",
			Description:         "at least one file artifact exists",
			Priority:            90,
			SignalOnUnsatisfied: signal.NeedsScaffold,
			Predicate: func(s *artifact.Store) (bool, error) {
				return len(s.FileArtifacts()) > 0, nil
			},
		},
		{
			Name:        "plan_approved",
			Description: "latest plan approved, or no plan pending",
			Priority:    85,
			// Never emits: approval is a user action.
			Predicate: func(s *artifact.Store) (bool, error) {
				return s.PendingPlan() == nil, nil
			},
		},
		{
			Name:                "project_builds",
			Description:         "latest build artifact succeeded",
			Priority:            80,
			SignalOnUnsatisfied: signal.NeedsBuild,
			DependsOn:           []string{"has_scaffold", "plan_approved"},
			Predicate: func(s *artifact.Store) (bool, error) {
				return s.BuildSucceeded(), nil
			},
		},
		{
			Name:                "tests_passing",
			Description:         "latest build ran tests successfully",
			Priority:            70,
			SignalOnUnsatisfied: signal.TestsFailing,
			DependsOn:           []string{"project_builds"},
			Predicate: func(s *artifact.Store) (bool, error) {
				return s.TestsPassed(), nil
			},
		},
		{
			Name:                "preview_available",
			Description:         "a preview url is live",
			Priority:            60,
			SignalOnUnsatisfied: signal.NeedsPreview,
			DependsOn:           []string{"project_builds"},
			Predicate: func(s *artifact.Store) (bool, error) {
				return s.HasPreview(), nil
			},
		},
		{
			Name:                "git_clean",
			Description:         "no file changes awaiting commit",
			Priority:            50,
			SignalOnUnsatisfied: signal.NeedsCommit,
			DependsOn:           []string{"has_scaffold"},
			Predicate: func(s *artifact.Store) (bool, error) {
				// Approximation over artifact state: a file artifact
				// newer than the last commit log artifact means dirty.
				files := s.FileArtifacts()
				if len(files) == 0 {
					return true, nil
				}
				lastCommit := s.GetLatest(artifact.TypeLog, "")
				if lastCommit == nil {
					return false, nil
				}
				return !files[0].CreatedAt.After(lastCommit.CreatedAt), nil
			},
		},
	}
}
