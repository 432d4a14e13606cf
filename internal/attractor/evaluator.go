package attractor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/common/logger"
	"github.com/codi-dev/codi/internal/signal"
)

// Router answers whether any registered agent subscribes to a signal.
// The evaluator uses it to warn about goals nobody can work on.
type Router interface {
	CanSatisfy(sig signal.Signal) bool
}

// Evaluator runs attractor predicates against one project's store and
// emits the fallback signals of unmet goals.
type Evaluator struct {
	projectID  string
	store      *artifact.Store
	engine     *signal.Engine
	router     Router
	attractors []*Attractor
	logger     *logger.Logger
}

// NewEvaluator binds an attractor set to a project store and engine.
// A nil attractors slice means Defaults(); router may be nil.
func NewEvaluator(projectID string, store *artifact.Store, engine *signal.Engine, router Router, attractors []*Attractor, log *logger.Logger) *Evaluator {
	if attractors == nil {
		attractors = Defaults()
	}
	e := &Evaluator{
		projectID:  projectID,
		store:      store,
		engine:     engine,
		router:     router,
		attractors: attractors,
		logger:     log.Named("evaluator").WithProjectID(projectID),
	}
	e.warnUnroutable()
	return e
}

// warnUnroutable logs attractors whose fallback signal has no
// registered subscriber. Evaluation still runs; the warning exists so
// a miswired deployment is visible before the loop stalls.
func (e *Evaluator) warnUnroutable() {
	if e.router == nil {
		return
	}
	for _, a := range e.attractors {
		if a.SignalOnUnsatisfied == "" {
			continue
		}
		if !e.router.CanSatisfy(a.SignalOnUnsatisfied) {
			e.logger.Warn("no subscriber for attractor signal",
				zap.String("attractor", a.Name),
				zap.String("signal", string(a.SignalOnUnsatisfied)))
		}
	}
}

// Evaluate runs one pass over the attractor set, priority descending.
// A nil subset means every attractor.
func (e *Evaluator) Evaluate(subset []*Attractor) *Evaluation {
	targets := subset
	if targets == nil {
		targets = e.attractors
	}
	ordered := make([]*Attractor, len(targets))
	copy(ordered, targets)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	eval := &Evaluation{EvaluatedAt: time.Now().UTC()}
	satisfied := make(map[string]bool, len(ordered))

	for _, a := range ordered {
		result := Result{Attractor: a}

		if dep, ok := e.unmetDependency(a, satisfied); ok {
			result.Status = StatusBlocked
			result.BlockedOn = dep
			eval.Results = append(eval.Results, result)
			continue
		}

		ok, err := e.run(a)
		switch {
		case err != nil:
			result.Status = StatusBlocked
			result.Err = err
			e.logger.Warn("predicate failed",
				zap.String("attractor", a.Name), zap.Error(err))
		case ok:
			result.Status = StatusSatisfied
			satisfied[a.Name] = true
		case a.SignalOnUnsatisfied == "":
			// Unmet with nothing to emit: only outside action moves
			// this goal, so it surfaces as blocked.
			result.Status = StatusBlocked
		default:
			result.Status = StatusUnsatisfied
			result.Signal = a.SignalOnUnsatisfied
		}
		eval.Results = append(eval.Results, result)
	}

	eval.AllSatisfied = true
	for _, r := range eval.Results {
		if r.Status != StatusSatisfied {
			eval.AllSatisfied = false
			break
		}
	}
	return eval
}

// unmetDependency reports the first dependency of a that did not hold
// in this pass. Dependencies are resolved against the full attractor
// set so subsets still honor ordering.
func (e *Evaluator) unmetDependency(a *Attractor, satisfied map[string]bool) (string, bool) {
	for _, dep := range a.DependsOn {
		if satisfied[dep] {
			continue
		}
		// A dependency evaluated earlier in this pass and not
		// satisfied blocks; one outside the pass is probed directly.
		target := e.byName(dep)
		if target == nil {
			return dep, true
		}
		ok, err := e.run(target)
		if err != nil || !ok {
			return dep, true
		}
		satisfied[dep] = true
	}
	return "", false
}

func (e *Evaluator) byName(name string) *Attractor {
	for _, a := range e.attractors {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// run invokes a predicate with panic containment.
func (e *Evaluator) run(a *Attractor) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("predicate panic in %s: %v", a.Name, r)
		}
	}()
	return a.Predicate(e.store)
}

// EmitDerivedSignals emits the fallback signal of every unsatisfied
// attractor in the evaluation. Already-active signals are re-emitted;
// handlers are idempotent over their artifact reads.
func (e *Evaluator) EmitDerivedSignals(ctx context.Context, eval *Evaluation) {
	for _, sig := range eval.SignalsToEmit() {
		if _, err := e.engine.Emit(ctx, sig, e.projectID, signal.EmitOptions{
			Source:   "evaluator",
			Priority: signal.PriorityNormal,
		}); err != nil {
			e.logger.Warn("derived signal emission failed",
				zap.String("signal", string(sig)), zap.Error(err))
		}
	}
}

// RunUntilSatisfied drives the convergence loop: evaluate, emit, sleep,
// until all attractors hold, budgets run out, or ctx is cancelled. The
// last evaluation is always returned.
func (e *Evaluator) RunUntilSatisfied(ctx context.Context, subset []*Attractor, timeout, pollInterval time.Duration, maxIterations int) (*Evaluation, error) {
	if maxIterations <= 0 {
		maxIterations = 1
	}
	deadline := time.Now().Add(timeout)

	var last *Evaluation
	for i := 0; i < maxIterations; i++ {
		if ctx.Err() != nil {
			return last, ctx.Err()
		}
		if timeout > 0 && time.Now().After(deadline) {
			break
		}

		last = e.Evaluate(subset)
		if last.AllSatisfied {
			e.logger.Info("converged", zap.Int("iterations", i+1))
			return last, nil
		}
		if e.store.HasUnrecoverableError() {
			e.logger.Warn("unrecoverable error, abandoning convergence")
			return last, nil
		}
		if len(last.SignalsToEmit()) == 0 && len(last.Blocked()) > 0 {
			// Nothing to emit and something blocked: only outside
			// action can make progress, stop polling.
			return last, nil
		}

		e.EmitDerivedSignals(ctx, last)

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return last, nil
}
