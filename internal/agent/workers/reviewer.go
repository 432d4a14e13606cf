package workers

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/agent"
	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/ports"
	"github.com/codi-dev/codi/internal/signal"
)

// reviewFileLimit caps how many file artifacts one review pass reads.
const reviewFileLimit = 20

// Reviewer reads the active file artifacts and produces an analysis
// artifact with review findings.
type Reviewer struct {
	base
	modelID string
}

var (
	_ agent.Producer   = (*Reviewer)(nil)
	_ agent.Subscriber = (*Reviewer)(nil)
)

// NewReviewer creates the code review worker.
func NewReviewer(d Deps, modelID string) *Reviewer {
	return &Reviewer{base: newBase("reviewer", d), modelID: modelID}
}

func (r *Reviewer) Produces() []artifact.Type {
	return []artifact.Type{artifact.TypeAnalysis}
}

func (r *Reviewer) SubscribesTo() []signal.Signal {
	return []signal.Signal{signal.CodeReviewNeeded}
}

func (r *Reviewer) HandleSignal(ctx context.Context, event *signal.Event) error {
	files := r.writer.ReadArtifacts(artifact.TypeFile, reviewFileLimit)
	if len(files) == 0 {
		r.emitter.ResolveSignal(event.Signal)
		return nil
	}

	r.broadcast(ctx, "review_progress", map[string]interface{}{
		"status": "started",
		"files":  len(files),
	})

	findings, err := r.review(ctx, files)
	if err != nil {
		return fmt.Errorf("review: %w", err)
	}

	a, err := r.writer.ProduceAnalysisArtifact(ctx, findings, map[string]interface{}{
		"kind":           "code_review",
		"files_reviewed": len(files),
	})
	if err != nil {
		return err
	}

	r.logger.Info("review complete",
		zap.String("project_id", event.ProjectID),
		zap.Int("files", len(files)))

	r.broadcast(ctx, "review_progress", map[string]interface{}{"status": "complete"})
	return r.complete(ctx, event.Signal, "", nil, []string{a.ID})
}

func (r *Reviewer) review(ctx context.Context, files []*artifact.Artifact) (string, error) {
	if r.llm == nil || r.modelID == "" {
		return fmt.Sprintf("Reviewed %d files; no automated findings.", len(files)), nil
	}

	var sb strings.Builder
	for _, f := range files {
		fmt.Fprintf(&sb, "=== %s ===\n%s\n", f.MetaString(artifact.MetaFilePath), f.ContentString())
	}
	reply, err := r.llm.Invoke(ctx, r.modelID, []ports.ChatMessage{
		{Role: ports.RoleSystem, Content: "You review code for correctness and clarity. List concrete findings, one per line."},
		{Role: ports.RoleUser, Content: sb.String()},
	}, nil)
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}
