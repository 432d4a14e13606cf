package workers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/agent"
	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/signal"
)

// GitOps commits and pushes through the git port and records each
// operation as a log artifact.
type GitOps struct {
	base
}

var (
	_ agent.Producer   = (*GitOps)(nil)
	_ agent.Subscriber = (*GitOps)(nil)
)

// NewGitOps creates the git worker.
func NewGitOps(d Deps) *GitOps {
	return &GitOps{base: newBase("gitops", d)}
}

func (g *GitOps) Produces() []artifact.Type {
	return []artifact.Type{artifact.TypeLog, artifact.TypeError}
}

func (g *GitOps) SubscribesTo() []signal.Signal {
	return []signal.Signal{signal.DirtyGitState, signal.NeedsCommit, signal.NeedsPush}
}

func (g *GitOps) HandleSignal(ctx context.Context, event *signal.Event) error {
	if g.tools.Git == nil {
		return fmt.Errorf("git port unavailable")
	}

	switch event.Signal {
	case signal.NeedsPush:
		if err := g.tools.Git.Push(ctx); err != nil {
			return g.reportFailure(ctx, "git_push", err)
		}
		g.broadcast(ctx, "git_operation", map[string]interface{}{"operation": "push"})
		if _, err := g.writer.ProduceArtifact(ctx, artifact.TypeLog, "pushed to remote", map[string]interface{}{
			artifact.MetaOperation: "push",
		}); err != nil {
			return err
		}
		return g.complete(ctx, event.Signal, "", nil, nil)

	case signal.DirtyGitState, signal.NeedsCommit:
		status, err := g.tools.Git.Status(ctx)
		if err != nil {
			return g.reportFailure(ctx, "git_status", err)
		}
		if !status.Dirty {
			return g.complete(ctx, event.Signal, "", nil, nil)
		}

		message, _ := event.Context["commit_message"].(string)
		if message == "" {
			message = "checkpoint: agent changes"
		}
		sha, err := g.tools.Git.Commit(ctx, message)
		if err != nil {
			return g.reportFailure(ctx, "git_commit", err)
		}

		g.logger.Info("committed",
			zap.String("project_id", event.ProjectID),
			zap.String("sha", sha),
			zap.String("branch", status.Branch))

		g.broadcast(ctx, "git_operation", map[string]interface{}{
			"operation": "commit",
			"sha":       sha,
			"branch":    status.Branch,
		})
		if _, err := g.writer.ProduceArtifact(ctx, artifact.TypeLog, "committed "+sha, map[string]interface{}{
			artifact.MetaOperation: "commit",
			"commit_sha":           sha,
			"branch":               status.Branch,
		}); err != nil {
			return err
		}
		return g.complete(ctx, event.Signal, "", nil, nil)
	}
	return nil
}

func (g *GitOps) reportFailure(ctx context.Context, operation string, err error) error {
	if _, aerr := g.writer.ProduceErrorArtifact(ctx, operation, err.Error(), "", true); aerr != nil {
		return aerr
	}
	_, emitErr := g.emitter.EmitSignal(ctx, signal.ErrorOccurred, map[string]interface{}{
		"operation": operation,
		"error":     err.Error(),
	}, nil)
	return emitErr
}
