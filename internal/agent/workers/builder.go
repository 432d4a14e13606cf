package workers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/agent"
	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/signal"
)

// Builder runs the project build through the container port and records
// the outcome as a build artifact. A failed build raises build_failed
// plus a recoverable error artifact for the recovery path.
type Builder struct {
	base
}

var (
	_ agent.Producer   = (*Builder)(nil)
	_ agent.Subscriber = (*Builder)(nil)
)

// NewBuilder creates the build worker.
func NewBuilder(d Deps) *Builder {
	return &Builder{base: newBase("builder", d)}
}

func (b *Builder) Produces() []artifact.Type {
	return []artifact.Type{artifact.TypeBuild, artifact.TypeError}
}

func (b *Builder) SubscribesTo() []signal.Signal {
	return []signal.Signal{signal.NeedsBuild, signal.TestsFailing}
}

func (b *Builder) HandleSignal(ctx context.Context, event *signal.Event) error {
	if b.tools.Container == nil {
		return fmt.Errorf("container port unavailable")
	}

	b.broadcast(ctx, "build_status", map[string]interface{}{"status": "started"})

	result, err := b.tools.Container.Build(ctx)
	if err != nil {
		if _, aerr := b.writer.ProduceErrorArtifact(ctx, "build_tool", err.Error(), "", true); aerr != nil {
			return aerr
		}
		b.broadcast(ctx, "build_status", map[string]interface{}{"status": "failed", "error": err.Error()})
		_, emitErr := b.emitter.EmitSignal(ctx, signal.BuildFailed, map[string]interface{}{"error": err.Error()}, nil)
		return emitErr
	}

	a, err := b.writer.ProduceBuildArtifact(ctx, result.Success, result.Command, result.ExitCode, result.Tests, result.Output)
	if err != nil {
		return err
	}

	b.logger.Info("build finished",
		zap.String("project_id", event.ProjectID),
		zap.Bool("success", result.Success),
		zap.Int("exit_code", result.ExitCode))

	if !result.Success {
		b.broadcast(ctx, "build_status", map[string]interface{}{
			"status":    "failed",
			"exit_code": result.ExitCode,
		})
		_, err := b.emitter.EmitSignal(ctx, signal.BuildFailed, map[string]interface{}{
			"exit_code": result.ExitCode,
			"output":    result.Output,
		}, []string{a.ID})
		return err
	}

	b.broadcast(ctx, "build_status", map[string]interface{}{"status": "succeeded"})
	return b.complete(ctx, event.Signal, signal.NeedsPreview, nil, []string{a.ID})
}
