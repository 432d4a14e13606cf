package workers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/agent"
	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/signal"
)

// Previewer starts a preview container for the latest successful build
// and records its url. A stale preview is stopped and replaced.
type Previewer struct {
	base
}

var (
	_ agent.Producer   = (*Previewer)(nil)
	_ agent.Subscriber = (*Previewer)(nil)
)

// NewPreviewer creates the preview worker.
func NewPreviewer(d Deps) *Previewer {
	return &Previewer{base: newBase("previewer", d)}
}

func (p *Previewer) Produces() []artifact.Type {
	return []artifact.Type{artifact.TypePreview, artifact.TypeError}
}

func (p *Previewer) SubscribesTo() []signal.Signal {
	return []signal.Signal{signal.NeedsPreview, signal.PreviewStale}
}

func (p *Previewer) HandleSignal(ctx context.Context, event *signal.Event) error {
	if p.tools.Container == nil {
		return fmt.Errorf("container port unavailable")
	}

	if event.Signal == signal.PreviewStale {
		if prev := p.writer.Store().GetLatest(artifact.TypePreview, ""); prev != nil {
			containerID := prev.MetaString(artifact.MetaContainerID)
			if containerID != "" {
				if err := p.tools.Container.Stop(ctx, containerID); err != nil {
					p.logger.Warn("stale preview stop failed",
						zap.String("container_id", containerID), zap.Error(err))
				}
			}
			p.writer.Store().Invalidate(prev.ID)
		}
	}

	containerID, url, err := p.tools.Container.Start(ctx)
	if err != nil {
		if _, aerr := p.writer.ProduceErrorArtifact(ctx, "preview_tool", err.Error(), "", true); aerr != nil {
			return aerr
		}
		_, emitErr := p.emitter.EmitSignal(ctx, signal.ErrorOccurred, map[string]interface{}{"error": err.Error()}, nil)
		return emitErr
	}

	a, err := p.writer.ProducePreviewArtifact(ctx, url, containerID)
	if err != nil {
		return err
	}

	p.logger.Info("preview running",
		zap.String("project_id", event.ProjectID),
		zap.String("url", url))

	p.broadcast(ctx, "deployment_complete", map[string]interface{}{
		"url":          url,
		"container_id": containerID,
	})
	return p.complete(ctx, event.Signal, "", nil, []string{a.ID})
}
