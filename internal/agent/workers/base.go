// Package workers holds the reference worker roles that ship with the
// orchestration core: scaffolder, builder, previewer, planner, reviewer,
// gitops and sage. Each one is a thin composition of the artifact writer
// and signal emitter over the tool ports.
package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/agent"
	"github.com/codi-dev/codi/internal/common/logger"
	"github.com/codi-dev/codi/internal/ports"
	"github.com/codi-dev/codi/internal/signal"
)

// Notifier is the slice of the broadcast bridge workers use to relay
// progress to WebSocket subscribers. Nil is a valid value; progress is
// then local-only.
type Notifier interface {
	Publish(ctx context.Context, projectID string, message map[string]interface{}) error
}

// Deps bundles what every worker needs at construction time.
type Deps struct {
	ProjectID string
	Writer    *agent.ArtifactWriter
	Emitter   *agent.SignalEmitter
	Tools     ports.Toolset
	LLM       ports.LLM
	Notify    Notifier
	Logger    *logger.Logger
}

// base is embedded by every worker in this package.
type base struct {
	name      string
	projectID string
	writer    *agent.ArtifactWriter
	emitter   *agent.SignalEmitter
	tools     ports.Toolset
	llm       ports.LLM
	notify    Notifier
	logger    *logger.Logger
}

func newBase(name string, d Deps) base {
	return base{
		name:      name,
		projectID: d.ProjectID,
		writer:    d.Writer,
		emitter:   d.Emitter,
		tools:     d.Tools,
		llm:       d.LLM,
		notify:    d.Notify,
		logger:    d.Logger.Named(name),
	}
}

func (b *base) Name() string { return b.name }

// broadcast relays a typed progress message to the gateway. Failures
// are logged and swallowed; progress delivery is best-effort.
func (b *base) broadcast(ctx context.Context, msgType string, fields map[string]interface{}) {
	if b.notify == nil {
		return
	}
	message := map[string]interface{}{
		"type":      msgType,
		"agent":     b.name,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		message[k] = v
	}
	if err := b.notify.Publish(ctx, b.projectID, message); err != nil {
		b.logger.Warn("broadcast failed", zap.String("message_type", msgType), zap.Error(err))
	}
}

// complete resolves sig and optionally emits next in one motion, the
// usual tail of a handler that satisfied its signal.
func (b *base) complete(ctx context.Context, sig signal.Signal, next signal.Signal, sigContext map[string]interface{}, artifactIDs []string) error {
	b.emitter.ResolveSignal(sig)
	if next == "" {
		return nil
	}
	_, err := b.emitter.EmitSignal(ctx, next, sigContext, artifactIDs)
	return err
}
