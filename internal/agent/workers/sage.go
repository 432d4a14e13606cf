package workers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/agent"
	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/ports"
	"github.com/codi-dev/codi/internal/signal"
)

// Sage is the recovery worker. It wakes on failures, repairs what it
// can, and resolves the error state so convergence can continue.
// Unrecoverable errors are left alone; the executor exits on those.
type Sage struct {
	base
	modelID string
}

var (
	_ agent.Producer   = (*Sage)(nil)
	_ agent.Subscriber = (*Sage)(nil)
)

// NewSage creates the recovery worker.
func NewSage(d Deps, modelID string) *Sage {
	return &Sage{base: newBase("sage", d), modelID: modelID}
}

func (s *Sage) Produces() []artifact.Type {
	return []artifact.Type{artifact.TypeFile, artifact.TypeError}
}

func (s *Sage) SubscribesTo() []signal.Signal {
	return []signal.Signal{signal.ErrorOccurred, signal.BuildFailed}
}

func (s *Sage) HandleSignal(ctx context.Context, event *signal.Event) error {
	switch event.Signal {
	case signal.BuildFailed:
		return s.repairBuild(ctx, event)
	case signal.ErrorOccurred:
		return s.resolveErrors(ctx, event)
	}
	return nil
}

// repairBuild patches the newest file artifact and asks for a rebuild.
func (s *Sage) repairBuild(ctx context.Context, event *signal.Event) error {
	store := s.writer.Store()
	files := store.FileArtifacts()
	if len(files) == 0 {
		return fmt.Errorf("build failed with no file artifacts to repair")
	}

	broken := files[0]
	output, _ := event.Context["output"].(string)

	fixed, err := s.patch(ctx, broken.MetaString(artifact.MetaFilePath), broken.ContentString(), output)
	if err != nil {
		return fmt.Errorf("repair: %w", err)
	}

	replacement, err := store.Supersede(ctx, broken.ID, fixed, map[string]interface{}{
		artifact.MetaFilePath:  broken.MetaString(artifact.MetaFilePath),
		artifact.MetaOperation: artifact.FileOpUpdate,
	})
	if err != nil {
		return err
	}

	if s.tools.FS != nil && replacement != nil {
		path := broken.MetaString(artifact.MetaFilePath)
		if err := s.tools.FS.Write(ctx, path, []byte(fixed)); err != nil {
			s.logger.Warn("repaired file write failed", zap.String("path", path), zap.Error(err))
		}
	}

	s.logger.Info("build repair attempted",
		zap.String("project_id", event.ProjectID),
		zap.String("superseded", broken.ID))

	s.resolveRecoverable(ctx)
	return s.complete(ctx, event.Signal, signal.NeedsBuild, nil, nil)
}

// resolveErrors clears recoverable error state.
func (s *Sage) resolveErrors(ctx context.Context, event *signal.Event) error {
	store := s.writer.Store()
	if store.HasUnrecoverableError() {
		s.logger.Warn("unrecoverable error present, leaving for executor",
			zap.String("project_id", event.ProjectID))
		return nil
	}

	s.resolveRecoverable(ctx)
	s.emitter.ResolveSignal(signal.ErrorOccurred)
	_, err := s.emitter.EmitSignal(ctx, signal.ErrorResolved, nil, nil)
	return err
}

// resolveRecoverable invalidates every active recoverable error artifact.
func (s *Sage) resolveRecoverable(ctx context.Context) {
	store := s.writer.Store()
	for _, e := range store.ActiveErrors() {
		if e.MetaBool(artifact.MetaRecoverable) {
			store.Invalidate(e.ID)
		}
	}
}

func (s *Sage) patch(ctx context.Context, path, content, buildOutput string) (string, error) {
	if s.llm == nil || s.modelID == "" {
		// Offline fallback: re-emit the content untouched and let the
		// next build decide. Deterministic tests inject their own tool
		// behavior around this.
		return content, nil
	}
	reply, err := s.llm.Invoke(ctx, s.modelID, []ports.ChatMessage{
		{Role: ports.RoleSystem, Content: "You fix broken files. Reply with the full corrected file content only."},
		{Role: ports.RoleUser, Content: fmt.Sprintf("File %s:\n%s\n\nBuild output:\n%s", path, content, buildOutput)},
	}, nil)
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}
