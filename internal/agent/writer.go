package agent

import (
	"context"
	"fmt"

	"github.com/codi-dev/codi/internal/artifact"
)

// ArtifactWriter is the shared producer implementation workers embed.
// Every write goes through the project-scoped store with the worker's
// name as producer.
type ArtifactWriter struct {
	producer string
	store    *artifact.Store
}

// NewArtifactWriter binds a producer name to a project store.
func NewArtifactWriter(producer string, store *artifact.Store) *ArtifactWriter {
	return &ArtifactWriter{producer: producer, store: store}
}

// Store exposes the underlying store for read queries.
func (w *ArtifactWriter) Store() *artifact.Store {
	return w.store
}

// ProduceArtifact creates and persists an artifact of any type.
func (w *ArtifactWriter) ProduceArtifact(ctx context.Context, artifactType artifact.Type, content interface{}, metadata map[string]interface{}) (*artifact.Artifact, error) {
	a, err := artifact.New(artifactType, w.producer, content, metadata)
	if err != nil {
		return nil, err
	}
	return w.store.Persist(ctx, a)
}

// ProduceFileArtifact records a file create/update/delete.
func (w *ArtifactWriter) ProduceFileArtifact(ctx context.Context, path, operation string, content string) (*artifact.Artifact, error) {
	return w.ProduceArtifact(ctx, artifact.TypeFile, content, map[string]interface{}{
		artifact.MetaFilePath:  path,
		artifact.MetaOperation: operation,
	})
}

// ProduceErrorArtifact records a failure. recoverable=false makes the
// executor exit the convergence loop on the next evaluation.
func (w *ArtifactWriter) ProduceErrorArtifact(ctx context.Context, errorType, message, stackTrace string, recoverable bool) (*artifact.Artifact, error) {
	return w.ProduceArtifact(ctx, artifact.TypeError, message, map[string]interface{}{
		artifact.MetaErrorType:   errorType,
		artifact.MetaStackTrace:  stackTrace,
		artifact.MetaRecoverable: recoverable,
	})
}

// ProduceBuildArtifact records a build outcome.
func (w *ArtifactWriter) ProduceBuildArtifact(ctx context.Context, success bool, command string, exitCode int, testsPassed bool, output string) (*artifact.Artifact, error) {
	return w.ProduceArtifact(ctx, artifact.TypeBuild, output, map[string]interface{}{
		artifact.MetaSuccess:     success,
		artifact.MetaCommand:     command,
		artifact.MetaExitCode:    exitCode,
		artifact.MetaTestsPassed: testsPassed,
	})
}

// ProducePreviewArtifact records a running preview.
func (w *ArtifactWriter) ProducePreviewArtifact(ctx context.Context, url, containerID string) (*artifact.Artifact, error) {
	return w.ProduceArtifact(ctx, artifact.TypePreview, fmt.Sprintf("preview at %s", url), map[string]interface{}{
		artifact.MetaURL:         url,
		artifact.MetaContainerID: containerID,
	})
}

// ProduceAnalysisArtifact records research or analysis output.
func (w *ArtifactWriter) ProduceAnalysisArtifact(ctx context.Context, content string, metadata map[string]interface{}) (*artifact.Artifact, error) {
	return w.ProduceArtifact(ctx, artifact.TypeAnalysis, content, metadata)
}

// ProducePlanArtifact records a plan in the given review state.
func (w *ArtifactWriter) ProducePlanArtifact(ctx context.Context, content string, status string) (*artifact.Artifact, error) {
	return w.ProduceArtifact(ctx, artifact.TypePlan, content, map[string]interface{}{
		artifact.MetaPlanStatus: status,
	})
}

// ReadArtifacts returns artifacts visible to this worker, newest first.
// An empty type matches all types.
func (w *ArtifactWriter) ReadArtifacts(artifactType artifact.Type, limit int) []*artifact.Artifact {
	if artifactType == "" {
		all := w.store.All()
		if limit > 0 && len(all) > limit {
			all = all[:limit]
		}
		return all
	}
	return w.store.GetByType(artifactType, "", limit)
}

// LatestBuild returns the newest active build artifact, or nil.
func (w *ArtifactWriter) LatestBuild() *artifact.Artifact {
	return w.store.GetLatest(artifact.TypeBuild, "")
}

// PreviewURL returns the current preview url, or "".
func (w *ArtifactWriter) PreviewURL() string {
	return w.store.PreviewURL()
}
