package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/common/logger"
	"github.com/codi-dev/codi/internal/signal"
)

func TestArtifactWriter(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewStore("p1", artifact.StoreOptions{}, logger.Default())
	w := NewArtifactWriter("builder", store)

	t.Run("writes carry the producer", func(t *testing.T) {
		a, err := w.ProduceBuildArtifact(ctx, true, "npm run build", 0, true, "done in 3s")
		require.NoError(t, err)
		assert.Equal(t, "builder", a.Producer)
		assert.Equal(t, "p1", a.ProjectID)
		assert.True(t, a.MetaBool(artifact.MetaSuccess))
		assert.True(t, store.BuildSucceeded())

		latest := w.LatestBuild()
		require.NotNil(t, latest)
		assert.Equal(t, a.ID, latest.ID)
	})

	t.Run("file artifacts record path and operation", func(t *testing.T) {
		a, err := w.ProduceFileArtifact(ctx, "src/app.js", artifact.FileOpCreate, "console.log('hi')")
		require.NoError(t, err)
		assert.Equal(t, "src/app.js", a.MetaString(artifact.MetaFilePath))
		assert.Equal(t, artifact.FileOpCreate, a.MetaString(artifact.MetaOperation))
	})

	t.Run("error artifacts record recoverability", func(t *testing.T) {
		a, err := w.ProduceErrorArtifact(ctx, "build_failure", "exit 1", "", true)
		require.NoError(t, err)
		assert.True(t, a.MetaBool(artifact.MetaRecoverable))
		assert.True(t, store.HasErrors())
		assert.False(t, store.HasUnrecoverableError())
		store.Invalidate(a.ID)
	})

	t.Run("preview artifacts expose the url", func(t *testing.T) {
		_, err := w.ProducePreviewArtifact(ctx, "http://localhost:3000", "c-123")
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:3000", w.PreviewURL())
	})

	t.Run("read views", func(t *testing.T) {
		all := w.ReadArtifacts("", 0)
		assert.NotEmpty(t, all)
		files := w.ReadArtifacts(artifact.TypeFile, 1)
		require.Len(t, files, 1)
		assert.Equal(t, artifact.TypeFile, files[0].Type)
	})
}

func TestSignalEmitter(t *testing.T) {
	ctx := context.Background()
	engine := signal.NewEngine(logger.Default())
	e := NewSignalEmitter("builder", "p1", engine)

	event, err := e.EmitSignal(ctx, signal.BuildFailed, map[string]interface{}{"exit_code": 1}, []string{"a-1"})
	require.NoError(t, err)
	assert.Equal(t, "builder", event.Source)
	assert.Equal(t, "p1", event.ProjectID)
	assert.Equal(t, []string{"a-1"}, event.ArtifactIDs)
	assert.True(t, engine.IsActive(signal.BuildFailed, "p1"))

	e.ResolveSignal(signal.BuildFailed)
	assert.False(t, engine.IsActive(signal.BuildFailed, "p1"))
}
