package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/common/config"
	"github.com/codi-dev/codi/internal/common/logger"
)

func TestMemoryPortOperationLogs(t *testing.T) {
	ctx := context.Background()

	t.Run("insert fills id and created_at", func(t *testing.T) {
		p := NewMemoryPort()
		rec := &OperationLogRecord{
			ProjectID:     "p1",
			OperationType: OpBuildCompleted,
			AgentType:     AgentBuilder,
			Status:        RecordSuccess,
		}
		require.NoError(t, p.InsertOperationLog(ctx, rec))
		assert.NotEmpty(t, rec.ID)
		assert.False(t, rec.CreatedAt.IsZero())
	})

	t.Run("list filters and orders newest first", func(t *testing.T) {
		p := NewMemoryPort()
		base := time.Now().UTC().Add(-time.Hour)
		seed := []*OperationLogRecord{
			{ProjectID: "p1", UserID: "u1", OperationType: OpAgentTaskStarted, AgentType: AgentBuilder, CreatedAt: base},
			{ProjectID: "p1", UserID: "u1", OperationType: OpAgentTaskCompleted, AgentType: AgentBuilder, CreatedAt: base.Add(time.Minute)},
			{ProjectID: "p1", UserID: "u2", OperationType: OpGitCommit, AgentType: AgentGitOps, CreatedAt: base.Add(2 * time.Minute)},
			{ProjectID: "p2", UserID: "u1", OperationType: OpGitCommit, AgentType: AgentGitOps, CreatedAt: base.Add(3 * time.Minute)},
		}
		for _, rec := range seed {
			require.NoError(t, p.InsertOperationLog(ctx, rec))
		}

		all, err := p.ListOperationLogs(ctx, OperationLogFilter{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, "p2", all[0].ProjectID)

		p1, err := p.ListOperationLogs(ctx, OperationLogFilter{ProjectID: "p1"})
		require.NoError(t, err)
		assert.Len(t, p1, 3)

		commits, err := p.ListOperationLogs(ctx, OperationLogFilter{OperationType: OpGitCommit})
		require.NoError(t, err)
		assert.Len(t, commits, 2)

		gitops, err := p.ListOperationLogs(ctx, OperationLogFilter{AgentType: AgentGitOps, UserID: "u2"})
		require.NoError(t, err)
		assert.Len(t, gitops, 1)

		recent, err := p.ListOperationLogs(ctx, OperationLogFilter{Since: base.Add(90 * time.Second)})
		require.NoError(t, err)
		assert.Len(t, recent, 2)

		limited, err := p.ListOperationLogs(ctx, OperationLogFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, OpGitCommit, limited[0].OperationType)
	})

	t.Run("listed records are copies", func(t *testing.T) {
		p := NewMemoryPort()
		require.NoError(t, p.InsertOperationLog(ctx, &OperationLogRecord{ProjectID: "p1", Message: "original"}))

		first, err := p.ListOperationLogs(ctx, OperationLogFilter{})
		require.NoError(t, err)
		first[0].Message = "mutated"

		second, err := p.ListOperationLogs(ctx, OperationLogFilter{})
		require.NoError(t, err)
		assert.Equal(t, "original", second[0].Message)
	})
}

func TestMemoryPortAgentTasks(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPort()

	_, ok := p.GetAgentTask("t1")
	assert.False(t, ok)

	started := time.Now().UTC()
	require.NoError(t, p.UpsertAgentTask(ctx, "t1", TaskUpdate{
		Status:    "running",
		StartedAt: &started,
	}))

	// A later update merges field by field; zero values leave the row
	// untouched.
	completed := started.Add(3 * time.Second)
	require.NoError(t, p.UpsertAgentTask(ctx, "t1", TaskUpdate{
		Status:        "completed",
		ResultSummary: "built 4 files",
		CompletedAt:   &completed,
		DurationMS:    3000,
	}))

	got, ok := p.GetAgentTask("t1")
	require.True(t, ok)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, "built 4 files", got.ResultSummary)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, started, *got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, int64(3000), got.DurationMS)

	require.NoError(t, p.UpsertAgentTask(ctx, "t1", TaskUpdate{Error: "late warning"}))
	got, _ = p.GetAgentTask("t1")
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, "late warning", got.Error)
}

func TestMemoryPortArtifacts(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPort()

	missing, err := p.LoadArtifact(ctx, "none")
	require.NoError(t, err)
	assert.Nil(t, missing)

	a, err := artifact.New(artifact.TypeFile, "scaffolder", "content", map[string]interface{}{
		artifact.MetaFilePath: "index.html",
	})
	require.NoError(t, err)
	a.ProjectID = "p1"
	require.NoError(t, p.UpsertArtifact(ctx, a))

	loaded, err := p.LoadArtifact(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, a.ID, loaded.ID)
	assert.Equal(t, "index.html", loaded.MetaString(artifact.MetaFilePath))

	// Stored state is isolated from caller mutation.
	loaded.Metadata[artifact.MetaFilePath] = "changed"
	again, err := p.LoadArtifact(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "index.html", again.MetaString(artifact.MetaFilePath))

	// Status transitions overwrite in place.
	a.Status = artifact.StatusSuperseded
	require.NoError(t, p.UpsertArtifact(ctx, a))
	final, err := p.LoadArtifact(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusSuperseded, final.Status)
}

func TestProvide(t *testing.T) {
	ctx := context.Background()
	log := logger.Default()

	t.Run("defaults to memory", func(t *testing.T) {
		p, err := Provide(ctx, &config.DatabaseConfig{}, log)
		require.NoError(t, err)
		defer p.Close()
		_, ok := p.(*MemoryPort)
		assert.True(t, ok)
	})

	t.Run("sqlite driver", func(t *testing.T) {
		p, err := Provide(ctx, &config.DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(t.TempDir(), "codi.db"),
		}, log)
		require.NoError(t, err)
		defer p.Close()
		_, ok := p.(*SQLitePort)
		assert.True(t, ok)
	})

	t.Run("rejects unknown drivers", func(t *testing.T) {
		_, err := Provide(ctx, &config.DatabaseConfig{Driver: "oracle"}, log)
		require.Error(t, err)
	})
}
