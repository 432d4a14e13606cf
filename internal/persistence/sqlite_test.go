package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/common/logger"
)

func newSQLiteTestPort(t *testing.T) *SQLitePort {
	t.Helper()
	p, err := NewSQLitePort(filepath.Join(t.TempDir(), "codi.db"), logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestSQLitePortOperationLogs(t *testing.T) {
	ctx := context.Background()
	p := newSQLiteTestPort(t)

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	seed := []*OperationLogRecord{
		{ProjectID: "p1", UserID: "u1", OperationType: OpAgentTaskStarted, AgentType: AgentBuilder, Message: "one", CreatedAt: base},
		{ProjectID: "p1", UserID: "u1", OperationType: OpAgentTaskCompleted, AgentType: AgentBuilder, Message: "two", CreatedAt: base.Add(time.Minute)},
		{ProjectID: "p2", UserID: "u2", OperationType: OpGitCommit, AgentType: AgentGitOps, Message: "three", CommitSHA: "abc123", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, rec := range seed {
		require.NoError(t, p.InsertOperationLog(ctx, rec))
		assert.NotEmpty(t, rec.ID)
	}

	t.Run("newest first across projects", func(t *testing.T) {
		all, err := p.ListOperationLogs(ctx, OperationLogFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "three", all[0].Message)
		assert.Equal(t, OpGitCommit, all[0].OperationType)
		assert.Equal(t, "abc123", all[0].CommitSHA)
	})

	t.Run("project and type filters", func(t *testing.T) {
		p1, err := p.ListOperationLogs(ctx, OperationLogFilter{ProjectID: "p1"})
		require.NoError(t, err)
		assert.Len(t, p1, 2)

		completed, err := p.ListOperationLogs(ctx, OperationLogFilter{OperationType: OpAgentTaskCompleted})
		require.NoError(t, err)
		require.Len(t, completed, 1)
		assert.Equal(t, "two", completed[0].Message)
	})

	t.Run("since and limit", func(t *testing.T) {
		recent, err := p.ListOperationLogs(ctx, OperationLogFilter{Since: base.Add(90 * time.Second)})
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, "three", recent[0].Message)

		limited, err := p.ListOperationLogs(ctx, OperationLogFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})
}

func TestSQLitePortAgentTasks(t *testing.T) {
	ctx := context.Background()
	p := newSQLiteTestPort(t)

	started := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, p.UpsertAgentTask(ctx, "t1", TaskUpdate{
		Status:    "running",
		StartedAt: &started,
	}))

	completed := started.Add(3 * time.Second)
	require.NoError(t, p.UpsertAgentTask(ctx, "t1", TaskUpdate{
		Status:        "completed",
		ResultSummary: "built 4 files",
		CompletedAt:   &completed,
		DurationMS:    3000,
	}))

	var status, summary string
	var startedAt, completedAt sql.NullTime
	var durationMS int64
	require.NoError(t, p.db.QueryRowContext(ctx, `
		SELECT status, result_summary, started_at, completed_at, duration_ms
		FROM agent_tasks WHERE task_id = ?`, "t1").
		Scan(&status, &summary, &startedAt, &completedAt, &durationMS))

	assert.Equal(t, "completed", status)
	assert.Equal(t, "built 4 files", summary)
	assert.True(t, startedAt.Valid, "merge must keep started_at")
	assert.True(t, completedAt.Valid)
	assert.Equal(t, int64(3000), durationMS)
}

func TestSQLitePortArtifacts(t *testing.T) {
	ctx := context.Background()
	p := newSQLiteTestPort(t)

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
	assert.Equal(t, a.ContentHash, loaded.ContentHash)
	assert.Equal(t, "index.html", loaded.MetaString(artifact.MetaFilePath))

	a.Status = artifact.StatusSuperseded
	require.NoError(t, p.UpsertArtifact(ctx, a))
	final, err := p.LoadArtifact(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusSuperseded, final.Status)
}
