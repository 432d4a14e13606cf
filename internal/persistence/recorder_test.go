package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/common/logger"
)

func TestOperationRecorder(t *testing.T) {
	ctx := context.Background()

	newRecorder := func(t *testing.T) (*OperationRecorder, *MemoryPort) {
		t.Helper()
		port := NewMemoryPort()
		return NewOperationRecorder(port, logger.Default()), port
	}

	upsert := func(t *testing.T, r *OperationRecorder, artifactType artifact.Type, producer string, content interface{}, metadata map[string]interface{}) *artifact.Artifact {
		t.Helper()
		a, err := artifact.New(artifactType, producer, content, metadata)
		require.NoError(t, err)
		a.ProjectID = "p1"
		require.NoError(t, r.UpsertArtifact(ctx, a))
		return a
	}

	only := func(t *testing.T, port *MemoryPort, opType OperationType) *OperationLogRecord {
		t.Helper()
		recs, err := port.ListOperationLogs(ctx, OperationLogFilter{OperationType: opType})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		return recs[0]
	}

	t.Run("build outcomes", func(t *testing.T) {
		r, port := newRecorder(t)
		upsert(t, r, artifact.TypeBuild, "builder", "ok", map[string]interface{}{
			artifact.MetaSuccess: true,
		})
		upsert(t, r, artifact.TypeBuild, "builder", "tsc: 3 errors", map[string]interface{}{
			artifact.MetaSuccess: false,
		})

		completed := only(t, port, OpBuildCompleted)
		assert.Equal(t, RecordSuccess, completed.Status)
		assert.Equal(t, AgentBuilder, completed.AgentType)
		assert.Equal(t, "p1", completed.ProjectID)

		failed := only(t, port, OpBuildFailed)
		assert.Equal(t, RecordFailed, failed.Status)
		assert.Equal(t, "tsc: 3 errors", failed.ErrorMessage)
	})

	t.Run("file, preview, git and plan outcomes", func(t *testing.T) {
		r, port := newRecorder(t)
		upsert(t, r, artifact.TypeFile, "scaffolder", "<html></html>", map[string]interface{}{
			artifact.MetaFilePath:  "index.html",
			artifact.MetaOperation: artifact.FileOpCreate,
		})
		upsert(t, r, artifact.TypePreview, "previewer", "up", map[string]interface{}{
			artifact.MetaURL: "http://localhost:3000",
		})
		upsert(t, r, artifact.TypeLog, "gitops", "checkpoint: agent changes", map[string]interface{}{
			artifact.MetaOperation: "commit",
			"commit_sha":           "abc123",
			"branch":               "main",
		})
		upsert(t, r, artifact.TypeLog, "gitops", "pushed", map[string]interface{}{
			artifact.MetaOperation: "push",
			"branch":               "main",
		})
		upsert(t, r, artifact.TypePlan, "planner", "the plan", map[string]interface{}{
			artifact.MetaPlanStatus: artifact.PlanApproved,
		})

		assert.Equal(t, "index.html", only(t, port, OpFileWritten).FilePath)
		assert.Equal(t, "http://localhost:3000", only(t, port, OpPreviewDeployed).Message)

		commit := only(t, port, OpGitCommit)
		assert.Equal(t, "abc123", commit.CommitSHA)
		assert.Equal(t, "main", commit.BranchName)
		assert.Equal(t, AgentGitOps, commit.AgentType)

		assert.Equal(t, "main", only(t, port, OpGitPush).BranchName)
		assert.Equal(t, RecordSuccess, only(t, port, OpPlanReviewed).Status)
	})

	t.Run("rejected plan records a failed review", func(t *testing.T) {
		r, port := newRecorder(t)
		upsert(t, r, artifact.TypePlan, "planner", "the plan", map[string]interface{}{
			artifact.MetaPlanStatus: artifact.PlanRejected,
		})
		rec := only(t, port, OpPlanReviewed)
		assert.Equal(t, RecordFailed, rec.Status)
	})

	t.Run("silent artifact types leave no record", func(t *testing.T) {
		r, port := newRecorder(t)
		upsert(t, r, artifact.TypeError, "builder", "boom", nil)
		upsert(t, r, artifact.TypeLog, "builder", "plain log", nil)
		upsert(t, r, artifact.TypePlan, "planner", "draft", map[string]interface{}{
			artifact.MetaPlanStatus: artifact.PlanPendingReview,
		})
		upsert(t, r, artifact.TypeAnalysis, "planner", "notes", nil)

		recs, err := port.ListOperationLogs(ctx, OperationLogFilter{})
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("status transitions are not re-recorded", func(t *testing.T) {
		r, port := newRecorder(t)
		a := upsert(t, r, artifact.TypeBuild, "builder", "ok", map[string]interface{}{
			artifact.MetaSuccess: true,
		})

		a.Status = artifact.StatusSuperseded
		require.NoError(t, r.UpsertArtifact(ctx, a))

		recs, err := port.ListOperationLogs(ctx, OperationLogFilter{})
		require.NoError(t, err)
		assert.Len(t, recs, 1)

		// The artifact upsert itself still went through.
		stored, err := r.LoadArtifact(ctx, a.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, artifact.StatusSuperseded, stored.Status)
	})
}
