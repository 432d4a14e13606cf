package persistence

import (
	"context"

	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/common/logger"
)

// OperationRecorder decorates a Port's artifact surface with the audit
// trail: build, file, preview, git and plan outcomes become operation
// log records as their artifacts are persisted. Wired at bootstrap
// between the artifact stores and the backend, so every worker's
// artifact write is recorded without the worker touching persistence.
type OperationRecorder struct {
	port   Port
	logger *logger.Logger
}

var _ artifact.MetadataStore = (*OperationRecorder)(nil)

// NewOperationRecorder wraps port.
func NewOperationRecorder(port Port, log *logger.Logger) *OperationRecorder {
	return &OperationRecorder{port: port, logger: log.Named("oplog")}
}

// UpsertArtifact records the operation implied by a newly active
// artifact, then forwards the upsert. Status transitions of existing
// artifacts pass through without a record.
func (r *OperationRecorder) UpsertArtifact(ctx context.Context, a *artifact.Artifact) error {
	if a.Status == artifact.StatusActive {
		if rec := recordForArtifact(a); rec != nil {
			if err := r.port.InsertOperationLog(ctx, rec); err != nil {
				r.logger.Warn("operation log insert failed",
					zap.String("artifact_id", a.ID),
					zap.Error(err))
			}
		}
	}
	return r.port.UpsertArtifact(ctx, a)
}

func (r *OperationRecorder) LoadArtifact(ctx context.Context, id string) (*artifact.Artifact, error) {
	return r.port.LoadArtifact(ctx, id)
}

// recordForArtifact maps one artifact onto its audit record, or nil
// when the artifact type carries no operation semantics.
func recordForArtifact(a *artifact.Artifact) *OperationLogRecord {
	rec := &OperationLogRecord{
		ProjectID: a.ProjectID,
		AgentType: AgentType(a.Producer),
		Status:    RecordSuccess,
	}

	switch a.Type {
	case artifact.TypeBuild:
		if a.MetaBool(artifact.MetaSuccess) {
			rec.OperationType = OpBuildCompleted
			rec.Message = "build succeeded"
		} else {
			rec.OperationType = OpBuildFailed
			rec.Status = RecordFailed
			rec.Message = "build failed"
			rec.ErrorMessage = a.ContentString()
		}

	case artifact.TypeFile:
		rec.OperationType = OpFileWritten
		rec.FilePath = a.MetaString(artifact.MetaFilePath)
		rec.Message = rec.FilePath

	case artifact.TypePreview:
		rec.OperationType = OpPreviewDeployed
		rec.Message = a.MetaString(artifact.MetaURL)

	case artifact.TypeLog:
		switch a.MetaString(artifact.MetaOperation) {
		case "commit":
			rec.OperationType = OpGitCommit
			rec.CommitSHA = a.MetaString("commit_sha")
			rec.BranchName = a.MetaString("branch")
			rec.Message = a.ContentString()
		case "push":
			rec.OperationType = OpGitPush
			rec.BranchName = a.MetaString("branch")
			rec.Message = a.ContentString()
		default:
			return nil
		}

	case artifact.TypePlan:
		switch a.MetaString(artifact.MetaPlanStatus) {
		case artifact.PlanApproved:
			rec.OperationType = OpPlanReviewed
			rec.Message = "plan approved"
		case artifact.PlanRejected:
			rec.OperationType = OpPlanReviewed
			rec.Status = RecordFailed
			rec.Message = "plan rejected"
		default:
			// A freshly drafted plan is not a review outcome.
			return nil
		}

	default:
		return nil
	}
	return rec
}
