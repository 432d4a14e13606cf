package orchestrator

import (
	"context"

	"github.com/codi-dev/codi/internal/artifact"
)

// ApprovePlan supersedes the pending plan with an approved copy.
// A project with no pending plan is a no-op.
func ApprovePlan(ctx context.Context, store *artifact.Store, reviewer string) error {
	return reviewPlan(ctx, store, artifact.PlanApproved, reviewer)
}

// RejectPlan supersedes the pending plan with a rejected copy.
func RejectPlan(ctx context.Context, store *artifact.Store, reviewer string) error {
	return reviewPlan(ctx, store, artifact.PlanRejected, reviewer)
}

func reviewPlan(ctx context.Context, store *artifact.Store, status, reviewer string) error {
	pending := store.PendingPlan()
	if pending == nil {
		return nil
	}
	_, err := store.Supersede(ctx, pending.ID, pending.Content, map[string]interface{}{
		artifact.MetaPlanStatus: status,
		"reviewed_by":           reviewer,
	})
	return err
}
