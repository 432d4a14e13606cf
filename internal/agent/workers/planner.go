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

// Planner turns a user request into a plan artifact awaiting review.
// Approval arrives out of band, through the agent signal channel, and
// supersedes the plan with status=approved.
type Planner struct {
	base
	modelID string
}

var (
	_ agent.Producer   = (*Planner)(nil)
	_ agent.Subscriber = (*Planner)(nil)
)

// NewPlanner creates the planning worker.
func NewPlanner(d Deps, modelID string) *Planner {
	return &Planner{base: newBase("planner", d), modelID: modelID}
}

func (p *Planner) Produces() []artifact.Type {
	return []artifact.Type{artifact.TypePlan, artifact.TypeAnalysis}
}

func (p *Planner) SubscribesTo() []signal.Signal {
	return []signal.Signal{signal.NeedsAnalysis, signal.IntentParsed}
}

func (p *Planner) HandleSignal(ctx context.Context, event *signal.Event) error {
	request, _ := event.Context["user_message"].(string)
	if request == "" {
		request = "Plan the next step for this project."
	}

	content, err := p.draft(ctx, request)
	if err != nil {
		return fmt.Errorf("plan drafting: %w", err)
	}

	a, err := p.writer.ProducePlanArtifact(ctx, content, artifact.PlanPendingReview)
	if err != nil {
		return err
	}

	p.logger.Info("plan drafted",
		zap.String("project_id", event.ProjectID),
		zap.String("artifact_id", a.ID))

	p.broadcast(ctx, "user_input_required", map[string]interface{}{
		"reason":      "plan_review",
		"artifact_id": a.ID,
	})
	p.emitter.ResolveSignal(event.Signal)
	return nil
}

func (p *Planner) draft(ctx context.Context, request string) (string, error) {
	if p.llm == nil || p.modelID == "" {
		return fmt.Sprintf("Plan:\n1. %s\n2. Build the project.\n3. Publish a preview.\n", request), nil
	}
	reply, err := p.llm.Invoke(ctx, p.modelID, []ports.ChatMessage{
		{Role: ports.RoleSystem, Content: "You write short numbered implementation plans for coding tasks."},
		{Role: ports.RoleUser, Content: request},
	}, nil)
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}
