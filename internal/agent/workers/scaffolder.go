package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/agent"
	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/ports"
	"github.com/codi-dev/codi/internal/signal"
)

// Scaffolder writes the initial file set of a project. When an LLM is
// available it asks for a file plan; otherwise it falls back to a
// minimal static scaffold so convergence can proceed offline.
type Scaffolder struct {
	base
	modelID string
}

var (
	_ agent.Producer   = (*Scaffolder)(nil)
	_ agent.Subscriber = (*Scaffolder)(nil)
)

// NewScaffolder creates the scaffolding worker.
func NewScaffolder(d Deps, modelID string) *Scaffolder {
	return &Scaffolder{base: newBase("scaffolder", d), modelID: modelID}
}

func (s *Scaffolder) Produces() []artifact.Type {
	return []artifact.Type{artifact.TypeFile}
}

func (s *Scaffolder) SubscribesTo() []signal.Signal {
	return []signal.Signal{signal.NeedsScaffold, signal.NeedsImplementation}
}

func (s *Scaffolder) HandleSignal(ctx context.Context, event *signal.Event) error {
	request, _ := event.Context["user_message"].(string)

	files, err := s.planFiles(ctx, request)
	if err != nil {
		return fmt.Errorf("scaffold planning: %w", err)
	}

	ids := make([]string, 0, len(files))
	for path, content := range files {
		if s.tools.FS != nil {
			if err := s.tools.FS.Write(ctx, path, []byte(content)); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
		}
		a, err := s.writer.ProduceFileArtifact(ctx, path, artifact.FileOpCreate, content)
		if err != nil {
			return err
		}
		ids = append(ids, a.ID)
		s.broadcast(ctx, "file_operation", map[string]interface{}{
			"file_path": path,
			"operation": artifact.FileOpCreate,
		})
	}

	s.logger.Info("scaffold written",
		zap.String("project_id", event.ProjectID),
		zap.Int("files", len(files)))

	return s.complete(ctx, event.Signal, signal.NeedsBuild, nil, ids)
}

// planFiles decides what to scaffold. The LLM reply is expected to be a
// JSON object mapping path to content; anything else falls back to the
// static scaffold.
func (s *Scaffolder) planFiles(ctx context.Context, request string) (map[string]string, error) {
	if s.llm == nil || s.modelID == "" {
		return staticScaffold(), nil
	}

	reply, err := s.llm.Invoke(ctx, s.modelID, []ports.ChatMessage{
		{Role: ports.RoleSystem, Content: "You scaffold web projects. Reply with a JSON object mapping file path to full file content. No prose."},
		{Role: ports.RoleUser, Content: request},
	}, nil)
	if err != nil {
		return nil, err
	}

	var files map[string]string
	raw := strings.TrimSpace(reply.Content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.Trim(raw, "`\n ")
	if err := json.Unmarshal([]byte(raw), &files); err != nil || len(files) == 0 {
		s.logger.Warn("unusable scaffold plan, using fallback", zap.Error(err))
		return staticScaffold(), nil
	}
	return files, nil
}

func staticScaffold() map[string]string {
	return map[string]string{
		"index.html": "<!doctype html>\n<html>\n<head><title>hello</title></head>\n<body><h1>Hello, world</h1></body>\n</html>\n",
		"README.md":  "# Project\n\nScaffolded starting point.\n",
	}
}
