// Package broadcast bridges worker processes and the WebSocket gateway:
// the publisher side pushes progress envelopes onto the shared bus, the
// gateway side fans them out to local per-project connections.
package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/codi-dev/codi/internal/common/logger"
	"github.com/codi-dev/codi/internal/events"
	"github.com/codi-dev/codi/internal/events/bus"
)

// Publisher is the worker-side half of the bridge. Any process can
// hold one; messages cross process boundaries through the bus.
type Publisher struct {
	bus    bus.EventBus
	source string
	logger *logger.Logger
}

// NewPublisher creates a publisher identified by source in envelopes.
func NewPublisher(b bus.EventBus, source string, log *logger.Logger) *Publisher {
	return &Publisher{bus: b, source: source, logger: log.Named("broadcast")}
}

// Publish sends a progress message to every gateway subscribed to the
// global WebSocket channel. A timestamp is added when missing.
func (p *Publisher) Publish(ctx context.Context, projectID string, message map[string]interface{}) error {
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	if _, ok := message["timestamp"]; !ok {
		message["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}

	envelope := map[string]interface{}{
		"project_id": projectID,
		"message":    message,
	}
	event := bus.NewEvent("ws.message", p.source, envelope)
	return p.bus.Publish(ctx, events.BroadcastChannel, event)
}

// SendAgentSignal publishes onto the per-project signal channel the
// worker processes subscribe to, e.g. plan approvals from the front end.
func (p *Publisher) SendAgentSignal(ctx context.Context, projectID, signalType string, data map[string]interface{}) error {
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	payload := map[string]interface{}{
		"signal_type": signalType,
		"project_id":  projectID,
		"data":        data,
	}
	event := bus.NewEvent("agent.signal", p.source, payload)
	return p.bus.Publish(ctx, events.AgentSignalChannel(projectID), event)
}
