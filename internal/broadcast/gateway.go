package broadcast

import (
	"context"

	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/common/logger"
	"github.com/codi-dev/codi/internal/events"
	"github.com/codi-dev/codi/internal/events/bus"
)

// Gateway is the receiving half of the bridge: it subscribes to the
// global WebSocket channel and dispatches each envelope to the local
// connection registry.
type Gateway struct {
	bus      bus.EventBus
	registry *Registry
	logger   *logger.Logger

	sub bus.Subscription
}

// NewGateway creates the gateway-side dispatcher.
func NewGateway(b bus.EventBus, registry *Registry, log *logger.Logger) *Gateway {
	return &Gateway{bus: b, registry: registry, logger: log.Named("gateway")}
}

// Start subscribes to the broadcast channel. Call Stop to detach.
func (g *Gateway) Start() error {
	sub, err := g.bus.Subscribe(events.BroadcastChannel, g.handle)
	if err != nil {
		return err
	}
	g.sub = sub
	g.logger.Info("broadcast gateway listening", zap.String("channel", events.BroadcastChannel))
	return nil
}

// Stop detaches from the bus. Idempotent.
func (g *Gateway) Stop() {
	if g.sub != nil {
		_ = g.sub.Unsubscribe()
		g.sub = nil
	}
}

// handle dispatches one bus envelope to the project's local sockets.
// Malformed envelopes are dropped with a log line; a bad publisher must
// not take down delivery for everyone else.
func (g *Gateway) handle(ctx context.Context, event *bus.Event) error {
	projectID, _ := event.Data["project_id"].(string)
	message, _ := event.Data["message"].(map[string]interface{})
	if projectID == "" || message == nil {
		g.logger.Warn("malformed broadcast envelope", zap.String("event_id", event.ID))
		return nil
	}
	g.registry.SendToLocalConnections(projectID, message)
	return nil
}
