package websocket

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/broadcast"
	"github.com/codi-dev/codi/internal/common/logger"
	"github.com/codi-dev/codi/internal/events"
	"github.com/codi-dev/codi/internal/events/bus"
	"github.com/codi-dev/codi/pkg/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway sits behind the platform's reverse proxy; origin
	// policy is enforced there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler owns the upgrade endpoint and inbound action routing.
type Handler struct {
	registry  *broadcast.Registry
	publisher *broadcast.Publisher
	bus       bus.EventBus
	logger    *logger.Logger
}

// NewHandler creates the WebSocket handler.
func NewHandler(registry *broadcast.Registry, publisher *broadcast.Publisher, b bus.EventBus, log *logger.Logger) *Handler {
	return &Handler{
		registry:  registry,
		publisher: publisher,
		bus:       b,
		logger:    log.Named("websocket"),
	}
}

// RegisterRoutes mounts the upgrade endpoint.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws", h.serve)
}

func (h *Handler) serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, h, h.logger)
	h.logger.Debug("client connected", zap.String("client_id", client.ID))

	go client.WritePump()
	go client.ReadPump(c.Request.Context())
}

type subscribePayload struct {
	ProjectID string `json:"project_id"`
}

type userMessagePayload struct {
	ProjectID     string `json:"project_id"`
	UserID        string `json:"user_id"`
	Message       string `json:"message"`
	ProjectFolder string `json:"project_folder,omitempty"`
}

type userInputPayload struct {
	ProjectID  string                 `json:"project_id"`
	SignalType string                 `json:"signal_type"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// handleMessage routes one inbound envelope.
func (h *Handler) handleMessage(ctx context.Context, c *Client, msg *ws.Message) {
	switch msg.Action {
	case ws.ActionPing:
		resp, _ := ws.NewResponse(msg.ID, ws.EventPong, map[string]interface{}{"ok": true})
		c.sendEnvelope(resp)

	case ws.ActionSubscribe:
		var p subscribePayload
		if err := msg.ParsePayload(&p); err != nil || p.ProjectID == "" {
			c.sendError(msg.ID, msg.Action, ws.ErrorCodeValidation, "project_id is required")
			return
		}
		h.registry.Connect(c, p.ProjectID)
		resp, _ := ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
			"success":    true,
			"project_id": p.ProjectID,
		})
		c.sendEnvelope(resp)

	case ws.ActionUnsubscribe:
		var p subscribePayload
		if err := msg.ParsePayload(&p); err != nil || p.ProjectID == "" {
			c.sendError(msg.ID, msg.Action, ws.ErrorCodeValidation, "project_id is required")
			return
		}
		h.registry.Unsubscribe(c, p.ProjectID)
		resp, _ := ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
			"success":    true,
			"project_id": p.ProjectID,
		})
		c.sendEnvelope(resp)

	case ws.ActionUserMessage:
		h.handleUserMessage(ctx, c, msg)

	case ws.ActionUserInputResponse:
		h.handleUserInput(ctx, c, msg)

	default:
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeUnknownAction, "unknown action: "+msg.Action)
	}
}

// handleUserMessage hands the turn request to a worker process over
// the bus and acknowledges with the generated task id.
func (h *Handler) handleUserMessage(ctx context.Context, c *Client, msg *ws.Message) {
	var p userMessagePayload
	if err := msg.ParsePayload(&p); err != nil || p.ProjectID == "" || p.Message == "" {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeValidation, "project_id and message are required")
		return
	}

	taskID := uuid.New().String()
	event := bus.NewEvent("turn.request", "gateway", map[string]interface{}{
		"task_id":        taskID,
		"project_id":     p.ProjectID,
		"user_id":        p.UserID,
		"user_message":   p.Message,
		"project_folder": p.ProjectFolder,
	})
	if err := h.bus.Publish(ctx, events.TurnRequestChannel, event); err != nil {
		h.logger.Error("turn request publish failed", zap.Error(err))
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "could not submit the request")
		return
	}

	// The client sees progress for this turn; subscribe it implicitly.
	h.registry.Connect(c, p.ProjectID)

	resp, _ := ws.NewResponse(msg.ID, ws.EventTaskSubmitted, map[string]interface{}{
		"task_id":    taskID,
		"project_id": p.ProjectID,
	})
	c.sendEnvelope(resp)
}

// handleUserInput forwards a front-end decision (plan approval etc.)
// onto the per-project signal channel.
func (h *Handler) handleUserInput(ctx context.Context, c *Client, msg *ws.Message) {
	var p userInputPayload
	if err := msg.ParsePayload(&p); err != nil || p.ProjectID == "" || p.SignalType == "" {
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeValidation, "project_id and signal_type are required")
		return
	}

	if err := h.publisher.SendAgentSignal(ctx, p.ProjectID, p.SignalType, p.Data); err != nil {
		h.logger.Error("agent signal publish failed", zap.Error(err))
		c.sendError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "could not deliver the response")
		return
	}

	resp, _ := ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"success": true})
	c.sendEnvelope(resp)
}
