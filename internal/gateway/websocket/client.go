// Package websocket owns the gateway's client connections: the gin
// upgrade endpoint, per-connection read/write pumps, and the inbound
// action handling that feeds the bus.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codi-dev/codi/internal/common/logger"
	"github.com/codi-dev/codi/pkg/ws"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Client is one WebSocket connection.
type Client struct {
	ID      string
	conn    *websocket.Conn
	handler *Handler
	send    chan []byte
	logger  *logger.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, handler *Handler, log *logger.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		ID:      id,
		conn:    conn,
		handler: handler,
		send:    make(chan []byte, 256),
		logger:  log.WithFields(zap.String("client_id", id)),
	}
}

// SendJSON queues v for delivery. Satisfies the broadcast registry's
// connection contract; a full buffer or closed connection reports an
// error so the registry can drop the client.
func (c *Client) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// ReadPump pumps inbound messages until the connection dies.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.handler.registry.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", zap.Error(err))
			}
			return
		}

		var msg ws.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("", "", ws.ErrorCodeBadRequest, "invalid message format")
			continue
		}
		c.handler.handleMessage(ctx, c, &msg)
	}
}

// WritePump drains the send queue onto the socket and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendEnvelope(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal envelope", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client send buffer full")
	}
}

func (c *Client) sendError(id, action, code, message string) {
	msg, err := ws.NewError(id, action, code, message, nil)
	if err != nil {
		return
	}
	c.sendEnvelope(msg)
}
