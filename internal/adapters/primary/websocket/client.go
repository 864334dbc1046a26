package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/plategrid/backoffice-backend/internal/core/domain"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer. No traffic
	// within this window means the broker closes the connection.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// Client is a middleman between one staff websocket connection and the hub.
type Client struct {
	Hub *Hub

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound events.
	Send chan domain.Event

	// ClientID identifies this connection in join acks and diagnostics.
	ClientID uuid.UUID

	// scopeID is the restaurant scope this connection joined, empty until
	// a successful join.
	scopeID string

	// closeOnce ensures the Send channel is only closed once
	closeOnce sync.Once

	// mu protects scopeID
	mu sync.RWMutex

	logger *slog.Logger
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.New()
	return &Client{
		Hub:      hub,
		Conn:     conn,
		Send:     make(chan domain.Event, 256),
		ClientID: id,
		logger:   logger.With("client_id", id.String()),
	}
}

// CloseSend safely closes the Send channel exactly once
func (c *Client) CloseSend() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

func (c *Client) setScope(scopeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopeID = scopeID
}

// Scope returns the scope this client joined, or "" if unjoined.
func (c *Client) Scope() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scopeID
}

// queue enqueues an event without blocking. It reports false when the
// client's send buffer is full.
func (c *Client) queue(event domain.Event) bool {
	select {
	case c.Send <- event:
		return true
	default:
		return false
	}
}

// sendAck delivers the join acknowledgement to this connection only.
func (c *Client) sendAck(ack domain.JoinAck) {
	c.queue(domain.Event{
		Type:    "join_ack",
		ScopeID: ack.ScopeID,
		Payload: ack,
		At:      time.Now().UTC(),
	})
}

// sendError delivers an error payload to this connection only. It never
// terminates the connection.
func (c *Client) sendError(code, message string) {
	c.queue(domain.Event{
		Type:    "error",
		Payload: domain.ErrorPayload{Code: code, Message: message},
		At:      time.Now().UTC(),
	})
}

// ReadPump pumps messages from the websocket connection to the hub.
// This method runs in its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("failed to set read deadline", "error", err)
		return
	}

	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Error("failed to set read deadline in pong handler", "error", err)
		}
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		c.handleIncomingMessage(message)
	}
}

// WritePump pumps events from the hub to the websocket connection.
// This method runs in its own goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline", "error", err)
				return
			}

			if !ok {
				// The hub closed the channel. Send close message.
				if err := c.Conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug("failed to send close message", "error", err)
				}
				return
			}

			if err := c.writeJSON(event); err != nil {
				c.logger.Error("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline for ping", "error", err)
				return
			}

			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

// writeJSON writes a JSON message to the websocket connection
func (c *Client) writeJSON(event domain.Event) error {
	w, err := c.Conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(w).Encode(event); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}

// --- Incoming Message Handling ---

// handleIncomingMessage processes messages received from the client
func (c *Client) handleIncomingMessage(message []byte) {
	var msg domain.ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("failed to unmarshal client message", "error", err)
		c.sendError("BAD_REQUEST", "malformed message")
		return
	}

	switch msg.Type {
	case "JOIN_SCOPE":
		c.handleJoin(msg.Payload)

	case "PING":
		// Client-side keep-alive, respond with pong
		c.sendPong()

	default:
		c.logger.Debug("received unknown message type", "type", msg.Type)
	}
}

func (c *Client) handleJoin(payload json.RawMessage) {
	var req domain.JoinRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.logger.Warn("failed to unmarshal join payload", "error", err)
		c.sendError("BAD_REQUEST", "malformed join payload")
		return
	}

	c.Hub.JoinScope(c, req)
}

func (c *Client) sendPong() {
	c.queue(domain.Event{Type: "PONG", At: time.Now().UTC()})
}
