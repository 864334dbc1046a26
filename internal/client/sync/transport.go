package sync

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/plategrid/backoffice-backend/internal/core/domain"
	apperrors "github.com/plategrid/backoffice-backend/internal/core/errors"
)

// PushTransport is the push channel the agent drives. Implementations must
// be safe for the agent's connect/close/read pattern; all failures surface
// as errors or a dead Alive flag, never panics.
type PushTransport interface {
	// Connect opens the channel. Calling Connect on an open transport
	// returns ErrAlreadyConnected.
	Connect(ctx context.Context) error

	// Join requests membership in a scope and blocks until the broker acks,
	// replies with an error payload, or ctx expires.
	Join(ctx context.Context, scopeID, authToken string) error

	// Events returns the channel of relayed events. It is closed when the
	// transport dies.
	Events() <-chan domain.Event

	// Alive reports whether the transport still believes the channel is open.
	Alive() bool

	// Close tears the channel down. Safe to call on a closed transport.
	Close() error
}

const (
	clientPongWait  = 90 * time.Second
	clientWriteWait = 10 * time.Second
)

// wireEvent mirrors domain.Event with an undecoded payload.
type wireEvent struct {
	Type    domain.EventType `json:"type"`
	ScopeID string           `json:"scopeId"`
	Payload json.RawMessage  `json:"payload"`
	At      time.Time        `json:"timestamp"`
}

// WebsocketTransport is the production PushTransport over gorilla/websocket.
type WebsocketTransport struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	events chan domain.Event
	alive  atomic.Bool
}

var _ PushTransport = (*WebsocketTransport)(nil)

// NewWebsocketTransport creates a transport dialing the given broker URL.
// The token authenticates the upgrade request via query parameter.
func NewWebsocketTransport(url, token string, logger *slog.Logger) *WebsocketTransport {
	return &WebsocketTransport{
		url:    url,
		token:  token,
		dialer: websocket.DefaultDialer,
		logger: logger.With("component", "push_transport"),
	}
}

// Connect dials the broker and starts the read loop.
func (t *WebsocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		if t.alive.Load() {
			return apperrors.ErrAlreadyConnected
		}
		// The read loop died but nobody called Close. Discard the stale
		// connection so the channel can be re-established.
		_ = t.conn.Close()
		t.conn = nil
	}

	conn, _, err := t.dialer.DialContext(ctx, t.url+"?token="+t.token, nil)
	if err != nil {
		return apperrors.NewTransportError("dial", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(clientPongWait)); err != nil {
		_ = conn.Close()
		return apperrors.NewTransportError("dial", err)
	}

	// The broker pings on an interval; extend the deadline and pong back.
	conn.SetPingHandler(func(appData string) error {
		if err := conn.SetReadDeadline(time.Now().Add(clientPongWait)); err != nil {
			return err
		}
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(clientWriteWait))
	})

	t.conn = conn
	t.events = make(chan domain.Event, 64)
	t.alive.Store(true)

	go t.readLoop(conn, t.events)
	return nil
}

// Join sends the join request and waits for the broker's acknowledgement.
func (t *WebsocketTransport) Join(ctx context.Context, scopeID, authToken string) error {
	t.mu.Lock()
	conn := t.conn
	events := t.events
	t.mu.Unlock()

	if conn == nil {
		return apperrors.NewTransportError("join", apperrors.ErrTransportClosed)
	}

	payload, err := json.Marshal(domain.JoinRequest{ScopeID: scopeID, AuthToken: authToken})
	if err != nil {
		return apperrors.NewTransportError("join", err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(clientWriteWait))
	if err := conn.WriteJSON(domain.ClientMessage{Type: "JOIN_SCOPE", Payload: payload}); err != nil {
		return apperrors.NewTransportError("join", err)
	}

	// The ack is ordered before any scope traffic on this connection.
	for {
		select {
		case <-ctx.Done():
			return apperrors.NewTransportError("join", apperrors.ErrConnectTimeout)

		case event, ok := <-events:
			if !ok {
				return apperrors.NewTransportError("join", apperrors.ErrTransportClosed)
			}

			switch event.Type {
			case "join_ack":
				return nil
			case "error":
				var ep domain.ErrorPayload
				if raw, isRaw := event.Payload.(json.RawMessage); isRaw {
					_ = json.Unmarshal(raw, &ep)
				}
				return apperrors.NewTransportError("join", errorPayloadErr(ep))
			default:
				// Pre-join noise (presence from a prior session), drop it.
			}
		}
	}
}

func errorPayloadErr(ep domain.ErrorPayload) error {
	if ep.Message != "" {
		return errorString(ep.Message)
	}
	return apperrors.ErrTransportClosed
}

type errorString string

func (e errorString) Error() string { return string(e) }

// Events returns the incoming event channel.
func (t *WebsocketTransport) Events() <-chan domain.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

// Alive reports whether the read loop still holds an open connection.
func (t *WebsocketTransport) Alive() bool {
	return t.alive.Load()
}

// Close tears down the connection. Safe to call repeatedly.
func (t *WebsocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	t.alive.Store(false)
	if conn == nil {
		return nil
	}

	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(clientWriteWait),
	)
	return conn.Close()
}

// readLoop decodes incoming frames into events until the connection dies.
func (t *WebsocketTransport) readLoop(conn *websocket.Conn, events chan domain.Event) {
	defer func() {
		t.alive.Store(false)
		close(events)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("push channel read error", "error", err)
			}
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(clientPongWait)); err != nil {
			return
		}

		var wire wireEvent
		if err := json.Unmarshal(message, &wire); err != nil {
			t.logger.Warn("failed to decode relayed event", "error", err)
			continue
		}

		select {
		case events <- domain.Event{Type: wire.Type, ScopeID: wire.ScopeID, Payload: wire.Payload, At: wire.At}:
		default:
			t.logger.Warn("event buffer full, dropping event", "event_type", wire.Type)
		}
	}
}
