package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/plategrid/backoffice-backend/internal/core/domain"
	apperrors "github.com/plategrid/backoffice-backend/internal/core/errors"
	"github.com/plategrid/backoffice-backend/internal/core/ports"
)

// Hub maintains the set of active Clients and fans events out to
// restaurant scopes. The scope map is instance-owned so independent hubs
// (e.g. under test) never interfere.
type Hub struct {
	// scopes maps restaurant scope IDs to joined clients. A client belongs
	// to at most one scope at a time.
	scopes map[string]map[*Client]bool

	// Broadcast channel for events. A single run goroutine drains it, which
	// preserves emission order per scope.
	broadcast chan domain.Event

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// mu protects the scopes map. It is mutated only on join/leave, never
	// by publish.
	mu sync.RWMutex

	logger *slog.Logger
}

// Ensure Hub implements the EventBroadcaster interface.
var _ ports.EventBroadcaster = (*Hub)(nil)

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		scopes:     make(map[string]map[*Client]bool),
		broadcast:  make(chan domain.Event, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		logger:     logger.With("component", "websocket_hub"),
	}
}

// Broadcast sends an event to the hub's internal broadcast channel.
// This method implements the ports.EventBroadcaster interface.
func (h *Hub) Broadcast(event domain.Event) error {
	select {
	case h.broadcast <- event:
		return nil
	default:
		h.logger.Warn("broadcast channel full, dropping event",
			"event_type", event.Type,
			"scope_id", event.ScopeID,
		)
		return nil
	}
}

// Run starts the hub's event loop. This MUST be run as a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.logger.Debug("client connected", "client_id", client.ClientID)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

// JoinScope adds a client to a scope's membership set. A missing scope id
// or blank token yields an error reply on that connection only; the
// connection itself stays open. Authorization of the token is the token
// verifier's job upstream; the hub only requires a non-empty token.
func (h *Hub) JoinScope(client *Client, req domain.JoinRequest) {
	if req.ScopeID == "" {
		client.sendError("VALIDATION_ERROR", apperrors.ErrScopeRequired.Error())
		return
	}
	if req.AuthToken == "" {
		client.sendError("VALIDATION_ERROR", apperrors.ErrTokenRequired.Error())
		return
	}

	h.mu.Lock()
	// A rejoin moves the client: drop its current membership first so the
	// old scope neither keeps a stale member nor leaks its bookkeeping entry.
	h.leaveScopeLocked(client)
	if h.scopes[req.ScopeID] == nil {
		h.scopes[req.ScopeID] = make(map[*Client]bool)
	}
	h.scopes[req.ScopeID][client] = true
	client.setScope(req.ScopeID)
	memberCount := len(h.scopes[req.ScopeID])

	members := make([]*Client, 0, memberCount)
	for member := range h.scopes[req.ScopeID] {
		members = append(members, member)
	}
	h.mu.Unlock()

	client.sendAck(domain.JoinAck{
		ScopeID:  req.ScopeID,
		ClientID: client.ClientID.String(),
		Status:   "connected",
	})

	// Tell existing members the membership count changed.
	presence := domain.Event{
		Type:    domain.EventScopePresence,
		ScopeID: req.ScopeID,
		Payload: domain.PresencePayload{ScopeID: req.ScopeID, MemberCount: memberCount},
		At:      time.Now().UTC(),
	}
	for _, member := range members {
		if member == client {
			continue
		}
		member.queue(presence)
	}

	h.logger.Info("client joined scope",
		"client_id", client.ClientID,
		"scope_id", req.ScopeID,
		"member_count", memberCount,
	)
}

// leaveScopeLocked removes a client from its current scope and deletes the
// scope's bookkeeping entry when it becomes empty. The caller must hold h.mu.
func (h *Hub) leaveScopeLocked(client *Client) string {
	scopeID := client.Scope()
	if scopeID == "" {
		return ""
	}
	if scope, ok := h.scopes[scopeID]; ok {
		if _, exists := scope[client]; exists {
			delete(scope, client)
			if len(scope) == 0 {
				delete(h.scopes, scopeID)
			}
		}
	}
	return scopeID
}

// unregisterClient removes a client from its scope and closes its send
// channel.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	scopeID := h.leaveScopeLocked(client)
	h.mu.Unlock()

	client.CloseSend()

	h.logger.Info("client unregistered",
		"client_id", client.ClientID,
		"scope_id", scopeID,
	)
}

// broadcastEvent sends an event to every client currently joined to the
// event's scope. An empty scope drops the event silently: delivery is
// best-effort.
func (h *Hub) broadcastEvent(event domain.Event) {
	h.mu.RLock()
	scope, ok := h.scopes[event.ScopeID]
	if !ok {
		h.mu.RUnlock()
		return
	}

	// Copy the client list to avoid holding the lock while sending
	clients := make([]*Client, 0, len(scope))
	for client := range scope {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	h.logger.Debug("broadcasting event",
		"event_type", event.Type,
		"scope_id", event.ScopeID,
		"client_count", len(clients),
	)

	for _, client := range clients {
		if !client.queue(event) {
			// Client's send buffer is full, drop them. We are already on the
			// run goroutine, so unregister directly; sending to h.Unregister
			// here would block on our own receiver forever.
			h.logger.Warn("client send buffer full, unregistering",
				"client_id", client.ClientID,
			)
			h.unregisterClient(client)
		}
	}
}

// MemberCount returns the number of clients joined to a scope.
func (h *Hub) MemberCount(scopeID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if scope, ok := h.scopes[scopeID]; ok {
		return len(scope)
	}
	return 0
}

// ScopeCount returns the number of scopes with at least one member.
func (h *Hub) ScopeCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.scopes)
}

// ClientCount returns the total number of joined clients across scopes.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, scope := range h.scopes {
		count += len(scope)
	}
	return count
}
