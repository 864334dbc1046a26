package websocket

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plategrid/backoffice-backend/internal/core/domain"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(slog.New(slog.DiscardHandler))
	go hub.Run()
	return hub
}

func newTestClient(hub *Hub) *Client {
	return NewClient(hub, nil, slog.New(slog.DiscardHandler))
}

// drain reads events from a client until one matches the wanted type.
func drain(t *testing.T, c *Client, want domain.EventType) domain.Event {
	t.Helper()
	for {
		select {
		case event := <-c.Send:
			if event.Type == want {
				return event
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestHub_JoinScope(t *testing.T) {
	t.Run("acknowledges the joining connection", func(t *testing.T) {
		hub := newTestHub(t)
		client := newTestClient(hub)

		hub.JoinScope(client, domain.JoinRequest{ScopeID: "R1", AuthToken: "token"})

		event := drain(t, client, "join_ack")
		ack, ok := event.Payload.(domain.JoinAck)
		require.True(t, ok)
		assert.Equal(t, "R1", ack.ScopeID)
		assert.Equal(t, client.ClientID.String(), ack.ClientID)
		assert.Equal(t, "connected", ack.Status)
		assert.Equal(t, 1, hub.MemberCount("R1"))
	})

	t.Run("rejects missing scope id with error reply on that connection only", func(t *testing.T) {
		hub := newTestHub(t)
		bystander := newTestClient(hub)
		hub.JoinScope(bystander, domain.JoinRequest{ScopeID: "R1", AuthToken: "token"})
		drain(t, bystander, "join_ack")

		offender := newTestClient(hub)
		hub.JoinScope(offender, domain.JoinRequest{AuthToken: "token"})

		event := drain(t, offender, "error")
		payload, ok := event.Payload.(domain.ErrorPayload)
		require.True(t, ok)
		assert.Equal(t, "VALIDATION_ERROR", payload.Code)

		// The offender never became a member and the bystander saw nothing.
		assert.Equal(t, 1, hub.MemberCount("R1"))
		select {
		case event := <-bystander.Send:
			t.Fatalf("bystander received unexpected event %s", event.Type)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("rejects blank token", func(t *testing.T) {
		hub := newTestHub(t)
		client := newTestClient(hub)

		hub.JoinScope(client, domain.JoinRequest{ScopeID: "R1"})

		event := drain(t, client, "error")
		payload, ok := event.Payload.(domain.ErrorPayload)
		require.True(t, ok)
		assert.Equal(t, "VALIDATION_ERROR", payload.Code)
		assert.Equal(t, 0, hub.MemberCount("R1"))
	})

	t.Run("rejoining another scope moves the membership", func(t *testing.T) {
		hub := newTestHub(t)
		client := newTestClient(hub)

		hub.JoinScope(client, domain.JoinRequest{ScopeID: "R1", AuthToken: "token"})
		drain(t, client, "join_ack")
		hub.JoinScope(client, domain.JoinRequest{ScopeID: "R2", AuthToken: "token"})
		drain(t, client, "join_ack")

		assert.Equal(t, 0, hub.MemberCount("R1"))
		assert.Equal(t, 1, hub.MemberCount("R2"))
		assert.Equal(t, 1, hub.ScopeCount())

		// Old-scope traffic no longer reaches the moved client.
		require.NoError(t, hub.Broadcast(domain.Event{
			Type:    domain.EventOrderStatus,
			ScopeID: "R1",
			Payload: domain.OrderStatusPayload{OrderID: "O-1", Status: "ready"},
		}))
		select {
		case event := <-client.Send:
			t.Fatalf("moved client received %s for its old scope", event.Type)
		case <-time.After(50 * time.Millisecond):
		}

		hub.Unregister <- client
		require.Eventually(t, func() bool {
			return hub.ScopeCount() == 0
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("notifies existing members of the membership count", func(t *testing.T) {
		hub := newTestHub(t)
		first := newTestClient(hub)
		hub.JoinScope(first, domain.JoinRequest{ScopeID: "R1", AuthToken: "token"})
		drain(t, first, "join_ack")

		second := newTestClient(hub)
		hub.JoinScope(second, domain.JoinRequest{ScopeID: "R1", AuthToken: "token"})
		drain(t, second, "join_ack")

		event := drain(t, first, domain.EventScopePresence)
		presence, ok := event.Payload.(domain.PresencePayload)
		require.True(t, ok)
		assert.Equal(t, "R1", presence.ScopeID)
		assert.Equal(t, 2, presence.MemberCount)
	})
}

func TestHub_Membership(t *testing.T) {
	t.Run("size equals joins minus leaves", func(t *testing.T) {
		hub := newTestHub(t)

		clients := make([]*Client, 0, 3)
		for range 3 {
			client := newTestClient(hub)
			hub.JoinScope(client, domain.JoinRequest{ScopeID: "R1", AuthToken: "token"})
			clients = append(clients, client)
		}
		assert.Equal(t, 3, hub.MemberCount("R1"))

		hub.Unregister <- clients[0]
		require.Eventually(t, func() bool {
			return hub.MemberCount("R1") == 2
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("empty scope leaves no bookkeeping entry", func(t *testing.T) {
		hub := newTestHub(t)
		client := newTestClient(hub)
		hub.JoinScope(client, domain.JoinRequest{ScopeID: "R1", AuthToken: "token"})
		require.Equal(t, 1, hub.ScopeCount())

		hub.Unregister <- client
		require.Eventually(t, func() bool {
			return hub.ScopeCount() == 0
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("unregistering an unjoined client is safe", func(t *testing.T) {
		hub := newTestHub(t)
		client := newTestClient(hub)

		hub.Unregister <- client
		require.Eventually(t, func() bool {
			select {
			case _, open := <-client.Send:
				return !open
			default:
				return false
			}
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, 0, hub.ClientCount())
	})
}

func TestHub_Broadcast(t *testing.T) {
	t.Run("delivers to every scope member and to no one else", func(t *testing.T) {
		hub := newTestHub(t)

		memberA := newTestClient(hub)
		memberB := newTestClient(hub)
		outsider := newTestClient(hub)
		hub.JoinScope(memberA, domain.JoinRequest{ScopeID: "R1", AuthToken: "token"})
		hub.JoinScope(memberB, domain.JoinRequest{ScopeID: "R1", AuthToken: "token"})
		hub.JoinScope(outsider, domain.JoinRequest{ScopeID: "R2", AuthToken: "token"})
		drain(t, memberA, "join_ack")
		drain(t, memberB, "join_ack")
		drain(t, outsider, "join_ack")

		err := hub.Broadcast(domain.Event{
			Type:    domain.EventOrderStatus,
			ScopeID: "R1",
			Payload: domain.OrderStatusPayload{OrderID: "O-42", Status: "ready"},
		})
		require.NoError(t, err)

		drain(t, memberA, domain.EventOrderStatus)
		drain(t, memberB, domain.EventOrderStatus)

		select {
		case event := <-outsider.Send:
			if event.Type != domain.EventScopePresence {
				t.Fatalf("outsider received scoped event %s", event.Type)
			}
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("preserves emission order within a scope", func(t *testing.T) {
		hub := newTestHub(t)
		client := newTestClient(hub)
		hub.JoinScope(client, domain.JoinRequest{ScopeID: "R1", AuthToken: "token"})
		drain(t, client, "join_ack")

		statuses := []string{"confirmed", "preparing", "ready"}
		for _, status := range statuses {
			require.NoError(t, hub.Broadcast(domain.Event{
				Type:    domain.EventOrderStatus,
				ScopeID: "R1",
				Payload: domain.OrderStatusPayload{OrderID: "O-1", Status: status},
			}))
		}

		for _, want := range statuses {
			event := drain(t, client, domain.EventOrderStatus)
			payload, ok := event.Payload.(domain.OrderStatusPayload)
			require.True(t, ok)
			assert.Equal(t, want, payload.Status)
		}
	})

	t.Run("drops a full-buffer client without stalling the run loop", func(t *testing.T) {
		hub := newTestHub(t)

		stuck := newTestClient(hub)
		hub.JoinScope(stuck, domain.JoinRequest{ScopeID: "R1", AuthToken: "token"})
		drain(t, stuck, "join_ack")

		healthy := newTestClient(hub)
		hub.JoinScope(healthy, domain.JoinRequest{ScopeID: "R2", AuthToken: "token"})
		drain(t, healthy, "join_ack")

		// Fill the stuck client's send buffer so the next delivery fails.
		for range cap(stuck.Send) {
			stuck.Send <- domain.Event{Type: domain.EventOrderStatus, ScopeID: "R1"}
		}

		require.NoError(t, hub.Broadcast(domain.Event{Type: domain.EventOrderStatus, ScopeID: "R1"}))
		require.NoError(t, hub.Broadcast(domain.Event{Type: domain.EventKitchenUpdate, ScopeID: "R2"}))

		// The run loop still serves other scopes and the stuck client is
		// gone from its scope.
		drain(t, healthy, domain.EventKitchenUpdate)
		require.Eventually(t, func() bool {
			return hub.MemberCount("R1") == 0
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("silently drops events for empty scopes", func(t *testing.T) {
		hub := newTestHub(t)

		err := hub.Broadcast(domain.Event{
			Type:    domain.EventNewOrder,
			ScopeID: "nobody-home",
		})
		assert.NoError(t, err)
	})
}
