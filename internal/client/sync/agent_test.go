package sync

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plategrid/backoffice-backend/internal/core/domain"
	apperrors "github.com/plategrid/backoffice-backend/internal/core/errors"
)

// fakeTransport is an in-memory PushTransport the tests fail and revive on
// demand.
type fakeTransport struct {
	mu            sync.Mutex
	connectErr    error
	joinErr       error
	open          bool
	alive         bool
	events        chan domain.Event
	chanClosed    bool
	connects      int
	connectStarts int
	closes        int

	// connectGate, when set, blocks Connect until the test closes it.
	connectGate chan struct{}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connectStarts++
	gate := f.connectGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.connectErr != nil {
		return f.connectErr
	}
	if f.open {
		return apperrors.ErrAlreadyConnected
	}
	f.open = true
	f.alive = true
	f.events = make(chan domain.Event, 16)
	f.chanClosed = false
	f.connects++
	return nil
}

func (f *fakeTransport) Join(ctx context.Context, scopeID, authToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joinErr
}

func (f *fakeTransport) Events() <-chan domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func (f *fakeTransport) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closeChanLocked()
	f.open = false
	f.alive = false
	f.closes++
	return nil
}

func (f *fakeTransport) closeChanLocked() {
	if f.events != nil && !f.chanClosed {
		close(f.events)
		f.chanClosed = true
	}
}

// deliver pushes an event into the open channel as the broker would.
func (f *fakeTransport) deliver(event domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events <- event
}

// kill simulates a silently dead connection: the channel closes and Alive
// flips false, with no error surfaced anywhere.
func (f *fakeTransport) kill() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.alive = false
	f.closeChanLocked()
	f.open = false
}

// dieWithoutClose models the production failure mode: the read loop dies
// and closes the event channel, but the connection stays held until
// someone calls Close. A Connect in this window fails as already open.
func (f *fakeTransport) dieWithoutClose() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.alive = false
	f.closeChanLocked()
}

func (f *fakeTransport) setConnectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

func (f *fakeTransport) setJoinErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinErr = err
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) connectStartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectStarts
}

// fakeLister serves a canned notification snapshot and counts fetches.
type fakeLister struct {
	mu            sync.Mutex
	notifications []domain.Notification
	err           error
	calls         int
}

func (f *fakeLister) List(ctx context.Context, unreadOnly bool) ([]domain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.notifications, f.err
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

const (
	testPollInterval     = 15 * time.Second
	testLivenessInterval = 30 * time.Second
)

func newTestAgent(t *testing.T, transport *fakeTransport, lister *fakeLister, clock clockwork.Clock) *Agent {
	t.Helper()

	agent, err := New(Config{
		ScopeID:          "R1",
		AuthToken:        "token",
		JoinTimeout:      time.Second,
		LivenessInterval: testLivenessInterval,
		PollInterval:     testPollInterval,
	}, transport, lister, clock, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(agent.Close)
	return agent
}

func waitForState(t *testing.T, agent *Agent, want ConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return agent.DebugState() == want
	}, time.Second, 5*time.Millisecond, "never reached state %s", want)
}

func TestAgent_Start(t *testing.T) {
	t.Run("establishes push when the broker accepts the join", func(t *testing.T) {
		transport := &fakeTransport{}
		agent := newTestAgent(t, transport, &fakeLister{}, clockwork.NewFakeClock())

		agent.Start(context.Background())

		waitForState(t, agent, StateConnectedPush)
		assert.Equal(t, "connected", agent.Status())
		assert.False(t, agent.Polling())
	})

	t.Run("falls back to polling when the connect fails", func(t *testing.T) {
		transport := &fakeTransport{connectErr: errorString("dial tcp: refused")}
		agent := newTestAgent(t, transport, &fakeLister{}, clockwork.NewFakeClock())

		agent.Start(context.Background())

		waitForState(t, agent, StateConnectedPoll)
		assert.True(t, agent.Polling())
	})

	t.Run("falls back to polling when the join is rejected", func(t *testing.T) {
		transport := &fakeTransport{joinErr: errorString("scope id is required")}
		agent := newTestAgent(t, transport, &fakeLister{}, clockwork.NewFakeClock())

		agent.Start(context.Background())

		waitForState(t, agent, StateConnectedPoll)
	})

	t.Run("is a no-op unless disconnected", func(t *testing.T) {
		transport := &fakeTransport{}
		agent := newTestAgent(t, transport, &fakeLister{}, clockwork.NewFakeClock())

		agent.Start(context.Background())
		waitForState(t, agent, StateConnectedPush)

		agent.Start(context.Background())
		assert.Equal(t, 1, transport.connectCount())
	})
}

func TestAgent_Status(t *testing.T) {
	t.Run("masks the poll fallback as connected", func(t *testing.T) {
		transport := &fakeTransport{connectErr: errorString("refused")}
		agent := newTestAgent(t, transport, &fakeLister{}, clockwork.NewFakeClock())

		agent.Start(context.Background())
		waitForState(t, agent, StateConnectedPoll)

		assert.Equal(t, "connected", agent.Status())
		assert.Equal(t, StateConnectedPoll, agent.DebugState())
	})

	t.Run("reports disconnected before start and after close", func(t *testing.T) {
		transport := &fakeTransport{}
		agent := newTestAgent(t, transport, &fakeLister{}, clockwork.NewFakeClock())

		assert.Equal(t, "disconnected", agent.Status())

		agent.Start(context.Background())
		waitForState(t, agent, StateConnectedPush)

		agent.Close()
		assert.Equal(t, "disconnected", agent.Status())
		assert.False(t, agent.Polling())
	})
}

func TestAgent_Polling(t *testing.T) {
	t.Run("fetches a snapshot on every poll tick", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		transport := &fakeTransport{connectErr: errorString("refused")}
		lister := &fakeLister{notifications: []domain.Notification{
			{ID: "order_status_update:O-1:ready", Title: "Order Ready", Priority: domain.PriorityHigh},
		}}
		agent := newTestAgent(t, transport, lister, clock)

		var mu sync.Mutex
		var received []domain.Notification
		agent.OnNotification(func(n domain.Notification) {
			mu.Lock()
			received = append(received, n)
			mu.Unlock()
		})

		agent.Start(context.Background())
		waitForState(t, agent, StateConnectedPoll)

		clock.Advance(testPollInterval)
		require.Eventually(t, func() bool {
			return lister.callCount() == 1
		}, time.Second, 5*time.Millisecond)

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(received) == 1
		}, time.Second, 5*time.Millisecond)

		// The same snapshot on the next tick delivers nothing new.
		clock.Advance(testPollInterval)
		require.Eventually(t, func() bool {
			return lister.callCount() == 2
		}, time.Second, 5*time.Millisecond)

		mu.Lock()
		assert.Len(t, received, 1)
		mu.Unlock()
	})

	t.Run("starting the poll loop twice runs a single timer", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		transport := &fakeTransport{connectErr: errorString("refused")}
		lister := &fakeLister{}
		agent := newTestAgent(t, transport, lister, clock)

		agent.startPolling(context.Background(), agent.generation())
		agent.startPolling(context.Background(), agent.generation())
		require.True(t, agent.Polling())

		clock.Advance(testPollInterval)
		require.Eventually(t, func() bool {
			return lister.callCount() >= 1
		}, time.Second, 5*time.Millisecond)

		// A phantom second timer would double the fetch count.
		assert.Never(t, func() bool {
			return lister.callCount() > 1
		}, 100*time.Millisecond, 10*time.Millisecond)
	})

	t.Run("keeps polling when a fetch fails", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		transport := &fakeTransport{connectErr: errorString("refused")}
		lister := &fakeLister{err: errorString("503 from upstream")}
		agent := newTestAgent(t, transport, lister, clock)

		agent.Start(context.Background())
		waitForState(t, agent, StateConnectedPoll)

		clock.Advance(testPollInterval)
		require.Eventually(t, func() bool {
			return lister.callCount() == 1
		}, time.Second, 5*time.Millisecond)

		assert.Equal(t, StateConnectedPoll, agent.DebugState())
		assert.Equal(t, "connected", agent.Status())

		clock.Advance(testPollInterval)
		require.Eventually(t, func() bool {
			return lister.callCount() == 2
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("promotes back to push once the broker recovers", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		transport := &fakeTransport{connectErr: errorString("refused")}
		lister := &fakeLister{}
		agent := newTestAgent(t, transport, lister, clock)

		agent.Start(context.Background())
		waitForState(t, agent, StateConnectedPoll)

		transport.setConnectErr(nil)

		clock.Advance(testPollInterval)
		waitForState(t, agent, StateConnectedPush)
		require.Eventually(t, func() bool {
			return !agent.Polling()
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, "connected", agent.Status())
	})
}

func TestAgent_Liveness(t *testing.T) {
	t.Run("a dead transport flips the machine into the poll fallback", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		transport := &fakeTransport{}
		agent := newTestAgent(t, transport, &fakeLister{}, clock)

		agent.Start(context.Background())
		waitForState(t, agent, StateConnectedPush)

		// The connection dies silently; nothing notices until the next
		// liveness tick.
		transport.kill()
		transport.setConnectErr(errorString("refused"))
		assert.Equal(t, StateConnectedPush, agent.DebugState())

		clock.Advance(testLivenessInterval)
		waitForState(t, agent, StateConnectedPoll)
		assert.Equal(t, "connected", agent.Status())
		assert.True(t, agent.Polling())
	})

	t.Run("re-establishes push after a liveness-detected death", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		transport := &fakeTransport{}
		lister := &fakeLister{}
		agent := newTestAgent(t, transport, lister, clock)

		agent.Start(context.Background())
		waitForState(t, agent, StateConnectedPush)

		// The read loop dies but the connection stays held until the
		// fallback releases it.
		transport.dieWithoutClose()

		clock.Advance(testLivenessInterval)
		waitForState(t, agent, StateConnectedPoll)

		clock.Advance(testPollInterval)
		waitForState(t, agent, StateConnectedPush)
		require.Eventually(t, func() bool {
			return transport.connectCount() == 2
		}, time.Second, 5*time.Millisecond)
		require.Eventually(t, func() bool {
			return !agent.Polling()
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("a live transport passes the check untouched", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		transport := &fakeTransport{}
		agent := newTestAgent(t, transport, &fakeLister{}, clock)

		agent.Start(context.Background())
		waitForState(t, agent, StateConnectedPush)

		clock.Advance(testLivenessInterval)
		assert.Never(t, func() bool {
			return agent.DebugState() != StateConnectedPush
		}, 100*time.Millisecond, 10*time.Millisecond)
	})
}

func TestAgent_HandleEvent(t *testing.T) {
	t.Run("dispatches to subscribers of the event type", func(t *testing.T) {
		transport := &fakeTransport{}
		agent := newTestAgent(t, transport, &fakeLister{}, clockwork.NewFakeClock())

		var mu sync.Mutex
		var seen []domain.Event
		agent.Subscribe(domain.EventScopePresence, func(event domain.Event) {
			mu.Lock()
			seen = append(seen, event)
			mu.Unlock()
		})

		agent.Start(context.Background())
		waitForState(t, agent, StateConnectedPush)

		transport.deliver(domain.Event{
			Type:    domain.EventScopePresence,
			ScopeID: "R1",
			Payload: domain.PresencePayload{ScopeID: "R1", MemberCount: 3},
		})

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(seen) == 1
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		transport := &fakeTransport{}
		agent := newTestAgent(t, transport, &fakeLister{}, clockwork.NewFakeClock())

		var mu sync.Mutex
		count := 0
		unsubscribe := agent.Subscribe(domain.EventInventoryUpdate, func(domain.Event) {
			mu.Lock()
			count++
			mu.Unlock()
		})

		agent.Start(context.Background())
		waitForState(t, agent, StateConnectedPush)

		transport.deliver(domain.Event{Type: domain.EventInventoryUpdate, ScopeID: "R1"})
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return count == 1
		}, time.Second, 5*time.Millisecond)

		unsubscribe()
		transport.deliver(domain.Event{Type: domain.EventInventoryUpdate, ScopeID: "R1"})

		assert.Never(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return count > 1
		}, 100*time.Millisecond, 10*time.Millisecond)
	})

	t.Run("an order marked ready yields exactly one high priority notification", func(t *testing.T) {
		transport := &fakeTransport{}
		agent := newTestAgent(t, transport, &fakeLister{}, clockwork.NewFakeClock())

		var mu sync.Mutex
		var received []domain.Notification
		agent.OnNotification(func(n domain.Notification) {
			mu.Lock()
			received = append(received, n)
			mu.Unlock()
		})

		agent.Start(context.Background())
		waitForState(t, agent, StateConnectedPush)

		// The relay emits both the typed event and the derived notification
		// for the same transition. The shared deterministic ID collapses them.
		transport.deliver(domain.Event{
			Type:    domain.EventOrderStatus,
			ScopeID: "R1",
			Payload: domain.OrderStatusPayload{OrderID: "O-42", OrderNumber: "#1042", Status: "ready"},
		})
		transport.deliver(domain.Event{
			Type:    domain.EventNewNotification,
			ScopeID: "R1",
			Payload: domain.Notification{
				ID:       domain.DeriveNotificationID(domain.EventOrderStatus, "O-42", "ready"),
				Type:     domain.EventOrderStatus,
				Title:    "Order Ready",
				Priority: domain.PriorityHigh,
			},
		})

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(received) >= 1
		}, time.Second, 5*time.Millisecond)

		assert.Never(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(received) > 1
		}, 100*time.Millisecond, 10*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "Order Ready", received[0].Title)
		assert.Equal(t, domain.PriorityHigh, received[0].Priority)
		assert.Contains(t, received[0].Message, "#1042")
	})

	t.Run("untemplated transitions trigger a silent refetch", func(t *testing.T) {
		transport := &fakeTransport{}
		agent := newTestAgent(t, transport, &fakeLister{}, clockwork.NewFakeClock())

		var mu sync.Mutex
		refetches := 0
		notifications := 0
		agent.OnRefetch(func() {
			mu.Lock()
			refetches++
			mu.Unlock()
		})
		agent.OnNotification(func(domain.Notification) {
			mu.Lock()
			notifications++
			mu.Unlock()
		})

		agent.Start(context.Background())
		waitForState(t, agent, StateConnectedPush)

		transport.deliver(domain.Event{
			Type:    domain.EventOrderStatus,
			ScopeID: "R1",
			Payload: domain.OrderStatusPayload{OrderID: "O-42", Status: "preparing"},
		})
		transport.deliver(domain.Event{Type: domain.EventInventoryUpdate, ScopeID: "R1"})

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return refetches == 2
		}, time.Second, 5*time.Millisecond)

		mu.Lock()
		assert.Equal(t, 0, notifications)
		mu.Unlock()
	})
}

func TestAgent_Reconnect(t *testing.T) {
	t.Run("tears down and re-establishes from scratch", func(t *testing.T) {
		transport := &fakeTransport{}
		agent := newTestAgent(t, transport, &fakeLister{}, clockwork.NewFakeClock())

		agent.Start(context.Background())
		waitForState(t, agent, StateConnectedPush)

		agent.Reconnect(context.Background())
		waitForState(t, agent, StateConnectedPush)
		assert.Equal(t, 2, transport.connectCount())
	})

	t.Run("clears the poll timer before restarting", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		transport := &fakeTransport{connectErr: errorString("refused")}
		lister := &fakeLister{}
		agent := newTestAgent(t, transport, lister, clock)

		agent.Start(context.Background())
		waitForState(t, agent, StateConnectedPoll)

		transport.setConnectErr(nil)
		agent.Reconnect(context.Background())
		waitForState(t, agent, StateConnectedPush)
		require.False(t, agent.Polling())

		// The old timer is gone; ticks no longer reach the lister.
		calls := lister.callCount()
		clock.Advance(testPollInterval)
		assert.Never(t, func() bool {
			return lister.callCount() > calls
		}, 100*time.Millisecond, 10*time.Millisecond)
	})
}

func TestAgent_Close(t *testing.T) {
	t.Run("stops every timer and releases the transport", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		transport := &fakeTransport{connectErr: errorString("refused")}
		lister := &fakeLister{}
		agent := newTestAgent(t, transport, lister, clock)

		agent.Start(context.Background())
		waitForState(t, agent, StateConnectedPoll)

		agent.Close()
		assert.Equal(t, StateDisconnected, agent.DebugState())
		assert.False(t, agent.Polling())

		clock.Advance(testPollInterval)
		assert.Never(t, func() bool {
			return lister.callCount() > 0
		}, 100*time.Millisecond, 10*time.Millisecond)
	})

	t.Run("a connect attempt in flight at close cannot revive the machine", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		gate := make(chan struct{})
		transport := &fakeTransport{connectGate: gate}
		lister := &fakeLister{}
		agent := newTestAgent(t, transport, lister, clock)

		agent.Start(context.Background())
		require.Eventually(t, func() bool {
			return transport.connectStartCount() == 1
		}, time.Second, 5*time.Millisecond)

		// Close lands while the dial is still blocked. The attempt may
		// finish, but it must not flip state or start a timer.
		agent.Close()
		close(gate)

		assert.Never(t, func() bool {
			return agent.DebugState() != StateDisconnected || agent.Polling()
		}, 100*time.Millisecond, 10*time.Millisecond)

		clock.Advance(testLivenessInterval)
		clock.Advance(testPollInterval)
		assert.Never(t, func() bool {
			return lister.callCount() > 0
		}, 100*time.Millisecond, 10*time.Millisecond)
	})

	t.Run("a failing connect in flight at close cannot start the poll fallback", func(t *testing.T) {
		gate := make(chan struct{})
		transport := &fakeTransport{connectGate: gate, connectErr: errorString("refused")}
		lister := &fakeLister{}
		agent := newTestAgent(t, transport, lister, clockwork.NewFakeClock())

		agent.Start(context.Background())
		require.Eventually(t, func() bool {
			return transport.connectStartCount() == 1
		}, time.Second, 5*time.Millisecond)

		agent.Close()
		close(gate)

		assert.Never(t, func() bool {
			return agent.DebugState() != StateDisconnected || agent.Polling()
		}, 100*time.Millisecond, 10*time.Millisecond)
		assert.Zero(t, lister.callCount())
	})
}
