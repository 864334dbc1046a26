package sync

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"

	"github.com/plategrid/backoffice-backend/internal/core/domain"
)

// Config holds the sync agent's tunables.
type Config struct {
	ScopeID          string
	AuthToken        string
	JoinTimeout      time.Duration
	LivenessInterval time.Duration
	PollInterval     time.Duration
	DedupSize        int
}

// Handler receives a relayed event. Payloads arrive undecoded as
// json.RawMessage.
type Handler func(event domain.Event)

// NotificationHandler receives a derived or fetched notification after
// deduplication.
type NotificationHandler func(n domain.Notification)

type subscription struct {
	id      int
	handler Handler
}

// Agent owns the client connection lifecycle. It is the single place the
// push/poll duality lives: one explicit state machine, at most one active
// timer per purpose (liveness check, poll interval). All transport failures
// are absorbed here and converted into state transitions.
type Agent struct {
	cfg       Config
	transport PushTransport
	lister    NotificationLister
	clock     clockwork.Clock
	logger    *slog.Logger

	mu           sync.Mutex
	state        ConnectionState
	polling      bool
	establishing bool
	// gen counts teardowns. An in-flight establish attempt that started
	// before a teardown sees a stale gen and must not commit.
	gen          uint64
	pollStop     chan struct{}
	livenessStop chan struct{}
	subs         map[domain.EventType][]subscription
	nextSubID    int
	onNotify     []NotificationHandler
	onRefetch    func()

	// seen holds recently delivered notification IDs for deduplication
	// across push delivery and poll snapshots.
	seen *lru.Cache[string, struct{}]
}

// New creates a sync agent. The clock is injected so tests can drive the
// liveness and poll timers deterministically.
func New(cfg Config, transport PushTransport, lister NotificationLister, clock clockwork.Clock, logger *slog.Logger) (*Agent, error) {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 10 * time.Second
	}
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = 512
	}

	seen, err := lru.New[string, struct{}](cfg.DedupSize)
	if err != nil {
		return nil, err
	}

	return &Agent{
		cfg:       cfg,
		transport: transport,
		lister:    lister,
		clock:     clock,
		logger:    logger.With("component", "sync_agent"),
		state:     StateDisconnected,
		subs:      make(map[domain.EventType][]subscription),
		seen:      seen,
	}, nil
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe handle. Delivery is synchronous, in subscription order.
func (a *Agent) Subscribe(eventType domain.EventType, handler Handler) func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextSubID++
	id := a.nextSubID
	a.subs[eventType] = append(a.subs[eventType], subscription{id: id, handler: handler})

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		subs := a.subs[eventType]
		for i, sub := range subs {
			if sub.id == id {
				a.subs[eventType] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// OnNotification registers a handler for derived/fetched notifications.
func (a *Agent) OnNotification(handler NotificationHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onNotify = append(a.onNotify, handler)
}

// OnRefetch registers the silent-refetch hook fired for events without a
// notification template.
func (a *Agent) OnRefetch(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onRefetch = fn
}

// Start begins the connection sequence: disconnected -> connecting, then
// either connected_push or the poll fallback. No-op in any other state.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	if a.state != StateDisconnected {
		a.mu.Unlock()
		return
	}
	a.state = StateConnecting
	a.mu.Unlock()

	go a.establishPush(ctx)
}

// Reconnect is the only user-triggered transition: it clears every
// outstanding timer, tears down the transport, returns to disconnected and
// restarts the sequence from the top.
func (a *Agent) Reconnect(ctx context.Context) {
	a.teardown()
	a.Start(ctx)
}

// Close tears the agent down without restarting. Every outstanding timer
// is cleared before the transport is released.
func (a *Agent) Close() {
	a.teardown()
}

// Status is the coarse operator-facing connectivity indicator. Poll
// fallback renders as "connected" on purpose; use DebugState for the truth.
func (a *Agent) Status() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Status()
}

// DebugState exposes the true internal state for support tooling.
func (a *Agent) DebugState() ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Polling reports whether the poll interval timer is currently running.
func (a *Agent) Polling() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.polling
}

func (a *Agent) generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen
}

// --- connection sequence ---

// establishPush opens the push channel and joins the scope. At most one
// attempt runs at a time; concurrent calls are dropped.
func (a *Agent) establishPush(ctx context.Context) {
	a.mu.Lock()
	if a.establishing || a.state == StateDisconnected {
		a.mu.Unlock()
		return
	}
	gen := a.gen
	a.establishing = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.establishing = false
		a.mu.Unlock()
	}()

	joinCtx, cancel := context.WithTimeout(ctx, a.cfg.JoinTimeout)
	defer cancel()

	if err := a.transport.Connect(joinCtx); err != nil {
		a.logger.Warn("push connect failed, falling back to polling", "error", err)
		a.toError(ctx, gen)
		return
	}

	if err := a.transport.Join(joinCtx, a.cfg.ScopeID, a.cfg.AuthToken); err != nil {
		a.logger.Warn("scope join failed, falling back to polling", "error", err)
		_ = a.transport.Close()
		a.toError(ctx, gen)
		return
	}

	events := a.transport.Events()

	a.mu.Lock()
	if a.gen != gen {
		// Torn down while we were dialing. Release the channel we just
		// opened and leave the machine alone.
		a.mu.Unlock()
		_ = a.transport.Close()
		return
	}
	a.state = StateConnectedPush
	a.stopPollingLocked()
	a.startLivenessLocked(ctx)
	a.mu.Unlock()

	a.logger.Info("push channel established", "scope_id", a.cfg.ScopeID)

	go a.readEvents(events)
}

// toError records the transport failure as a state, releases the failed
// channel and starts the poll fallback. A stale gen means a teardown won
// the race; the machine stays down. The error is never surfaced to
// application code.
func (a *Agent) toError(ctx context.Context, gen uint64) {
	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		return
	}
	a.state = StateError
	a.stopLivenessLocked()
	a.mu.Unlock()

	// A dead transport keeps its connection until closed; release it here
	// so the next push re-attempt can dial fresh.
	_ = a.transport.Close()

	a.startPolling(ctx, gen)
}

// startPolling is idempotent: invoking it while already polling only
// restores the connected_poll state. A stale gen (teardown raced the
// caller) starts nothing.
func (a *Agent) startPolling(ctx context.Context, gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.gen != gen {
		return
	}

	a.state = StateConnectedPoll
	if a.polling {
		return
	}
	a.polling = true

	stop := make(chan struct{})
	a.pollStop = stop
	ticker := a.clock.NewTicker(a.cfg.PollInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				a.pollOnce(ctx)
			case <-stop:
				return
			}
		}
	}()
}

// pollOnce fetches a notification snapshot, then re-attempts push
// establishment. Promotion back to push stops the poll timer.
func (a *Agent) pollOnce(ctx context.Context) {
	notifications, err := a.lister.List(ctx, false)
	if err != nil {
		a.logger.Warn("poll fetch failed", "error", err)
	} else {
		for _, n := range notifications {
			a.deliverNotification(n)
		}
	}

	a.mu.Lock()
	promote := a.state == StateConnectedPoll && !a.establishing
	a.mu.Unlock()

	if promote {
		a.establishPush(ctx)
	}
}

// startLivenessLocked starts the fixed-interval transport liveness check.
// The caller must hold a.mu. Any previous liveness timer is cleared first,
// so at most one runs per agent.
func (a *Agent) startLivenessLocked(ctx context.Context) {
	a.stopLivenessLocked()

	stop := make(chan struct{})
	a.livenessStop = stop
	ticker := a.clock.NewTicker(a.cfg.LivenessInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				a.checkLiveness(ctx)
			case <-stop:
				return
			}
		}
	}()
}

// checkLiveness runs on a fixed interval, independent of per-event
// traffic: a dead transport flips the machine into the poll fallback.
func (a *Agent) checkLiveness(ctx context.Context) {
	a.mu.Lock()
	gen := a.gen
	dead := a.state == StateConnectedPush && !a.transport.Alive()
	a.mu.Unlock()

	if dead {
		a.logger.Warn("push channel no longer alive, falling back to polling")
		a.toError(ctx, gen)
	}
}

func (a *Agent) stopPollingLocked() {
	if a.pollStop != nil {
		close(a.pollStop)
		a.pollStop = nil
	}
	a.polling = false
}

func (a *Agent) stopLivenessLocked() {
	if a.livenessStop != nil {
		close(a.livenessStop)
		a.livenessStop = nil
	}
}

// teardown clears every outstanding timer before releasing the transport,
// so a stale timer cannot revive the machine.
func (a *Agent) teardown() {
	a.mu.Lock()
	a.gen++
	a.stopPollingLocked()
	a.stopLivenessLocked()
	a.state = StateDisconnected
	a.mu.Unlock()

	_ = a.transport.Close()
}

// --- event handling ---

// readEvents drains the transport until it dies. The liveness check picks
// up the dead channel on its next tick.
func (a *Agent) readEvents(events <-chan domain.Event) {
	for event := range events {
		a.handleEvent(event)
	}
}

// handleEvent dispatches one relayed event to type subscribers and derives
// a notification when the event's template exists.
func (a *Agent) handleEvent(event domain.Event) {
	a.dispatch(event)

	switch event.Type {
	case domain.EventNewNotification:
		var n domain.Notification
		if err := decodePayload(event.Payload, &n); err != nil {
			a.logger.Warn("failed to decode notification payload", "error", err)
			return
		}
		a.deliverNotification(n)

	case domain.EventOrderStatus:
		var p domain.OrderStatusPayload
		if err := decodePayload(event.Payload, &p); err != nil {
			a.logger.Warn("failed to decode order status payload", "error", err)
			return
		}
		subject := p.OrderNumber
		if subject == "" {
			subject = p.OrderID
		}
		a.deriveNotification(event.Type, p.OrderID, p.Status, subject)

	case domain.EventKitchenUpdate:
		var p domain.KitchenUpdatePayload
		if err := decodePayload(event.Payload, &p); err != nil {
			a.logger.Warn("failed to decode kitchen payload", "error", err)
			return
		}
		a.deriveNotification(event.Type, p.OrderID, p.Status, p.OrderID)

	case domain.EventNewOrder:
		var p domain.NewOrderPayload
		if err := decodePayload(event.Payload, &p); err != nil {
			a.logger.Warn("failed to decode new order payload", "error", err)
			return
		}
		subject := p.Order.OrderNumber
		if subject == "" {
			subject = p.Order.ID
		}
		a.deriveNotification(event.Type, p.Order.ID, "", subject)

	case domain.EventInventoryUpdate:
		a.refetch()
	}
}

// dispatch delivers the event synchronously to the type's subscribers in
// subscription order.
func (a *Agent) dispatch(event domain.Event) {
	a.mu.Lock()
	subs := make([]subscription, len(a.subs[event.Type]))
	copy(subs, a.subs[event.Type])
	a.mu.Unlock()

	for _, sub := range subs {
		sub.handler(event)
	}
}

// deriveNotification applies the client-side template for the event. The
// deterministic ID matches the relay's derived new_notification, so seeing
// both produces one notification. Untemplated events refetch silently.
func (a *Agent) deriveNotification(eventType domain.EventType, orderID, status, subject string) {
	tpl, ok := domain.TemplateFor(eventType, status)
	if !ok {
		a.refetch()
		return
	}

	a.deliverNotification(domain.Notification{
		ID:        domain.DeriveNotificationID(eventType, orderID, status),
		Type:      eventType,
		Title:     tpl.Title,
		Message:   tpl.Render(subject),
		Priority:  tpl.Priority,
		CreatedAt: a.clock.Now().UTC(),
	})
}

// deliverNotification forwards a notification to registered handlers
// exactly once per notification ID.
func (a *Agent) deliverNotification(n domain.Notification) {
	if n.ID == "" {
		return
	}

	a.mu.Lock()
	if _, dup := a.seen.Get(n.ID); dup {
		a.mu.Unlock()
		return
	}
	a.seen.Add(n.ID, struct{}{})
	handlers := make([]NotificationHandler, len(a.onNotify))
	copy(handlers, a.onNotify)
	a.mu.Unlock()

	for _, handler := range handlers {
		handler(n)
	}
}

func (a *Agent) refetch() {
	a.mu.Lock()
	fn := a.onRefetch
	a.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// decodePayload unmarshals a wire payload into v. Payloads arriving from
// the transport are json.RawMessage; anything else round-trips through
// encoding/json.
func decodePayload(payload interface{}, v interface{}) error {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = data
	}
	return json.Unmarshal(raw, v)
}
