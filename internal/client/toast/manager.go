package toast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/plategrid/backoffice-backend/internal/core/domain"
)

const (
	// MaxVisible caps the visible toast list, most recent first.
	MaxVisible = 5

	// DefaultDuration is the auto-close delay for non-urgent toasts.
	DefaultDuration = 5 * time.Second
)

// Toast is an ephemeral notification with its auto-close policy.
type Toast struct {
	domain.Notification
	AutoClose bool
	Duration  time.Duration
}

// Manager owns the visible toast list. Urgent toasts persist until
// dismissed; everything else auto-closes. Timers come from the injected
// clock, and a timer firing after its toast is gone is a no-op.
type Manager struct {
	clock  clockwork.Clock
	chimer Chimer
	logger *slog.Logger

	mu      sync.Mutex
	toasts  []Toast
	timers  map[string]clockwork.Timer
	muted   bool
	changed func([]Toast)
}

// NewManager creates a toast manager. chimer must not be nil; pass
// NopChimer for headless use. Sound starts enabled.
func NewManager(clock clockwork.Clock, chimer Chimer, logger *slog.Logger) *Manager {
	return &Manager{
		clock:  clock,
		chimer: chimer,
		logger: logger.With("component", "toast_manager"),
		timers: make(map[string]clockwork.Timer),
	}
}

// OnChange registers a callback invoked with the visible list after every
// mutation. The slice is a copy.
func (m *Manager) OnChange(fn func([]Toast)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changed = fn
}

// SetMuted toggles the user-scoped sound setting.
func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
}

// Add converts a notification into a toast. A duplicate notification ID is
// a no-op; otherwise the toast is prepended and the list truncated to
// MaxVisible, evicting the oldest.
func (m *Manager) Add(n domain.Notification) {
	m.mu.Lock()

	for _, t := range m.toasts {
		if t.ID == n.ID {
			m.mu.Unlock()
			return
		}
	}

	t := Toast{
		Notification: n,
		AutoClose:    n.Priority != domain.PriorityUrgent,
		Duration:     DefaultDuration,
	}
	if n.Priority == domain.PriorityUrgent {
		// Persistent: never auto-closed.
		t.Duration = 0
	}

	m.toasts = append([]Toast{t}, m.toasts...)
	for len(m.toasts) > MaxVisible {
		evicted := m.toasts[len(m.toasts)-1]
		m.toasts = m.toasts[:len(m.toasts)-1]
		m.cancelTimerLocked(evicted.ID)
	}

	if t.AutoClose {
		id := n.ID
		m.timers[id] = m.clock.AfterFunc(t.Duration, func() {
			m.Remove(id)
		})
	}

	muted := m.muted
	m.notifyLocked()
	m.mu.Unlock()

	// Audio is fire and forget; business logic never waits on it.
	if !muted {
		switch n.Priority {
		case domain.PriorityUrgent:
			go m.chimer.Chime(PitchHigh)
		case domain.PriorityHigh:
			go m.chimer.Chime(PitchNormal)
		}
	}
}

// Remove dismisses a toast by ID. Absent IDs are a no-op, which also
// covers a timer firing for an already-removed toast.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, t := range m.toasts {
		if t.ID == id {
			m.toasts = append(m.toasts[:i], m.toasts[i+1:]...)
			m.cancelTimerLocked(id)
			m.notifyLocked()
			return
		}
	}
}

// ClearAll empties the visible list. Pending timers become no-ops when
// they fire because their target IDs are gone.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.timers {
		m.cancelTimerLocked(id)
	}
	if len(m.toasts) == 0 {
		return
	}
	m.toasts = nil
	m.notifyLocked()
}

// Visible returns a copy of the visible toast list, most recent first.
func (m *Manager) Visible() []Toast {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visibleLocked()
}

func (m *Manager) visibleLocked() []Toast {
	out := make([]Toast, len(m.toasts))
	copy(out, m.toasts)
	return out
}

func (m *Manager) cancelTimerLocked(id string) {
	if timer, ok := m.timers[id]; ok {
		timer.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) notifyLocked() {
	if m.changed != nil {
		m.changed(m.visibleLocked())
	}
}
