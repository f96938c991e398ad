package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lmdudester/clawd/internal/domain"
)

// notifyDebounce is the window after a result during which continued
// activity suppresses the "Task Complete" push.
const notifyDebounce = 3 * time.Second

// PushNotifier delivers user-visible push notifications. Delivery itself
// is an external collaborator; the Session Manager only
// decides when a push is warranted. A nil notifier disables pushes.
type PushNotifier interface {
	Push(ctx context.Context, sessionID, title, body string) error
}

// SubscriberFunc reports whether any authenticated client currently
// subscribes to sessionID. Provided by the Client WS Hub at startup; a
// live subscriber suppresses pushes.
type SubscriberFunc func(sessionID string) bool

// SetSubscriberCheck wires the Client WS Hub's subscription lookup into
// the push gate. Before it is set, every session counts as unwatched.
func (m *Manager) SetSubscriberCheck(fn SubscriberFunc) {
	m.mu.Lock()
	m.hasSubscribers = fn
	m.mu.Unlock()
}

// shouldNotifyLocked is the push gate: notifications enabled on the
// session and nobody watching. Must be called with mu held.
func (m *Manager) shouldNotifyLocked(sess *domain.Session) bool {
	if !sess.Info.NotificationsEnabled {
		return false
	}
	if m.hasSubscribers != nil && m.hasSubscribers(sess.Info.ID.String()) {
		return false
	}
	return true
}

// pushNow delivers a push immediately if the gate allows. Used for
// approval_request and question events.
func (m *Manager) pushNow(sessionID, title, body string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	allowed := ok && m.shouldNotifyLocked(sess)
	m.mu.Unlock()

	if !allowed || m.notifier == nil {
		return
	}
	if err := m.notifier.Push(context.Background(), sessionID, title, body); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("manager: push notification failed")
	}
}

// scheduleTaskCompletePush starts (or restarts) the debounced "Task
// Complete" timer for sessionID. The gate is re-evaluated at fire time,
// not at schedule time: a subscriber who attaches during the window
// suppresses the push.
func (m *Manager) scheduleTaskCompletePush(sessionID string) {
	m.mu.Lock()
	if t, ok := m.notifyTimers[sessionID]; ok {
		t.Stop()
	}
	m.notifyTimers[sessionID] = time.AfterFunc(notifyDebounce, func() {
		m.mu.Lock()
		delete(m.notifyTimers, sessionID)
		m.mu.Unlock()
		m.pushNow(sessionID, "Task Complete", "The agent finished its turn and is idle.")
	})
	m.mu.Unlock()
}

// cancelTaskCompletePush stops a pending debounced push. Called on every
// transition back to running and on termination.
func (m *Manager) cancelTaskCompletePush(sessionID string) {
	m.mu.Lock()
	if t, ok := m.notifyTimers[sessionID]; ok {
		t.Stop()
		delete(m.notifyTimers, sessionID)
	}
	m.mu.Unlock()
}
