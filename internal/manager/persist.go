package manager

import (
	"encoding/hex"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lmdudester/clawd/internal/domain"
)

// schedulePersist marks state dirty and, if no save is already pending,
// starts the debounce timer. Must be called with mu held. The actual
// write happens outside the lock once the timer fires.
func (m *Manager) schedulePersist() {
	m.persistDirty = true
	if m.persistTimer != nil {
		return
	}
	m.persistTimer = time.AfterFunc(persistDebounce, m.flushPersist)
}

func (m *Manager) flushPersist() {
	m.mu.Lock()
	if !m.persistDirty {
		m.persistTimer = nil
		m.mu.Unlock()
		return
	}
	snapshot := m.buildSnapshotLocked()
	m.persistDirty = false
	m.persistTimer = nil
	m.mu.Unlock()

	if err := m.store.Save(snapshot); err != nil {
		log.Error().Err(err).Msg("manager: persist failed, will retry on next mutation")
	}
}

// buildSnapshotLocked renders the current in-memory state into the
// on-disk shape. Must be called with mu held.
func (m *Manager) buildSnapshotLocked() *domain.PersistedState {
	state := &domain.PersistedState{
		InternalSecret: hex.EncodeToString(m.internalSecret),
		Sessions:       make([]domain.PersistedSession, 0, len(m.sessions)),
	}
	for _, sess := range m.sessions {
		state.Sessions = append(state.Sessions, domain.PersistedSession{
			Info:            sess.Info,
			Messages:        sess.Messages,
			SessionToken:    hex.EncodeToString(sess.SessionToken),
			ContainerID:     sess.Info.ContainerID,
			ManagerAPIToken: sess.ManagerAPIToken,
			ManagerState:    sess.ManagerState,
		})
	}
	return state
}

// FlushNow forces an immediate synchronous save, bypassing the debounce
// window. Used on graceful shutdown.
func (m *Manager) FlushNow() error {
	m.mu.Lock()
	if m.persistTimer != nil {
		m.persistTimer.Stop()
		m.persistTimer = nil
	}
	snapshot := m.buildSnapshotLocked()
	m.persistDirty = false
	m.mu.Unlock()

	return m.store.Save(snapshot)
}
