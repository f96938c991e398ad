package manager

import (
	"crypto/subtle"

	"github.com/lmdudester/clawd/internal/auth"
	"github.com/lmdudester/clawd/internal/domain"
)

// AuthenticateAgent checks an agent's credentials: constant
// time comparison against the stored sessionToken.
func (m *Manager) AuthenticateAgent(sessionID string, token []byte) bool {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return auth.VerifySessionToken(sess.SessionToken, token)
}

// ValidateManagerToken implements auth.ManagerTokenValidator: resolves a
// manager session's scoped API token to the session it belongs to. This
// is the alternate client auth path next to user bearer JWTs.
func (m *Manager) ValidateManagerToken(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		if sess.ManagerAPIToken != "" &&
			subtle.ConstantTimeCompare([]byte(sess.ManagerAPIToken), []byte(token)) == 1 {
			return id, true
		}
	}
	return "", false
}

// RegisterAgentConnection installs the live agent link: replaces any
// prior link for sessionID (a session has at most one live agent
// connection), closing it first, and if
// the session was StatusReconnecting restores its pre-disconnect status
// (or StatusIdle if none was recorded).
func (m *Manager) RegisterAgentConnection(sessionID string, link AgentLink) {
	m.mu.Lock()
	old := m.links[sessionID]
	m.links[sessionID] = link

	sess, ok := m.sessions[sessionID]
	var info domain.SessionInfo
	changed := false
	if ok {
		if sess.Info.Status == domain.StatusReconnecting {
			if sess.PreDisconnectStatus != "" {
				sess.Info.Status = sess.PreDisconnectStatus
			} else {
				sess.Info.Status = domain.StatusIdle
			}
			sess.PreDisconnectStatus = ""
			changed = true
		}
		info = sess.Info
	}
	m.mu.Unlock()

	if old != nil && old != link {
		old.Close()
	}
	if changed {
		m.schedulePersistLocking()
		m.emit(sessionID, domain.FrameSessionUpdate, info)
	}
}

// UnregisterAgentConnection drops the link record for sessionID if it
// still points at link, reporting whether it did. A newer connection may
// have already replaced it, in which case this is a no-op and the caller
// must not treat the session as disconnected.
func (m *Manager) UnregisterAgentConnection(sessionID string, link AgentLink) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links[sessionID] == link {
		delete(m.links, sessionID)
		return true
	}
	return false
}

// HandleAgentDisconnect implements the "any (not terminated): agent
// disconnect -> reconnecting" FSM row. Agent disconnects
// are not user-visible errors: they flip the status and
// emit a session_update, nothing more.
func (m *Manager) HandleAgentDisconnect(sessionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	next, legal := domain.Next(sess.Info.Status, domain.EventAgentDisconnect)
	if !legal {
		m.mu.Unlock()
		return
	}
	if sess.Info.Status != domain.StatusReconnecting {
		sess.PreDisconnectStatus = sess.Info.Status
	}
	sess.Info.Status = next
	info := sess.Info
	m.mu.Unlock()

	m.schedulePersistLocking()
	m.emit(sessionID, domain.FrameSessionUpdate, info)
}
