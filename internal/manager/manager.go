package manager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lmdudester/clawd/internal/config"
	"github.com/lmdudester/clawd/internal/domain"
	"github.com/lmdudester/clawd/internal/store"
)

// persistDebounce is the coalescing window for snapshot saves.
const persistDebounce = 250 * time.Millisecond

// deleteGrace is how long a terminated session stays visible in memory
// before it's actually removed.
const deleteGrace = 5 * time.Second

// Manager is the Session Manager. All mutation of session state,
// message logs, and pending approvals/questions is serialized through
// mu: one coarse lock keeps the pending-exclusivity and append-only
// invariants trivially safe and makes event ordering well-defined.
// Suspension points (container daemon calls, persistence writes) never
// run while mu is held.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	links    map[string]AgentLink

	store          *store.Store
	containers     ContainerManager
	bus            EventFunc
	notifier       PushNotifier
	hasSubscribers SubscriberFunc
	instanceID     string
	maxSessions    int
	internalSecret []byte

	persistDirty bool
	persistTimer *time.Timer

	notifyTimers map[string]*time.Timer
	removeTimers map[string]*time.Timer
}

// New builds a Manager. Call LoadAndReconcile once at startup before
// serving any client traffic.
func New(cfg *config.Config, containers ContainerManager, st *store.Store, notifier PushNotifier) *Manager {
	return &Manager{
		sessions:     make(map[string]*domain.Session),
		links:        make(map[string]AgentLink),
		store:        st,
		containers:   containers,
		notifier:     notifier,
		instanceID:   cfg.Server.InstanceID,
		maxSessions:  cfg.Session.MaxSessions,
		notifyTimers: make(map[string]*time.Timer),
		removeTimers: make(map[string]*time.Timer),
	}
}

// Subscribe registers the sole event bus subscriber (the Client WS Hub
// in production). Replaces any prior subscriber.
func (m *Manager) Subscribe(fn EventFunc) {
	m.mu.Lock()
	m.bus = fn
	m.mu.Unlock()
}

func (m *Manager) emit(sessionID string, event string, data any) {
	if m.bus != nil {
		m.bus(sessionID, event, data)
	}
}

// InternalSecret returns the process-wide secret manager→master HTTP
// calls are validated against. Out-of-scope collaborators
// read this to build their own auth check; the Session Manager itself
// never validates it.
func (m *Manager) InternalSecret() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return hex.EncodeToString(m.internalSecret)
}

// LoadAndReconcile loads the persisted snapshot (if any), restores
// sessions into memory, and reconciles the restored set against the
// container daemon's labeled containers. Must run before the WS hubs
// start accepting connections.
func (m *Manager) LoadAndReconcile(ctx context.Context) error {
	persisted, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("manager.Manager.LoadAndReconcile: %w", err)
	}

	m.mu.Lock()
	if persisted == nil {
		secret := make([]byte, 32)
		if _, randErr := rand.Read(secret); randErr != nil {
			m.mu.Unlock()
			return fmt.Errorf("manager.Manager.LoadAndReconcile: generate internal secret: %w", randErr)
		}
		m.internalSecret = secret
	} else {
		secret, decodeErr := hex.DecodeString(persisted.InternalSecret)
		if decodeErr != nil || len(secret) == 0 {
			secret = make([]byte, 32)
			if _, randErr := rand.Read(secret); randErr != nil {
				m.mu.Unlock()
				return fmt.Errorf("manager.Manager.LoadAndReconcile: regenerate internal secret: %w", randErr)
			}
		}
		m.internalSecret = secret

		for _, ps := range persisted.Sessions {
			token, tokErr := hex.DecodeString(ps.SessionToken)
			if tokErr != nil {
				log.Warn().Str("sessionId", ps.Info.ID.String()).Msg("manager: dropping session with corrupt token from snapshot")
				continue
			}
			sess := &domain.Session{
				Info:            ps.Info,
				SessionToken:    token,
				Messages:        ps.Messages,
				IsManager:       ps.Info.IsManager,
				ManagerState:    ps.ManagerState,
				ManagerAPIToken: ps.ManagerAPIToken,
			}
			highWater := 0
			for _, msg := range ps.Messages {
				if msg.ID > highWater {
					highWater = msg.ID
				}
			}
			sess.SeedNextMessageID(highWater)
			m.sessions[ps.Info.ID.String()] = sess
		}
	}

	knownIDs := make(map[string]bool, len(m.sessions))
	for id := range m.sessions {
		knownIDs[id] = true
	}
	m.mu.Unlock()

	result, err := m.containers.ReconcileOnStartup(ctx, knownIDs)
	if err != nil {
		return fmt.Errorf("manager.Manager.LoadAndReconcile: %w", err)
	}

	m.mu.Lock()
	missing := make(map[string]bool, len(result.MissingSessionIDs))
	for _, id := range result.MissingSessionIDs {
		missing[id] = true
	}
	for id, sess := range m.sessions {
		if missing[id] && sess.Info.Status != domain.StatusTerminated {
			sess.Info.Status = domain.StatusError
		}
	}
	snapshots := m.infoSnapshotsLocked()
	m.mu.Unlock()

	for _, info := range snapshots {
		m.emit(info.ID.String(), domain.FrameSessionUpdate, info)
	}

	if len(result.OrphansRemoved) > 0 || len(missing) > 0 {
		log.Info().Int("orphansRemoved", len(result.OrphansRemoved)).Int("missing", len(missing)).Msg("manager: startup reconciliation complete")
	}

	m.schedulePersistLocking()
	return nil
}

func (m *Manager) infoSnapshotsLocked() []domain.SessionInfo {
	out := make([]domain.SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.Info)
	}
	return out
}

// ListSessions returns a snapshot of every session's info, no messages.
func (m *Manager) ListSessions() []domain.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.infoSnapshotsLocked()
}

// GetSession returns one session's info.
func (m *Manager) GetSession(id string) (domain.SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return domain.SessionInfo{}, domain.NewError(domain.KindNotFound, "manager.Manager.GetSession", domain.ErrSessionNotFound)
	}
	return sess.Info, nil
}

// GetMessages returns a copy of one session's ordered message log.
func (m *Manager) GetMessages(id string) ([]domain.SessionMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "manager.Manager.GetMessages", domain.ErrSessionNotFound)
	}
	out := make([]domain.SessionMessage, len(sess.Messages))
	copy(out, sess.Messages)
	return out, nil
}

func newSessionID() string {
	return uuid.New().String()
}
