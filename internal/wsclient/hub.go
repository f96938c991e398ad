// Package wsclient implements the Client WS Hub: the public WebSocket
// surface user clients connect to. It authenticates bearer JWTs (or
// manager API tokens), tracks per-session subscriptions, routes client
// commands into the Session Manager, and fans session events out to
// subscribers.
package wsclient

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lmdudester/clawd/internal/auth"
	"github.com/lmdudester/clawd/internal/domain"
	"github.com/lmdudester/clawd/internal/manager"
)

// authTimeout is how long a client connection has to present a valid
// auth frame before the hub closes it.
const authTimeout = 10 * time.Second

// CloseUnauthorized mirrors the internal hub's auth-failure close code.
const CloseUnauthorized = websocket.StatusCode(4001)

// SessionOps is the slice of the Session Manager client commands route
// into.
type SessionOps interface {
	SendMessage(id, content string) error
	ApproveToolUse(id, approvalID string, allow bool, message string) error
	AnswerQuestion(id, questionID string, answers []string) error
	InterruptSession(id string) error
	UpdateSessionSettings(id string, upd manager.SettingsUpdate) error
	SetModel(id, model string) error
	GetSupportedModels(id string) error
}

// Hub terminates user client connections on the public WS endpoint.
type Hub struct {
	ops           SessionOps
	jwtSecret     string
	managerTokens auth.ManagerTokenValidator // nil disables the manager auth path

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates the hub. managerTokens may be nil when the manager
// auth path is disabled.
func NewHub(ops SessionOps, jwtSecret string, managerTokens auth.ManagerTokenValidator) *Hub {
	return &Hub{
		ops:           ops,
		jwtSecret:     jwtSecret,
		managerTokens: managerTokens,
		clients:       make(map[*client]struct{}),
	}
}

// HasSubscribers reports whether any authenticated client currently
// subscribes to sessionID. The Session Manager's push gate calls this.
func (h *Hub) HasSubscribers(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.subscribed(sessionID) {
			return true
		}
	}
	return false
}

// Broadcast sends msg to every client subscribed to sessionID.
func (h *Hub) Broadcast(sessionID string, msg any) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed(sessionID) {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.send(msg)
	}
}

// BroadcastAll sends msg to every authenticated client regardless of
// subscriptions (session_update and auth_alert).
func (h *Hub) BroadcastAll(msg any) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.send(msg)
	}
}

// event is the envelope every fanned-out session event is wrapped in.
type event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Data      any    `json:"data,omitempty"`
}

// OnSessionEvent is the Session Manager's event bus callback: the hub
// is the sole subscriber. session_update goes to every client so
// session lists stay current without a subscription; all other events
// fan out to that session's subscribers only.
func (h *Hub) OnSessionEvent(sessionID, eventType string, data any) {
	msg := event{Type: eventType, SessionID: sessionID, Data: data}
	if eventType == domain.FrameSessionUpdate {
		h.BroadcastAll(msg)
		return
	}
	h.Broadcast(sessionID, msg)
}

// BroadcastAuthAlert notifies every client about a credential refresh
// outcome.
func (h *Hub) BroadcastAuthAlert(status, message string) {
	h.BroadcastAll(map[string]string{
		"type":    domain.FrameAuthAlert,
		"status":  status,
		"message": message,
	})
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Serve upgrades one client connection and runs it to completion.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("wsclient: websocket accept")
		return
	}
	defer ws.CloseNow()

	ctx := r.Context()

	c, ok := h.authenticate(ctx, ws)
	if !ok {
		// Best-effort auth_error frame before the close; the close code
		// alone carries the contract.
		_ = ws.Write(ctx, websocket.MessageText, []byte(`{"type":"auth_error"}`))
		_ = ws.Close(CloseUnauthorized, "authentication failed")
		return
	}

	c.send(map[string]string{"type": domain.FrameAuthOK})
	h.register(c)
	defer h.unregister(c)

	h.readLoop(ctx, c)
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			log.Debug().Err(err).Str("username", c.username).Msg("wsclient: client connection closed")
			return
		}

		var frame domain.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Err(err).Str("username", c.username).Msg("wsclient: malformed client frame, dropping")
			continue
		}

		h.dispatch(c, frame)
	}
}
