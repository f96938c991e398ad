// Package wsagent implements the Internal WS Hub: the endpoint
// in-container agents dial back to. It authenticates each connection
// against its session's bearer token, registers the resulting link with
// the Session Manager, and forwards decoded agent frames into the
// manager's dispatch.
package wsagent

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lmdudester/clawd/internal/domain"
	"github.com/lmdudester/clawd/internal/manager"
)

// authTimeout is how long a freshly accepted agent connection has to
// present a valid auth frame before the hub closes it.
const authTimeout = 30 * time.Second

// CloseUnauthorized is the WS close code for any auth failure on either
// hub.
const CloseUnauthorized = websocket.StatusCode(4001)

// Sessions is the slice of the Session Manager the hub drives.
type Sessions interface {
	AuthenticateAgent(sessionID string, token []byte) bool
	RegisterAgentConnection(sessionID string, link manager.AgentLink)
	UnregisterAgentConnection(sessionID string, link manager.AgentLink) bool
	HandleAgentDisconnect(sessionID string)
	HandleAgentMessage(sessionID string, frame domain.Frame)
}

// Hub terminates inbound agent connections on /internal/session.
type Hub struct {
	sessions Sessions
}

// NewHub creates the hub over the given Session Manager.
func NewHub(sessions Sessions) *Hub {
	return &Hub{sessions: sessions}
}

// Serve upgrades one agent connection and runs it to completion.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("wsagent: websocket accept")
		return
	}
	defer ws.CloseNow()

	ctx := r.Context()

	sessionID, ok := h.authenticate(ctx, ws)
	if !ok {
		_ = ws.Close(CloseUnauthorized, "authentication failed")
		return
	}

	conn := newConn(ws)
	conn.Send(map[string]string{"type": domain.FrameAuthOK})
	h.sessions.RegisterAgentConnection(sessionID, conn)
	defer func() {
		// Only a link that was still current counts as a disconnect; a
		// replaced link going away must not flip the session to
		// reconnecting.
		if h.sessions.UnregisterAgentConnection(sessionID, conn) {
			h.sessions.HandleAgentDisconnect(sessionID)
		}
	}()

	h.readLoop(ctx, ws, sessionID)
}

// authenticate enforces the auth-first protocol: the first frame must be
// a valid auth frame within authTimeout. Bad token, non-auth first
// message, invalid JSON before auth, or timer elapse all fail.
func (h *Hub) authenticate(ctx context.Context, ws *websocket.Conn) (string, bool) {
	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	_, data, err := ws.Read(authCtx)
	if err != nil {
		log.Debug().Err(err).Msg("wsagent: connection closed before auth")
		return "", false
	}

	var f domain.AuthFrame
	if err := json.Unmarshal(data, &f); err != nil || f.Type != domain.FrameAuth || f.SessionID == "" {
		log.Warn().Msg("wsagent: first frame was not a valid auth frame")
		return "", false
	}

	token, err := hex.DecodeString(f.Token)
	if err != nil || !h.sessions.AuthenticateAgent(f.SessionID, token) {
		log.Warn().Str("sessionId", f.SessionID).Msg("wsagent: agent auth rejected")
		return "", false
	}

	return f.SessionID, true
}

// readLoop decodes post-auth frames and forwards them to the Session
// Manager. Malformed frames are logged and dropped without closing.
func (h *Hub) readLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			log.Debug().Err(err).Str("sessionId", sessionID).Msg("wsagent: agent connection closed")
			return
		}

		var frame domain.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Msg("wsagent: malformed agent frame, dropping")
			continue
		}

		h.sessions.HandleAgentMessage(sessionID, frame)
	}
}
