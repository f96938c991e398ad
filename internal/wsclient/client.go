package wsclient

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lmdudester/clawd/internal/auth"
	"github.com/lmdudester/clawd/internal/domain"
	"github.com/lmdudester/clawd/internal/manager"
)

const writeTimeout = 10 * time.Second

// client is one authenticated user connection and its subscription set.
type client struct {
	ws       *websocket.Conn
	username string

	mu     sync.Mutex
	subs   map[string]struct{}
	closed bool
}

func (c *client) subscribed(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[sessionID]
	return ok
}

func (c *client) subscribe(sessionID string) {
	c.mu.Lock()
	c.subs[sessionID] = struct{}{}
	c.mu.Unlock()
}

func (c *client) unsubscribe(sessionID string) {
	c.mu.Lock()
	delete(c.subs, sessionID)
	c.mu.Unlock()
}

// send JSON-encodes msg and writes it to the socket if open. Writes are
// serialized per connection; failures mark the socket closed and are
// otherwise swallowed, the read loop notices the close and cleans up.
func (c *client) send(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("wsclient: marshal outbound frame")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		log.Debug().Err(err).Str("username", c.username).Msg("wsclient: write failed, marking connection closed")
		c.closed = true
	}
}

// authenticate enforces the auth-first protocol: a valid
// bearer JWT or, alternately, a manager API token within authTimeout.
func (h *Hub) authenticate(ctx context.Context, ws *websocket.Conn) (*client, bool) {
	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	_, data, err := ws.Read(authCtx)
	if err != nil {
		log.Debug().Err(err).Msg("wsclient: connection closed before auth")
		return nil, false
	}

	var f domain.AuthFrame
	if err := json.Unmarshal(data, &f); err != nil || f.Type != domain.FrameAuth || f.Token == "" {
		log.Warn().Msg("wsclient: first frame was not a valid auth frame")
		return nil, false
	}

	if claims, jwtErr := auth.ValidateToken(h.jwtSecret, f.Token); jwtErr == nil {
		return &client{ws: ws, username: claims.Username, subs: make(map[string]struct{})}, true
	}

	if h.managerTokens != nil {
		if _, ok := h.managerTokens.ValidateManagerToken(f.Token); ok {
			return &client{ws: ws, username: "manager", subs: make(map[string]struct{})}, true
		}
	}

	log.Warn().Msg("wsclient: client auth rejected")
	return nil, false
}

// Post-auth client command payloads.
type sessionRef struct {
	SessionID string `json:"sessionId"`
}

type sendPromptFrame struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
}

type approveToolFrame struct {
	SessionID  string `json:"sessionId"`
	ApprovalID string `json:"approvalId"`
	Allow      bool   `json:"allow"`
	Message    string `json:"message,omitempty"`
}

type answerQuestionFrame struct {
	SessionID  string   `json:"sessionId"`
	QuestionID string   `json:"questionId"`
	Answers    []string `json:"answers"`
}

type updateSettingsFrame struct {
	SessionID            string                 `json:"sessionId"`
	PermissionMode       *domain.PermissionMode `json:"permissionMode,omitempty"`
	Name                 *string                `json:"name,omitempty"`
	NotificationsEnabled *bool                  `json:"notificationsEnabled,omitempty"`
}

type setModelFrame struct {
	SessionID string `json:"sessionId"`
	Model     string `json:"model"`
}

// dispatch routes one decoded client frame to the matching Session
// Manager operation. Operation errors are reported back to the issuing
// client only, tagged with the error taxonomy kind.
func (h *Hub) dispatch(c *client, frame domain.Frame) {
	decode := func(v any) bool {
		if err := json.Unmarshal(frame.Raw, v); err != nil {
			log.Warn().Err(err).Str("username", c.username).Str("type", frame.Type).Msg("wsclient: malformed client frame, dropping")
			return false
		}
		return true
	}

	var err error
	switch frame.Type {
	case domain.FrameSubscribe:
		var f sessionRef
		if decode(&f) {
			c.subscribe(f.SessionID)
		}
	case domain.FrameUnsubscribe:
		var f sessionRef
		if decode(&f) {
			c.unsubscribe(f.SessionID)
		}
	case domain.FrameSendPrompt:
		var f sendPromptFrame
		if decode(&f) {
			err = h.ops.SendMessage(f.SessionID, f.Content)
		}
	case domain.FrameApproveTool:
		var f approveToolFrame
		if decode(&f) {
			err = h.ops.ApproveToolUse(f.SessionID, f.ApprovalID, f.Allow, f.Message)
		}
	case domain.FrameAnswerQuestion:
		var f answerQuestionFrame
		if decode(&f) {
			err = h.ops.AnswerQuestion(f.SessionID, f.QuestionID, f.Answers)
		}
	case domain.FrameInterruptClient:
		var f sessionRef
		if decode(&f) {
			err = h.ops.InterruptSession(f.SessionID)
		}
	case domain.FrameUpdateSettingsClient:
		var f updateSettingsFrame
		if decode(&f) {
			err = h.ops.UpdateSessionSettings(f.SessionID, manager.SettingsUpdate{
				PermissionMode:       f.PermissionMode,
				Name:                 f.Name,
				NotificationsEnabled: f.NotificationsEnabled,
			})
		}
	case domain.FrameSetModelClient:
		var f setModelFrame
		if decode(&f) {
			err = h.ops.SetModel(f.SessionID, f.Model)
		}
	case domain.FrameGetModelsClient:
		var f sessionRef
		if decode(&f) {
			err = h.ops.GetSupportedModels(f.SessionID)
		}
	default:
		log.Warn().Str("username", c.username).Str("type", frame.Type).Msg("wsclient: unknown client frame type, dropping")
	}

	if err != nil {
		c.send(map[string]string{
			"type":    domain.FrameError,
			"code":    string(domain.KindOf(err)),
			"message": err.Error(),
		})
	}
}
