// Package agentlink is the in-container side of the internal agent
// protocol: a reconnecting WebSocket client of the master's internal
// hub. It authenticates with the session's bearer token, forwards
// master frames to the agent loop, and re-dials with exponential
// backoff after an unexpected disconnect.
package agentlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lmdudester/clawd/internal/domain"
)

const (
	backoffBase = time.Second
	backoffCap  = 30 * time.Second

	authReplyTimeout = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// ErrAuthRejected is returned when the master refuses the link's
// credentials on the first connection attempt.
var ErrAuthRejected = errors.New("agentlink: master rejected authentication")

// Backoff returns the reconnect delay for the given attempt:
// min(1s * 2^attempt, 30s).
func Backoff(attempt int) time.Duration {
	if attempt >= 5 {
		return backoffCap
	}
	d := backoffBase << attempt
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// FrameFunc receives each decoded master->agent frame.
type FrameFunc func(frame domain.Frame)

// Link is the reconnecting client. Outbound writes on a non-open socket
// are silent no-ops; durable state is re-emitted by the master after the
// next successful auth.
type Link struct {
	url       string
	sessionID string
	token     string
	onFrame   FrameFunc

	mu              sync.Mutex
	conn            *websocket.Conn
	shouldReconnect bool
	done            chan struct{}
	closeOnce       sync.Once
}

// New builds a Link dialing url with the session's credentials. onFrame
// is invoked from the read loop for every decoded master frame.
func New(url, sessionID, token string, onFrame FrameFunc) *Link {
	return &Link{
		url:       url,
		sessionID: sessionID,
		token:     token,
		onFrame:   onFrame,
		done:      make(chan struct{}),
	}
}

// Connect dials and authenticates the first connection. If it never
// authenticates, the error is returned and no reconnect is scheduled.
// On success the read/reconnect loop runs until Close.
func (l *Link) Connect(ctx context.Context) error {
	conn, err := l.dial(ctx)
	if err != nil {
		return fmt.Errorf("agentlink.Link.Connect: %w", err)
	}

	l.mu.Lock()
	l.conn = conn
	l.shouldReconnect = true
	l.mu.Unlock()

	go l.run(ctx, conn)
	return nil
}

// dial performs one connect + auth handshake.
func (l *Link) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, l.url, nil)
	if err != nil {
		return nil, err
	}

	authCtx, cancel := context.WithTimeout(ctx, authReplyTimeout)
	defer cancel()

	authFrame, err := json.Marshal(domain.AuthFrame{Type: domain.FrameAuth, SessionID: l.sessionID, Token: l.token})
	if err != nil {
		conn.CloseNow()
		return nil, err
	}
	if err := conn.Write(authCtx, websocket.MessageText, authFrame); err != nil {
		conn.CloseNow()
		return nil, err
	}

	_, reply, err := conn.Read(authCtx)
	if err != nil {
		conn.CloseNow()
		return nil, ErrAuthRejected
	}
	var f domain.Frame
	if err := json.Unmarshal(reply, &f); err != nil || f.Type != domain.FrameAuthOK {
		conn.CloseNow()
		return nil, ErrAuthRejected
	}

	return conn, nil
}

// run reads frames until the connection drops, then reconnects with
// exponential backoff. The attempt counter resets to 0 on each
// successful auth; reconnection stops only when Close is called.
func (l *Link) run(ctx context.Context, conn *websocket.Conn) {
	for {
		l.readLoop(ctx, conn)

		l.mu.Lock()
		l.conn = nil
		reconnect := l.shouldReconnect
		l.mu.Unlock()
		if !reconnect {
			return
		}

		var err error
		for attempt := 0;; attempt++ {
			delay := Backoff(attempt)
			log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("agentlink: reconnecting to master")

			select {
			case <-l.done:
				return
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			conn, err = l.dial(ctx)
			if err == nil {
				break
			}
			log.Warn().Err(err).Int("attempt", attempt).Msg("agentlink: reconnect failed")
		}

		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()
	}
}

func (l *Link) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("agentlink: connection to master lost")
			return
		}

		var frame domain.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Err(err).Msg("agentlink: malformed master frame, dropping")
			continue
		}

		if l.onFrame != nil {
			l.onFrame(frame)
		}
	}
}

// Send JSON-encodes msg and writes it to the master if the socket is
// open. A closed or reconnecting socket silently drops the write.
func (l *Link) Send(msg any) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("agentlink: marshal outbound frame")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		log.Debug().Err(err).Msg("agentlink: write to master failed, dropping frame")
	}
}

// Close stops reconnection and shuts the socket down. Idempotent.
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.shouldReconnect = false
		conn := l.conn
		l.conn = nil
		l.mu.Unlock()

		close(l.done)
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "agent shutting down")
		}
	})
}
