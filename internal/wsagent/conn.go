package wsagent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/rs/zerolog/log"
)

// writeTimeout bounds a single outbound frame write so one stalled
// socket can't wedge the Session Manager's send path.
const writeTimeout = 10 * time.Second

// Conn is one authenticated agent link. It implements manager.AgentLink:
// sends are JSON-encoded and written to the socket if open; writes on a
// closed socket are silent no-ops.
type Conn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send JSON-encodes msg and writes it to the socket. Writes are
// serialized; a write failure marks the connection closed and is
// otherwise swallowed.
func (c *Conn) Send(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("wsagent: marshal outbound frame")
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
		log.Debug().Err(err).Msg("wsagent: write to agent failed, marking link closed")
		c.closed = true
	}
}

// Close shuts the socket down. Idempotent; a replaced link is closed
// this way by the Session Manager.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.ws.Close(websocket.StatusNormalClosure, "link replaced or session terminated")
}
