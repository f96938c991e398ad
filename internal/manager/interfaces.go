// Package manager implements the Session Manager: the
// authoritative in-memory map of sessions, their finite state machines,
// message logs, pending approvals/questions, manager-child relationships,
// and the synchronous event bus that the Client WS Hub subscribes to.
package manager

import (
	"context"

	"github.com/lmdudester/clawd/internal/container"
)

// ContainerManager is the subset of container.Manager the Session
// Manager drives. Container daemon calls are never made while holding
// the session lock; this seam also lets tests substitute a
// fake Docker daemon.
type ContainerManager interface {
	CreateSessionContainer(ctx context.Context, opts container.CreateOptions) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopAndRemove(ctx context.Context, containerID string) error
	GetStatus(ctx context.Context, containerID string) (container.Status, error)
	ReconcileOnStartup(ctx context.Context, knownSessionIDs map[string]bool) (*container.ReconcileResult, error)
}

// AgentLink is the Session Manager's view of a live agent connection
// (internal/wsagent.Conn in production). Sends are fire-and-forget; a
// closed/gone socket silently drops the write.
type AgentLink interface {
	Send(msg any)
	Close()
}

// EventFunc is the Session Manager's event bus callback:
// invoked synchronously, once per semantic event, from within the
// dispatch that produced it. The Client WS Hub is the sole subscriber in
// production; tests substitute a recording fake.
type EventFunc func(sessionID string, event string, data any)
