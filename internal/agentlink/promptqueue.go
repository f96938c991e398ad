package agentlink

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Push after Close.
var ErrQueueClosed = errors.New("agentlink: prompt queue closed")

// PromptQueue bridges the master's user-prompt stream into the agent's
// message-driven loop: a bounded queue where the link's frame handler
// appends and the agent loop pulls. Close signals end-of-stream to the
// consumer; prompts already queued remain pullable.
type PromptQueue struct {
	ch        chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewPromptQueue returns a queue holding at most capacity prompts.
func NewPromptQueue(capacity int) *PromptQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &PromptQueue{ch: make(chan string, capacity), done: make(chan struct{})}
}

// Push appends one prompt, blocking while the queue is full. Returns
// ErrQueueClosed after Close, or the context error if ctx expires first.
func (q *PromptQueue) Push(ctx context.Context, prompt string) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.ch <- prompt:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pull blocks until a prompt is available, the stream has ended with
// nothing left queued (ok is false), or ctx expires.
func (q *PromptQueue) Pull(ctx context.Context) (string, bool) {
	select {
	case prompt := <-q.ch:
		return prompt, true
	case <-q.done:
		// Drain whatever was queued before the close.
		select {
		case prompt := <-q.ch:
			return prompt, true
		default:
			return "", false
		}
	case <-ctx.Done():
		return "", false
	}
}

// Close ends the stream. Idempotent.
func (q *PromptQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
