// Package domain holds the session orchestrator's core types: the
// Session/SessionMessage/PendingApproval/PendingQuestion/ManagerState
// data model, the session finite state machine, and the error taxonomy
// shared by every component that can fail a caller-visible operation.
package domain

import (
	"errors"
	"fmt"
)

// Kind is one of the seven caller-visible error surfaces from the error
// taxonomy. Components map a Kind to a transport-specific code (HTTP
// status, WS close code) at their boundary; Kind itself carries no
// transport assumption.
type Kind string

const (
	KindInvalidArgument   Kind = "InvalidArgument"
	KindUnauthorized      Kind = "Unauthorized"
	KindNotFound          Kind = "NotFound"
	KindConflictState     Kind = "ConflictState"
	KindResourceExhausted Kind = "ResourceExhausted"
	KindContainerError    Kind = "ContainerError"
	KindInternal          Kind = "Internal"
)

// Error is a Kind-tagged error. Callers use errors.As to recover the Kind
// without string-matching error messages.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a Kind-tagged error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf recovers the Kind from an error, defaulting to KindInternal when
// the error was never tagged.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Sentinel errors wrapped by the *Error taxonomy above. Components return
// these (via NewError) rather than ad hoc strings so tests can assert on
// identity with errors.Is.
var (
	ErrSessionNotFound  = errors.New("domain: session not found")
	ErrApprovalNotFound = errors.New("domain: approval not found")
	ErrQuestionNotFound = errors.New("domain: question not found")
	ErrInvalidState     = errors.New("domain: operation invalid for current session state")
	ErrPendingConflict  = errors.New("domain: a pending approval or question already blocks this session")
	ErrCapacityExceeded = errors.New("domain: maximum concurrent session count reached")
	ErrInvalidRepoURL   = errors.New("domain: repo URL is not a recognizable host[:/]owner/repo")
	ErrNotManager       = errors.New("domain: session is not a manager session")
	ErrTerminated       = errors.New("domain: session is terminated")
)
