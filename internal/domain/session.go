package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is a session's finite state machine state.
type Status string

const (
	StatusStarting         Status = "starting"
	StatusIdle             Status = "idle"
	StatusRunning          Status = "running"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusAwaitingAnswer   Status = "awaiting_answer"
	StatusReconnecting     Status = "reconnecting"
	StatusError            Status = "error"
	StatusTerminated       Status = "terminated"
)

// HasContainer reports whether invariant 1 requires a
// non-null containerId for this status.
func (s Status) HasContainer() bool {
	switch s {
	case StatusStarting, StatusIdle, StatusRunning, StatusAwaitingApproval, StatusAwaitingAnswer, StatusReconnecting:
		return true
	default:
		return false
	}
}

// PermissionMode controls how much latitude the in-container agent has
// before a tool call requires human approval.
type PermissionMode string

const (
	PermissionNormal    PermissionMode = "normal"
	PermissionAutoEdits PermissionMode = "auto_edits"
	PermissionDangerous PermissionMode = "dangerous"
	PermissionPlan      PermissionMode = "plan"
)

// ContextUsage tracks token accounting for a session, both cumulative
// and for the most recent turn.
type ContextUsage struct {
	CumulativeInputTokens      int64         `json:"cumulativeInputTokens"`
	CumulativeOutputTokens     int64         `json:"cumulativeOutputTokens"`
	CumulativeCacheReadTokens  int64         `json:"cumulativeCacheReadTokens"`
	CumulativeCacheWriteTokens int64         `json:"cumulativeCacheWriteTokens"`
	LastInputTokens            int64         `json:"lastInputTokens"`
	LastOutputTokens           int64         `json:"lastOutputTokens"`
	LastCacheReadTokens        int64         `json:"lastCacheReadTokens"`
	LastCacheWriteTokens       int64         `json:"lastCacheWriteTokens"`
	MaxOutputTokens            int64         `json:"maxOutputTokens"`
	Turns                      int           `json:"turns"`
	WallDuration               time.Duration `json:"wallDuration"`
	APIDuration                time.Duration `json:"apiDuration"`
}

// SessionInfo is the externally-visible subset of Session (no message
// log, no bearer token). listSessions returns these.
type SessionInfo struct {
	ID                   uuid.UUID      `json:"id"`
	Name                 string         `json:"name"`
	Creator              string         `json:"creator"`
	RepoURL              string         `json:"repoUrl"`
	Branch               string         `json:"branch"`
	DockerAccess         bool           `json:"dockerAccess"`
	IsManager            bool           `json:"isManager"`
	PermissionMode       PermissionMode `json:"permissionMode"`
	Model                string         `json:"model"`
	NotificationsEnabled bool           `json:"notificationsEnabled"`
	ContainerID          string         `json:"containerId,omitempty"`
	Status               Status         `json:"status"`
	CreatedAt            time.Time      `json:"createdAt"`
	LastMessageAt        time.Time      `json:"lastMessageAt,omitempty"`
	LastMessagePreview   string         `json:"lastMessagePreview,omitempty"`
	TotalCostUSD         float64        `json:"totalCostUsd"`
	ContextUsage         ContextUsage   `json:"contextUsage"`
}

// MessageKind discriminates a SessionMessage's content shape.
type MessageKind string

const (
	MessageUser       MessageKind = "user"
	MessageAssistant  MessageKind = "assistant"
	MessageToolCall   MessageKind = "tool_call"
	MessageToolResult MessageKind = "tool_result"
	MessageSystem     MessageKind = "system"
	MessageError      MessageKind = "error"
)

// SessionMessage is one entry in a session's ordered, append-only (once
// not streaming) message log.
type SessionMessage struct {
	ID          int             `json:"id"`
	Kind        MessageKind     `json:"kind"`
	Content     string          `json:"content"`
	ToolName    string          `json:"toolName,omitempty"`
	ToolInput   map[string]any  `json:"toolInput,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	IsStreaming bool            `json:"isStreaming"`
}

// QuestionOption is one selectable option inside a QuestionBlock.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// QuestionBlock is one question the agent is asking the user.
type QuestionBlock struct {
	Question    string           `json:"question"`
	Header      string           `json:"header,omitempty"`
	Options     []QuestionOption `json:"options,omitempty"`
	MultiSelect bool             `json:"multiSelect"`
}

// PendingApproval blocks the FSM in StatusAwaitingApproval.
type PendingApproval struct {
	ID       string         `json:"id"`
	ToolName string         `json:"toolName"`
	ToolInput map[string]any `json:"toolInput,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// PendingQuestion blocks the FSM in StatusAwaitingAnswer.
type PendingQuestion struct {
	ID        string          `json:"id"`
	Questions []QuestionBlock `json:"questions"`
}

// ManagerStep is one phase of a manager session's own workflow.
type ManagerStep string

const (
	StepIdle      ManagerStep = "idle"
	StepExploring ManagerStep = "exploring"
	StepTriaging  ManagerStep = "triaging"
	StepPlanning  ManagerStep = "planning"
	StepReviewing ManagerStep = "reviewing"
	StepFixing    ManagerStep = "fixing"
	StepTesting   ManagerStep = "testing"
	StepMerging   ManagerStep = "merging"
)

// ManagerPreferences are the opaque knobs a manager session's own agent
// can be steered with.
type ManagerPreferences struct {
	Focus               string `json:"focus,omitempty"`
	SkipExploration     bool   `json:"skipExploration"`
	RequirePlanApproval bool   `json:"requirePlanApproval"`
}

// ManagerState is present only when Session.IsManager is true.
type ManagerState struct {
	TargetBranch string             `json:"targetBranch"`
	CurrentStep  ManagerStep        `json:"currentStep"`
	ChildIDs     []uuid.UUID        `json:"childIds"`
	Preferences  ManagerPreferences `json:"preferences"`
	Paused       bool               `json:"paused"`
	ResumeAt     *time.Time         `json:"resumeAt,omitempty"`
}

// Session is the full in-memory record the Session Manager owns. Fields
// not in SessionInfo are never sent to clients wholesale; they're either
// internal bookkeeping (sessionToken, pendingApproval/Question) or
// exposed through dedicated operations (messages via getMessages).
type Session struct {
	Info SessionInfo

	SessionToken []byte // 32 random bytes, constant-time compared on agent auth

	Messages        []SessionMessage
	nextMessageID   int
	PendingApproval *PendingApproval
	PendingQuestion *PendingQuestion

	IsManager       bool
	ManagerState    *ManagerState
	ManagerAPIToken string // scoped token for a manager session's child-session HTTP calls

	// PreDisconnectStatus remembers the status a session held before an
	// agent disconnect flipped it to StatusReconnecting, so a later
	// reconnect can restore it: the master restores its own last known
	// status rather than letting the reconnecting agent self-report one.
	PreDisconnectStatus Status
}

// NextMessageID allocates the next monotonic message id for this session.
func (s *Session) NextMessageID() int {
	s.nextMessageID++
	return s.nextMessageID
}

// SeedNextMessageID restores the monotonic counter after loading a
// session from the Session Store snapshot, so newly appended messages
// continue numbering after the highest persisted id instead of
// restarting at 1.
func (s *Session) SeedNextMessageID(highWater int) {
	if highWater > s.nextMessageID {
		s.nextMessageID = highWater
	}
}

// AppendMessage appends to the log, enforcing invariant 4 (append-only
// once a message has left isStreaming=true): callers must not mutate an
// already-finalized message in place, only append new ones or update the
// trailing still-streaming entry in place via UpdateStreamingMessage.
func (s *Session) AppendMessage(m SessionMessage) {
	s.Messages = append(s.Messages, m)
}

// UpdateStreamingMessage replaces the last message in place if, and only
// if, it is still streaming and shares the given id. It is the one
// sanctioned mutation of an existing log entry.
func (s *Session) UpdateStreamingMessage(id int, m SessionMessage) bool {
	if len(s.Messages) == 0 {
		return false
	}
	last := &s.Messages[len(s.Messages)-1]
	if last.ID != id || !last.IsStreaming {
		return false
	}
	*last = m
	return true
}

// PersistedSession is the on-disk shape of one session within the
// Session Store snapshot.
type PersistedSession struct {
	Info            SessionInfo      `json:"info"`
	Messages        []SessionMessage `json:"messages"`
	SessionToken    string           `json:"sessionToken"` // hex-encoded
	ContainerID     string           `json:"containerId,omitempty"`
	ManagerAPIToken string           `json:"managerApiToken,omitempty"`
	ManagerState    *ManagerState    `json:"managerState,omitempty"`
}

// PersistedState is the full snapshot file shape.
type PersistedState struct {
	Sessions      []PersistedSession `json:"sessions"`
	InternalSecret string            `json:"internalSecret"` // hex-encoded 256-bit
}
