package manager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lmdudester/clawd/internal/container"
	"github.com/lmdudester/clawd/internal/domain"
)

const defaultModel = "opus"

// CreateSessionOptions carries everything CreateSession needs beyond
// the validated name/repo/branch inputs. Fields mirror container.CreateOptions'
// secret/credential inputs, which are sourced from out-of-scope
// collaborators (OAuth credential discovery, the GitHub-repo helper)
// and simply passed through here.
type CreateSessionOptions struct {
	Name                 string
	Creator              string
	RepoURL              string
	Branch               string
	DockerAccess         bool
	ManagerMode          bool
	GitUserName          string
	GitUserEmail         string
	CredentialsPath      string
	GithubToken          string
	ClaudeCodeOAuthToken string
	MasterWSURL          string
	MasterHTTPURL        string
}

// CreateSession allocates a session, generates its bearer token, and
// creates and starts its container. The session stays listed in error
// state if the container daemon fails.
func (m *Manager) CreateSession(ctx context.Context, opts CreateSessionOptions) (domain.SessionInfo, error) {
	const op = "manager.Manager.CreateSession"

	if strings.TrimSpace(opts.Name) == "" {
		return domain.SessionInfo{}, domain.NewError(domain.KindInvalidArgument, op, fmt.Errorf("name must not be empty"))
	}
	if _, ok := domain.ParseOwnerRepo(opts.RepoURL); !ok {
		return domain.SessionInfo{}, domain.NewError(domain.KindInvalidArgument, op, domain.ErrInvalidRepoURL)
	}

	m.mu.Lock()
	if m.maxSessions > 0 {
		running := 0
		for _, sess := range m.sessions {
			if sess.Info.Status != domain.StatusTerminated {
				running++
			}
		}
		if running >= m.maxSessions {
			m.mu.Unlock()
			return domain.SessionInfo{}, domain.NewError(domain.KindResourceExhausted, op, domain.ErrCapacityExceeded)
		}
	}

	id := newSessionID()
	token := make([]byte, 32)
	if _, err := rand.Read(token); err != nil {
		m.mu.Unlock()
		return domain.SessionInfo{}, domain.NewError(domain.KindInternal, op, err)
	}

	sessionUUID := uuid.MustParse(id)
	sess := &domain.Session{
		Info: domain.SessionInfo{
			ID:             sessionUUID,
			Name:           opts.Name,
			Creator:        opts.Creator,
			RepoURL:        opts.RepoURL,
			Branch:         opts.Branch,
			DockerAccess:   opts.DockerAccess,
			IsManager:      opts.ManagerMode,
			PermissionMode: domain.PermissionNormal,
			Model:          defaultModel,
			Status:         domain.StatusStarting,
			CreatedAt:      time.Now(),
		},
		SessionToken: token,
		IsManager:    opts.ManagerMode,
	}
	if opts.ManagerMode {
		sess.ManagerState = &domain.ManagerState{TargetBranch: opts.Branch, CurrentStep: domain.StepIdle}
		apiToken := make([]byte, 32)
		if _, err := rand.Read(apiToken); err != nil {
			m.mu.Unlock()
			return domain.SessionInfo{}, domain.NewError(domain.KindInternal, op, err)
		}
		sess.ManagerAPIToken = hex.EncodeToString(apiToken)
	}
	m.sessions[id] = sess
	managerAPIToken := sess.ManagerAPIToken
	m.mu.Unlock()

	m.schedulePersistLocking()
	m.emit(id, domain.FrameSessionUpdate, sess.Info)

	containerID, err := m.containers.CreateSessionContainer(ctx, container.CreateOptions{
		SessionID:            sessionUUID,
		PermissionMode:       domain.PermissionNormal,
		RepoURL:              opts.RepoURL,
		Branch:               opts.Branch,
		Model:                defaultModel,
		GitUserName:          opts.GitUserName,
		GitUserEmail:         opts.GitUserEmail,
		DockerAccess:         opts.DockerAccess,
		IsManager:            opts.ManagerMode,
		MasterHTTPURL:        opts.MasterHTTPURL,
		CredentialsPath:      opts.CredentialsPath,
		SessionToken:         hex.EncodeToString(token),
		MasterWSURL:          opts.MasterWSURL,
		GithubToken:          opts.GithubToken,
		ClaudeCodeOAuthToken: opts.ClaudeCodeOAuthToken,
		ManagerAPIToken:      managerAPIToken,
	})
	if err != nil {
		return m.failStarting(id, op, err)
	}

	if err := m.containers.StartContainer(ctx, containerID); err != nil {
		return m.failStarting(id, op, err)
	}

	m.mu.Lock()
	sess.Info.ContainerID = containerID
	info := sess.Info
	m.mu.Unlock()

	m.schedulePersistLocking()
	m.emit(id, domain.FrameSessionUpdate, info)

	return info, nil
}

// failStarting transitions a session to StatusError after a container
// failure during creation.
func (m *Manager) failStarting(id, op string, cause error) (domain.SessionInfo, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		sess.Info.Status = domain.StatusError
	}
	m.mu.Unlock()

	m.schedulePersistLocking()
	if ok {
		m.emit(id, domain.FrameSessionUpdate, sess.Info)
	}
	return domain.SessionInfo{}, domain.NewError(domain.KindContainerError, op, cause)
}

// schedulePersistLocking acquires mu to call schedulePersist from
// outside an already-locked section.
func (m *Manager) schedulePersistLocking() {
	m.mu.Lock()
	m.schedulePersist()
	m.mu.Unlock()
}

// DeleteSession terminates a session: resolves any pending approval or
// question, closes the agent link, stops and removes the container, and
// drops the session from memory after a short grace so subscribed
// clients can observe the terminal state.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	const op = "manager.Manager.DeleteSession"

	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return domain.NewError(domain.KindNotFound, op, domain.ErrSessionNotFound)
	}

	next, legal := domain.Next(sess.Info.Status, domain.EventDeleteSession)
	if !legal {
		// Terminated is absorbing; a second delete is a no-op while the
		// removal grace runs out.
		m.mu.Unlock()
		return nil
	}
	pendingApproval := sess.PendingApproval
	pendingQuestion := sess.PendingQuestion
	sess.PendingApproval = nil
	sess.PendingQuestion = nil
	sess.Info.Status = next
	containerID := sess.Info.ContainerID
	link := m.links[id]
	delete(m.links, id)
	info := sess.Info
	m.mu.Unlock()

	// Any outstanding approval resolves as denied and any question as
	// unanswered before the link goes down.
	if link != nil {
		if pendingApproval != nil {
			link.Send(domain.ApprovalResponseFrame{ApprovalID: pendingApproval.ID, Allow: false})
		}
		if pendingQuestion != nil {
			link.Send(domain.QuestionResponseFrame{QuestionID: pendingQuestion.ID, Answers: []string{}})
		}
		link.Close()
	}

	m.cancelTaskCompletePush(id)
	m.schedulePersistLocking()
	m.emit(id, domain.FrameSessionUpdate, info)

	if containerID != "" {
		if err := m.containers.StopAndRemove(ctx, containerID); err != nil {
			// Logged and swallowed: the session is removed from memory
			// even when the daemon refuses the stop/remove.
			m.logContainerDeleteError(id, err)
		}
	}

	m.mu.Lock()
	if t, exists := m.removeTimers[id]; exists {
		t.Stop()
	}
	m.removeTimers[id] = time.AfterFunc(deleteGrace, func() { m.removeTerminated(id) })
	m.mu.Unlock()

	return nil
}

func (m *Manager) removeTerminated(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	delete(m.removeTimers, id)
	m.schedulePersist()
	m.mu.Unlock()
}

// SendMessage appends a user message, forwards it to the agent, and
// moves an idle session to running. Rejected while an approval or
// question is pending.
func (m *Manager) SendMessage(id, content string) error {
	const op = "manager.Manager.SendMessage"

	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return domain.NewError(domain.KindNotFound, op, domain.ErrSessionNotFound)
	}
	// A terminated session lingers in memory for the removal grace;
	// nothing may mutate it during that window.
	if sess.Info.Status == domain.StatusTerminated {
		m.mu.Unlock()
		return domain.NewError(domain.KindConflictState, op, domain.ErrTerminated)
	}
	if sess.PendingApproval != nil || sess.PendingQuestion != nil {
		m.mu.Unlock()
		return domain.NewError(domain.KindConflictState, op, domain.ErrPendingConflict)
	}

	msg := domain.SessionMessage{
		ID:        sess.NextMessageID(),
		Kind:      domain.MessageUser,
		Content:   content,
		Timestamp: time.Now(),
	}
	sess.AppendMessage(msg)
	sess.Info.LastMessageAt = msg.Timestamp
	sess.Info.LastMessagePreview = preview(content)

	if next, legal := domain.Next(sess.Info.Status, domain.EventSendMessage); legal {
		sess.Info.Status = next
	}
	info := sess.Info
	link := m.links[id]
	m.mu.Unlock()

	m.cancelTaskCompletePush(id)
	m.schedulePersistLocking()
	m.emit(id, domain.FrameMessages, []domain.SessionMessage{msg})
	m.emit(id, domain.FrameSessionUpdate, info)

	if link != nil {
		link.Send(domain.UserMessageFrame{Content: content})
	}
	return nil
}

// ApproveToolUse resolves the current pending approval and forwards the
// verdict to the agent.
func (m *Manager) ApproveToolUse(id, approvalID string, allow bool, message string) error {
	const op = "manager.Manager.ApproveToolUse"

	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return domain.NewError(domain.KindNotFound, op, domain.ErrSessionNotFound)
	}
	if sess.PendingApproval == nil || sess.PendingApproval.ID != approvalID {
		m.mu.Unlock()
		return domain.NewError(domain.KindNotFound, op, domain.ErrApprovalNotFound)
	}

	sess.PendingApproval = nil
	sess.Info.Status = domain.StatusRunning
	info := sess.Info
	link := m.links[id]
	m.mu.Unlock()

	m.cancelTaskCompletePush(id)
	m.schedulePersistLocking()
	m.emit(id, domain.FrameSessionUpdate, info)

	if link != nil {
		link.Send(domain.ApprovalResponseFrame{ApprovalID: approvalID, Allow: allow, Message: message})
	}
	return nil
}

// AnswerQuestion resolves the current pending question and forwards the
// answers to the agent.
func (m *Manager) AnswerQuestion(id, questionID string, answers []string) error {
	const op = "manager.Manager.AnswerQuestion"

	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return domain.NewError(domain.KindNotFound, op, domain.ErrSessionNotFound)
	}
	if sess.PendingQuestion == nil || sess.PendingQuestion.ID != questionID {
		m.mu.Unlock()
		return domain.NewError(domain.KindNotFound, op, domain.ErrQuestionNotFound)
	}

	sess.PendingQuestion = nil
	sess.Info.Status = domain.StatusRunning
	info := sess.Info
	link := m.links[id]
	m.mu.Unlock()

	m.cancelTaskCompletePush(id)
	m.schedulePersistLocking()
	m.emit(id, domain.FrameSessionUpdate, info)

	if link != nil {
		link.Send(domain.QuestionResponseFrame{QuestionID: questionID, Answers: answers})
	}
	return nil
}

// InterruptSession forwards
// the interrupt and does not itself change status, the agent confirms
// via a later `result` event.
func (m *Manager) InterruptSession(id string) error {
	const op = "manager.Manager.InterruptSession"

	m.mu.Lock()
	_, ok := m.sessions[id]
	link := m.links[id]
	m.mu.Unlock()
	if !ok {
		return domain.NewError(domain.KindNotFound, op, domain.ErrSessionNotFound)
	}

	if link != nil {
		link.Send(map[string]string{"type": domain.FrameInterrupt})
	}
	return nil
}

// SettingsUpdate is the mutable subset of a session's settings a client
// may change.
type SettingsUpdate struct {
	PermissionMode       *domain.PermissionMode
	Name                 *string
	NotificationsEnabled *bool
}

// UpdateSessionSettings mutates the session's settings and forwards the
// agent-observable ones.
func (m *Manager) UpdateSessionSettings(id string, upd SettingsUpdate) error {
	const op = "manager.Manager.UpdateSessionSettings"

	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return domain.NewError(domain.KindNotFound, op, domain.ErrSessionNotFound)
	}
	if sess.Info.Status == domain.StatusTerminated {
		m.mu.Unlock()
		return domain.NewError(domain.KindConflictState, op, domain.ErrTerminated)
	}

	forwardPermission := false
	if upd.PermissionMode != nil {
		sess.Info.PermissionMode = *upd.PermissionMode
		forwardPermission = true
	}
	if upd.Name != nil {
		sess.Info.Name = *upd.Name
	}
	if upd.NotificationsEnabled != nil {
		sess.Info.NotificationsEnabled = *upd.NotificationsEnabled
	}
	info := sess.Info
	link := m.links[id]
	m.mu.Unlock()

	m.schedulePersistLocking()
	m.emit(id, domain.FrameSessionUpdate, info)

	// Only agent-observable fields are forwarded: name and
	// notificationsEnabled are master-side bookkeeping only.
	if forwardPermission && link != nil {
		link.Send(map[string]any{"type": domain.FrameUpdateSettings, "permissionMode": info.PermissionMode})
	}
	return nil
}

// SetModel asks the agent to switch models; the change is confirmed
// back via a later session_info_update.
func (m *Manager) SetModel(id, model string) error {
	const op = "manager.Manager.SetModel"

	m.mu.Lock()
	_, ok := m.sessions[id]
	link := m.links[id]
	m.mu.Unlock()
	if !ok {
		return domain.NewError(domain.KindNotFound, op, domain.ErrSessionNotFound)
	}

	if link != nil {
		link.Send(map[string]string{"type": domain.FrameSetModel, "model": model})
	}
	return nil
}

// GetSupportedModels asks the agent for its model list: the
// agent reports back asynchronously via a models_list frame (dispatched
// through HandleAgentMessage), this call just requests it.
func (m *Manager) GetSupportedModels(id string) error {
	const op = "manager.Manager.GetSupportedModels"

	m.mu.Lock()
	_, ok := m.sessions[id]
	link := m.links[id]
	m.mu.Unlock()
	if !ok {
		return domain.NewError(domain.KindNotFound, op, domain.ErrSessionNotFound)
	}

	if link != nil {
		link.Send(map[string]string{"type": domain.FrameGetModels})
	}
	return nil
}

// UpdateManagerStep advances a manager session's workflow step.
// Rejected for non-manager sessions.
func (m *Manager) UpdateManagerStep(id string, step domain.ManagerStep) error {
	const op = "manager.Manager.UpdateManagerStep"

	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return domain.NewError(domain.KindNotFound, op, domain.ErrSessionNotFound)
	}
	if sess.Info.Status == domain.StatusTerminated {
		m.mu.Unlock()
		return domain.NewError(domain.KindConflictState, op, domain.ErrTerminated)
	}
	if !sess.IsManager || sess.ManagerState == nil {
		m.mu.Unlock()
		return domain.NewError(domain.KindInvalidArgument, op, domain.ErrNotManager)
	}

	sess.ManagerState.CurrentStep = step
	info := sess.Info
	m.mu.Unlock()

	m.schedulePersistLocking()
	m.emit(id, domain.FrameSessionUpdate, info)
	return nil
}

func (m *Manager) logContainerDeleteError(id string, err error) {
	log.Error().Err(err).Str("sessionId", id).Msg("manager: container stop/remove failed during delete, session removed from memory regardless")
}

// preview truncates content to at most 160 characters, cutting on rune
// boundaries so a multi-byte sequence is never split.
func preview(content string) string {
	const maxLen = 160
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen])
}
