package manager

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lmdudester/clawd/internal/domain"
)

// HandleAgentMessage dispatches one decoded agent->master frame.
// Malformed payloads are logged and dropped, mirroring the Internal WS
// Hub's own malformed-frame policy: one bad frame must never take down
// the session.
func (m *Manager) HandleAgentMessage(sessionID string, frame domain.Frame) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	terminated := ok && sess.Info.Status == domain.StatusTerminated
	m.mu.Unlock()
	if terminated {
		// A frame racing the session's deletion; terminated is absorbing,
		// so it must not touch the lingering session.
		log.Debug().Str("sessionId", sessionID).Str("type", frame.Type).Msg("manager: frame for terminated session, dropping")
		return
	}

	switch frame.Type {
	case domain.FrameReady:
		m.handleReady(sessionID)
	case domain.FrameSetupProgress:
		m.handleSetupProgress(sessionID, frame.Raw)
	case domain.FrameSDKMessage:
		m.handleSDKMessage(sessionID, frame.Raw)
	case domain.FrameStream:
		m.handleStream(sessionID, frame.Raw)
	case domain.FrameApprovalRequest:
		m.handleApprovalRequest(sessionID, frame.Raw)
	case domain.FrameQuestion:
		m.handleQuestion(sessionID, frame.Raw)
	case domain.FrameResult:
		m.handleResult(sessionID, frame.Raw)
	case domain.FrameStatusUpdate:
		m.handleStatusUpdate(sessionID, frame.Raw)
	case domain.FrameSessionInfoUpdate:
		m.handleSessionInfoUpdate(sessionID, frame.Raw)
	case domain.FrameModelsList:
		m.handleModelsList(sessionID, frame.Raw)
	case domain.FrameError:
		m.handleError(sessionID, frame.Raw)
	default:
		log.Warn().Str("sessionId", sessionID).Str("type", frame.Type).Msg("manager: unknown agent frame type, dropping")
	}
}

func (m *Manager) decode(sessionID, frameType string, raw json.RawMessage, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Str("type", frameType).Msg("manager: malformed agent frame, dropping")
		return false
	}
	return true
}

func (m *Manager) handleReady(sessionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if next, legal := domain.Next(sess.Info.Status, domain.EventAgentReady); legal {
		sess.Info.Status = next
	}
	info := sess.Info
	m.mu.Unlock()

	m.schedulePersistLocking()
	m.emit(sessionID, domain.FrameSessionUpdate, info)
}

func (m *Manager) handleSetupProgress(sessionID string, raw json.RawMessage) {
	var f domain.SetupProgressFrame
	if !m.decode(sessionID, domain.FrameSetupProgress, raw, &f) {
		return
	}

	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	msg := domain.SessionMessage{ID: sess.NextMessageID(), Kind: domain.MessageSystem, Content: f.Text, Timestamp: time.Now()}
	sess.AppendMessage(msg)
	m.mu.Unlock()

	m.schedulePersistLocking()
	m.emit(sessionID, domain.FrameMessages, []domain.SessionMessage{msg})
}

func (m *Manager) handleSDKMessage(sessionID string, raw json.RawMessage) {
	var f domain.SDKMessageFrame
	if !m.decode(sessionID, domain.FrameSDKMessage, raw, &f) {
		return
	}

	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	msg := domain.SessionMessage{
		ID:        sess.NextMessageID(),
		Kind:      f.Message.Kind,
		Content:   f.Message.Content,
		ToolName:  f.Message.ToolName,
		ToolInput: f.Message.ToolInput,
		Timestamp: time.Now(),
	}
	sess.AppendMessage(msg)
	sess.Info.LastMessageAt = msg.Timestamp
	sess.Info.LastMessagePreview = preview(msg.Content)
	m.mu.Unlock()

	m.schedulePersistLocking()
	m.emit(sessionID, domain.FrameMessages, []domain.SessionMessage{msg})
}

func (m *Manager) handleStream(sessionID string, raw json.RawMessage) {
	var f domain.StreamFrame
	if !m.decode(sessionID, domain.FrameStream, raw, &f) {
		return
	}
	// Streaming chunks coalesce client-side; the durable log is
	// untouched until the final sdk_message.
	m.emit(sessionID, domain.FrameStreamEvent, f)
}

func (m *Manager) handleApprovalRequest(sessionID string, raw json.RawMessage) {
	var f domain.ApprovalRequestFrame
	if !m.decode(sessionID, domain.FrameApprovalRequest, raw, &f) {
		return
	}

	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	next, legal := domain.Next(sess.Info.Status, domain.EventAgentApprovalRequest)
	if !legal {
		status := sess.Info.Status
		m.mu.Unlock()
		log.Warn().Str("sessionId", sessionID).Str("status", string(status)).Msg("manager: approval_request outside running state, dropping")
		return
	}
	sess.PendingApproval = &domain.PendingApproval{ID: f.ID, ToolName: f.ToolName, ToolInput: f.ToolInput, Reason: f.Reason}
	sess.Info.Status = next
	pending := *sess.PendingApproval
	m.mu.Unlock()

	m.schedulePersistLocking()
	m.emit(sessionID, domain.FrameApprovalRequest, pending)
	m.pushNow(sessionID, "Approval Required", "The agent wants to run "+pending.ToolName+".")
}

func (m *Manager) handleQuestion(sessionID string, raw json.RawMessage) {
	var f domain.QuestionFrame
	if !m.decode(sessionID, domain.FrameQuestion, raw, &f) {
		return
	}

	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	next, legal := domain.Next(sess.Info.Status, domain.EventAgentQuestion)
	if !legal {
		status := sess.Info.Status
		m.mu.Unlock()
		log.Warn().Str("sessionId", sessionID).Str("status", string(status)).Msg("manager: question outside running state, dropping")
		return
	}
	sess.PendingQuestion = &domain.PendingQuestion{ID: f.ID, Questions: f.Questions}
	sess.Info.Status = next
	pending := *sess.PendingQuestion
	m.mu.Unlock()

	m.schedulePersistLocking()
	m.emit(sessionID, domain.FrameQuestion, pending)
	m.pushNow(sessionID, "Question", "The agent is waiting on an answer.")
}

func (m *Manager) handleResult(sessionID string, raw json.RawMessage) {
	var f domain.ResultFrame
	if !m.decode(sessionID, domain.FrameResult, raw, &f) {
		return
	}

	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	sess.Info.Status = domain.StatusIdle
	sess.Info.TotalCostUSD = f.TotalCostUSD
	sess.Info.ContextUsage = f.ContextUsage
	info := sess.Info
	m.mu.Unlock()

	m.schedulePersistLocking()
	m.emit(sessionID, domain.FrameResult, info)
	m.scheduleTaskCompletePush(sessionID)
}

func (m *Manager) handleStatusUpdate(sessionID string, raw json.RawMessage) {
	var f domain.StatusUpdateFrame
	if !m.decode(sessionID, domain.FrameStatusUpdate, raw, &f) {
		return
	}

	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	sess.Info.Status = f.Status
	info := sess.Info
	m.mu.Unlock()

	if f.Status == domain.StatusRunning {
		m.cancelTaskCompletePush(sessionID)
	}
	m.schedulePersistLocking()
	m.emit(sessionID, domain.FrameSessionUpdate, info)
}

func (m *Manager) handleSessionInfoUpdate(sessionID string, raw json.RawMessage) {
	var f domain.SessionInfoUpdateFrame
	if !m.decode(sessionID, domain.FrameSessionInfoUpdate, raw, &f) {
		return
	}

	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if f.Model != "" {
		sess.Info.Model = f.Model
	}
	if f.PermissionMode != "" {
		sess.Info.PermissionMode = f.PermissionMode
	}
	if f.TotalCostUSD != nil {
		sess.Info.TotalCostUSD = *f.TotalCostUSD
	}
	if f.ContextUsage != nil {
		sess.Info.ContextUsage = *f.ContextUsage
	}
	info := sess.Info
	m.mu.Unlock()

	m.schedulePersistLocking()
	m.emit(sessionID, domain.FrameSessionUpdate, info)
}

func (m *Manager) handleModelsList(sessionID string, raw json.RawMessage) {
	var f domain.ModelsListFrame
	if !m.decode(sessionID, domain.FrameModelsList, raw, &f) {
		return
	}
	m.emit(sessionID, domain.FrameModelsList, f)
}

func (m *Manager) handleError(sessionID string, raw json.RawMessage) {
	var f struct {
		Message string `json:"message"`
	}
	if !m.decode(sessionID, domain.FrameError, raw, &f) {
		return
	}

	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	msg := domain.SessionMessage{ID: sess.NextMessageID(), Kind: domain.MessageError, Content: f.Message, Timestamp: time.Now()}
	sess.AppendMessage(msg)
	sess.Info.Status = domain.StatusError
	info := sess.Info
	m.mu.Unlock()

	m.schedulePersistLocking()
	m.emit(sessionID, domain.FrameMessages, []domain.SessionMessage{msg})
	m.emit(sessionID, domain.FrameSessionUpdate, info)
}
