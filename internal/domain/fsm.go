package domain

// Event is one input to the session finite state machine.
type Event string

const (
	EventAgentReady            Event = "agent_ready"
	EventContainerFailure      Event = "container_failure"
	EventSendMessage           Event = "send_message"
	EventAgentApprovalRequest  Event = "agent_approval_request"
	EventAgentQuestion         Event = "agent_question"
	EventAgentResult           Event = "agent_result"
	EventApproveToolUse        Event = "approve_tool_use"
	EventAnswerQuestion        Event = "answer_question"
	EventAgentDisconnect       Event = "agent_disconnect"
	EventAgentReconnected      Event = "agent_reconnected"
	EventDeleteSession         Event = "delete_session"
)

// transitions is the session FSM table. "any (not terminated)"
// and "any" rows are expressed as inline checks on the event and the
// terminated status in Next rather than enumerated per source state, to
// keep the table declarative.
var transitions = map[Status]map[Event]Status{
	StatusStarting: {
		EventAgentReady:       StatusIdle,
		EventContainerFailure: StatusError,
	},
	StatusIdle: {
		EventSendMessage: StatusRunning,
	},
	StatusRunning: {
		EventAgentApprovalRequest: StatusAwaitingApproval,
		EventAgentQuestion:        StatusAwaitingAnswer,
		EventAgentResult:          StatusIdle,
	},
	StatusAwaitingApproval: {
		EventApproveToolUse: StatusRunning,
	},
	StatusAwaitingAnswer: {
		EventAnswerQuestion: StatusRunning,
	},
	// StatusReconnecting's "agent reconnects" transition needs the
	// pre-disconnect status, which isn't expressible in this static
	// table; the Session Manager's RegisterAgentConnection resolves it
	// directly instead of calling Next.
}

// Next returns the status after applying event to current, and whether
// the transition is legal. EventDeleteSession and EventAgentDisconnect
// are legal from any non-terminal status and are handled here rather
// than in the per-status map.
func Next(current Status, event Event) (Status, bool) {
	if current == StatusTerminated {
		return current, false
	}

	if event == EventDeleteSession {
		return StatusTerminated, true
	}

	if event == EventAgentDisconnect {
		return StatusReconnecting, true
	}

	if row, ok := transitions[current]; ok {
		if next, ok := row[event]; ok {
			return next, true
		}
	}

	return current, false
}
