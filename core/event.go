package core

import "time"

// EventType enumerates the typed events emitted to a client while a turn
// executes. Events for a node are ordered reasoning → tool (zero or more) →
// decision; no event for the next node precedes the current node's completion.
type EventType string

const (
	// EventTurnStart opens the event stream for one inbound message.
	EventTurnStart EventType = "turn_start"
	// EventNodeStart marks control entering an agent node.
	EventNodeStart EventType = "node_start"
	// EventReasoningStart marks the beginning of a node's tool-enabled reasoning call.
	EventReasoningStart EventType = "reasoning_start"
	// EventReasoningToken carries one incremental text fragment of the reasoning phase.
	EventReasoningToken EventType = "reasoning_token"
	// EventToolStart marks the start of a single capability invocation.
	EventToolStart EventType = "tool_start"
	// EventToolEnd marks the completion of a single capability invocation.
	EventToolEnd EventType = "tool_end"
	// EventDecisionStart marks the structured-decision call; its output is only
	// exposed once fully parsed, so no tokens follow until the turn ends.
	EventDecisionStart EventType = "decision_start"
	// EventTurnEnd carries the final user-facing response and routing state.
	EventTurnEnd EventType = "turn_end"
	// EventError reports a turn-level failure.
	EventError EventType = "error"
)

// Event is one entry of the per-turn stream. Fields beyond ID/SessionID/Type
// are populated per event type; absent fields are omitted on the wire.
type Event struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	Type         EventType       `json:"type"`
	Node         string          `json:"node,omitempty"`
	Text         string          `json:"text,omitempty"`
	Tool         string          `json:"tool,omitempty"`
	CallID       string          `json:"call_id,omitempty"`
	Status       string          `json:"status,omitempty"`
	Response     string          `json:"response,omitempty"`
	ActiveAgent  string          `json:"active_agent,omitempty"`
	RoutingFlags map[string]bool `json:"routing_flags,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// NewEvent creates a bare event of the given type bound to a session.
// Prefer the typed constructors for the common event categories.
func NewEvent(sessionID string, typ EventType) Event {
	return Event{
		ID:        NewID(),
		SessionID: sessionID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
	}
}

// NewTurnStartEvent opens a turn's event stream.
func NewTurnStartEvent(sessionID string) Event {
	return NewEvent(sessionID, EventTurnStart)
}

// NewNodeStartEvent marks control entering the named node.
func NewNodeStartEvent(sessionID, node string) Event {
	e := NewEvent(sessionID, EventNodeStart)
	e.Node = node
	return e
}

// NewReasoningStartEvent marks the start of a node's reasoning phase.
func NewReasoningStartEvent(sessionID, node string) Event {
	e := NewEvent(sessionID, EventReasoningStart)
	e.Node = node
	return e
}

// NewReasoningTokenEvent carries one streamed reasoning fragment.
func NewReasoningTokenEvent(sessionID, node, text string) Event {
	e := NewEvent(sessionID, EventReasoningToken)
	e.Node = node
	e.Text = text
	return e
}

// NewToolStartEvent brackets the start of one capability invocation.
func NewToolStartEvent(sessionID, tool, callID string) Event {
	e := NewEvent(sessionID, EventToolStart)
	e.Tool = tool
	e.CallID = callID
	return e
}

// NewToolEndEvent brackets the end of one capability invocation with its status.
func NewToolEndEvent(sessionID, tool, callID, status string) Event {
	e := NewEvent(sessionID, EventToolEnd)
	e.Tool = tool
	e.CallID = callID
	e.Status = status
	return e
}

// NewDecisionStartEvent marks the start of a node's structured-decision phase.
func NewDecisionStartEvent(sessionID, node string) Event {
	e := NewEvent(sessionID, EventDecisionStart)
	e.Node = node
	return e
}

// NewTurnEndEvent closes the stream with the final response and routing state.
func NewTurnEndEvent(sessionID, response, activeAgent string, flags map[string]bool) Event {
	e := NewEvent(sessionID, EventTurnEnd)
	e.Response = response
	e.ActiveAgent = activeAgent
	e.RoutingFlags = flags
	return e
}

// NewErrorEvent reports a turn-level failure to the client.
func NewErrorEvent(sessionID, msg string) Event {
	e := NewEvent(sessionID, EventError)
	e.ErrorMessage = msg
	return e
}
