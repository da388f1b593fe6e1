// Package core defines the shared conversation and event types threaded
// through the orchestration layers: messages, tool calls/results, image
// payloads and the typed event stream exposed to clients.
package core

import (
	"time"

	"github.com/google/uuid"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Tool result status values.
const (
	ToolStatusOK    = "ok"
	ToolStatusError = "error"
)

// ToolCall is a request by the assistant to invoke a named capability with
// JSON-encoded arguments.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is the outcome of a single tool call. Status is "ok" or "error";
// on error Content carries the error message.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

// ImagePayload carries an inline base64-encoded image attached to a user message.
type ImagePayload struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Message is one entry of a session's conversation log. A message carries
// text, optionally an image (user role), tool calls (assistant role) or tool
// results (tool role). Messages are append-only once recorded.
type Message struct {
	Role        string        `json:"role"`
	Content     string        `json:"content,omitempty"`
	Image       *ImagePayload `json:"image,omitempty"`
	ToolCalls   []ToolCall    `json:"tool_calls,omitempty"`
	ToolResults []ToolResult  `json:"tool_results,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// NewSystemMessage creates a system instruction message.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text, Timestamp: time.Now().UTC()}
}

// NewUserMessage creates a user-authored text message.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: time.Now().UTC()}
}

// NewUserImageMessage creates a user-authored message carrying an image payload.
func NewUserImageMessage(text string, img *ImagePayload) Message {
	return Message{Role: RoleUser, Content: text, Image: img, Timestamp: time.Now().UTC()}
}

// NewAssistantMessage creates an assistant text message.
func NewAssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text, Timestamp: time.Now().UTC()}
}

// NewToolCallMessage creates an assistant message requesting tool invocations.
func NewToolCallMessage(text string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls, Timestamp: time.Now().UTC()}
}

// NewToolResultMessage records the outcomes of a batch of tool calls.
func NewToolResultMessage(results []ToolResult) Message {
	return Message{Role: RoleTool, ToolResults: results, Timestamp: time.Now().UTC()}
}

// HasToolCalls reports whether the message requests any tool invocations.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// HasImage reports whether the message carries an image payload.
func (m Message) HasImage() bool { return m.Image != nil }

// NewID generates a unique identifier for messages, events and tool calls.
func NewID() string { return uuid.NewString() }
