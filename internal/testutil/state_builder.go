// Package testutil provides fluent helpers for constructing session fixtures
// in tests. Chain only the parts you need; sensible defaults are applied.
package testutil

import (
	"github.com/careflow-ai/careflow/core"
	"github.com/careflow-ai/careflow/session"
)

// StateBuilder assembles a session.State fixture.
// Example:
//
//	s := NewStateBuilder("sess-1").User("user-1", "Fatima").Agent("symptom_agent").
//		UserSays("I have a fever").Symptom("fever", "mild").Build()
type StateBuilder struct {
	state *session.State
}

// NewStateBuilder creates a builder for the given session ID.
func NewStateBuilder(sessionID string) *StateBuilder {
	return &StateBuilder{state: session.New(sessionID, "")}
}

// User sets the user identity (chainable).
func (b *StateBuilder) User(id, name string) *StateBuilder {
	b.state.UserID = id
	b.state.UserName = name
	return b
}

// Agent sets the active agent (chainable).
func (b *StateBuilder) Agent(name string) *StateBuilder {
	b.state.CurrentAgent = name
	return b
}

// UserSays appends a user message to both conversation logs (chainable).
func (b *StateBuilder) UserSays(text string) *StateBuilder {
	m := core.NewUserMessage(text)
	b.state.AppendMessage(m)
	b.state.AppendUserFacing(m)
	return b
}

// UserSends appends a user message carrying an image to both logs (chainable).
func (b *StateBuilder) UserSends(text string, img *core.ImagePayload) *StateBuilder {
	m := core.NewUserImageMessage(text, img)
	b.state.AppendMessage(m)
	b.state.AppendUserFacing(m)
	return b
}

// AssistantSays appends an assistant message to both logs (chainable).
func (b *StateBuilder) AssistantSays(text string) *StateBuilder {
	m := core.NewAssistantMessage(text)
	b.state.AppendMessage(m)
	b.state.AppendUserFacing(m)
	return b
}

// Symptom records a collected symptom (chainable).
func (b *StateBuilder) Symptom(name, severity string) *StateBuilder {
	b.state.SymptomsCollected = append(b.state.SymptomsCollected,
		session.Symptom{Symptom: name, Severity: severity})
	return b
}

// Language pins the preferred language (chainable).
func (b *StateBuilder) Language(lang string) *StateBuilder {
	b.state.PreferredLanguage = lang
	return b
}

// Build returns the assembled state.
func (b *StateBuilder) Build() *session.State { return b.state }
