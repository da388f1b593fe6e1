package model

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/careflow-ai/careflow/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, respCh <-chan Response, errCh <-chan error) ([]Response, error) {
	t.Helper()
	var responses []Response
	for r := range respCh {
		responses = append(responses, r)
	}
	return responses, <-errCh
}

func TestMockModel_ScriptedGenerate(t *testing.T) {
	m := NewMockModel("test")
	m.EnqueueGenerate(MockStep{Text: "hello there"})

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []core.Message{core.NewUserMessage("hi")},
	})
	responses, err := drain(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.False(t, responses[0].Partial)
	assert.Equal(t, "hello there", responses[0].Content)
	assert.Equal(t, "stop", responses[0].FinishReason)
}

func TestMockModel_StreamingEmitsPartials(t *testing.T) {
	m := NewMockModel("test")
	m.EnqueueGenerate(MockStep{Text: "a b c"})

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []core.Message{core.NewUserMessage("hi")},
		Stream:   true,
	})
	responses, err := drain(t, respCh, errCh)
	require.NoError(t, err)
	require.Greater(t, len(responses), 1)

	var streamed string
	for _, r := range responses[:len(responses)-1] {
		assert.True(t, r.Partial)
		streamed += r.Content
	}
	assert.Equal(t, "a b c", streamed)
	assert.False(t, responses[len(responses)-1].Partial)
}

func TestMockModel_ToolCallFinishReason(t *testing.T) {
	m := NewMockModel("test")
	m.EnqueueGenerate(MockStep{ToolCalls: []core.ToolCall{{ID: "c1", Name: "lookup", Arguments: "{}"}}})

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []core.Message{core.NewUserMessage("hi")},
	})
	responses, err := drain(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, "tool_calls", responses[0].FinishReason)
	require.Len(t, responses[0].ToolCalls, 1)
	assert.Equal(t, "lookup", responses[0].ToolCalls[0].Name)
}

func TestMockModel_GenerateError(t *testing.T) {
	m := NewMockModel("test")
	m.EnqueueGenerate(MockStep{Err: errors.New("upstream down")})

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []core.Message{core.NewUserMessage("hi")},
	})
	responses, err := drain(t, respCh, errCh)
	assert.Empty(t, responses)
	assert.Error(t, err)
}

func TestMockModel_GenerateObject(t *testing.T) {
	m := NewMockModel("test")
	m.EnqueueObject(MockStep{Object: json.RawMessage(`{"response":"ok"}`)})

	raw, err := m.GenerateObject(context.Background(), Request{}, nil)
	require.NoError(t, err)

	var parsed struct {
		Response string `json:"response"`
	}
	require.NoError(t, json.Unmarshal(raw, &parsed))
	assert.Equal(t, "ok", parsed.Response)

	// script exhausted
	_, err = m.GenerateObject(context.Background(), Request{}, nil)
	assert.Error(t, err)
}

func TestMockModel_UnscriptedEcho(t *testing.T) {
	m := NewMockModel("test")
	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []core.Message{core.NewUserMessage("ping")},
	})
	responses, err := drain(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Contains(t, responses[0].Content, "ping")
}
