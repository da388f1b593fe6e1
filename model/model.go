// Package model defines the normalized reasoning and structured-decision
// capabilities consumed by agent nodes, plus a mock implementation for tests.
// Provider adapters live in the subpackages.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/careflow-ai/careflow/core"
)

// ToolDefinition declaratively exposes a callable capability to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual capability exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input assembled by a node.
type Request struct {
	Instructions string           `json:"instructions"`
	Messages     []core.Message   `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming model.
type Response struct {
	Partial      bool            `json:"partial"`
	Content      string          `json:"content"`
	ToolCalls    []core.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason"`
	Usage        *TokenUsage     `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the interface required by agent nodes: a streaming, tool-capable
// reasoning call and a structured-output decision call. GenerateObject
// returns the raw JSON of a typed decision object conforming to schema, or
// an error when the provider produced nothing parseable.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)
	GenerateObject(ctx context.Context, req Request, schema map[string]any) (json.RawMessage, error)
	Info() Info
}

// MockStep scripts one canned model interaction for the MockModel.
type MockStep struct {
	Text      string
	ToolCalls []core.ToolCall
	Object    json.RawMessage
	Err       error
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Generate and GenerateObject each consume their scripted steps in order;
// running past the script yields a generic echo response.
type MockModel struct {
	info Info

	mu          sync.Mutex
	genSteps    []MockStep
	objSteps    []MockStep
	GenRequests []Request
	ObjRequests []Request
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info: Info{Name: name, Provider: "mock", SupportsTools: true},
	}
}

// EnqueueGenerate appends a scripted step for the next Generate call.
func (m *MockModel) EnqueueGenerate(step MockStep) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.genSteps = append(m.genSteps, step)
	return m
}

// EnqueueObject appends a scripted step for the next GenerateObject call.
func (m *MockModel) EnqueueObject(step MockStep) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objSteps = append(m.objSteps, step)
	return m
}

func (m *MockModel) nextGen(req Request) MockStep {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenRequests = append(m.GenRequests, req)
	if len(m.genSteps) == 0 {
		var last string
		if n := len(req.Messages); n > 0 {
			last = req.Messages[n-1].Content
		}
		return MockStep{Text: fmt.Sprintf("Mock response to: %s", last)}
	}
	step := m.genSteps[0]
	m.genSteps = m.genSteps[1:]
	return step
}

func (m *MockModel) nextObj(req Request) (MockStep, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ObjRequests = append(m.ObjRequests, req)
	if len(m.objSteps) == 0 {
		return MockStep{}, false
	}
	step := m.objSteps[0]
	m.objSteps = m.objSteps[1:]
	return step, true
}

// Generate implements Model; emits optional streaming word chunks then the final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		step := m.nextGen(req)
		if step.Err != nil {
			errCh <- step.Err
			return
		}

		if req.Stream && step.Text != "" {
			for _, word := range strings.SplitAfter(step.Text, " ") {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Content: word}:
				}
			}
		}

		finish := "stop"
		if len(step.ToolCalls) > 0 {
			finish = "tool_calls"
		}
		respCh <- Response{
			Partial:      false,
			Content:      step.Text,
			ToolCalls:    step.ToolCalls,
			FinishReason: finish,
		}
	}()

	return respCh, errCh
}

// GenerateObject implements Model with scripted structured outputs.
func (m *MockModel) GenerateObject(_ context.Context, req Request, _ map[string]any) (json.RawMessage, error) {
	step, ok := m.nextObj(req)
	if !ok {
		return nil, fmt.Errorf("mock: no scripted object response")
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Object, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
