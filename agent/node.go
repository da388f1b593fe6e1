// Package agent implements the specialist nodes of the consultation graph.
// Every node follows the same two-phase shape: a tool-enabled reasoning call
// over the recent conversation, then a structured-decision call that yields
// the user-facing response, routing flags and state updates as a delta.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/careflow-ai/careflow/capability"
	"github.com/careflow-ai/careflow/core"
	"github.com/careflow-ai/careflow/logging"
	"github.com/careflow-ai/careflow/model"
	"github.com/careflow-ai/careflow/session"
)

// Agent identity values stored in the session's current_agent field.
const (
	TriageAgentName  = "triage_agent"
	SymptomAgentName = "symptom_agent"
	ProgramAgentName = "programme_eligibility_agent"
	DoctorAgentName  = "doctor_agent"
)

// retryPrompt substitutes a failed reasoning call so the decision phase can
// still run; repeatPrompt is the terminal fallback when the decision phase
// itself fails.
const (
	retryPrompt  = "Due to technical issues, could you please repeat that?"
	repeatPrompt = "Could you please repeat that again?"
)

// contextWindow bounds how much conversation history a node feeds the model.
const contextWindow = 20

// Emitter receives execution-phase events from a node as it runs.
type Emitter func(core.Event)

// NodeContext carries the state snapshot and collaborators for one node run.
type NodeContext struct {
	State    *session.State
	Pool     *capability.Pool
	Reasoner model.Model
	Decider  model.Model
	Logger   logging.Logger
	Emit     Emitter
}

func (nc *NodeContext) emit(ev core.Event) {
	if nc.Emit != nil {
		nc.Emit(ev)
	}
}

func (nc *NodeContext) logger() logging.Logger {
	if nc.Logger != nil {
		return nc.Logger
	}
	return logging.NoOpLogger{}
}

// Node is one unit of the routing state machine: it consumes the current
// state and produces a partial update plus routing signals inside the delta.
type Node interface {
	Name() string
	Run(ctx context.Context, nc *NodeContext) (session.Delta, error)
}

// recentMessages returns the bounded tail of the internal conversation log.
func recentMessages(s *session.State, limit int) []core.Message {
	if len(s.Messages) <= limit {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-limit:]
}

func toolDefinitions(infos []capability.ToolInfo) []model.ToolDefinition {
	defs := make([]model.ToolDefinition, len(infos))
	for i, info := range infos {
		defs[i] = model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        info.Name,
				Description: info.Description,
				Parameters:  info.InputSchema,
			},
		}
	}
	return defs
}

// runReasoning performs the first, tool-enabled phase of a node: it streams
// the reasoning call, forwarding each fragment as a reasoning_token event,
// and returns the final message. A failed call is substituted with a generic
// retry prompt so the decision phase still runs.
func runReasoning(ctx context.Context, nc *NodeContext, node string, instructions string, allowedTools []string) core.Message {
	var defs []model.ToolDefinition
	if len(allowedTools) > 0 && nc.Pool != nil {
		infos, err := nc.Pool.Tools(ctx, allowedTools)
		if err != nil {
			nc.logger().Error("agent.tools.fetch_failed", "node", node, "error", err)
		} else {
			defs = toolDefinitions(infos)
		}
	}

	nc.emit(core.NewReasoningStartEvent(nc.State.SessionID, node))

	respCh, errCh := nc.Reasoner.Generate(ctx, model.Request{
		Instructions: instructions,
		Messages:     recentMessages(nc.State, contextWindow),
		Tools:        defs,
		Stream:       true,
	})

	var final *model.Response
	for resp := range respCh {
		if resp.Partial {
			if resp.Content != "" {
				nc.emit(core.NewReasoningTokenEvent(nc.State.SessionID, node, resp.Content))
			}
			continue
		}
		r := resp
		final = &r
	}

	if err := <-errCh; err != nil {
		nc.logger().Error("agent.reasoning.failed", "node", node, "error", err)
		return core.NewAssistantMessage(retryPrompt)
	}
	if final == nil {
		nc.logger().Warn("agent.reasoning.empty", "node", node)
		return core.NewAssistantMessage(retryPrompt)
	}

	return core.NewToolCallMessage(final.Content, final.ToolCalls)
}

// decide performs the structured-decision phase: it sends the parser prompt
// to the decision capability and unmarshals the typed result. Any failure is
// returned to the caller, which must map it to the fallback delta.
func decide(ctx context.Context, nc *NodeContext, node, prompt string, schema map[string]any, out any) error {
	nc.emit(core.NewDecisionStartEvent(nc.State.SessionID, node))

	raw, err := nc.Decider.GenerateObject(ctx, model.Request{
		Messages: []core.Message{core.NewUserMessage(prompt)},
	}, schema)
	if err != nil {
		return fmt.Errorf("decision call: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("decision call returned empty payload")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode decision: %w", err)
	}
	return nil
}

// fallbackDelta is the deterministic "please repeat" path: a user-facing
// apology, no routing decision, no state mutation beyond the log entry.
func fallbackDelta() session.Delta {
	return session.Delta{
		session.FieldUserMessages: []core.Message{core.NewAssistantMessage(repeatPrompt)},
	}
}

// handoff records an agent switch in the delta: the active-agent overwrite
// plus the previous agent and a short note for the receiving agent.
func handoff(d session.Delta, from, to, reason string) {
	d[session.FieldCurrentAgent] = to
	d[session.FieldPreviousAgent] = from
	d[session.FieldHandoffContext] = reason
}

// lastUserText extracts the text of the most recent user message, skipping
// tool traffic.
func lastUserText(s *session.State) string {
	if m, ok := s.LastUserMessage(); ok {
		return m.Content
	}
	return ""
}

// sharedKnowledge renders accumulated cross-agent context for a system prompt.
func sharedKnowledge(s *session.State) string {
	var sb strings.Builder
	if len(s.SharedFacts) > 0 {
		sb.WriteString("Known facts: " + strings.Join(s.SharedFacts, "; ") + "\n")
	}
	if len(s.SharedWarnings) > 0 {
		sb.WriteString("Warnings: " + strings.Join(s.SharedWarnings, "; ") + "\n")
	}
	if len(s.RedFlags) > 0 {
		sb.WriteString("Red flags: " + strings.Join(s.RedFlags, "; ") + "\n")
	}
	if s.DetectedUrgency != "" {
		sb.WriteString("Assessed urgency: " + s.DetectedUrgency + "\n")
	}
	return sb.String()
}

// patientProfile renders the seeded user context for a system prompt.
func patientProfile(s *session.State) string {
	var sb strings.Builder
	if s.UserName != "" {
		fmt.Fprintf(&sb, "Patient name: %s\n", s.UserName)
	}
	if s.UserAge > 0 {
		fmt.Fprintf(&sb, "Age: %d\n", s.UserAge)
	}
	if s.UserGender != "" {
		fmt.Fprintf(&sb, "Gender: %s\n", s.UserGender)
	}
	if s.UserLocation != "" {
		fmt.Fprintf(&sb, "Location: %s\n", s.UserLocation)
	}
	if len(s.ChronicConditions) > 0 {
		fmt.Fprintf(&sb, "Chronic conditions: %s\n", strings.Join(s.ChronicConditions, ", "))
	}
	if len(s.Allergies) > 0 {
		fmt.Fprintf(&sb, "Allergies: %s\n", strings.Join(s.Allergies, ", "))
	}
	if len(s.CurrentMedications) > 0 {
		fmt.Fprintf(&sb, "Current medications: %s\n", strings.Join(s.CurrentMedications, ", "))
	}
	if s.PreferredLanguage != "" {
		fmt.Fprintf(&sb, "Respond in: %s\n", s.PreferredLanguage)
	}
	return sb.String()
}

func boolSchema(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func stringSchema(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func stringListSchema(desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": desc,
	}
}
