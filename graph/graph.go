// Package graph is the routing state machine of a consultation turn. It
// selects the entry node from the session state, runs nodes against state
// snapshots, folds their deltas back in, dispatches pending tool calls and
// follows each node's continuation rules until the turn settles.
package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/careflow-ai/careflow/agent"
	"github.com/careflow-ai/careflow/capability"
	"github.com/careflow-ai/careflow/core"
	"github.com/careflow-ai/careflow/logging"
	"github.com/careflow-ai/careflow/model"
	"github.com/careflow-ai/careflow/session"
)

// Graph node names.
const (
	NodeTriage        = "triage"
	NodeSymptom       = "symptom"
	NodeProgram       = "program"
	NodeDoctor        = "doctor"
	NodePrescription  = "prescription"
	NodeLanguage      = "language"
	NodeUrgency       = "urgency"
	NodeMaxIterations = "max_iterations"

	nodeEnd = ""
)

// Safety limits for a single turn.
const (
	maxErrorCount = 3
	maxToolCalls  = 10
	maxSteps      = 25
)

const maxIterationsMessage = "I've reached the maximum number of tool calls for this request. " +
	"Let me summarize what I've found so far. Please let me know if you need anything else."

// agentNodes maps the active-agent identity stored in the session to the
// graph node that serves it.
var agentNodes = map[string]string{
	agent.TriageAgentName:  NodeTriage,
	agent.SymptomAgentName: NodeSymptom,
	agent.ProgramAgentName: NodeProgram,
	agent.DoctorAgentName:  NodeDoctor,
}

// Options configure a Graph.
type Options struct {
	Logger logging.Logger
}

// Graph wires the specialist nodes to shared model and capability resources
// and drives one consultation turn at a time. It holds no per-session state
// and is safe for concurrent turns over distinct sessions.
type Graph struct {
	nodes    map[string]agent.Node
	pool     *capability.Pool
	reasoner model.Model
	decider  model.Model
	logger   logging.Logger
}

// New constructs the consultation graph over the given models and pool.
func New(reasoner, decider model.Model, pool *capability.Pool, optFns ...func(o *Options)) *Graph {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	nodes := map[string]agent.Node{}
	for _, n := range []agent.Node{
		agent.NewTriageNode(),
		agent.NewSymptomNode(),
		agent.NewProgramNode(),
		agent.NewDoctorNode(),
		agent.NewPrescriptionNode(),
		agent.NewLanguageNode(),
		agent.NewUrgencyNode(),
	} {
		nodes[n.Name()] = n
	}

	return &Graph{
		nodes:    nodes,
		pool:     pool,
		reasoner: reasoner,
		decider:  decider,
		logger:   opts.Logger,
	}
}

// EntryRoute selects the first node of a turn. An unprocessed prescription
// image preempts everything; otherwise the turn resumes at the active agent.
func EntryRoute(s *session.State) string {
	if m, ok := s.LastUserMessage(); ok && m.HasImage() && !s.PrescriptionProcessed {
		return NodePrescription
	}
	if node, ok := agentNodes[s.CurrentAgent]; ok {
		return node
	}
	return NodeTriage
}

// Run drives one turn: the caller has already appended the inbound user
// message to the state. The state is mutated in place, one applied delta per
// node run; events stream through emit as the turn progresses.
func (g *Graph) Run(ctx context.Context, s *session.State, emit agent.Emitter) error {
	next := EntryRoute(s)

	for step := 0; next != nodeEnd; step++ {
		if step >= maxSteps {
			g.logger.Error("graph.step_limit", "session_id", s.SessionID, "node", next)
			return fmt.Errorf("graph: turn exceeded %d steps at node %q", maxSteps, next)
		}
		if s.ErrorCount >= maxErrorCount {
			g.logger.Warn("graph.error_limit", "session_id", s.SessionID, "error_count", s.ErrorCount)
			return nil
		}

		if emit != nil {
			emit(core.NewNodeStartEvent(s.SessionID, next))
		}

		var err error
		next, err = g.runStep(ctx, s, next, emit)
		if err != nil {
			return err
		}
	}

	return nil
}

func (g *Graph) runStep(ctx context.Context, s *session.State, name string, emit agent.Emitter) (string, error) {
	if name == NodeMaxIterations {
		return nodeEnd, s.Apply(session.Delta{
			session.FieldUserMessages: []core.Message{core.NewAssistantMessage(maxIterationsMessage)},
		})
	}
	if owner, ok := toolStepOwner(name); ok {
		return g.runToolStep(ctx, s, owner, emit)
	}

	node, ok := g.nodes[name]
	if !ok {
		return nodeEnd, fmt.Errorf("graph: unknown node %q", name)
	}

	delta, err := node.Run(ctx, &agent.NodeContext{
		State:    s.Clone(),
		Pool:     g.pool,
		Reasoner: g.reasoner,
		Decider:  g.decider,
		Logger:   g.logger,
		Emit:     emit,
	})
	if err != nil {
		// The node could not even produce a fallback; count it and stop.
		g.logger.Error("graph.node_failed", "session_id", s.SessionID, "node", name, "error", err)
		applyErr := s.Apply(session.Delta{
			session.FieldErrorCount:   1,
			session.FieldUserMessages: []core.Message{core.NewAssistantMessage("Could you please repeat that again?")},
		})
		if applyErr != nil {
			return nodeEnd, applyErr
		}
		return nodeEnd, nil
	}

	handedOff := delta[session.FieldCurrentAgent] != nil &&
		delta[session.FieldCurrentAgent] != s.CurrentAgent

	if err := s.Apply(delta); err != nil {
		return nodeEnd, fmt.Errorf("graph: apply %s delta: %w", name, err)
	}

	return g.continueFrom(s, name, handedOff), nil
}

// continueFrom applies the per-node continuation rules, in priority order:
// the max-tool-calls guard, pending tool calls, agent handoff, then the
// node's default edge.
func (g *Graph) continueFrom(s *session.State, name string, handedOff bool) string {
	if s.ToolCallCount >= maxToolCalls {
		g.logger.Warn("graph.tool_call_limit", "session_id", s.SessionID, "node", name)
		return NodeMaxIterations
	}
	if calls := pendingToolCalls(s); len(calls) > 0 {
		return name + "_tools"
	}

	// Only the specialist nodes chain handoffs within a turn. The
	// post-processing nodes may update current_agent for the next turn
	// (urgency redirecting to symptom intake) but always end this one.
	if handedOff && isAgentNode(name) {
		if node, ok := agentNodes[s.CurrentAgent]; ok {
			return node
		}
	}

	switch name {
	case NodeTriage:
		return NodeLanguage
	case NodeSymptom:
		return NodeUrgency
	default:
		// Program, doctor, prescription and the post-processing nodes end
		// the turn.
		return nodeEnd
	}
}

// runToolStep executes the pending tool calls of the owning node's last
// reasoning message and loops control back to that node.
func (g *Graph) runToolStep(ctx context.Context, s *session.State, owner string, emit agent.Emitter) (string, error) {
	calls := pendingToolCalls(s)
	if len(calls) == 0 {
		return owner, nil
	}

	batch := make([]capability.Call, len(calls))
	for i, tc := range calls {
		args := map[string]any{}
		if tc.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
				g.logger.Warn("graph.tool_args_invalid", "session_id", s.SessionID, "tool", tc.Name, "error", err)
			}
		}
		batch[i] = capability.Call{CallID: tc.ID, Name: tc.Name, Arguments: args}
		if emit != nil {
			emit(core.NewToolStartEvent(s.SessionID, tc.Name, tc.ID))
		}
	}

	results := g.pool.Execute(ctx, batch)

	failures := 0
	toolResults := make([]core.ToolResult, len(results))
	for i, r := range results {
		status := core.ToolStatusOK
		if r.IsError() {
			status = core.ToolStatusError
			failures++
		}
		toolResults[i] = core.ToolResult{CallID: r.CallID, Name: r.Name, Content: r.Content, Status: status}
		if emit != nil {
			emit(core.NewToolEndEvent(s.SessionID, r.Name, r.CallID, status))
		}
	}

	delta := session.Delta{
		session.FieldMessages:      []core.Message{core.NewToolResultMessage(toolResults)},
		session.FieldToolCallCount: len(results),
	}
	if failures > 0 {
		delta[session.FieldErrorCount] = failures
	}
	if err := s.Apply(delta); err != nil {
		return nodeEnd, fmt.Errorf("graph: apply tool results: %w", err)
	}

	return owner, nil
}

// pendingToolCalls returns the tool calls of the last internal message when
// they have not been answered yet.
func pendingToolCalls(s *session.State) []core.ToolCall {
	last, ok := s.LastMessage()
	if !ok || last.Role != core.RoleAssistant || !last.HasToolCalls() {
		return nil
	}
	return last.ToolCalls
}

func isAgentNode(name string) bool {
	for _, node := range agentNodes {
		if node == name {
			return true
		}
	}
	return false
}

func toolStepOwner(name string) (string, bool) {
	const suffix = "_tools"
	if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
		return "", false
	}
	return name[:len(name)-len(suffix)], true
}
