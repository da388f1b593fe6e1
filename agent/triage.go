package agent

import (
	"context"
	"fmt"

	"github.com/careflow-ai/careflow/core"
	"github.com/careflow-ai/careflow/session"
)

// triageDecision is the typed decision object of the entry agent: a clean
// response plus at most one routing flag honored per turn.
type triageDecision struct {
	Response         string `json:"response"`
	SymptomTrigger   bool   `json:"symptom_trigger"`
	ProgrammeTrigger bool   `json:"programme_trigger"`
	DoctorTrigger    bool   `json:"doctor_trigger"`
}

var triageSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"response":          stringSchema("Clean conversational text for the user"),
		"symptom_trigger":   boolSchema("True if the user describes symptoms or asks for a medical opinion"),
		"programme_trigger": boolSchema("True for facility search, program eligibility or financial queries"),
		"doctor_trigger":    boolSchema("True if the user explicitly asks to book or speak to a doctor"),
	},
	"required":             []string{"response", "symptom_trigger", "programme_trigger", "doctor_trigger"},
	"additionalProperties": false,
}

// TriageNode greets the user, answers small talk and routes the first
// substantive request to the right specialist.
type TriageNode struct {
	allowedTools []string
}

// NewTriageNode constructs the entry node.
func NewTriageNode() *TriageNode {
	return &TriageNode{
		allowedTools: []string{"Baba_Qadeer_Tool"},
	}
}

// Name implements Node.
func (n *TriageNode) Name() string { return "triage" }

func (n *TriageNode) instructions(s *session.State) string {
	return "You are the receptionist of a community health assistant. Greet the patient, " +
		"understand what they need and keep answers short and warm. You never diagnose; " +
		"specialists handle symptoms, program eligibility and doctor booking.\n" +
		patientProfile(s) + sharedKnowledge(s)
}

// Run implements Node.
func (n *TriageNode) Run(ctx context.Context, nc *NodeContext) (session.Delta, error) {
	reasoning := runReasoning(ctx, nc, n.Name(), n.instructions(nc.State), n.allowedTools)

	prompt := fmt.Sprintf(
		"Analyze one exchange between a patient and the health assistant's receptionist.\n"+
			"Patient's last message: %q\n"+
			"Receptionist's raw reply: %q\n\n"+
			"Extract the clean reply text and decide the routing destination. Set symptom_trigger "+
			"when the patient describes symptoms or wants medical advice; programme_trigger for "+
			"facility search, government program or affordability questions; doctor_trigger only "+
			"for an explicit request to book or reach a doctor. At most one trigger may be true; "+
			"all false keeps the conversation here.",
		lastUserText(nc.State), reasoning.Content,
	)

	var decision triageDecision
	if err := decide(ctx, nc, n.Name(), prompt, triageSchema, &decision); err != nil {
		nc.logger().Error("agent.decision.failed", "node", n.Name(), "error", err)
		return fallbackDelta(), nil
	}

	delta := session.Delta{
		session.FieldMessages:     []core.Message{reasoning},
		session.FieldUserMessages: []core.Message{core.NewAssistantMessage(decision.Response)},
	}

	// Tool dispatch and handoff are exclusive within a turn; pending tool
	// calls win.
	if reasoning.HasToolCalls() {
		return delta, nil
	}

	switch {
	case decision.SymptomTrigger:
		handoff(delta, TriageAgentName, SymptomAgentName, "patient described symptoms")
	case decision.ProgrammeTrigger:
		handoff(delta, TriageAgentName, ProgramAgentName, "facility or program request")
	case decision.DoctorTrigger:
		handoff(delta, TriageAgentName, DoctorAgentName, "explicit doctor request")
	default:
		delta[session.FieldCurrentAgent] = TriageAgentName
	}

	return delta, nil
}
