package agent

import (
	"context"
	"fmt"

	"github.com/careflow-ai/careflow/core"
	"github.com/careflow-ai/careflow/session"
)

// Eligibility verdicts are tri-state strings: the patient may simply never
// have mentioned the information needed to decide.
type programDecision struct {
	Response             string `json:"response"`
	SehatSahulatEligible string `json:"sehat_sahulat_program_eligibility"`
	BaitulMaalEligible   string `json:"baitul_maal_program_eligibility"`
	SymptomTrigger       bool   `json:"symptom_trigger"`
	DoctorTrigger        bool   `json:"doctor_trigger"`
	UserDomicileLocation string `json:"user_domicile_location"`
}

var programSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"response": stringSchema("Clean conversational text for the user"),
		"sehat_sahulat_program_eligibility": stringSchema(
			"'True', 'False' or 'Not Mentioned' for Sehat Sahulat eligibility"),
		"baitul_maal_program_eligibility": stringSchema(
			"'True', 'False' or 'Not Mentioned' for Baitul Maal eligibility"),
		"symptom_trigger":        boolSchema("True if the patient switched to describing symptoms"),
		"doctor_trigger":         boolSchema("True if the patient explicitly asked for a doctor"),
		"user_domicile_location": stringSchema("Patient's district of domicile if stated, else empty"),
	},
	"required": []string{
		"response", "sehat_sahulat_program_eligibility", "baitul_maal_program_eligibility",
		"symptom_trigger", "doctor_trigger", "user_domicile_location",
	},
	"additionalProperties": false,
}

// ProgramNode handles assistance-program eligibility and facility lookups.
type ProgramNode struct {
	allowedTools []string
}

// NewProgramNode constructs the program-eligibility node.
func NewProgramNode() *ProgramNode {
	return &ProgramNode{
		allowedTools: []string{
			"Programme_Eligibility_KB_Direct_Query",
			"Programme_Eligibility_KB_Smart_Query",
			"Find_Nearest_Medical_Facility",
		},
	}
}

// Name implements Node.
func (n *ProgramNode) Name() string { return "program" }

func (n *ProgramNode) instructions(s *session.State) string {
	base := "You are a healthcare program advisor for a community health assistant. Answer " +
		"questions about the Sehat Sahulat and Baitul Maal assistance programs and find nearby " +
		"medical facilities. Check eligibility rules through the program knowledge base; when a " +
		"verdict depends on information the patient has not given, ask for it rather than assume.\n"
	if s.SehatSahulatProgramEligibility != "" {
		base += "Sehat Sahulat eligibility so far: " + s.SehatSahulatProgramEligibility + "\n"
	}
	if s.BaitulMaalProgramEligibility != "" {
		base += "Baitul Maal eligibility so far: " + s.BaitulMaalProgramEligibility + "\n"
	}
	return base + patientProfile(s) + sharedKnowledge(s)
}

// Run implements Node.
func (n *ProgramNode) Run(ctx context.Context, nc *NodeContext) (session.Delta, error) {
	reasoning := runReasoning(ctx, nc, n.Name(), n.instructions(nc.State), n.allowedTools)

	prompt := fmt.Sprintf(
		"Analyze one exchange between a patient and a healthcare program advisor.\n"+
			"Patient's last message: %q\n"+
			"Advisor's raw reply: %q\n\n"+
			"Extract the clean reply text. For each program report 'True', 'False' or "+
			"'Not Mentioned' — use 'Not Mentioned' whenever the exchange did not establish a "+
			"verdict. Capture the patient's domicile district if stated. Set symptom_trigger when "+
			"the patient turned to describing symptoms, doctor_trigger for an explicit doctor "+
			"request; at most one may be true.",
		lastUserText(nc.State), reasoning.Content,
	)

	var decision programDecision
	if err := decide(ctx, nc, n.Name(), prompt, programSchema, &decision); err != nil {
		nc.logger().Error("agent.decision.failed", "node", n.Name(), "error", err)
		return fallbackDelta(), nil
	}

	delta := session.Delta{
		session.FieldMessages:     []core.Message{reasoning},
		session.FieldUserMessages: []core.Message{core.NewAssistantMessage(decision.Response)},
	}
	if v := decision.SehatSahulatEligible; v != "" && v != "Not Mentioned" {
		delta[session.FieldSehatSahulatProgramEligibility] = v
	}
	if v := decision.BaitulMaalEligible; v != "" && v != "Not Mentioned" {
		delta[session.FieldBaitulMaalProgramEligibility] = v
	}
	if decision.UserDomicileLocation != "" {
		delta[session.FieldUserDomicileLocation] = decision.UserDomicileLocation
	}

	if reasoning.HasToolCalls() {
		return delta, nil
	}

	switch {
	case decision.SymptomTrigger:
		handoff(delta, ProgramAgentName, SymptomAgentName, "patient described symptoms")
	case decision.DoctorTrigger:
		handoff(delta, ProgramAgentName, DoctorAgentName, "explicit doctor request")
	default:
		delta[session.FieldCurrentAgent] = ProgramAgentName
	}

	return delta, nil
}
