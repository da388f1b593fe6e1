package agent

import (
	"context"
	"fmt"

	"github.com/careflow-ai/careflow/core"
	"github.com/careflow-ai/careflow/session"
)

type doctorDecision struct {
	Response         string           `json:"response"`
	Doctors          []session.Doctor `json:"doctors"`
	CallTrigger      bool             `json:"call_trigger"`
	SymptomTrigger   bool             `json:"symptom_trigger"`
	ProgrammeTrigger bool             `json:"programme_trigger"`
	SharedFacts      []string         `json:"shared_facts"`
	SharedWarnings   []string         `json:"shared_warnings"`
	RedFlags         []string         `json:"red_flags"`
}

var doctorSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"response": stringSchema("Clean conversational text for the user"),
		"doctors": map[string]any{
			"type":        "array",
			"description": "Doctors proposed to the patient in this exchange",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"doctor_name":           stringSchema("Doctor's full name"),
					"doctor_specialization": stringSchema("Doctor's specialization"),
				},
				"required":             []string{"doctor_name", "doctor_specialization"},
				"additionalProperties": false,
			},
		},
		"call_trigger":      boolSchema("True once the patient confirms a doctor and wants the call placed"),
		"symptom_trigger":   boolSchema("True if the patient switched back to describing symptoms"),
		"programme_trigger": boolSchema("True if the patient asked about facilities or program eligibility"),
		"shared_facts":      stringListSchema("New facts other agents should know"),
		"shared_warnings":   stringListSchema("New cautions other agents should know"),
		"red_flags":         stringListSchema("New danger signs requiring urgent care"),
	},
	"required": []string{
		"response", "doctors", "call_trigger", "symptom_trigger",
		"programme_trigger", "shared_facts", "shared_warnings", "red_flags",
	},
	"additionalProperties": false,
}

// DoctorNode matches the patient with a suitable doctor and arranges the call.
type DoctorNode struct {
	allowedTools []string
}

// NewDoctorNode constructs the doctor-matching node.
func NewDoctorNode() *DoctorNode {
	return &DoctorNode{
		allowedTools: []string{"Doctor_KB_Smart_Query"},
	}
}

// Name implements Node.
func (n *DoctorNode) Name() string { return "doctor" }

func (n *DoctorNode) instructions(s *session.State) string {
	base := "You are a doctor-booking coordinator for a community health assistant. Use the " +
		"doctor knowledge base to find doctors whose specialization matches the patient's " +
		"condition, present the options and confirm the choice before any call is placed.\n"
	if s.DiseaseName != "" {
		base += "Working condition: " + s.DiseaseName + "\n"
	}
	if s.RequiredSpecialty != "" {
		base += "Required specialty: " + s.RequiredSpecialty + "\n"
	}
	if len(s.DoctorCollected) > 0 {
		base += "Doctors already proposed:\n"
		for _, d := range s.DoctorCollected {
			base += fmt.Sprintf("- %s (%s)\n", d.Name, d.Specialization)
		}
	}
	return base + patientProfile(s) + sharedKnowledge(s)
}

// Run implements Node.
func (n *DoctorNode) Run(ctx context.Context, nc *NodeContext) (session.Delta, error) {
	reasoning := runReasoning(ctx, nc, n.Name(), n.instructions(nc.State), n.allowedTools)

	prompt := fmt.Sprintf(
		"Analyze one exchange between a patient and a doctor-booking coordinator.\n"+
			"Patient's last message: %q\n"+
			"Coordinator's raw reply: %q\n\n"+
			"Extract the clean reply text and every doctor proposed, with name and specialization. "+
			"Set call_trigger only when the patient has confirmed a specific doctor and wants to be "+
			"connected. Set symptom_trigger if they switched back to describing symptoms, "+
			"programme_trigger if they asked about facilities or programs; at most one routing flag "+
			"may be true. Record any new shared facts, warnings or red flags.",
		lastUserText(nc.State), reasoning.Content,
	)

	var decision doctorDecision
	if err := decide(ctx, nc, n.Name(), prompt, doctorSchema, &decision); err != nil {
		nc.logger().Error("agent.decision.failed", "node", n.Name(), "error", err)
		return fallbackDelta(), nil
	}

	delta := session.Delta{
		session.FieldMessages:     []core.Message{reasoning},
		session.FieldUserMessages: []core.Message{core.NewAssistantMessage(decision.Response)},
	}
	if len(decision.Doctors) > 0 {
		delta[session.FieldDoctorCollected] = decision.Doctors
		if spec := decision.Doctors[0].Specialization; spec != "" {
			delta[session.FieldRequiredSpecialty] = spec
		}
	}
	if decision.CallTrigger {
		delta[session.FieldCallTrigger] = true
	}
	if len(decision.SharedFacts) > 0 {
		delta[session.FieldSharedFacts] = decision.SharedFacts
	}
	if len(decision.SharedWarnings) > 0 {
		delta[session.FieldSharedWarnings] = decision.SharedWarnings
	}
	if len(decision.RedFlags) > 0 {
		delta[session.FieldRedFlags] = decision.RedFlags
	}

	if reasoning.HasToolCalls() {
		return delta, nil
	}

	switch {
	case decision.SymptomTrigger:
		handoff(delta, DoctorAgentName, SymptomAgentName, "patient returned to symptoms")
	case decision.ProgrammeTrigger:
		handoff(delta, DoctorAgentName, ProgramAgentName, "facility or program request")
	default:
		delta[session.FieldCurrentAgent] = DoctorAgentName
	}

	return delta, nil
}
