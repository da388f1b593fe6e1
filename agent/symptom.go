package agent

import (
	"context"
	"fmt"

	"github.com/careflow-ai/careflow/core"
	"github.com/careflow-ai/careflow/session"
)

type symptomDecision struct {
	Response              string            `json:"response"`
	Symptoms              []session.Symptom `json:"symptoms"`
	SufficientSymptomData bool              `json:"sufficient_symptom_data"`
	DoctorTrigger         bool              `json:"doctor_trigger"`
	ProgrammeTrigger      bool              `json:"programme_trigger"`
	SharedFacts           []string          `json:"shared_facts"`
	SharedWarnings        []string          `json:"shared_warnings"`
	RedFlags              []string          `json:"red_flags"`
	SymptomResearchResult string            `json:"symptom_research_result"`
	DiseaseName           string            `json:"disease_name"`
}

var symptomSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"response": stringSchema("Clean conversational text for the user"),
		"symptoms": map[string]any{
			"type":        "array",
			"description": "Every symptom mentioned in this exchange, one entry per distinct symptom",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"symptom":            stringSchema("Symptom name, e.g. fever"),
					"severity":           stringSchema("mild, moderate, high or empty if unknown"),
					"duration":           stringSchema("How long it has lasted, empty if unknown"),
					"location":           stringSchema("Body location, empty if not applicable"),
					"additional_details": stringSchema("Any extra detail worth keeping"),
				},
				"required":             []string{"symptom", "severity", "duration", "location", "additional_details"},
				"additionalProperties": false,
			},
		},
		"sufficient_symptom_data": boolSchema("True once enough detail exists for an assessment"),
		"doctor_trigger":          boolSchema("True if the patient should be connected to a doctor now"),
		"programme_trigger":       boolSchema("True if the patient asked about facilities, programs or costs"),
		"shared_facts":            stringListSchema("New clinically relevant facts other agents should know"),
		"shared_warnings":         stringListSchema("New cautions other agents should know"),
		"red_flags":               stringListSchema("New danger signs requiring urgent care"),
		"symptom_research_result": stringSchema("Condensed knowledge-base findings, empty if none"),
		"disease_name":            stringSchema("Most likely condition name, or 'No Disease' if undetermined"),
	},
	"required": []string{
		"response", "symptoms", "sufficient_symptom_data", "doctor_trigger",
		"programme_trigger", "shared_facts", "shared_warnings", "red_flags",
		"symptom_research_result", "disease_name",
	},
	"additionalProperties": false,
}

// SymptomNode gathers structured symptom data over the knowledge base and
// decides when the picture is complete enough to hand off.
type SymptomNode struct {
	allowedTools []string
}

// NewSymptomNode constructs the symptom-intake node.
func NewSymptomNode() *SymptomNode {
	return &SymptomNode{
		allowedTools: []string{
			"Symptom_Knowledge_Base_Smart_Query",
			"Symptom_Knowledge_Base_Direct_Query",
		},
	}
}

// Name implements Node.
func (n *SymptomNode) Name() string { return "symptom" }

func (n *SymptomNode) instructions(s *session.State) string {
	base := "You are a symptom-intake nurse for a community health assistant. Ask one focused " +
		"follow-up at a time to establish each symptom's severity, duration and location. Use the " +
		"symptom knowledge base before suggesting any likely condition, and never prescribe.\n"
	if len(s.SymptomsCollected) > 0 {
		base += "Already recorded symptoms:\n"
		for _, sym := range s.SymptomsCollected {
			base += fmt.Sprintf("- %s (severity: %s, duration: %s, location: %s, details: %s)\n",
				sym.Symptom, sym.Severity, sym.Duration, sym.Location, sym.AdditionalDetails)
		}
	}
	return base + patientProfile(s) + sharedKnowledge(s)
}

// Run implements Node.
func (n *SymptomNode) Run(ctx context.Context, nc *NodeContext) (session.Delta, error) {
	reasoning := runReasoning(ctx, nc, n.Name(), n.instructions(nc.State), n.allowedTools)

	prompt := fmt.Sprintf(
		"Analyze one exchange between a patient and a symptom-intake nurse.\n"+
			"Patient's last message: %q\n"+
			"Nurse's raw reply: %q\n\n"+
			"Extract the clean reply text and every symptom with its severity, duration, location "+
			"and extra details; leave unknown attributes empty rather than guessing. Record any new "+
			"shared facts, warnings or red flags. Set sufficient_symptom_data once the collected "+
			"picture supports an assessment. Set doctor_trigger when the patient should reach a "+
			"doctor, programme_trigger when they ask about facilities or costs; at most one may be "+
			"true. disease_name is the most likely condition, or 'No Disease' when undetermined.",
		lastUserText(nc.State), reasoning.Content,
	)

	var decision symptomDecision
	if err := decide(ctx, nc, n.Name(), prompt, symptomSchema, &decision); err != nil {
		nc.logger().Error("agent.decision.failed", "node", n.Name(), "error", err)
		return fallbackDelta(), nil
	}

	delta := session.Delta{
		session.FieldMessages:     []core.Message{reasoning},
		session.FieldUserMessages: []core.Message{core.NewAssistantMessage(decision.Response)},
	}
	if len(decision.Symptoms) > 0 {
		delta[session.FieldSymptomsCollected] = decision.Symptoms
	}
	if decision.SufficientSymptomData {
		delta[session.FieldSufficientSymptomData] = true
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
	if decision.SymptomResearchResult != "" {
		delta[session.FieldSymptomResearchResult] = decision.SymptomResearchResult
	}
	if decision.DiseaseName != "" && decision.DiseaseName != "No Disease" {
		delta[session.FieldDiseaseName] = decision.DiseaseName
	}

	if reasoning.HasToolCalls() {
		return delta, nil
	}

	switch {
	case decision.DoctorTrigger:
		handoff(delta, SymptomAgentName, DoctorAgentName, "symptom picture complete, doctor requested")
	case decision.ProgrammeTrigger:
		handoff(delta, SymptomAgentName, ProgramAgentName, "patient asked about facilities or programs")
	default:
		delta[session.FieldCurrentAgent] = SymptomAgentName
	}

	return delta, nil
}
