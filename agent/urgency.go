package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/careflow-ai/careflow/session"
)

var urgencySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"detected_urgency": map[string]any{
			"type":        "string",
			"enum":        []string{"emergency", "urgent", "routine"},
			"description": "Overall urgency of the collected symptoms",
		},
	},
	"required":             []string{"detected_urgency"},
	"additionalProperties": false,
}

// UrgencyNode assesses the collected symptoms once per session and records an
// urgency level other agents fold into their prompts. Like language detection
// it runs after the main agent and produces no user output.
type UrgencyNode struct{}

// NewUrgencyNode constructs the urgency-assessment node.
func NewUrgencyNode() *UrgencyNode { return &UrgencyNode{} }

// Name implements Node.
func (n *UrgencyNode) Name() string { return "urgency" }

// Run implements Node.
func (n *UrgencyNode) Run(ctx context.Context, nc *NodeContext) (session.Delta, error) {
	s := nc.State
	if s.UrgencyChecked {
		return session.Delta{}, nil
	}

	// Nothing to assess yet; make sure intake continues.
	if len(s.SymptomsCollected) == 0 {
		return session.Delta{session.FieldCurrentAgent: SymptomAgentName}, nil
	}

	var lines []string
	for _, sym := range s.SymptomsCollected {
		lines = append(lines, fmt.Sprintf("%s (severity: %s, duration: %s, location: %s, details: %s)",
			sym.Symptom, sym.Severity, sym.Duration, sym.Location, sym.AdditionalDetails))
	}

	prompt := fmt.Sprintf(
		"Assess the overall urgency of this patient's symptoms.\n%s\n\n"+
			"Classify as 'emergency' (needs immediate care), 'urgent' (should be seen within a "+
			"day) or 'routine'.",
		strings.Join(lines, "\n"))

	var decision struct {
		DetectedUrgency string `json:"detected_urgency"`
	}
	if err := decide(ctx, nc, n.Name(), prompt, urgencySchema, &decision); err != nil {
		nc.logger().Warn("agent.urgency.assess_failed", "error", err)
		return session.Delta{}, nil
	}
	if decision.DetectedUrgency == "" {
		return session.Delta{}, nil
	}

	return session.Delta{
		session.FieldDetectedUrgency: decision.DetectedUrgency,
		session.FieldUrgencyChecked:  true,
	}, nil
}
