package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/careflow-ai/careflow/core"
	"github.com/careflow-ai/careflow/session"
)

const prescriptionInstructions = "You are a pharmacy assistant reading a photographed " +
	"prescription. Extract every legible medication with its dosage, frequency and duration, " +
	"plus the prescribing doctor and date if visible. Reply with a single JSON object of the " +
	"form {\"medications\": [{\"name\": \"\", \"dosage\": \"\", \"frequency\": \"\", " +
	"\"duration\": \"\"}], \"doctor\": \"\", \"date\": \"\"}. Use empty strings for anything " +
	"you cannot read. Do not guess illegible entries and do not add commentary outside the JSON."

// PrescriptionNode runs OCR-style extraction over an uploaded prescription
// image. It is a single vision call, no tools and no separate decision phase.
type PrescriptionNode struct{}

// NewPrescriptionNode constructs the prescription-extraction node.
func NewPrescriptionNode() *PrescriptionNode { return &PrescriptionNode{} }

// Name implements Node.
func (n *PrescriptionNode) Name() string { return "prescription" }

// Run implements Node.
func (n *PrescriptionNode) Run(ctx context.Context, nc *NodeContext) (session.Delta, error) {
	img := latestImage(nc.State)
	if img == nil {
		// Routed here without an image; nothing to extract.
		return session.Delta{
			session.FieldPrescriptionProcessed: true,
			session.FieldUserMessages: []core.Message{core.NewAssistantMessage(
				"I could not find a prescription image in your message. Please upload a clear photo of the prescription.")},
		}, nil
	}

	reasoning := runReasoning(ctx, nc, n.Name(), prescriptionInstructions, nil)

	data, ok := extractJSONObject(reasoning.Content)
	meds := medicationLines(data)

	delta := session.Delta{
		session.FieldMessages:              []core.Message{reasoning},
		session.FieldPrescriptionProcessed: true,
	}
	if ok {
		delta[session.FieldPrescriptionData] = data
	}

	if len(meds) == 0 {
		delta[session.FieldUserMessages] = []core.Message{core.NewAssistantMessage(
			"I couldn't extract any medications from this prescription image. Could you upload a clearer photo?")}
		return delta, nil
	}

	var sb strings.Builder
	sb.WriteString("Here is what I read from your prescription:\n")
	for _, line := range meds {
		sb.WriteString(line + "\n")
	}
	sb.WriteString("Please double-check this against the original before use.")
	delta[session.FieldUserMessages] = []core.Message{core.NewAssistantMessage(sb.String())}

	return delta, nil
}

// latestImage finds the most recent user-supplied image in the session.
func latestImage(s *session.State) *core.ImagePayload {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Role == core.RoleUser && m.HasImage() {
			return m.Image
		}
	}
	return nil
}

// extractJSONObject tolerates markdown fences and surrounding prose: it takes
// the span from the first '{' to the last '}' and parses that.
func extractJSONObject(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &data); err != nil {
		return nil, false
	}
	return data, true
}

// medicationLines renders the extracted medications as display bullets.
func medicationLines(data map[string]any) []string {
	if data == nil {
		return nil
	}
	raw, _ := data["medications"].([]any)

	var lines []string
	for _, entry := range raw {
		med, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		name, _ := med["name"].(string)
		if strings.TrimSpace(name) == "" {
			continue
		}
		var attrs []string
		for _, key := range []string{"dosage", "frequency", "duration"} {
			if v, _ := med[key].(string); strings.TrimSpace(v) != "" {
				attrs = append(attrs, v)
			}
		}
		line := "- " + name
		if len(attrs) > 0 {
			line += fmt.Sprintf(" (%s)", strings.Join(attrs, ", "))
		}
		lines = append(lines, line)
	}
	return lines
}
