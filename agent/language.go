package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/careflow-ai/careflow/session"
)

// shortGreetings are ambiguous openers that exist in several languages; they
// never override an earlier detection and default to English on a first turn.
var shortGreetings = map[string]bool{
	"hi": true, "hello": true, "hey": true, "ok": true, "okay": true,
	"yes": true, "no": true, "thanks": true, "thank you": true, "salam": true,
}

var languageSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"detected_language": stringSchema("Name of the language the message is written in, e.g. English, Urdu, Pashto"),
	},
	"required":             []string{"detected_language"},
	"additionalProperties": false,
}

// LanguageNode detects the conversation language once per session so replies
// can match it. It is a post-processing node: it never produces user output.
type LanguageNode struct{}

// NewLanguageNode constructs the language-detection node.
func NewLanguageNode() *LanguageNode { return &LanguageNode{} }

// Name implements Node.
func (n *LanguageNode) Name() string { return "language" }

// Run implements Node.
func (n *LanguageNode) Run(ctx context.Context, nc *NodeContext) (session.Delta, error) {
	s := nc.State
	if s.PreferredLanguage != "" {
		// The profile already pins the language.
		return session.Delta{}, nil
	}

	text := strings.TrimSpace(lastUserText(s))
	normalized := strings.ToLower(strings.TrimRight(text, ".!?"))

	// Too little signal to detect anything reliably.
	if len(s.UserMessages) <= 2 || shortGreetings[normalized] || len(text) < 10 {
		return session.Delta{session.FieldDetectedLanguage: "English"}, nil
	}

	prompt := fmt.Sprintf(
		"Identify the language of this message from a patient. Reply with the language name only.\n"+
			"Message: %q", text)

	var decision struct {
		DetectedLanguage string `json:"detected_language"`
	}
	if err := decide(ctx, nc, n.Name(), prompt, languageSchema, &decision); err != nil {
		nc.logger().Warn("agent.language.detect_failed", "error", err)
		return session.Delta{}, nil
	}
	if decision.DetectedLanguage == "" {
		return session.Delta{}, nil
	}

	return session.Delta{session.FieldDetectedLanguage: decision.DetectedLanguage}, nil
}
