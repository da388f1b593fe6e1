package graph

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/careflow-ai/careflow/agent"
	"github.com/careflow-ai/careflow/capability"
	"github.com/careflow-ai/careflow/core"
	"github.com/careflow-ai/careflow/model"
	"github.com/careflow-ai/careflow/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKnowledgeBasePool(t *testing.T) *capability.Pool {
	t.Helper()
	ep := capability.NewLocalEndpoint()
	ep.Register(capability.ToolInfo{
		Name:        "Symptom_Knowledge_Base_Smart_Query",
		Description: "Searches the symptom knowledge base",
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return "fever with chills suggests checking for malaria", nil
	})
	return capability.NewPool(ep)
}

func collectEvents() (*[]core.Event, agent.Emitter) {
	events := &[]core.Event{}
	return events, func(ev core.Event) { *events = append(*events, ev) }
}

func userTurn(s *session.State, text string) {
	s.AppendMessage(core.NewUserMessage(text))
	s.AppendUserFacing(core.NewUserMessage(text))
}

func TestEntryRoute(t *testing.T) {
	s := session.New("sess-1", "user-1")
	assert.Equal(t, NodeTriage, EntryRoute(s))

	s.CurrentAgent = agent.DoctorAgentName
	assert.Equal(t, NodeDoctor, EntryRoute(s))

	s.CurrentAgent = "unknown_agent"
	assert.Equal(t, NodeTriage, EntryRoute(s))

	img := &core.ImagePayload{MediaType: "image/jpeg", Data: "aGVsbG8="}
	s.AppendMessage(core.NewUserImageMessage("my prescription", img))
	assert.Equal(t, NodePrescription, EntryRoute(s))

	s.PrescriptionProcessed = true
	assert.Equal(t, NodeTriage, EntryRoute(s))
}

func TestRun_SimpleTriageTurn(t *testing.T) {
	reasoner := model.NewMockModel("reasoner")
	decider := model.NewMockModel("decider")
	g := New(reasoner, decider, newKnowledgeBasePool(t))

	reasoner.EnqueueGenerate(model.MockStep{Text: "Hello! How can I help?"})
	decider.EnqueueObject(model.MockStep{Object: json.RawMessage(
		`{"response":"Hello! How can I help?","symptom_trigger":false,"programme_trigger":false,"doctor_trigger":false}`)})

	s := session.New("sess-1", "user-1")
	userTurn(s, "hi")

	events, emit := collectEvents()
	require.NoError(t, g.Run(context.Background(), s, emit))

	require.Len(t, s.UserMessages, 2)
	assert.Equal(t, "Hello! How can I help?", s.UserMessages[1].Content)
	assert.Equal(t, agent.TriageAgentName, s.CurrentAgent)
	assert.Equal(t, "English", s.DetectedLanguage)

	var nodes []string
	for _, ev := range *events {
		if ev.Type == core.EventNodeStart {
			nodes = append(nodes, ev.Node)
		}
	}
	assert.Equal(t, []string{NodeTriage, NodeLanguage}, nodes)
}

func TestRun_HandoffChainsWithinTurn(t *testing.T) {
	reasoner := model.NewMockModel("reasoner")
	decider := model.NewMockModel("decider")
	g := New(reasoner, decider, newKnowledgeBasePool(t))

	reasoner.EnqueueGenerate(model.MockStep{Text: "Let me bring in the symptom specialist."})
	decider.EnqueueObject(model.MockStep{Object: json.RawMessage(
		`{"response":"Let me bring in the symptom specialist.","symptom_trigger":true,"programme_trigger":false,"doctor_trigger":false}`)})

	reasoner.EnqueueGenerate(model.MockStep{Text: "How long have you had the fever?"})
	decider.EnqueueObject(model.MockStep{Object: json.RawMessage(`{
		"response": "How long have you had the fever?",
		"symptoms": [],
		"sufficient_symptom_data": false,
		"doctor_trigger": false, "programme_trigger": false,
		"shared_facts": [], "shared_warnings": [], "red_flags": [],
		"symptom_research_result": "", "disease_name": "No Disease"
	}`)})

	s := session.New("sess-1", "user-1")
	userTurn(s, "I have a fever")

	events, emit := collectEvents()
	require.NoError(t, g.Run(context.Background(), s, emit))

	// Triage handed off, symptom ran, urgency redirected intake for next turn.
	assert.Equal(t, agent.SymptomAgentName, s.CurrentAgent)
	assert.Equal(t, agent.TriageAgentName, s.PreviousAgent)
	require.Len(t, s.UserMessages, 3)
	assert.Equal(t, "How long have you had the fever?", s.UserMessages[2].Content)

	var nodes []string
	for _, ev := range *events {
		if ev.Type == core.EventNodeStart {
			nodes = append(nodes, ev.Node)
		}
	}
	assert.Equal(t, []string{NodeTriage, NodeSymptom, NodeUrgency}, nodes)
}

func TestRun_ToolLoop(t *testing.T) {
	reasoner := model.NewMockModel("reasoner")
	decider := model.NewMockModel("decider")
	g := New(reasoner, decider, newKnowledgeBasePool(t))

	// First symptom pass requests a knowledge-base lookup, second answers.
	reasoner.EnqueueGenerate(model.MockStep{ToolCalls: []core.ToolCall{
		{ID: "c1", Name: "Symptom_Knowledge_Base_Smart_Query", Arguments: `{"query":"fever chills"}`},
	}})
	decider.EnqueueObject(model.MockStep{Object: json.RawMessage(`{
		"response": "Let me check that.",
		"symptoms": [], "sufficient_symptom_data": false,
		"doctor_trigger": false, "programme_trigger": false,
		"shared_facts": [], "shared_warnings": [], "red_flags": [],
		"symptom_research_result": "", "disease_name": "No Disease"
	}`)})

	reasoner.EnqueueGenerate(model.MockStep{Text: "Fever with chills can indicate malaria; how long has it lasted?"})
	decider.EnqueueObject(model.MockStep{Object: json.RawMessage(`{
		"response": "Fever with chills can indicate malaria; how long has it lasted?",
		"symptoms": [{"symptom": "fever", "severity": "", "duration": "", "location": "", "additional_details": "with chills"}],
		"sufficient_symptom_data": false,
		"doctor_trigger": false, "programme_trigger": false,
		"shared_facts": [], "shared_warnings": [], "red_flags": [],
		"symptom_research_result": "fever with chills suggests checking for malaria",
		"disease_name": "No Disease"
	}`)})
	decider.EnqueueObject(model.MockStep{Object: json.RawMessage(`{"detected_urgency":"routine"}`)})

	s := session.New("sess-1", "user-1")
	s.CurrentAgent = agent.SymptomAgentName
	userTurn(s, "fever and chills since last night")

	events, emit := collectEvents()
	require.NoError(t, g.Run(context.Background(), s, emit))

	assert.Equal(t, 1, s.ToolCallCount)
	assert.Equal(t, 0, s.ErrorCount)
	assert.Equal(t, "routine", s.DetectedUrgency)
	assert.True(t, s.UrgencyChecked)

	var sawStart, sawEnd bool
	for _, ev := range *events {
		switch ev.Type {
		case core.EventToolStart:
			sawStart = true
			assert.Equal(t, "Symptom_Knowledge_Base_Smart_Query", ev.Tool)
		case core.EventToolEnd:
			sawEnd = true
			assert.Equal(t, core.ToolStatusOK, ev.Status)
		}
	}
	assert.True(t, sawStart)
	assert.True(t, sawEnd)

	// The tool result landed in the internal log only.
	var toolMsgs int
	for _, m := range s.Messages {
		if m.Role == core.RoleTool {
			toolMsgs++
		}
	}
	assert.Equal(t, 1, toolMsgs)
}

func TestRun_ToolCallLimitEndsTurn(t *testing.T) {
	reasoner := model.NewMockModel("reasoner")
	decider := model.NewMockModel("decider")
	g := New(reasoner, decider, newKnowledgeBasePool(t))

	reasoner.EnqueueGenerate(model.MockStep{ToolCalls: []core.ToolCall{
		{ID: "c1", Name: "Symptom_Knowledge_Base_Smart_Query", Arguments: `{}`},
	}})
	decider.EnqueueObject(model.MockStep{Object: json.RawMessage(`{
		"response": "Checking again.",
		"symptoms": [], "sufficient_symptom_data": false,
		"doctor_trigger": false, "programme_trigger": false,
		"shared_facts": [], "shared_warnings": [], "red_flags": [],
		"symptom_research_result": "", "disease_name": "No Disease"
	}`)})

	s := session.New("sess-1", "user-1")
	s.CurrentAgent = agent.SymptomAgentName
	s.ToolCallCount = 10
	userTurn(s, "anything else?")

	require.NoError(t, g.Run(context.Background(), s, nil))

	last := s.UserMessages[len(s.UserMessages)-1]
	assert.Contains(t, last.Content, "maximum number of tool calls")
}

func TestRun_ToolCallLimitPreemptsHandoff(t *testing.T) {
	reasoner := model.NewMockModel("reasoner")
	decider := model.NewMockModel("decider")
	g := New(reasoner, decider, newKnowledgeBasePool(t))

	// At the limit, with no further tool request, but a doctor handoff set.
	reasoner.EnqueueGenerate(model.MockStep{Text: "You should see a doctor."})
	decider.EnqueueObject(model.MockStep{Object: json.RawMessage(`{
		"response": "You should see a doctor.",
		"symptoms": [], "sufficient_symptom_data": true,
		"doctor_trigger": true, "programme_trigger": false,
		"shared_facts": [], "shared_warnings": [], "red_flags": [],
		"symptom_research_result": "", "disease_name": "No Disease"
	}`)})

	s := session.New("sess-1", "user-1")
	s.CurrentAgent = agent.SymptomAgentName
	s.ToolCallCount = 10
	userTurn(s, "what now?")

	events, emit := collectEvents()
	require.NoError(t, g.Run(context.Background(), s, emit))

	var nodes []string
	for _, ev := range *events {
		if ev.Type == core.EventNodeStart {
			nodes = append(nodes, ev.Node)
		}
	}
	assert.Equal(t, []string{NodeSymptom, NodeMaxIterations}, nodes)

	// The handoff stays recorded for the next turn's entry routing.
	assert.Equal(t, agent.DoctorAgentName, s.CurrentAgent)
	last := s.UserMessages[len(s.UserMessages)-1]
	assert.Contains(t, last.Content, "maximum number of tool calls")
}

func TestRun_ErrorLimitStopsBeforeRunning(t *testing.T) {
	reasoner := model.NewMockModel("reasoner")
	decider := model.NewMockModel("decider")
	g := New(reasoner, decider, newKnowledgeBasePool(t))

	s := session.New("sess-1", "user-1")
	s.ErrorCount = 3
	userTurn(s, "hello?")

	events, emit := collectEvents()
	require.NoError(t, g.Run(context.Background(), s, emit))
	assert.Empty(t, *events)
	require.Len(t, s.UserMessages, 1) // nothing appended
}

func TestRun_PrescriptionTurn(t *testing.T) {
	reasoner := model.NewMockModel("reasoner")
	decider := model.NewMockModel("decider")
	g := New(reasoner, decider, newKnowledgeBasePool(t))

	reasoner.EnqueueGenerate(model.MockStep{Text: `{"medications":[{"name":"Panadol","dosage":"500mg","frequency":"","duration":""}],"doctor":"","date":""}`})

	s := session.New("sess-1", "user-1")
	img := &core.ImagePayload{MediaType: "image/jpeg", Data: "aGVsbG8="}
	s.AppendMessage(core.NewUserImageMessage("", img))
	s.AppendUserFacing(core.NewUserImageMessage("", img))

	events, emit := collectEvents()
	require.NoError(t, g.Run(context.Background(), s, emit))

	assert.True(t, s.PrescriptionProcessed)
	require.NotNil(t, s.PrescriptionData)
	last := s.UserMessages[len(s.UserMessages)-1]
	assert.Contains(t, last.Content, "Panadol")

	require.NotEmpty(t, *events)
	assert.Equal(t, NodePrescription, (*events)[0].Node)
}
