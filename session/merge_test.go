package session

import (
	"testing"

	"github.com/careflow-ai/careflow/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *State {
	s := New("sess-1", "user-1")
	s.AppendMessage(core.NewUserMessage("I have a fever"))
	s.SymptomsCollected = []Symptom{{Symptom: "fever", Severity: "mild"}}
	s.SharedFacts = []string{"patient is 34"}
	s.ToolCallCount = 2
	return s
}

func TestApply_EmptyDeltaIsNoOp(t *testing.T) {
	s := sampleState()
	before := s.Clone()

	require.NoError(t, s.Apply(Delta{}))
	require.NoError(t, s.Apply(nil))

	assert.Equal(t, before.Messages, s.Messages)
	assert.Equal(t, before.SymptomsCollected, s.SymptomsCollected)
	assert.Equal(t, before.SharedFacts, s.SharedFacts)
	assert.Equal(t, before.ToolCallCount, s.ToolCallCount)
	assert.Equal(t, before.UpdatedAt, s.UpdatedAt)
}

func TestApply_UnknownFieldRejected(t *testing.T) {
	s := sampleState()
	err := s.Apply(Delta{"no_such_field": "x"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_field")
}

func TestApply_WrongTypeRejected(t *testing.T) {
	s := sampleState()
	err := s.Apply(Delta{FieldCurrentAgent: 42})
	assert.Error(t, err)
}

func TestApply_OverwriteAndAppend(t *testing.T) {
	s := sampleState()

	err := s.Apply(Delta{
		FieldCurrentAgent:  "doctor_agent",
		FieldToolCallCount: 5,
		FieldMessages:      []core.Message{core.NewAssistantMessage("hello")},
		FieldUserMessages:  []core.Message{core.NewAssistantMessage("hello")},
	})
	require.NoError(t, err)

	assert.Equal(t, "doctor_agent", s.CurrentAgent)
	assert.Equal(t, 7, s.ToolCallCount) // counters accumulate
	assert.Len(t, s.Messages, 2)
	assert.Len(t, s.UserMessages, 1)
}

func TestMergeSymptoms_KeyedUpsert(t *testing.T) {
	s := sampleState() // holds {fever, mild}

	err := s.Apply(Delta{FieldSymptomsCollected: []Symptom{
		{Symptom: "Fever", Severity: "high", AdditionalDetails: "spiked at night"},
	}})
	require.NoError(t, err)

	require.Len(t, s.SymptomsCollected, 1)
	got := s.SymptomsCollected[0]
	assert.Equal(t, "fever", got.Symptom) // original casing of first entry kept
	assert.Equal(t, "high", got.Severity)
	assert.Equal(t, "spiked at night", got.AdditionalDetails)

	err = s.Apply(Delta{FieldSymptomsCollected: []Symptom{
		{Symptom: "fever", AdditionalDetails: "also chills"},
	}})
	require.NoError(t, err)

	require.Len(t, s.SymptomsCollected, 1)
	got = s.SymptomsCollected[0]
	assert.Equal(t, "high", got.Severity) // unchanged by empty incoming scalar
	assert.Equal(t, "spiked at night; also chills", got.AdditionalDetails)
}

func TestMergeSymptoms_DetailsContainmentDedup(t *testing.T) {
	s := New("sess-1", "user-1")
	require.NoError(t, s.Apply(Delta{FieldSymptomsCollected: []Symptom{
		{Symptom: "headache", AdditionalDetails: "Worse In The Morning"},
	}}))
	require.NoError(t, s.Apply(Delta{FieldSymptomsCollected: []Symptom{
		{Symptom: "headache", AdditionalDetails: "worse in the morning"},
	}}))

	require.Len(t, s.SymptomsCollected, 1)
	assert.Equal(t, "Worse In The Morning", s.SymptomsCollected[0].AdditionalDetails)
}

func TestMergeSymptoms_SkipsEmptyAndNoneKeys(t *testing.T) {
	s := New("sess-1", "user-1")
	require.NoError(t, s.Apply(Delta{FieldSymptomsCollected: []Symptom{
		{Symptom: ""},
		{Symptom: "None"},
		{Symptom: "  cough  ", Severity: "mild"},
	}}))

	require.Len(t, s.SymptomsCollected, 1)
	assert.Equal(t, "  cough  ", s.SymptomsCollected[0].Symptom)
}

func TestMergeSymptoms_PreservesFirstSeenOrder(t *testing.T) {
	s := New("sess-1", "user-1")
	require.NoError(t, s.Apply(Delta{FieldSymptomsCollected: []Symptom{
		{Symptom: "fever"}, {Symptom: "headache"},
	}}))
	require.NoError(t, s.Apply(Delta{FieldSymptomsCollected: []Symptom{
		{Symptom: "headache", Severity: "severe"}, {Symptom: "nausea"},
	}}))

	require.Len(t, s.SymptomsCollected, 3)
	assert.Equal(t, "fever", s.SymptomsCollected[0].Symptom)
	assert.Equal(t, "headache", s.SymptomsCollected[1].Symptom)
	assert.Equal(t, "nausea", s.SymptomsCollected[2].Symptom)
}

func TestDedupeMerge_OrderPreserved(t *testing.T) {
	s := New("sess-1", "user-1")
	require.NoError(t, s.Apply(Delta{FieldSharedFacts: []string{"a", "b"}}))
	require.NoError(t, s.Apply(Delta{FieldSharedFacts: []string{"b", "c"}}))

	assert.Equal(t, []string{"a", "b", "c"}, s.SharedFacts)
}

func TestDedupeMerge_WhitespaceNormalized(t *testing.T) {
	s := New("sess-1", "user-1")
	require.NoError(t, s.Apply(Delta{FieldRedFlags: []string{" chest pain ", ""}}))
	require.NoError(t, s.Apply(Delta{FieldRedFlags: []string{"chest pain", "fainting"}}))

	assert.Equal(t, []string{"chest pain", "fainting"}, s.RedFlags)
}

func TestPolicyOf(t *testing.T) {
	p, ok := PolicyOf(FieldSymptomsCollected)
	assert.True(t, ok)
	assert.Equal(t, KeyedUpsert, p)

	p, ok = PolicyOf(FieldMessages)
	assert.True(t, ok)
	assert.Equal(t, Append, p)

	p, ok = PolicyOf(FieldSharedFacts)
	assert.True(t, ok)
	assert.Equal(t, Dedupe, p)

	_, ok = PolicyOf("bogus")
	assert.False(t, ok)
	_ = p
}

func TestClone_IsDeep(t *testing.T) {
	s := sampleState()
	c := s.Clone()

	c.AppendMessage(core.NewAssistantMessage("extra"))
	c.SymptomsCollected[0].Severity = "severe"
	c.SharedFacts = append(c.SharedFacts, "new fact")

	assert.Len(t, s.Messages, 1)
	assert.Equal(t, "mild", s.SymptomsCollected[0].Severity)
	assert.Len(t, s.SharedFacts, 1)
}

func TestLastUserMessage(t *testing.T) {
	s := New("sess-1", "user-1")
	_, ok := s.LastUserMessage()
	assert.False(t, ok)

	s.AppendMessage(core.NewUserMessage("first"))
	s.AppendMessage(core.NewAssistantMessage("reply"))
	s.AppendMessage(core.NewUserMessage("second"))

	m, ok := s.LastUserMessage()
	assert.True(t, ok)
	assert.Equal(t, "second", m.Content)
}
