package profile

import (
	"context"
	"testing"

	"github.com/careflow-ai/careflow/core"
	"github.com/careflow-ai/careflow/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_FetchMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Fetch(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpsertAndFetch(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(context.Background(), &Profile{
		UserID: "user-1",
		Name:   "Fatima",
		Age:    34,
	}))

	p, err := store.Fetch(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Fatima", p.Name)

	// Returned profile is a copy.
	p.Name = "changed"
	again, err := store.Fetch(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Fatima", again.Name)
}

func TestSeedStateAndFromState(t *testing.T) {
	p := &Profile{
		UserID:            "user-1",
		Name:              "Fatima",
		Age:               34,
		Gender:            "female",
		Location:          "Lahore",
		PreferredLanguage: "Urdu",
		ChronicConditions: []string{"diabetes"},
		Allergies:         []string{"penicillin"},
		Medications:       []string{"metformin"},
	}

	s := session.New("sess-1", "user-1")
	SeedState(s, p)

	assert.Equal(t, "Fatima", s.UserName)
	assert.Equal(t, 34, s.UserAge)
	assert.Equal(t, "Urdu", s.PreferredLanguage)
	assert.Equal(t, []string{"diabetes"}, s.ChronicConditions)

	// Session picked up new durable facts during the consultation.
	s.UserDomicileLocation = "Peshawar"
	s.Allergies = append(s.Allergies, "ibuprofen")

	out := FromState(s)
	assert.Equal(t, "Peshawar", out.DomicileLocation)
	assert.Equal(t, []string{"penicillin", "ibuprofen"}, out.Allergies)
	assert.Equal(t, "Fatima", out.Name)
	assert.False(t, out.UpdatedAt.IsZero())
}

func TestFromState_CarriesConsultationFindings(t *testing.T) {
	s := session.New("sess-1", "user-1")
	s.DetectedLanguage = "Urdu"
	s.DetectedUrgency = "urgent"
	s.SymptomsCollected = []session.Symptom{{Symptom: "fever", Severity: "high"}}
	s.SymptomResearchResult = "fever with chills suggests checking for malaria"
	s.SehatSahulatProgramEligibility = "True"
	s.BaitulMaalProgramEligibility = "False"
	s.DiseaseName = "malaria"
	s.SharedFacts = []string{"patient lives in Peshawar"}
	s.SharedWarnings = []string{"fever above 39C for two days"}
	s.RedFlags = []string{"stiff neck"}
	s.PrescriptionData = map[string]any{"doctor": "Dr. Khan"}

	// Session-scoped fields that must stay behind.
	s.AppendMessage(core.NewUserMessage("hello"))
	s.ToolCallCount = 4
	s.CurrentAgent = "doctor_agent"

	out := FromState(s)
	require.Len(t, out.SymptomsCollected, 1)
	assert.Equal(t, "fever", out.SymptomsCollected[0].Symptom)
	assert.Equal(t, "fever with chills suggests checking for malaria", out.SymptomResearchResult)
	assert.Equal(t, "True", out.SehatSahulatProgramEligibility)
	assert.Equal(t, "False", out.BaitulMaalProgramEligibility)
	assert.Equal(t, "malaria", out.DiseaseName)
	assert.Equal(t, []string{"patient lives in Peshawar"}, out.SharedFacts)
	assert.Equal(t, []string{"fever above 39C for two days"}, out.SharedWarnings)
	assert.Equal(t, []string{"stiff neck"}, out.RedFlags)
	assert.Equal(t, "Dr. Khan", out.PrescriptionData["doctor"])
	assert.Equal(t, "Urdu", out.DetectedLanguage)
	assert.Equal(t, "urgent", out.DetectedUrgency)

	// Seeding a fresh session restores every finding.
	fresh := session.New("sess-2", "user-1")
	SeedState(fresh, out)
	require.Len(t, fresh.SymptomsCollected, 1)
	assert.Equal(t, "high", fresh.SymptomsCollected[0].Severity)
	assert.Equal(t, "malaria", fresh.DiseaseName)
	assert.Equal(t, "True", fresh.SehatSahulatProgramEligibility)
	assert.Equal(t, []string{"stiff neck"}, fresh.RedFlags)
	assert.Empty(t, fresh.Messages)
	assert.Zero(t, fresh.ToolCallCount)
	assert.Equal(t, "triage_agent", fresh.CurrentAgent)
}

func TestSeedState_NilProfileIsNoOp(t *testing.T) {
	s := session.New("sess-1", "user-1")
	SeedState(s, nil)
	assert.Equal(t, "user-1", s.UserID)
	assert.Empty(t, s.UserName)
}
