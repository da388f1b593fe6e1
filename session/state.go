// Package session defines the shared state record threaded through every
// step of a consultation turn and the per-field merge policies used to fold
// an agent's partial update into it.
package session

import (
	"time"

	"github.com/careflow-ai/careflow/core"
)

// Symptom is one keyed entry of the collected-symptoms set. Entries merge by
// the lower-cased symptom name: scalar sub-fields are overwritten when the
// incoming value is non-empty, AdditionalDetails concatenates with
// case-insensitive containment dedup.
type Symptom struct {
	Symptom           string `json:"symptom"`
	Severity          string `json:"severity,omitempty"`
	Duration          string `json:"duration,omitempty"`
	Location          string `json:"location,omitempty"`
	AdditionalDetails string `json:"additional_details,omitempty"`
}

// Doctor is one doctor the user agreed to meet or call.
type Doctor struct {
	Name           string `json:"doctor_name"`
	Specialization string `json:"doctor_specialization"`
}

// State is the canonical session record. It is mutated exclusively through
// Apply, which folds a Delta in per the field's declared merge policy. The
// two conversation logs are append-only within a session lifetime.
type State struct {
	SessionID string `json:"session_id"`

	// Conversation logs. Messages holds the full internal trace including
	// tool calls and results; UserMessages only what the end user sees.
	Messages     []core.Message `json:"messages"`
	UserMessages []core.Message `json:"user_messages"`

	ToolCallCount int `json:"tool_call_count"`
	ErrorCount    int `json:"error_count"`

	// User context, seeded from the long-term profile store.
	UserID               string `json:"user_id"`
	UserName             string `json:"user_name"`
	UserAge              int    `json:"user_age,omitempty"`
	UserGender           string `json:"user_gender,omitempty"`
	UserLocation         string `json:"user_location,omitempty"`
	UserDomicileLocation string `json:"user_domicile_location,omitempty"`
	UserPhone            string `json:"user_phone,omitempty"`
	PreferredLanguage    string `json:"preferred_language,omitempty"`

	// Medical history, seeded from the long-term profile store.
	ChronicConditions  []string `json:"chronic_conditions,omitempty"`
	Allergies          []string `json:"allergies,omitempty"`
	CurrentMedications []string `json:"current_medications,omitempty"`

	// Detected context.
	DetectedLanguage string `json:"detected_language,omitempty"`
	DetectedUrgency  string `json:"detected_urgency,omitempty"`
	UrgencyChecked   bool   `json:"urgency_checked"`

	// Symptoms.
	SymptomsCollected     []Symptom `json:"symptoms_collected,omitempty"`
	SymptomResearchResult string    `json:"symptom_research_result,omitempty"`

	// Program eligibility.
	SehatSahulatProgramEligibility string `json:"sehat_sahulat_program_eligibility,omitempty"`
	BaitulMaalProgramEligibility   string `json:"baitul_maal_program_eligibility,omitempty"`

	// Doctor.
	RequiredSpecialty string   `json:"required_specialty,omitempty"`
	DoctorCollected   []Doctor `json:"doctor_collected,omitempty"`
	CallTrigger       bool     `json:"call_trigger"`

	// Agent coordination.
	CurrentAgent   string `json:"current_agent"`
	PreviousAgent  string `json:"previous_agent,omitempty"`
	HandoffContext string `json:"handoff_context,omitempty"`

	// Agent flags.
	TriageComplete        bool `json:"triage_complete"`
	SufficientSymptomData bool `json:"sufficient_symptom_data"`
	RequiresDeepResearch  bool `json:"requires_deep_research"`

	// Shared knowledge, visible to every agent.
	SharedFacts    []string `json:"shared_facts,omitempty"`
	SharedWarnings []string `json:"shared_warnings,omitempty"`
	RedFlags       []string `json:"red_flags,omitempty"`

	// Prescription intake.
	PrescriptionData      map[string]any `json:"prescription_data,omitempty"`
	PrescriptionProcessed bool           `json:"prescription_processed"`

	DiseaseName string `json:"disease_name,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a fresh State for a session with empty logs and the entry
// agent active.
func New(sessionID, userID string) *State {
	return &State{
		SessionID:    sessionID,
		UserID:       userID,
		CurrentAgent: "triage_agent",
		UpdatedAt:    time.Now().UTC(),
	}
}

// Clone returns a deep copy of the state. Nodes receive clones so a failed
// run never leaves the canonical record half-updated.
func (s *State) Clone() *State {
	c := *s
	c.Messages = append([]core.Message(nil), s.Messages...)
	c.UserMessages = append([]core.Message(nil), s.UserMessages...)
	c.ChronicConditions = append([]string(nil), s.ChronicConditions...)
	c.Allergies = append([]string(nil), s.Allergies...)
	c.CurrentMedications = append([]string(nil), s.CurrentMedications...)
	c.SymptomsCollected = append([]Symptom(nil), s.SymptomsCollected...)
	c.DoctorCollected = append([]Doctor(nil), s.DoctorCollected...)
	c.SharedFacts = append([]string(nil), s.SharedFacts...)
	c.SharedWarnings = append([]string(nil), s.SharedWarnings...)
	c.RedFlags = append([]string(nil), s.RedFlags...)
	if s.PrescriptionData != nil {
		c.PrescriptionData = make(map[string]any, len(s.PrescriptionData))
		for k, v := range s.PrescriptionData {
			c.PrescriptionData[k] = v
		}
	}
	return &c
}

// LastUserMessage returns the most recent user-authored message of the
// internal log, or false if the user has not spoken yet.
func (s *State) LastUserMessage() (core.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == core.RoleUser {
			return s.Messages[i], true
		}
	}
	return core.Message{}, false
}

// LastMessage returns the most recent entry of the internal log.
func (s *State) LastMessage() (core.Message, bool) {
	if len(s.Messages) == 0 {
		return core.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// AppendMessage appends to the internal conversation log.
func (s *State) AppendMessage(m core.Message) { s.Messages = append(s.Messages, m) }

// AppendUserFacing appends to the user-facing log.
func (s *State) AppendUserFacing(m core.Message) { s.UserMessages = append(s.UserMessages, m) }
