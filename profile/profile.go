// Package profile manages the long-term patient record that outlives any
// single consultation session. A session is seeded from the profile on its
// first turn and folded back into it when the session is archived.
package profile

import (
	"context"
	"errors"
	"time"

	"github.com/careflow-ai/careflow/session"
)

// ErrNotFound is returned by Fetch when no record exists for the user.
var ErrNotFound = errors.New("profile: not found")

// Profile is the durable per-user record: the union of the session state's
// durable fields. Conversation logs, counters and routing coordination are
// session-scoped and never archived.
type Profile struct {
	UserID            string `json:"user_id"`
	Name              string `json:"user_name"`
	Age               int    `json:"user_age"`
	Gender            string `json:"user_gender"`
	Location          string `json:"user_location"`
	DomicileLocation  string `json:"user_domicile_location"`
	Phone             string `json:"user_phone"`
	PreferredLanguage string `json:"preferred_language"`

	// Medical history.
	ChronicConditions []string `json:"chronic_conditions"`
	Allergies         []string `json:"allergies"`
	Medications       []string `json:"current_medications"`

	// Detected context.
	DetectedLanguage string `json:"detected_language"`
	DetectedUrgency  string `json:"detected_urgency"`

	// Symptoms and research.
	SymptomsCollected     []session.Symptom `json:"symptoms_collected"`
	SymptomResearchResult string            `json:"symptom_research_result"`

	// Program eligibility and diagnosis.
	SehatSahulatProgramEligibility string `json:"sehat_sahulat_program_eligibility"`
	BaitulMaalProgramEligibility   string `json:"baitul_maal_program_eligibility"`
	DiseaseName                    string `json:"disease_name"`

	// Shared knowledge.
	SharedFacts    []string `json:"shared_facts"`
	SharedWarnings []string `json:"shared_warnings"`
	RedFlags       []string `json:"red_flags"`

	// Prescription.
	PrescriptionData map[string]any `json:"prescription_data"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the persistence boundary for long-term patient records.
type Store interface {
	Fetch(ctx context.Context, userID string) (*Profile, error)
	Upsert(ctx context.Context, p *Profile) error
}

// SeedState copies the profile into a fresh session state.
func SeedState(s *session.State, p *Profile) {
	if p == nil {
		return
	}
	s.UserID = p.UserID
	s.UserName = p.Name
	s.UserAge = p.Age
	s.UserGender = p.Gender
	s.UserLocation = p.Location
	s.UserDomicileLocation = p.DomicileLocation
	s.UserPhone = p.Phone
	s.PreferredLanguage = p.PreferredLanguage
	s.ChronicConditions = append([]string(nil), p.ChronicConditions...)
	s.Allergies = append([]string(nil), p.Allergies...)
	s.CurrentMedications = append([]string(nil), p.Medications...)
	s.DetectedLanguage = p.DetectedLanguage
	s.DetectedUrgency = p.DetectedUrgency
	s.SymptomsCollected = append([]session.Symptom(nil), p.SymptomsCollected...)
	s.SymptomResearchResult = p.SymptomResearchResult
	s.SehatSahulatProgramEligibility = p.SehatSahulatProgramEligibility
	s.BaitulMaalProgramEligibility = p.BaitulMaalProgramEligibility
	s.DiseaseName = p.DiseaseName
	s.SharedFacts = append([]string(nil), p.SharedFacts...)
	s.SharedWarnings = append([]string(nil), p.SharedWarnings...)
	s.RedFlags = append([]string(nil), p.RedFlags...)
	if p.PrescriptionData != nil {
		s.PrescriptionData = make(map[string]any, len(p.PrescriptionData))
		for k, v := range p.PrescriptionData {
			s.PrescriptionData[k] = v
		}
	}
}

// FromState extracts the durable slice of a finished session. Conversation
// logs, counters and routing coordination deliberately stay behind.
func FromState(s *session.State) *Profile {
	p := &Profile{
		UserID:            s.UserID,
		Name:              s.UserName,
		Age:               s.UserAge,
		Gender:            s.UserGender,
		Location:          s.UserLocation,
		DomicileLocation:  s.UserDomicileLocation,
		Phone:             s.UserPhone,
		PreferredLanguage: s.PreferredLanguage,
		ChronicConditions: append([]string(nil), s.ChronicConditions...),
		Allergies:         append([]string(nil), s.Allergies...),
		Medications:       append([]string(nil), s.CurrentMedications...),

		DetectedLanguage: s.DetectedLanguage,
		DetectedUrgency:  s.DetectedUrgency,

		SymptomsCollected:     append([]session.Symptom(nil), s.SymptomsCollected...),
		SymptomResearchResult: s.SymptomResearchResult,

		SehatSahulatProgramEligibility: s.SehatSahulatProgramEligibility,
		BaitulMaalProgramEligibility:   s.BaitulMaalProgramEligibility,
		DiseaseName:                    s.DiseaseName,

		SharedFacts:    append([]string(nil), s.SharedFacts...),
		SharedWarnings: append([]string(nil), s.SharedWarnings...),
		RedFlags:       append([]string(nil), s.RedFlags...),

		UpdatedAt: time.Now().UTC(),
	}
	if s.PrescriptionData != nil {
		p.PrescriptionData = make(map[string]any, len(s.PrescriptionData))
		for k, v := range s.PrescriptionData {
			p.PrescriptionData[k] = v
		}
	}
	return p
}
