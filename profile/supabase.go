package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/careflow-ai/careflow/session"
)

const profileTable = "longterm_session"

// SupabaseConfig holds the Supabase connection settings.
type SupabaseConfig struct {
	URL    string
	APIKey string
	Table  string
}

// SupabaseStore persists profiles in a Supabase (PostgREST) table keyed by
// user_id.
type SupabaseStore struct {
	client *supabase.Client
	table  string
}

// profileRow mirrors the table's column layout.
type profileRow struct {
	UserID            string   `json:"user_id"`
	UserName          string   `json:"user_name"`
	UserAge           int      `json:"user_age"`
	UserGender        string   `json:"user_gender"`
	UserLocation      string   `json:"user_location"`
	DomicileLocation  string   `json:"user_domicile_location"`
	UserPhone         string   `json:"user_phone"`
	PreferredLanguage string   `json:"preferred_language"`
	ChronicConditions []string `json:"chronic_conditions"`
	Allergies         []string `json:"allergies"`
	Medications       []string `json:"current_medications"`

	DetectedLanguage      string            `json:"detected_language"`
	DetectedUrgency       string            `json:"detected_urgency"`
	SymptomsCollected     []session.Symptom `json:"symptoms_collected"`
	SymptomResearchResult string            `json:"symptom_research_result"`

	SehatSahulatProgramEligibility string `json:"sehat_sahulat_program_eligibility"`
	BaitulMaalProgramEligibility   string `json:"baitul_maal_program_eligibility"`
	DiseaseName                    string `json:"disease_name"`

	SharedFacts      []string       `json:"shared_facts"`
	SharedWarnings   []string       `json:"shared_warnings"`
	RedFlags         []string       `json:"red_flags"`
	PrescriptionData map[string]any `json:"prescription_data"`

	UpdatedAt string `json:"updated_at"`
}

// NewSupabaseStore creates a profile store backed by Supabase.
func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("profile: supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("profile: supabase API key is required")
	}
	if cfg.Table == "" {
		cfg.Table = profileTable
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("profile: create supabase client: %w", err)
	}

	return &SupabaseStore{client: client, table: cfg.Table}, nil
}

// Fetch implements Store.
func (s *SupabaseStore) Fetch(_ context.Context, userID string) (*Profile, error) {
	var rows []profileRow
	_, err := s.client.From(s.table).
		Select("*", "", false).
		Eq("user_id", userID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("profile: fetch %q: %w", userID, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	row := rows[0]
	p := &Profile{
		UserID:            row.UserID,
		Name:              row.UserName,
		Age:               row.UserAge,
		Gender:            row.UserGender,
		Location:          row.UserLocation,
		DomicileLocation:  row.DomicileLocation,
		Phone:             row.UserPhone,
		PreferredLanguage: row.PreferredLanguage,
		ChronicConditions: row.ChronicConditions,
		Allergies:         row.Allergies,
		Medications:       row.Medications,

		DetectedLanguage:      row.DetectedLanguage,
		DetectedUrgency:       row.DetectedUrgency,
		SymptomsCollected:     row.SymptomsCollected,
		SymptomResearchResult: row.SymptomResearchResult,

		SehatSahulatProgramEligibility: row.SehatSahulatProgramEligibility,
		BaitulMaalProgramEligibility:   row.BaitulMaalProgramEligibility,
		DiseaseName:                    row.DiseaseName,

		SharedFacts:      row.SharedFacts,
		SharedWarnings:   row.SharedWarnings,
		RedFlags:         row.RedFlags,
		PrescriptionData: row.PrescriptionData,
	}
	if row.UpdatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, row.UpdatedAt); err == nil {
			p.UpdatedAt = ts
		}
	}
	return p, nil
}

// Upsert implements Store.
func (s *SupabaseStore) Upsert(_ context.Context, p *Profile) error {
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	row := profileRow{
		UserID:            p.UserID,
		UserName:          p.Name,
		UserAge:           p.Age,
		UserGender:        p.Gender,
		UserLocation:      p.Location,
		DomicileLocation:  p.DomicileLocation,
		UserPhone:         p.Phone,
		PreferredLanguage: p.PreferredLanguage,
		ChronicConditions: p.ChronicConditions,
		Allergies:         p.Allergies,
		Medications:       p.Medications,

		DetectedLanguage:      p.DetectedLanguage,
		DetectedUrgency:       p.DetectedUrgency,
		SymptomsCollected:     p.SymptomsCollected,
		SymptomResearchResult: p.SymptomResearchResult,

		SehatSahulatProgramEligibility: p.SehatSahulatProgramEligibility,
		BaitulMaalProgramEligibility:   p.BaitulMaalProgramEligibility,
		DiseaseName:                    p.DiseaseName,

		SharedFacts:      p.SharedFacts,
		SharedWarnings:   p.SharedWarnings,
		RedFlags:         p.RedFlags,
		PrescriptionData: p.PrescriptionData,

		UpdatedAt: updatedAt.Format(time.RFC3339),
	}

	_, _, err := s.client.From(s.table).
		Upsert(row, "user_id", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("profile: upsert %q: %w", p.UserID, err)
	}
	return nil
}

var _ Store = (*SupabaseStore)(nil)
