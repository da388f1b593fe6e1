package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/careflow-ai/careflow/core"
)

// Delta is a partial state update keyed by field name. Nodes return deltas;
// Apply folds them into the canonical State per the field's merge policy.
type Delta map[string]any

// Policy names the merge behavior declared for a field.
type Policy int

const (
	// Overwrite replaces the field with the incoming value.
	Overwrite Policy = iota
	// Append extends the field's sequence with the incoming entries.
	Append
	// KeyedUpsert merges collection entries by their natural key.
	KeyedUpsert
	// Dedupe unions entries preserving first-seen order.
	Dedupe
)

// Field names accepted in a Delta. One constant per State field so merge
// policies stay a table lookup and typos fail loudly at Apply time.
const (
	FieldMessages                       = "messages"
	FieldUserMessages                   = "user_messages"
	FieldToolCallCount                  = "tool_call_count"
	FieldErrorCount                     = "error_count"
	FieldUserID                         = "user_id"
	FieldUserName                       = "user_name"
	FieldUserAge                        = "user_age"
	FieldUserGender                     = "user_gender"
	FieldUserLocation                   = "user_location"
	FieldUserDomicileLocation           = "user_domicile_location"
	FieldUserPhone                      = "user_phone"
	FieldPreferredLanguage              = "preferred_language"
	FieldChronicConditions              = "chronic_conditions"
	FieldAllergies                      = "allergies"
	FieldCurrentMedications             = "current_medications"
	FieldDetectedLanguage               = "detected_language"
	FieldDetectedUrgency                = "detected_urgency"
	FieldUrgencyChecked                 = "urgency_checked"
	FieldSymptomsCollected              = "symptoms_collected"
	FieldSymptomResearchResult          = "symptom_research_result"
	FieldSehatSahulatProgramEligibility = "sehat_sahulat_program_eligibility"
	FieldBaitulMaalProgramEligibility   = "baitul_maal_program_eligibility"
	FieldRequiredSpecialty              = "required_specialty"
	FieldDoctorCollected                = "doctor_collected"
	FieldCallTrigger                    = "call_trigger"
	FieldCurrentAgent                   = "current_agent"
	FieldPreviousAgent                  = "previous_agent"
	FieldHandoffContext                 = "handoff_context"
	FieldTriageComplete                 = "triage_complete"
	FieldSufficientSymptomData          = "sufficient_symptom_data"
	FieldRequiresDeepResearch           = "requires_deep_research"
	FieldSharedFacts                    = "shared_facts"
	FieldSharedWarnings                 = "shared_warnings"
	FieldRedFlags                       = "red_flags"
	FieldPrescriptionData               = "prescription_data"
	FieldPrescriptionProcessed          = "prescription_processed"
	FieldDiseaseName                    = "disease_name"
)

type fieldSpec struct {
	policy Policy
	apply  func(s *State, v any) error
}

func stringField(target func(s *State) *string) fieldSpec {
	return fieldSpec{policy: Overwrite, apply: func(s *State, v any) error {
		sv, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		*target(s) = sv
		return nil
	}}
}

func intField(target func(s *State) *int) fieldSpec {
	return fieldSpec{policy: Overwrite, apply: func(s *State, v any) error {
		iv, ok := v.(int)
		if !ok {
			return fmt.Errorf("expected int, got %T", v)
		}
		*target(s) = iv
		return nil
	}}
}

// counterField accumulates: the delta carries an increment, not a total.
func counterField(target func(s *State) *int) fieldSpec {
	return fieldSpec{policy: Append, apply: func(s *State, v any) error {
		iv, ok := v.(int)
		if !ok {
			return fmt.Errorf("expected int, got %T", v)
		}
		*target(s) += iv
		return nil
	}}
}

func boolField(target func(s *State) *bool) fieldSpec {
	return fieldSpec{policy: Overwrite, apply: func(s *State, v any) error {
		bv, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		*target(s) = bv
		return nil
	}}
}

func messagesField(target func(s *State) *[]core.Message) fieldSpec {
	return fieldSpec{policy: Append, apply: func(s *State, v any) error {
		ms, ok := v.([]core.Message)
		if !ok {
			return fmt.Errorf("expected []core.Message, got %T", v)
		}
		t := target(s)
		*t = append(*t, ms...)
		return nil
	}}
}

func dedupeField(target func(s *State) *[]string) fieldSpec {
	return fieldSpec{policy: Dedupe, apply: func(s *State, v any) error {
		sv, ok := v.([]string)
		if !ok {
			return fmt.Errorf("expected []string, got %T", v)
		}
		t := target(s)
		*t = dedupeMerge(*t, sv)
		return nil
	}}
}

// fields is the single declared merge-policy table: one entry per mergeable
// State field. New fields require a table entry, not new merge code.
var fields = map[string]fieldSpec{
	FieldMessages:     messagesField(func(s *State) *[]core.Message { return &s.Messages }),
	FieldUserMessages: messagesField(func(s *State) *[]core.Message { return &s.UserMessages }),

	FieldToolCallCount: counterField(func(s *State) *int { return &s.ToolCallCount }),
	FieldErrorCount:    counterField(func(s *State) *int { return &s.ErrorCount }),

	FieldUserID:               stringField(func(s *State) *string { return &s.UserID }),
	FieldUserName:             stringField(func(s *State) *string { return &s.UserName }),
	FieldUserAge:              intField(func(s *State) *int { return &s.UserAge }),
	FieldUserGender:           stringField(func(s *State) *string { return &s.UserGender }),
	FieldUserLocation:         stringField(func(s *State) *string { return &s.UserLocation }),
	FieldUserDomicileLocation: stringField(func(s *State) *string { return &s.UserDomicileLocation }),
	FieldUserPhone:            stringField(func(s *State) *string { return &s.UserPhone }),
	FieldPreferredLanguage:    stringField(func(s *State) *string { return &s.PreferredLanguage }),

	FieldChronicConditions:  dedupeField(func(s *State) *[]string { return &s.ChronicConditions }),
	FieldAllergies:          dedupeField(func(s *State) *[]string { return &s.Allergies }),
	FieldCurrentMedications: dedupeField(func(s *State) *[]string { return &s.CurrentMedications }),

	FieldDetectedLanguage: stringField(func(s *State) *string { return &s.DetectedLanguage }),
	FieldDetectedUrgency:  stringField(func(s *State) *string { return &s.DetectedUrgency }),
	FieldUrgencyChecked:   boolField(func(s *State) *bool { return &s.UrgencyChecked }),

	FieldSymptomsCollected: {policy: KeyedUpsert, apply: func(s *State, v any) error {
		sv, ok := v.([]Symptom)
		if !ok {
			return fmt.Errorf("expected []session.Symptom, got %T", v)
		}
		s.SymptomsCollected = mergeSymptoms(s.SymptomsCollected, sv)
		return nil
	}},
	FieldSymptomResearchResult: stringField(func(s *State) *string { return &s.SymptomResearchResult }),

	FieldSehatSahulatProgramEligibility: stringField(func(s *State) *string { return &s.SehatSahulatProgramEligibility }),
	FieldBaitulMaalProgramEligibility:   stringField(func(s *State) *string { return &s.BaitulMaalProgramEligibility }),

	FieldRequiredSpecialty: stringField(func(s *State) *string { return &s.RequiredSpecialty }),
	FieldDoctorCollected: {policy: Append, apply: func(s *State, v any) error {
		dv, ok := v.([]Doctor)
		if !ok {
			return fmt.Errorf("expected []session.Doctor, got %T", v)
		}
		s.DoctorCollected = append(s.DoctorCollected, dv...)
		return nil
	}},
	FieldCallTrigger: boolField(func(s *State) *bool { return &s.CallTrigger }),

	FieldCurrentAgent:   stringField(func(s *State) *string { return &s.CurrentAgent }),
	FieldPreviousAgent:  stringField(func(s *State) *string { return &s.PreviousAgent }),
	FieldHandoffContext: stringField(func(s *State) *string { return &s.HandoffContext }),

	FieldTriageComplete:        boolField(func(s *State) *bool { return &s.TriageComplete }),
	FieldSufficientSymptomData: boolField(func(s *State) *bool { return &s.SufficientSymptomData }),
	FieldRequiresDeepResearch:  boolField(func(s *State) *bool { return &s.RequiresDeepResearch }),

	FieldSharedFacts:    dedupeField(func(s *State) *[]string { return &s.SharedFacts }),
	FieldSharedWarnings: dedupeField(func(s *State) *[]string { return &s.SharedWarnings }),
	FieldRedFlags:       dedupeField(func(s *State) *[]string { return &s.RedFlags }),

	FieldPrescriptionData: {policy: Overwrite, apply: func(s *State, v any) error {
		mv, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("expected map[string]any, got %T", v)
		}
		s.PrescriptionData = mv
		return nil
	}},
	FieldPrescriptionProcessed: boolField(func(s *State) *bool { return &s.PrescriptionProcessed }),

	FieldDiseaseName: stringField(func(s *State) *string { return &s.DiseaseName }),
}

// PolicyOf returns the declared merge policy for a field name.
func PolicyOf(field string) (Policy, bool) {
	spec, ok := fields[field]
	return spec.policy, ok
}

// Apply folds a delta into the state. An empty delta is a no-op. Unknown
// field names are rejected so a mistyped delta key cannot vanish silently.
func (s *State) Apply(d Delta) error {
	if len(d) == 0 {
		return nil
	}
	for name, v := range d {
		spec, ok := fields[name]
		if !ok {
			return fmt.Errorf("session: unknown state field %q", name)
		}
		if err := spec.apply(s, v); err != nil {
			return fmt.Errorf("session: apply %q: %w", name, err)
		}
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// normalizeVal trims whitespace and treats "" / "none" as absent.
func normalizeVal(v string) string {
	s := strings.TrimSpace(v)
	if s == "" || strings.EqualFold(s, "none") {
		return ""
	}
	return s
}

// mergeSymptoms deduplicates by lower-cased symptom name. Scalar sub-fields
// are overwritten when the incoming value is non-empty; additional details
// concatenate with "; " unless the existing text already contains them.
// First-seen order of keys is preserved.
func mergeSymptoms(existing, incoming []Symptom) []Symptom {
	merged := map[string]*Symptom{}
	var order []string

	upsert := func(src Symptom) {
		key := strings.ToLower(strings.TrimSpace(src.Symptom))
		if key == "" || key == "none" {
			return
		}

		sev := normalizeVal(src.Severity)
		dur := normalizeVal(src.Duration)
		loc := normalizeVal(src.Location)
		add := normalizeVal(src.AdditionalDetails)

		cur, ok := merged[key]
		if !ok {
			merged[key] = &Symptom{
				Symptom:           src.Symptom,
				Severity:          sev,
				Duration:          dur,
				Location:          loc,
				AdditionalDetails: add,
			}
			order = append(order, key)
			return
		}

		if sev != "" {
			cur.Severity = sev
		}
		if dur != "" {
			cur.Duration = dur
		}
		if loc != "" {
			cur.Location = loc
		}
		if add != "" {
			switch {
			case cur.AdditionalDetails == "":
				cur.AdditionalDetails = add
			case !strings.Contains(strings.ToLower(cur.AdditionalDetails), strings.ToLower(add)):
				cur.AdditionalDetails = cur.AdditionalDetails + "; " + add
			}
		}
	}

	for _, e := range existing {
		upsert(e)
	}
	for _, inc := range incoming {
		upsert(inc)
	}

	out := make([]Symptom, 0, len(order))
	for _, k := range order {
		out = append(out, *merged[k])
	}
	return out
}

// dedupeMerge unions new entries into current, dropping whitespace-trimmed
// duplicates while preserving first-seen order.
func dedupeMerge(current, incoming []string) []string {
	seen := make(map[string]struct{}, len(current)+len(incoming))
	var out []string
	for _, item := range append(append([]string{}, current...), incoming...) {
		clean := strings.TrimSpace(item)
		if clean == "" {
			continue
		}
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out
}
