package pkg

import "time"

// Attribution describes which party a displayed message is presented as
// coming from.
type Attribution string

const (
	AttributionProvider Attribution = "provider"
	AttributionPatient  Attribution = "patient"
	AttributionCoach    Attribution = "coach"
)

// ParseAttribution maps a raw string onto an Attribution, falling back to
// patient for anything unknown since that is the common case for simulated
// replies.
func ParseAttribution(s string) Attribution {
	switch Attribution(s) {
	case AttributionProvider, AttributionPatient, AttributionCoach:
		return Attribution(s)
	default:
		return AttributionPatient
	}
}

// EnglishProficiency enumerates how comfortable the simulated patient is in
// English. It drives how much of the patient's speech comes out in their
// native language.
type EnglishProficiency string

const (
	ProficiencyNone           EnglishProficiency = "None"
	ProficiencyLimited        EnglishProficiency = "Limited"
	ProficiencyBeginner       EnglishProficiency = "Beginner"
	ProficiencyIntermediate   EnglishProficiency = "Intermediate"
	ProficiencyConversational EnglishProficiency = "Conversational"
	ProficiencyFluent         EnglishProficiency = "Fluent"
)

// PatientProfile describes the simulated patient. It is created once per
// encounter (generated or entered manually) and read-only afterwards.
type PatientProfile struct {
	Name               string             `json:"name" validate:"required"`
	Age                int                `json:"age" validate:"gte=0,lte=120"`
	Gender             string             `json:"gender"`
	NativeLanguage     string             `json:"native_language"`
	EnglishProficiency EnglishProficiency `json:"english_proficiency" validate:"omitempty,oneof=None Limited Beginner Intermediate Conversational Fluent"`
	CulturalBackground string             `json:"cultural_background"`
	Persona            string             `json:"persona"`

	MainComplaint      string `json:"main_complaint" validate:"required"`
	SecondaryComplaint string `json:"secondary_complaint"`

	// Illness perception: what the patient thinks is going on, what worries
	// them, and what they hope the visit will achieve.
	IllnessIdeas        string `json:"illness_ideas"`
	IllnessConcerns     string `json:"illness_concerns"`
	IllnessExpectations string `json:"illness_expectations"`

	MedicalHistory string `json:"medical_history"`
	Medications    string `json:"medications"`
	Allergies      string `json:"allergies"`
	SocialHistory  string `json:"social_history"`
	FamilyHistory  string `json:"family_history"`

	ExamFindings      string `json:"exam_findings"`
	Diagnosis         string `json:"diagnosis"`
	ManagementPlan    string `json:"management_plan"`
	RedFlags          string `json:"red_flags"`
	FamilyInvolvement string `json:"family_involvement"`
}

// Turn is one message of the conversation history. Insertion order is
// meaningful: the history is replayed verbatim to the AI collaborator.
type Turn struct {
	Role Attribution `json:"role"`
	Text string      `json:"text"`
}

// RubricScore is the awarded points and justification for one rubric
// category in a single scoring event.
type RubricScore struct {
	Points        float64 `json:"points"`
	Justification string  `json:"justification"`
}

// RubricScoreMap holds one RubricScore per rubric category name.
type RubricScoreMap map[string]RubricScore

// EncounterState is the mutable per-encounter record. It is mutated only by
// the orchestrator, one action at a time.
type EncounterState struct {
	CurrentPhase           int                       `json:"currentPhase"`
	ProviderTurnCount      int                       `json:"providerTurnCount"`
	PhaseScores            map[string]RubricScoreMap `json:"phaseScores"`
	CurrentCumulativeScore float64                   `json:"currentCumulativeScore"`
	TotalPossibleScore     float64                   `json:"totalPossibleScore"`
}

// NewEncounterState returns the initial state at phase 0 with all counters
// zero.
func NewEncounterState() EncounterState {
	return EncounterState{PhaseScores: map[string]RubricScoreMap{}}
}

// Clone returns a deep copy so an action can be applied tentatively and
// discarded on failure.
func (s EncounterState) Clone() EncounterState {
	out := s
	out.PhaseScores = make(map[string]RubricScoreMap, len(s.PhaseScores))
	for phase, scores := range s.PhaseScores {
		m := make(RubricScoreMap, len(scores))
		for cat, sc := range scores {
			m[cat] = sc
		}
		out.PhaseScores[phase] = m
	}
	return out
}

// PerformanceRatio is cumulative over possible points, defaulting to 1 when
// nothing has been scored yet.
func (s EncounterState) PerformanceRatio() float64 {
	if s.TotalPossibleScore <= 0 {
		return 1
	}
	return s.CurrentCumulativeScore / s.TotalPossibleScore
}

// InteractionResult is the parsed shape of the collaborator's answer to a
// single provider turn.
type InteractionResult struct {
	ResponseText            string         `json:"responseText"`
	Attribution             Attribution    `json:"attribution"`
	ScoreUpdate             RubricScoreMap `json:"scoreUpdate"`
	PhaseComplete           bool           `json:"phaseComplete"`
	CompletionJustification string         `json:"completionJustification"`
}

// EncounterRecord is the persisted encounter row.
type EncounterRecord struct {
	ID        string         `json:"id"`
	Profile   PatientProfile `json:"profile"`
	State     EncounterState `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
