package encounter

import (
	"fmt"

	"encounter-coach/pkg"
)

// PhaseConfig is the static configuration of one encounter phase. The table
// below is loaded once and never mutated; phases are addressed by index.
type PhaseConfig struct {
	Index    int
	Name     string
	MaxTurns int // 0 means no automatic advance for this phase
	Goal     string
	// CoachPrompt is the static guidance shown for a coach tip and wrapped
	// into the transition message when the phase begins.
	CoachPrompt string
}

// TerminalPhase is the absorbing end state; no action mutates the encounter
// once it is reached.
const TerminalPhase = 6

var phases = [7]PhaseConfig{
	{
		Index:       0,
		Name:        "Introduction",
		MaxTurns:    0,
		Goal:        "Orient the provider to the encounter and the patient before the session begins.",
		CoachPrompt: "Read the patient summary carefully. When you are ready, greet the patient to begin the session.",
	},
	{
		Index:       1,
		Name:        "Initiating the Session",
		MaxTurns:    4,
		Goal:        "Greet the patient, introduce yourself, establish rapport, and identify the reason for the visit in the patient's own words.",
		CoachPrompt: "Open with a warm greeting and your name and role. Invite the patient to describe what brings them in today, and listen without interrupting.",
	},
	{
		Index:       2,
		Name:        "Gathering Information",
		MaxTurns:    8,
		Goal:        "Explore the chief complaint, relevant history, and the patient's ideas, concerns, and expectations.",
		CoachPrompt: "Move from open to closed questions. Screen for secondary concerns, and ask about the patient's own ideas about what is wrong and what worries them most.",
	},
	{
		Index:       3,
		Name:        "Physical Examination",
		MaxTurns:    5,
		Goal:        "Explain and narrate the examination, obtaining consent and keeping the patient comfortable.",
		CoachPrompt: "Ask permission before each step, explain what you are doing in plain words, and share findings as you go.",
	},
	{
		Index:       4,
		Name:        "Explanation and Planning",
		MaxTurns:    6,
		Goal:        "Share the working diagnosis and management plan in plain language, checking understanding and incorporating the patient's preferences.",
		CoachPrompt: "Chunk information and check understanding after each chunk. Relate the plan to the patient's stated concerns and expectations, and invite questions.",
	},
	{
		Index:       5,
		Name:        "Closing the Session",
		MaxTurns:    3,
		Goal:        "Summarize the visit, confirm next steps and safety-netting, and close respectfully.",
		CoachPrompt: "Summarize the agreed plan, state clearly when the patient should return or seek urgent care, and thank them for their time.",
	},
	{
		Index:       6,
		Name:        "Encounter Complete",
		MaxTurns:    0,
		Goal:        "The encounter has ended.",
		CoachPrompt: TerminalPrompt,
	},
}

// TerminalPrompt is restated for any action arriving after the encounter has
// ended.
const TerminalPrompt = "This encounter is complete. Review your feedback above, or start a new encounter to keep practicing."

// Phase returns the configuration for the given phase index, clamped to the
// table bounds.
func Phase(i int) PhaseConfig {
	if i < 0 {
		i = 0
	}
	if i >= len(phases) {
		i = len(phases) - 1
	}
	return phases[i]
}

// PhaseCount is the number of configured phases including intro and terminal.
func PhaseCount() int { return len(phases) }

// IntroMessage builds the phase 0 coach message presenting the patient to the
// provider. Pure formatting over the profile; no templating engine involved.
func IntroMessage(p pkg.PatientProfile) string {
	language := p.NativeLanguage
	if language == "" {
		language = "English"
	}
	proficiency := p.EnglishProficiency
	if proficiency == "" {
		proficiency = pkg.ProficiencyFluent
	}
	msg := fmt.Sprintf(
		"Welcome to your clinical communication session. Your patient today is %s, %d, presenting with %s. "+
			"%s's native language is %s (English proficiency: %s).",
		p.Name, p.Age, p.MainComplaint, p.Name, language, proficiency)
	if p.CulturalBackground != "" {
		msg += fmt.Sprintf(" Cultural background: %s.", p.CulturalBackground)
	}
	msg += " " + phases[0].CoachPrompt
	return msg
}

// TransitionMessage wraps a phase's static prompt into the coach message
// shown when that phase begins.
func TransitionMessage(phase int) string {
	cfg := Phase(phase)
	return fmt.Sprintf("Transitioning to Phase %d — %s. %s", cfg.Index, cfg.Name, cfg.CoachPrompt)
}
