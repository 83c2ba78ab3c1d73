package llm

// prompts.go defines the prompts sent to the generative-language service.
// Keeping these in a separate file makes them easy to tweak without touching
// the rest of the client.

import (
	"encoding/json"
	"fmt"
	"strings"

	"encounter-coach/internal/encounter"
	"encounter-coach/pkg"
)

const profileSystemPrompt = `You are generating a simulated patient for a clinical communication training encounter.
Invent a realistic adult patient with a non-trivial chief complaint. Respond with a single JSON object using exactly these keys:
name, age, gender, native_language, english_proficiency, cultural_background, persona, main_complaint, secondary_complaint,
illness_ideas, illness_concerns, illness_expectations, medical_history, medications, allergies, social_history, family_history,
exam_findings, diagnosis, management_plan, red_flags, family_involvement.
english_proficiency must be one of: None, Limited, Beginner, Intermediate, Conversational, Fluent.
age must be a number. Respond with JSON only, no surrounding prose.`

const feedbackSystemPrompt = `You are a clinical communication coach. Using the phase-by-phase rubric scores and the full conversation,
write encouraging, specific feedback for the provider: what went well, the two or three most impactful areas to improve,
and one concrete suggestion per area. Address the provider directly. Plain text, no JSON.`

// interactSystemPrompt instructs the model to stay in character, score the
// provider's latest message against the rubric, and assess phase completion.
func interactSystemPrompt(profile pkg.PatientProfile, phase encounter.PhaseConfig, performanceRatio float64) string {
	var b strings.Builder
	b.WriteString("You are role-playing a patient in a clinical communication training encounter.\n\n")
	b.WriteString("Patient profile:\n")
	b.WriteString(profileJSON(profile))
	fmt.Fprintf(&b, "\n\nCurrent phase: %s. Phase goal: %s\n\n", phase.Name, phase.Goal)
	b.WriteString("Stay in character as the patient. Match the patient's English proficiency: when proficiency is low, mix in the patient's native language naturally.\n")
	fmt.Fprintf(&b, "The provider's performance ratio so far is %.2f. ", performanceRatio)
	b.WriteString("If it is below 0.75 be noticeably less forthcoming; below 0.50 be guarded and give minimal answers unless the provider works to rebuild rapport.\n\n")
	b.WriteString("Score the provider's latest message on these rubric categories (0 to the stated maximum each):\n")
	for _, c := range encounter.Rubric() {
		fmt.Fprintf(&b, "- %s (max %.0f): %s\n", c.Name, c.MaxPoints, c.Description)
	}
	b.WriteString("\nRespond with a single JSON object and nothing else:\n")
	b.WriteString(`{"responseText": "<the patient's reply>", "attribution": "patient", ` +
		`"scoreUpdate": {"<category>": {"points": <number>, "justification": "<short reason>"}, ...}, ` +
		`"phaseComplete": <true|false>, "completionJustification": "<why the phase goal is or is not met>"}`)
	return b.String()
}

// scorePhaseSystemPrompt asks for a consolidated rubric score over the whole
// phase rather than a single turn.
func scorePhaseSystemPrompt(phaseName, phaseGoal string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are scoring a provider's performance across the whole %q phase of a clinical communication training encounter.\n", phaseName)
	fmt.Fprintf(&b, "Phase goal: %s\n\n", phaseGoal)
	b.WriteString("Score the provider over the entire phase on every category below:\n")
	for _, c := range encounter.Rubric() {
		fmt.Fprintf(&b, "- %s (max %.0f): %s\n", c.Name, c.MaxPoints, c.Description)
	}
	b.WriteString("\nRespond with a single JSON object mapping every category name to {\"points\": <number>, \"justification\": \"<short reason>\"}. JSON only.")
	return b.String()
}

func synthesizeSystemPrompt(phase encounter.PhaseConfig, qualityHint string) string {
	quality := "an exemplary, empathetic, clinically appropriate"
	if qualityHint == encounter.QualityPoor {
		quality = "a realistically poor: dismissive, rushed, jargon-heavy"
	}
	return fmt.Sprintf(
		"You are demonstrating provider technique in a clinical communication training tool. "+
			"Given the conversation so far, write %s provider message for the %q phase (goal: %s). "+
			"Respond with a single JSON object: {\"text\": \"<the provider message>\"}. JSON only.",
		quality, phase.Name, phase.Goal)
}

func profileJSON(profile pkg.PatientProfile) string {
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return profile.Name
	}
	return string(data)
}

// renderTranscript flattens the conversation for scoring and feedback
// prompts, which read the dialogue as plain text rather than replaying it as
// chat messages.
func renderTranscript(history []pkg.Turn) string {
	var b strings.Builder
	for _, t := range history {
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(string(t.Role)), t.Text)
	}
	return b.String()
}

// renderPhaseScores flattens the accumulated phase scores for the feedback
// prompt.
func renderPhaseScores(phaseScores map[string]pkg.RubricScoreMap) string {
	data, err := json.MarshalIndent(phaseScores, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
