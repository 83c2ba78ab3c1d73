package encounter

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"encounter-coach/pkg"
)

// Collaborator defines the AI interactions the orchestrator needs. We define
// it here to decouple from the specific LLM implementation.
type Collaborator interface {
	GeneratePatientProfile(ctx context.Context) (*pkg.PatientProfile, error)
	Interact(ctx context.Context, profile pkg.PatientProfile, history []pkg.Turn, latestInput string, phase PhaseConfig, performanceRatio float64) (*pkg.InteractionResult, error)
	ScorePhase(ctx context.Context, profile pkg.PatientProfile, history []pkg.Turn, phaseName, phaseGoal string) (pkg.RubricScoreMap, error)
	OverallFeedback(ctx context.Context, profile pkg.PatientProfile, phaseScores map[string]pkg.RubricScoreMap, history []pkg.Turn) (string, error)
	SynthesizeProviderResponse(ctx context.Context, profile pkg.PatientProfile, history []pkg.Turn, phase PhaseConfig, qualityHint string) (string, error)
}

// Formatter annotates non-English spans of patient speech with inline
// English translations. It never fails; translation problems degrade to the
// original text.
type Formatter interface {
	Format(ctx context.Context, text, sourceLanguage string) string
}

// ActionKind enumerates the four provider-facing actions.
type ActionKind string

const (
	ActionRegularInteraction     ActionKind = "regular_interaction"
	ActionGetCoachTip            ActionKind = "get_coach_tip"
	ActionInjectProviderResponse ActionKind = "inject_provider_response"
	ActionMoveToNextPhase        ActionKind = "move_to_next_phase"
)

// QualityGood and QualityPoor are the accepted hints for injected provider
// responses.
const (
	QualityGood = "good"
	QualityPoor = "poor"
)

// Action is one provider request against an encounter.
type Action struct {
	Kind        ActionKind
	Input       string // regular_interaction only
	QualityHint string // inject_provider_response only
}

// Encounter bundles the immutable profile with the caller-held conversation
// history and state for a single action.
type Encounter struct {
	Profile pkg.PatientProfile
	History []pkg.Turn
	State   pkg.EncounterState
}

// Outcome is what an action produced: the message to show, its attribution,
// the score delta, completion info, and the advanced history and state. On a
// returned error the caller's history and state are untouched.
type Outcome struct {
	ResponseText            string
	Attribution             pkg.Attribution
	ScoreUpdate             pkg.RubricScoreMap
	PhaseComplete           bool
	CompletionJustification string
	NextCoachMessage        string
	OverallFeedback         string
	History                 []pkg.Turn
	State                   pkg.EncounterState
}

// Orchestrator sequences the six-phase encounter: it tracks turns,
// accumulates rubric scores, and decides when to request phase scoring or
// final feedback.
type Orchestrator struct {
	ai        Collaborator
	formatter Formatter
	log       *zap.Logger
}

// NewOrchestrator wires the orchestrator to its collaborator and formatter.
// A nil logger is replaced with a no-op logger.
func NewOrchestrator(ai Collaborator, formatter Formatter, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{ai: ai, formatter: formatter, log: log}
}

// Act applies one action to the encounter and returns the outcome. The
// input aggregate is never mutated; the outcome carries the next history and
// state, so a failed action leaves the caller exactly where it was.
func (o *Orchestrator) Act(ctx context.Context, enc Encounter, action Action) (*Outcome, error) {
	state := enc.State.Clone()
	if state.PhaseScores == nil {
		state.PhaseScores = map[string]pkg.RubricScoreMap{}
	}
	history := append([]pkg.Turn(nil), enc.History...)

	// Phase 6 is absorbing: restate the terminal prompt, mutate nothing.
	if state.CurrentPhase >= TerminalPhase {
		return &Outcome{
			ResponseText: TerminalPrompt,
			Attribution:  pkg.AttributionCoach,
			ScoreUpdate:  ZeroScoreMap("The encounter is already complete."),
			History:      history,
			State:        state,
		}, nil
	}

	switch action.Kind {
	case ActionGetCoachTip:
		// Static guidance only: zero points, totals untouched, no history
		// mutation beyond what the caller already appended.
		return &Outcome{
			ResponseText: Phase(state.CurrentPhase).CoachPrompt,
			Attribution:  pkg.AttributionCoach,
			ScoreUpdate:  ZeroScoreMap("Coach tip requested; no points awarded for this turn."),
			History:      history,
			State:        state,
		}, nil

	case ActionMoveToNextPhase:
		return o.moveToNextPhase(ctx, enc.Profile, history, state)

	case ActionInjectProviderResponse:
		hint := action.QualityHint
		if hint != QualityGood && hint != QualityPoor {
			hint = QualityGood
		}
		text, err := o.ai.SynthesizeProviderResponse(ctx, enc.Profile, history, Phase(state.CurrentPhase), hint)
		if err != nil {
			return nil, fmt.Errorf("synthesize provider response: %w", err)
		}
		return o.interact(ctx, enc.Profile, history, state, text)

	case ActionRegularInteraction:
		return o.interact(ctx, enc.Profile, history, state, action.Input)

	default:
		return nil, fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

// interact runs the per-turn protocol for a provider message (typed or
// injected).
func (o *Orchestrator) interact(ctx context.Context, profile pkg.PatientProfile, history []pkg.Turn, state pkg.EncounterState, input string) (*Outcome, error) {
	history = append(history, pkg.Turn{Role: pkg.AttributionProvider, Text: input})
	state.ProviderTurnCount++

	phase := Phase(state.CurrentPhase)
	res, err := o.ai.Interact(ctx, profile, history, input, phase, state.PerformanceRatio())
	if err != nil {
		return nil, fmt.Errorf("interaction failed: %w", err)
	}

	responseText := res.ResponseText
	attribution := res.Attribution
	if attribution == "" {
		attribution = pkg.AttributionPatient
	}
	if attribution == pkg.AttributionPatient {
		// The provider must never see un-translated non-English text.
		responseText = o.formatter.Format(ctx, responseText, profile.NativeLanguage)
	}

	// Fold points and, unconditionally, each category maximum into the
	// running totals so the performance ratio stays meaningful.
	score := NormalizeScoreMap(res.ScoreUpdate, "No assessment returned for this category.")
	applyScore(&state, score)

	phaseComplete := res.PhaseComplete
	justification := res.CompletionJustification
	if phase.MaxTurns > 0 && state.ProviderTurnCount >= phase.MaxTurns && !phaseComplete {
		// Automatic advance at the turn budget fires even when the
		// collaborator did not flag completion.
		phaseComplete = true
		justification = fmt.Sprintf("Turn limit (%d) for %s reached; advancing automatically.", phase.MaxTurns, phase.Name)
		responseText += "\n\n(Turn limit reached — advancing to the next phase automatically.)"
		if attribution == pkg.AttributionPatient {
			attribution = pkg.AttributionCoach
		}
		o.log.Info("phase advanced on turn budget",
			zap.Int("phase", state.CurrentPhase), zap.Int("turns", state.ProviderTurnCount))
	}

	history = append(history, pkg.Turn{Role: attribution, Text: responseText})

	out := &Outcome{
		ResponseText:            responseText,
		Attribution:             attribution,
		ScoreUpdate:             score,
		PhaseComplete:           phaseComplete,
		CompletionJustification: justification,
	}
	if phaseComplete {
		history = o.finishPhase(ctx, profile, history, &state, out)
	}
	out.History = history
	out.State = state
	return out, nil
}

// moveToNextPhase forces completion regardless of turn count or AI
// assessment. The triggering turn itself carries a zero score delta, but the
// consolidated phase scoring still runs.
func (o *Orchestrator) moveToNextPhase(ctx context.Context, profile pkg.PatientProfile, history []pkg.Turn, state pkg.EncounterState) (*Outcome, error) {
	out := &Outcome{
		Attribution:             pkg.AttributionCoach,
		ScoreUpdate:             ZeroScoreMap("Phase advanced manually; no points for this turn."),
		PhaseComplete:           true,
		CompletionJustification: "Phase advanced manually by the provider.",
	}
	history = o.finishPhase(ctx, profile, history, &state, out)
	out.ResponseText = out.NextCoachMessage
	if out.OverallFeedback != "" {
		out.ResponseText = out.OverallFeedback
	}
	if out.ResponseText == "" {
		// Advancing out of the intro: the completion protocol leaves phase 1
		// unannounced, but a manual move still needs a visible response.
		out.ResponseText = TransitionMessage(state.CurrentPhase)
		history = append(history, pkg.Turn{Role: pkg.AttributionCoach, Text: out.ResponseText})
	}
	out.History = history
	out.State = state
	return out, nil
}

// finishPhase runs the phase completion protocol: consolidated scoring for
// the completed phase (additive to turn-level scoring), advance and reset,
// then the next phase's coach message or the final feedback.
func (o *Orchestrator) finishPhase(ctx context.Context, profile pkg.PatientProfile, history []pkg.Turn, state *pkg.EncounterState, out *Outcome) []pkg.Turn {
	completed := Phase(state.CurrentPhase)
	if completed.Index > 0 {
		// Phase 0 -> 1 is outside the scored encounter.
		scores, err := o.ai.ScorePhase(ctx, profile, history, completed.Name, completed.Goal)
		if err != nil {
			o.log.Warn("phase scoring degraded to zero defaults",
				zap.String("phase", completed.Name), zap.Error(err))
			scores = ZeroScoreMap("Automatic phase scoring was unavailable; no points recorded.")
		} else {
			scores = NormalizeScoreMap(scores, "No assessment returned for this category.")
		}
		state.PhaseScores[completed.Name] = scores
		applyScore(state, scores)
	}

	state.CurrentPhase++
	state.ProviderTurnCount = 0

	switch {
	case state.CurrentPhase >= TerminalPhase:
		feedback, err := o.ai.OverallFeedback(ctx, profile, state.PhaseScores, history)
		if err != nil || feedback == "" {
			o.log.Warn("overall feedback degraded to placeholder", zap.Error(err))
			feedback = "Thank you for completing the encounter. Detailed feedback is not available right now; your phase scores above reflect your performance."
		}
		out.OverallFeedback = feedback
		history = append(history, pkg.Turn{Role: pkg.AttributionCoach, Text: feedback})
	case state.CurrentPhase != 1:
		msg := TransitionMessage(state.CurrentPhase)
		out.NextCoachMessage = msg
		history = append(history, pkg.Turn{Role: pkg.AttributionCoach, Text: msg})
	}
	return history
}

// applyScore folds a score map into the running totals: awarded points into
// the cumulative score and every configured category maximum into the
// possible score.
func applyScore(state *pkg.EncounterState, m pkg.RubricScoreMap) {
	for _, c := range Rubric() {
		state.CurrentCumulativeScore += m[c.Name].Points
		state.TotalPossibleScore += c.MaxPoints
	}
}
