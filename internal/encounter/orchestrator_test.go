package encounter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"encounter-coach/pkg"
)

// stubCollaborator lets each test script the AI side of an action.
type stubCollaborator struct {
	interactFn   func(latestInput string, phase PhaseConfig, ratio float64) (*pkg.InteractionResult, error)
	scorePhaseFn func(phaseName string) (pkg.RubricScoreMap, error)
	feedback     string
	feedbackErr  error
	synthText    string
	synthErr     error

	interactCalls int
	scoredPhases  []string
	lastInput     string
	lastRatio     float64
}

func (s *stubCollaborator) GeneratePatientProfile(ctx context.Context) (*pkg.PatientProfile, error) {
	return &pkg.PatientProfile{Name: "Test Patient", MainComplaint: "headache"}, nil
}

func (s *stubCollaborator) Interact(ctx context.Context, profile pkg.PatientProfile, history []pkg.Turn, latestInput string, phase PhaseConfig, ratio float64) (*pkg.InteractionResult, error) {
	s.interactCalls++
	s.lastInput = latestInput
	s.lastRatio = ratio
	if s.interactFn != nil {
		return s.interactFn(latestInput, phase, ratio)
	}
	return &pkg.InteractionResult{
		ResponseText: "It hurts right here.",
		Attribution:  pkg.AttributionPatient,
		ScoreUpdate:  pkg.RubricScoreMap{},
	}, nil
}

func (s *stubCollaborator) ScorePhase(ctx context.Context, profile pkg.PatientProfile, history []pkg.Turn, phaseName, phaseGoal string) (pkg.RubricScoreMap, error) {
	s.scoredPhases = append(s.scoredPhases, phaseName)
	if s.scorePhaseFn != nil {
		return s.scorePhaseFn(phaseName)
	}
	return ZeroScoreMap("stub phase score"), nil
}

func (s *stubCollaborator) OverallFeedback(ctx context.Context, profile pkg.PatientProfile, phaseScores map[string]pkg.RubricScoreMap, history []pkg.Turn) (string, error) {
	if s.feedbackErr != nil {
		return "", s.feedbackErr
	}
	if s.feedback == "" {
		return "Well done overall.", nil
	}
	return s.feedback, nil
}

func (s *stubCollaborator) SynthesizeProviderResponse(ctx context.Context, profile pkg.PatientProfile, history []pkg.Turn, phase PhaseConfig, qualityHint string) (string, error) {
	if s.synthErr != nil {
		return "", s.synthErr
	}
	if s.synthText == "" {
		return "Tell me more about the pain.", nil
	}
	return s.synthText, nil
}

// passthroughFormatter leaves text alone; markedFormatter tags it so tests
// can see whether the formatter ran.
type passthroughFormatter struct{}

func (passthroughFormatter) Format(ctx context.Context, text, sourceLanguage string) string {
	return text
}

type markedFormatter struct{}

func (markedFormatter) Format(ctx context.Context, text, sourceLanguage string) string {
	return "[fmt]" + text
}

func fixedScoreMap(points float64) pkg.RubricScoreMap {
	m := pkg.RubricScoreMap{}
	for _, c := range Rubric() {
		m[c.Name] = pkg.RubricScore{Points: points, Justification: "fixed"}
	}
	return m
}

func encounterAt(phase int) Encounter {
	state := pkg.NewEncounterState()
	state.CurrentPhase = phase
	return Encounter{
		Profile: pkg.PatientProfile{Name: "Maria Lopez", Age: 54, MainComplaint: "chest pain", NativeLanguage: "Spanish"},
		State:   state,
	}
}

func TestScoringTotalsAccumulateAcrossTurns(t *testing.T) {
	ai := &stubCollaborator{
		interactFn: func(string, PhaseConfig, float64) (*pkg.InteractionResult, error) {
			return &pkg.InteractionResult{
				ResponseText: "ok",
				Attribution:  pkg.AttributionPatient,
				ScoreUpdate:  fixedScoreMap(0.5),
			}, nil
		},
	}
	o := NewOrchestrator(ai, passthroughFormatter{}, nil)

	enc := encounterAt(2)
	const turns = 3
	for i := 0; i < turns; i++ {
		out, err := o.Act(context.Background(), enc, Action{Kind: ActionRegularInteraction, Input: "and then?"})
		require.NoError(t, err)
		enc.History = out.History
		enc.State = out.State
	}

	assert.InDelta(t, turns*0.5*float64(len(Rubric())), enc.State.CurrentCumulativeScore, 1e-9)
	assert.InDelta(t, turns*RubricMaxTotal(), enc.State.TotalPossibleScore, 1e-9)
	assert.Equal(t, turns, enc.State.ProviderTurnCount)
	assert.Equal(t, 2, enc.State.CurrentPhase)
}

func TestPhaseScoringIsAdditiveToTurnScoring(t *testing.T) {
	ai := &stubCollaborator{
		interactFn: func(string, PhaseConfig, float64) (*pkg.InteractionResult, error) {
			return &pkg.InteractionResult{
				ResponseText:            "done here",
				Attribution:             pkg.AttributionPatient,
				ScoreUpdate:             fixedScoreMap(1),
				PhaseComplete:           true,
				CompletionJustification: "goal met",
			}, nil
		},
		scorePhaseFn: func(string) (pkg.RubricScoreMap, error) {
			return fixedScoreMap(0.8), nil
		},
	}
	o := NewOrchestrator(ai, passthroughFormatter{}, nil)

	enc := encounterAt(2)
	out, err := o.Act(context.Background(), enc, Action{Kind: ActionRegularInteraction, Input: "summary"})
	require.NoError(t, err)

	n := float64(len(Rubric()))
	// Turn fold plus the consolidated phase fold: both count.
	assert.InDelta(t, n*1+n*0.8, out.State.CurrentCumulativeScore, 1e-9)
	assert.InDelta(t, 2*RubricMaxTotal(), out.State.TotalPossibleScore, 1e-9)

	assert.Equal(t, 3, out.State.CurrentPhase)
	assert.Equal(t, 0, out.State.ProviderTurnCount)
	assert.Contains(t, out.State.PhaseScores, Phase(2).Name)
	assert.Equal(t, []string{Phase(2).Name}, ai.scoredPhases)
	assert.Contains(t, out.NextCoachMessage, Phase(3).Name)
}

func TestTurnBudgetForcesAdvance(t *testing.T) {
	ai := &stubCollaborator{
		interactFn: func(string, PhaseConfig, float64) (*pkg.InteractionResult, error) {
			return &pkg.InteractionResult{
				ResponseText: "mm-hm",
				Attribution:  pkg.AttributionPatient,
				ScoreUpdate:  pkg.RubricScoreMap{},
			}, nil
		},
	}
	o := NewOrchestrator(ai, passthroughFormatter{}, nil)

	enc := encounterAt(1)
	budget := Phase(1).MaxTurns
	require.Greater(t, budget, 0)

	var out *Outcome
	var err error
	for i := 0; i < budget; i++ {
		out, err = o.Act(context.Background(), enc, Action{Kind: ActionRegularInteraction, Input: "hello"})
		require.NoError(t, err)
		if i < budget-1 {
			assert.False(t, out.PhaseComplete, "turn %d should not complete the phase", i+1)
		}
		enc.History = out.History
		enc.State = out.State
	}

	assert.True(t, out.PhaseComplete, "budget-exhausting turn must force completion")
	assert.Equal(t, pkg.AttributionCoach, out.Attribution, "forced advance after a patient reply is presented as coach")
	assert.Contains(t, out.ResponseText, "advancing to the next phase automatically")
	assert.NotEmpty(t, out.CompletionJustification)
	assert.Equal(t, 2, enc.State.CurrentPhase)
	assert.Equal(t, 0, enc.State.ProviderTurnCount)
}

func TestMoveToNextPhaseAdvancesExactlyOne(t *testing.T) {
	ai := &stubCollaborator{
		scorePhaseFn: func(string) (pkg.RubricScoreMap, error) {
			return fixedScoreMap(0.6), nil
		},
	}
	o := NewOrchestrator(ai, passthroughFormatter{}, nil)

	enc := encounterAt(3)
	out, err := o.Act(context.Background(), enc, Action{Kind: ActionMoveToNextPhase})
	require.NoError(t, err)

	assert.Equal(t, 4, out.State.CurrentPhase)
	assert.Zero(t, ai.interactCalls)
	for _, c := range Rubric() {
		assert.Zero(t, out.ScoreUpdate[c.Name].Points)
	}
	// The triggering turn's zero delta is not folded; only the consolidated
	// phase score moves the totals.
	n := float64(len(Rubric()))
	assert.InDelta(t, n*0.6, out.State.CurrentCumulativeScore, 1e-9)
	assert.InDelta(t, RubricMaxTotal(), out.State.TotalPossibleScore, 1e-9)
	assert.Equal(t, pkg.AttributionCoach, out.Attribution)
	assert.Contains(t, out.ResponseText, Phase(4).Name)
}

func TestMoveOutOfIntroIsUnscored(t *testing.T) {
	ai := &stubCollaborator{}
	o := NewOrchestrator(ai, passthroughFormatter{}, nil)

	enc := encounterAt(0)
	out, err := o.Act(context.Background(), enc, Action{Kind: ActionMoveToNextPhase})
	require.NoError(t, err)

	assert.Equal(t, 1, out.State.CurrentPhase)
	assert.Empty(t, ai.scoredPhases, "phase 0 -> 1 must not be scored")
	assert.Zero(t, out.State.CurrentCumulativeScore)
	assert.Zero(t, out.State.TotalPossibleScore)
	assert.NotEmpty(t, out.ResponseText)
}

func TestTerminalPhaseIsAbsorbing(t *testing.T) {
	ai := &stubCollaborator{}
	o := NewOrchestrator(ai, passthroughFormatter{}, nil)

	enc := encounterAt(TerminalPhase)
	enc.State.CurrentCumulativeScore = 3
	enc.State.TotalPossibleScore = 10
	enc.History = []pkg.Turn{{Role: pkg.AttributionCoach, Text: "feedback"}}

	for _, kind := range []ActionKind{ActionRegularInteraction, ActionInjectProviderResponse, ActionMoveToNextPhase} {
		out, err := o.Act(context.Background(), enc, Action{Kind: kind, Input: "hello?"})
		require.NoError(t, err)
		assert.Equal(t, TerminalPrompt, out.ResponseText)
		assert.Equal(t, pkg.AttributionCoach, out.Attribution)
		assert.Equal(t, enc.State, out.State, "terminal state must not change for %s", kind)
		assert.Equal(t, enc.History, out.History)
	}
	assert.Zero(t, ai.interactCalls)
}

func TestCoachTipLeavesTotalsAndHistoryAlone(t *testing.T) {
	ai := &stubCollaborator{}
	o := NewOrchestrator(ai, passthroughFormatter{}, nil)

	enc := encounterAt(2)
	enc.History = []pkg.Turn{{Role: pkg.AttributionProvider, Text: "hm"}}
	out, err := o.Act(context.Background(), enc, Action{Kind: ActionGetCoachTip})
	require.NoError(t, err)

	assert.Equal(t, Phase(2).CoachPrompt, out.ResponseText)
	assert.Equal(t, pkg.AttributionCoach, out.Attribution)
	assert.Zero(t, out.State.TotalPossibleScore)
	assert.Zero(t, out.State.CurrentCumulativeScore)
	assert.Len(t, out.History, 1)
	for _, c := range Rubric() {
		assert.Zero(t, out.ScoreUpdate[c.Name].Points)
		assert.NotEmpty(t, out.ScoreUpdate[c.Name].Justification)
	}
}

func TestMissingRubricCategoryIsFilled(t *testing.T) {
	dropped := Rubric()[2].Name
	ai := &stubCollaborator{
		scorePhaseFn: func(string) (pkg.RubricScoreMap, error) {
			m := fixedScoreMap(0.9)
			delete(m, dropped)
			return m, nil
		},
	}
	o := NewOrchestrator(ai, passthroughFormatter{}, nil)

	enc := encounterAt(4)
	out, err := o.Act(context.Background(), enc, Action{Kind: ActionMoveToNextPhase})
	require.NoError(t, err)

	scores := out.State.PhaseScores[Phase(4).Name]
	require.NotNil(t, scores)
	assert.Zero(t, scores[dropped].Points)
	assert.NotEmpty(t, scores[dropped].Justification)
	for _, c := range Rubric() {
		if c.Name == dropped {
			continue
		}
		assert.InDelta(t, 0.9, scores[c.Name].Points, 1e-9, "category %s must be untouched", c.Name)
		assert.Equal(t, "fixed", scores[c.Name].Justification)
	}
}

func TestPhaseScoringFailureDegradesToZeroDefaults(t *testing.T) {
	ai := &stubCollaborator{
		scorePhaseFn: func(string) (pkg.RubricScoreMap, error) {
			return nil, errors.New("upstream unavailable")
		},
	}
	o := NewOrchestrator(ai, passthroughFormatter{}, nil)

	enc := encounterAt(2)
	out, err := o.Act(context.Background(), enc, Action{Kind: ActionMoveToNextPhase})
	require.NoError(t, err, "scoring failure must not fail the action")

	assert.Equal(t, 3, out.State.CurrentPhase)
	scores := out.State.PhaseScores[Phase(2).Name]
	require.NotNil(t, scores)
	for _, c := range Rubric() {
		assert.Zero(t, scores[c.Name].Points)
		assert.NotEmpty(t, scores[c.Name].Justification)
	}
	assert.InDelta(t, RubricMaxTotal(), out.State.TotalPossibleScore, 1e-9)
}

func TestInteractionFailureIsFatalAndRollsBack(t *testing.T) {
	ai := &stubCollaborator{
		interactFn: func(string, PhaseConfig, float64) (*pkg.InteractionResult, error) {
			return nil, errors.New("model unreachable")
		},
	}
	o := NewOrchestrator(ai, passthroughFormatter{}, nil)

	enc := encounterAt(2)
	enc.History = []pkg.Turn{{Role: pkg.AttributionCoach, Text: "intro"}}
	before := enc.State.Clone()

	out, err := o.Act(context.Background(), enc, Action{Kind: ActionRegularInteraction, Input: "hi"})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, before, enc.State, "caller-held state must be untouched")
	assert.Len(t, enc.History, 1)
}

func TestPatientRepliesGoThroughTheFormatter(t *testing.T) {
	patient := &stubCollaborator{
		interactFn: func(string, PhaseConfig, float64) (*pkg.InteractionResult, error) {
			return &pkg.InteractionResult{ResponseText: "me duele", Attribution: pkg.AttributionPatient}, nil
		},
	}
	o := NewOrchestrator(patient, markedFormatter{}, nil)
	out, err := o.Act(context.Background(), encounterAt(2), Action{Kind: ActionRegularInteraction, Input: "where?"})
	require.NoError(t, err)
	assert.Equal(t, "[fmt]me duele", out.ResponseText)

	coach := &stubCollaborator{
		interactFn: func(string, PhaseConfig, float64) (*pkg.InteractionResult, error) {
			return &pkg.InteractionResult{ResponseText: "try an open question", Attribution: pkg.AttributionCoach}, nil
		},
	}
	o = NewOrchestrator(coach, markedFormatter{}, nil)
	out, err = o.Act(context.Background(), encounterAt(2), Action{Kind: ActionRegularInteraction, Input: "where?"})
	require.NoError(t, err)
	assert.Equal(t, "try an open question", out.ResponseText, "coach text is not translated")
}

func TestInjectedResponseActsLikeTypedInput(t *testing.T) {
	ai := &stubCollaborator{synthText: "Can you describe the pain for me?"}
	o := NewOrchestrator(ai, passthroughFormatter{}, nil)

	out, err := o.Act(context.Background(), encounterAt(2), Action{Kind: ActionInjectProviderResponse, QualityHint: QualityGood})
	require.NoError(t, err)

	assert.Equal(t, "Can you describe the pain for me?", ai.lastInput)
	require.NotEmpty(t, out.History)
	assert.Equal(t, pkg.AttributionProvider, out.History[0].Role)
	assert.Equal(t, "Can you describe the pain for me?", out.History[0].Text)
	assert.Equal(t, 1, out.State.ProviderTurnCount)
}

func TestSynthesisFailureIsFatal(t *testing.T) {
	ai := &stubCollaborator{synthErr: errors.New("model unreachable")}
	o := NewOrchestrator(ai, passthroughFormatter{}, nil)

	_, err := o.Act(context.Background(), encounterAt(2), Action{Kind: ActionInjectProviderResponse, QualityHint: QualityPoor})
	require.Error(t, err)
	assert.Zero(t, ai.interactCalls)
}

func TestCompletingFinalPhaseYieldsOverallFeedback(t *testing.T) {
	ai := &stubCollaborator{
		interactFn: func(string, PhaseConfig, float64) (*pkg.InteractionResult, error) {
			return &pkg.InteractionResult{
				ResponseText:  "thank you, doctor",
				Attribution:   pkg.AttributionPatient,
				PhaseComplete: true,
			}, nil
		},
		feedback: "Strong rapport throughout.",
	}
	o := NewOrchestrator(ai, passthroughFormatter{}, nil)

	out, err := o.Act(context.Background(), encounterAt(5), Action{Kind: ActionRegularInteraction, Input: "take care"})
	require.NoError(t, err)

	assert.Equal(t, TerminalPhase, out.State.CurrentPhase)
	assert.Equal(t, "Strong rapport throughout.", out.OverallFeedback)
	assert.Empty(t, out.NextCoachMessage)
	require.NotEmpty(t, out.History)
	assert.Equal(t, pkg.AttributionCoach, out.History[len(out.History)-1].Role)
}

func TestOverallFeedbackDegradesToPlaceholder(t *testing.T) {
	ai := &stubCollaborator{feedbackErr: errors.New("timeout")}
	o := NewOrchestrator(ai, passthroughFormatter{}, nil)

	out, err := o.Act(context.Background(), encounterAt(5), Action{Kind: ActionMoveToNextPhase})
	require.NoError(t, err)
	assert.Equal(t, TerminalPhase, out.State.CurrentPhase)
	assert.NotEmpty(t, out.OverallFeedback)
}

func TestPerformanceRatioDefaultsToOne(t *testing.T) {
	ai := &stubCollaborator{}
	o := NewOrchestrator(ai, passthroughFormatter{}, nil)

	_, err := o.Act(context.Background(), encounterAt(1), Action{Kind: ActionRegularInteraction, Input: "hello"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ai.lastRatio, 1e-9)
}

func TestPhasesNeverDecrease(t *testing.T) {
	ai := &stubCollaborator{}
	o := NewOrchestrator(ai, passthroughFormatter{}, nil)

	enc := encounterAt(0)
	last := 0
	actions := []Action{
		{Kind: ActionMoveToNextPhase},
		{Kind: ActionRegularInteraction, Input: "hi"},
		{Kind: ActionGetCoachTip},
		{Kind: ActionMoveToNextPhase},
		{Kind: ActionMoveToNextPhase},
		{Kind: ActionRegularInteraction, Input: "and?"},
		{Kind: ActionMoveToNextPhase},
		{Kind: ActionMoveToNextPhase},
		{Kind: ActionMoveToNextPhase},
		{Kind: ActionRegularInteraction, Input: "anyone home?"},
	}
	for _, a := range actions {
		out, err := o.Act(context.Background(), enc, a)
		require.NoError(t, err)
		require.GreaterOrEqual(t, out.State.CurrentPhase, last)
		if out.State.CurrentPhase > last {
			assert.Zero(t, out.State.ProviderTurnCount, "turn count resets on every phase increment")
		}
		last = out.State.CurrentPhase
		enc.History = out.History
		enc.State = out.State
	}
	assert.Equal(t, TerminalPhase, enc.State.CurrentPhase)
}
