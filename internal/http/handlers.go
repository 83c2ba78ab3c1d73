// Package http exposes the session boundary: a single action endpoint plus
// profile and encounter plumbing around it.
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"encounter-coach/internal/encounter"
	"encounter-coach/pkg"
)

// Orchestrator applies one action to a caller-held encounter.
type Orchestrator interface {
	Act(ctx context.Context, enc encounter.Encounter, action encounter.Action) (*encounter.Outcome, error)
}

// ProfileGenerator invents a new simulated patient.
type ProfileGenerator interface {
	GeneratePatientProfile(ctx context.Context) (*pkg.PatientProfile, error)
}

// Store persists encounters for review; the conversation itself is driven
// from caller-held state.
type Store interface {
	CreateEncounter(ctx context.Context, profile pkg.PatientProfile, state pkg.EncounterState) (*pkg.EncounterRecord, error)
	GetEncounter(ctx context.Context, id string) (*pkg.EncounterRecord, error)
	SaveState(ctx context.Context, id string, state pkg.EncounterState) error
	AppendTurn(ctx context.Context, encounterID string, turn pkg.Turn) error
	GetTranscript(ctx context.Context, encounterID string) ([]pkg.Turn, error)
	UpsertPhaseScores(ctx context.Context, encounterID, phaseName string, scores pkg.RubricScoreMap) error
	ListRecent(ctx context.Context, limit int) ([]pkg.EncounterRecord, error)
}

// Notifier announces completed encounters.
type Notifier interface {
	Notify(ctx context.Context, encounterID string) error
}

// Server bundles the dependencies required by the HTTP handlers.
type Server struct {
	store    Store
	orch     Orchestrator
	profiles ProfileGenerator
	notifier Notifier
	validate *validator.Validate
	log      *zap.Logger
}

// NewServer constructs the HTTP server. The notifier may be nil.
func NewServer(store Store, orch Orchestrator, profiles ProfileGenerator, notifier Notifier, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		store:    store,
		orch:     orch,
		profiles: profiles,
		notifier: notifier,
		validate: validator.New(),
		log:      log,
	}
}

// Router wires the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/profiles/generate", s.handleGenerateProfile)
		r.Post("/profiles", s.handleValidateProfile)
		r.Post("/encounters", s.handleCreateEncounter)
		r.Get("/encounters", s.handleListEncounters)
		r.Route("/encounters/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetEncounter)
			r.Post("/actions", s.handleAction)
		})
	})
	return r
}

func (s *Server) handleGenerateProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.profiles.GeneratePatientProfile(r.Context())
	if err != nil {
		s.log.Error("profile generation failed", zap.Error(err))
		http.Error(w, "profile generation failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleValidateProfile checks a manually entered profile and echoes it back
// normalized, so the client can store it for the encounter.
func (s *Server) handleValidateProfile(w http.ResponseWriter, r *http.Request) {
	var profile pkg.PatientProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(profile); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	if profile.EnglishProficiency == "" {
		profile.EnglishProficiency = pkg.ProficiencyFluent
	}
	writeJSON(w, http.StatusOK, profile)
}

type createEncounterRequest struct {
	Profile *pkg.PatientProfile `json:"profile"`
}

type createEncounterResponse struct {
	EncounterID  string             `json:"encounterId"`
	Profile      pkg.PatientProfile `json:"profile"`
	IntroMessage string             `json:"introMessage"`
	State        pkg.EncounterState `json:"state"`
}

// handleCreateEncounter starts a new encounter: the supplied profile is
// used as-is, or a new patient is generated when none is given. The phase 0
// introduction is returned as the first coach message.
func (s *Server) handleCreateEncounter(w http.ResponseWriter, r *http.Request) {
	var req createEncounterRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // an empty body means "generate"
	}
	profile := req.Profile
	if profile == nil {
		generated, err := s.profiles.GeneratePatientProfile(r.Context())
		if err != nil {
			s.log.Error("profile generation failed", zap.Error(err))
			http.Error(w, "profile generation failed", http.StatusBadGateway)
			return
		}
		profile = generated
	} else if err := s.validate.Struct(profile); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	state := pkg.NewEncounterState()
	rec, err := s.store.CreateEncounter(r.Context(), *profile, state)
	if err != nil {
		s.log.Error("create encounter failed", zap.Error(err))
		http.Error(w, "create encounter failed", http.StatusInternalServerError)
		return
	}
	intro := encounter.IntroMessage(*profile)
	if err := s.store.AppendTurn(r.Context(), rec.ID, pkg.Turn{Role: pkg.AttributionCoach, Text: intro}); err != nil {
		s.log.Warn("intro turn not persisted", zap.String("encounter", rec.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, createEncounterResponse{
		EncounterID:  rec.ID,
		Profile:      *profile,
		IntroMessage: intro,
		State:        state,
	})
}

// ActionRequest is the session-boundary payload: the caller holds the
// profile, history, and state and sends them with every action.
type ActionRequest struct {
	ActionKind          string             `json:"actionKind"`
	PatientProfile      pkg.PatientProfile `json:"patientProfile"`
	ConversationHistory []pkg.Turn         `json:"conversationHistory"`
	EncounterState      pkg.EncounterState `json:"encounterState"`
	LatestInput         string             `json:"latestInput"`
	QualityHint         string             `json:"qualityHint"`
}

// ActionResponse carries the outcome plus the advanced history and state for
// the caller to hold until the next action.
type ActionResponse struct {
	ResponseText            string             `json:"responseText"`
	Attribution             pkg.Attribution    `json:"attribution"`
	ScoreUpdate             pkg.RubricScoreMap `json:"scoreUpdate"`
	PhaseComplete           bool               `json:"phaseComplete"`
	CompletionJustification string             `json:"completionJustification"`
	NextCoachMessage        string             `json:"nextCoachMessage,omitempty"`
	OverallFeedback         string             `json:"overallFeedback,omitempty"`
	ConversationHistory     []pkg.Turn         `json:"conversationHistory"`
	NextEncounterState      pkg.EncounterState `json:"nextEncounterState"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	encounterID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(encounterID); err != nil {
		http.Error(w, "invalid encounter ID", http.StatusBadRequest)
		return
	}
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	enc := encounter.Encounter{
		Profile: req.PatientProfile,
		History: req.ConversationHistory,
		State:   req.EncounterState,
	}
	action := encounter.Action{
		Kind:        encounter.ActionKind(req.ActionKind),
		Input:       req.LatestInput,
		QualityHint: req.QualityHint,
	}

	out, err := s.orch.Act(r.Context(), enc, action)
	if err != nil {
		// Fatal collaborator failure: apologize as the coach and echo the
		// pre-action state so the encounter can continue.
		s.log.Error("action failed", zap.String("encounter", encounterID),
			zap.String("action", req.ActionKind), zap.Error(err))
		writeJSON(w, http.StatusOK, ActionResponse{
			ResponseText:        "I'm sorry — something went wrong on our side and that message could not be processed. Please try again.",
			Attribution:         pkg.AttributionCoach,
			ScoreUpdate:         encounter.ZeroScoreMap("Action failed; no points recorded."),
			ConversationHistory: req.ConversationHistory,
			NextEncounterState:  req.EncounterState,
		})
		return
	}

	s.persistOutcome(encounterID, req.ConversationHistory, out)

	writeJSON(w, http.StatusOK, ActionResponse{
		ResponseText:            out.ResponseText,
		Attribution:             out.Attribution,
		ScoreUpdate:             out.ScoreUpdate,
		PhaseComplete:           out.PhaseComplete,
		CompletionJustification: out.CompletionJustification,
		NextCoachMessage:        out.NextCoachMessage,
		OverallFeedback:         out.OverallFeedback,
		ConversationHistory:     out.History,
		NextEncounterState:      out.State,
	})
}

// persistOutcome records the new turns, state, and phase scores in the
// background (fire and forget, like the summarisation write path this
// service grew out of) and announces terminal encounters.
func (s *Server) persistOutcome(encounterID string, before []pkg.Turn, out *encounter.Outcome) {
	go func() {
		ctx := context.Background()
		for _, turn := range out.History[len(before):] {
			if err := s.store.AppendTurn(ctx, encounterID, turn); err != nil {
				s.log.Warn("turn not persisted", zap.String("encounter", encounterID), zap.Error(err))
			}
		}
		if err := s.store.SaveState(ctx, encounterID, out.State); err != nil {
			s.log.Warn("state not persisted", zap.String("encounter", encounterID), zap.Error(err))
		}
		for phaseName, scores := range out.State.PhaseScores {
			if err := s.store.UpsertPhaseScores(ctx, encounterID, phaseName, scores); err != nil {
				s.log.Warn("phase scores not persisted", zap.String("encounter", encounterID),
					zap.String("phase", phaseName), zap.Error(err))
			}
		}
		if out.State.CurrentPhase >= encounter.TerminalPhase && s.notifier != nil {
			if err := s.notifier.Notify(ctx, encounterID); err != nil {
				s.log.Warn("completion notify failed", zap.String("encounter", encounterID), zap.Error(err))
			}
		}
	}()
}

func (s *Server) handleGetEncounter(w http.ResponseWriter, r *http.Request) {
	encounterID := chi.URLParam(r, "id")
	rec, err := s.store.GetEncounter(r.Context(), encounterID)
	if err != nil {
		http.Error(w, "encounter not found", http.StatusNotFound)
		return
	}
	transcript, err := s.store.GetTranscript(r.Context(), encounterID)
	if err != nil {
		s.log.Error("transcript load failed", zap.String("encounter", encounterID), zap.Error(err))
		http.Error(w, "transcript load failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"encounter":  rec,
		"transcript": transcript,
	})
}

func (s *Server) handleListEncounters(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListRecent(r.Context(), 20)
	if err != nil {
		s.log.Error("encounter listing failed", zap.Error(err))
		http.Error(w, "encounter listing failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
