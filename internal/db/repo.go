package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"encounter-coach/pkg"
)

// Repository wraps database operations for encounters, turns, and phase
// scores. Profiles and encounter state are stored as JSONB documents; the
// orchestrator is their only writer.
type Repository struct {
	DB *sql.DB
}

// NewRepository constructs a Repository from an existing sql.DB. The caller
// owns the connection lifecycle.
func NewRepository(db *sql.DB) *Repository { return &Repository{DB: db} }

// CreateEncounter inserts a new encounter with the given profile and initial
// state and returns the stored record.
func (r *Repository) CreateEncounter(ctx context.Context, profile pkg.PatientProfile, state pkg.EncounterState) (*pkg.EncounterRecord, error) {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return nil, err
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	rec := &pkg.EncounterRecord{ID: uuid.NewString(), Profile: profile, State: state}
	err = r.DB.QueryRowContext(ctx,
		`INSERT INTO encounters (id, profile, state)
         VALUES ($1, $2, $3)
         RETURNING created_at, updated_at`,
		rec.ID, profileJSON, stateJSON,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetEncounter loads one encounter by ID.
func (r *Repository) GetEncounter(ctx context.Context, id string) (*pkg.EncounterRecord, error) {
	var rec pkg.EncounterRecord
	var profileJSON, stateJSON []byte
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, profile, state, created_at, updated_at
         FROM encounters WHERE id = $1`, id,
	).Scan(&rec.ID, &profileJSON, &stateJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("encounter %s not found", id)
		}
		return nil, err
	}
	if err := json.Unmarshal(profileJSON, &rec.Profile); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stateJSON, &rec.State); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveState overwrites the stored encounter state.
func (r *Repository) SaveState(ctx context.Context, id string, state pkg.EncounterState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`UPDATE encounters SET state = $1, updated_at = NOW() WHERE id = $2`,
		stateJSON, id)
	return err
}

// AppendTurn stores one transcript message.
func (r *Repository) AppendTurn(ctx context.Context, encounterID string, turn pkg.Turn) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO turns (encounter_id, attribution, content) VALUES ($1, $2, $3)`,
		encounterID, string(turn.Role), turn.Text)
	return err
}

// GetTranscript returns the stored transcript in insertion order.
func (r *Repository) GetTranscript(ctx context.Context, encounterID string) ([]pkg.Turn, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT attribution, content FROM turns
         WHERE encounter_id = $1 ORDER BY id ASC`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var transcript []pkg.Turn
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}
		transcript = append(transcript, pkg.Turn{Role: pkg.Attribution(role), Text: content})
	}
	return transcript, rows.Err()
}

// UpsertPhaseScores stores the consolidated score map for one completed
// phase, replacing any previous write for the same phase.
func (r *Repository) UpsertPhaseScores(ctx context.Context, encounterID, phaseName string, scores pkg.RubricScoreMap) error {
	scoresJSON, err := json.Marshal(scores)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO phase_scores (encounter_id, phase_name, scores)
         VALUES ($1, $2, $3)
         ON CONFLICT (encounter_id, phase_name) DO UPDATE SET scores = EXCLUDED.scores`,
		encounterID, phaseName, scoresJSON)
	return err
}

// ListRecent returns the most recently updated encounters for review
// dashboards.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]pkg.EncounterRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, profile, state, created_at, updated_at
         FROM encounters ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pkg.EncounterRecord
	for rows.Next() {
		var rec pkg.EncounterRecord
		var profileJSON, stateJSON []byte
		if err := rows.Scan(&rec.ID, &profileJSON, &stateJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(profileJSON, &rec.Profile); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(stateJSON, &rec.State); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
