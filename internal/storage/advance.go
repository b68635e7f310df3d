package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/siftlab/sieve/internal/model"
	"github.com/siftlab/sieve/internal/screening"
)

// LoadPhaseStates assembles the full screening state for every active study
// in one project phase: the study row, its votes for that phase, and its
// resolution if one exists. Archived studies (excluded_at set) are skipped.
// This is the read path behind stats, conflict listing, and gate checks.
func (db *DB) LoadPhaseStates(ctx context.Context, projectID uuid.UUID, phase model.Phase) ([]screening.StudyState, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+studyColumns+` FROM studies s
		 WHERE s.project_id = $1 AND s.phase = $2 AND s.excluded_at IS NULL
		 ORDER BY s.id`,
		projectID, phase,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load phase studies: %w", err)
	}
	studies, err := scanStudies(rows)
	if err != nil {
		return nil, err
	}
	return db.assembleStates(ctx, studies, phase,
		db.ListDecisionsByStudies, db.ListResolutionsByStudies)
}

func (db *DB) assembleStates(
	ctx context.Context,
	studies []model.Study,
	phase model.Phase,
	loadDecisions func(context.Context, []uuid.UUID, model.Phase) (map[uuid.UUID][]model.Decision, error),
	loadResolutions func(context.Context, []uuid.UUID, model.Phase) (map[uuid.UUID]*model.Resolution, error),
) ([]screening.StudyState, error) {
	ids := make([]uuid.UUID, len(studies))
	for i, s := range studies {
		ids[i] = s.ID
	}
	votes, err := loadDecisions(ctx, ids, phase)
	if err != nil {
		return nil, err
	}
	resolutions, err := loadResolutions(ctx, ids, phase)
	if err != nil {
		return nil, err
	}
	states := make([]screening.StudyState, len(studies))
	for i, s := range studies {
		states[i] = screening.StudyState{
			Study:      s,
			Votes:      votes[s.ID],
			Resolution: resolutions[s.ID],
		}
	}
	return states, nil
}

// AdvancePhase moves every qualifying study in a project phase forward in a
// single transaction. Studies whose effective verdict is INCLUDE move to the
// next phase; EXCLUDE at the terminal phase archives the study instead. The
// study rows are locked FOR UPDATE and the gate is re-evaluated on the locked
// snapshot, so a vote that lands between the caller's gate check and this
// call surfaces as a StaleStateError rather than a partial advancement.
func (db *DB) AdvancePhase(ctx context.Context, projectID uuid.UUID, from model.Phase, quorum int, actor uuid.UUID) (model.AdvanceResult, error) {
	next, hasNext := from.Next()

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.AdvanceResult{}, fmt.Errorf("storage: begin advance: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT `+studyColumns+` FROM studies s
		 WHERE s.project_id = $1 AND s.phase = $2 AND s.excluded_at IS NULL
		 ORDER BY s.id
		 FOR UPDATE OF s`,
		projectID, from,
	)
	if err != nil {
		return model.AdvanceResult{}, fmt.Errorf("storage: lock phase studies: %w", err)
	}
	studies, err := scanStudies(rows)
	if err != nil {
		return model.AdvanceResult{}, err
	}

	states, err := db.assembleStates(ctx, studies, from,
		func(ctx context.Context, ids []uuid.UUID, phase model.Phase) (map[uuid.UUID][]model.Decision, error) {
			return listDecisionsByStudiesQ(ctx, tx, ids, phase)
		},
		func(ctx context.Context, ids []uuid.UUID, phase model.Phase) (map[uuid.UUID]*model.Resolution, error) {
			return listResolutionsByStudiesQ(ctx, tx, ids, phase)
		},
	)
	if err != nil {
		return model.AdvanceResult{}, err
	}

	qual := screening.QualifyAdvance(states, quorum)
	if len(qual.Blockers) > 0 {
		return model.AdvanceResult{}, model.StaleStateError{
			Reason:  "phase has unresolved studies",
			Studies: qual.Blockers,
		}
	}

	now := time.Now().UTC()
	result := model.AdvanceResult{ToPhase: next}
	if !hasNext {
		// The terminal phase has nowhere to advance to: INCLUDE studies
		// stay in place as the final corpus, EXCLUDE studies still archive.
		result.ToPhase = from
	}

	if len(qual.Include) > 0 && hasNext {
		tag, err := tx.Exec(ctx,
			`UPDATE studies SET phase = $1, updated_at = $2 WHERE id = ANY($3)`,
			next, now, qual.Include,
		)
		if err != nil {
			return model.AdvanceResult{}, fmt.Errorf("storage: advance studies: %w", err)
		}
		result.AdvancedCount = int(tag.RowsAffected())
	}
	if len(qual.Exclude) > 0 {
		tag, err := tx.Exec(ctx,
			`UPDATE studies SET excluded_at = $1, updated_at = $1 WHERE id = ANY($2)`,
			now, qual.Exclude,
		)
		if err != nil {
			return model.AdvanceResult{}, fmt.Errorf("storage: archive excluded studies: %w", err)
		}
		result.ExcludedCount = int(tag.RowsAffected())
	}

	detail := map[string]any{
		"from_phase": string(from),
		"advanced":   result.AdvancedCount,
		"excluded":   result.ExcludedCount,
	}
	if hasNext {
		detail["to_phase"] = string(next)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO audit_events (id, project_id, actor_id, action, detail, created_at)
		 VALUES ($1, $2, $3, 'advance_phase', $4, $5)`,
		uuid.New(), projectID, actor, detail, now,
	)
	if err != nil {
		return model.AdvanceResult{}, fmt.Errorf("storage: record advancement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.AdvanceResult{}, fmt.Errorf("storage: commit advance: %w", err)
	}
	return result, nil
}
