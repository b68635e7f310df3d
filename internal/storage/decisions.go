package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/siftlab/sieve/internal/model"
)

const decisionColumns = `id, study_id, phase, reviewer_id, verdict, confidence,
	 reasoning, exclusion_reason, time_spent_ms, matched_ai, submitted_at`

// UpsertDecision records a reviewer's verdict. The unique index on
// (study_id, phase, reviewer_id) is the serialization point: a concurrent
// double-submit by the same reviewer resolves to last-writer-wins, and the
// second submission replaces the first entirely: reasoning, confidence,
// exclusion reason, timestamp, all of it.
//
// The locked CTE takes FOR SHARE on the study row and re-asserts the phase.
// A vote racing AdvancePhase (which holds FOR UPDATE) blocks until the
// advance commits, re-evaluates against the moved row, and comes back as
// ErrPhaseMismatch instead of landing in a phase the study already left.
func (db *DB) UpsertDecision(ctx context.Context, d model.Decision) (model.Decision, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.SubmittedAt.IsZero() {
		d.SubmittedAt = time.Now().UTC()
	}

	err := db.pool.QueryRow(ctx,
		`WITH locked AS (
		   SELECT id FROM studies
		   WHERE id = $2 AND phase = $3 AND excluded_at IS NULL
		   FOR SHARE
		 )
		 INSERT INTO decisions (id, study_id, phase, reviewer_id, verdict, confidence,
		 reasoning, exclusion_reason, time_spent_ms, matched_ai, submitted_at)
		 SELECT $1, locked.id, $3, $4, $5, $6, $7, $8, $9, $10, $11 FROM locked
		 ON CONFLICT (study_id, phase, reviewer_id) DO UPDATE SET
		   verdict = EXCLUDED.verdict,
		   confidence = EXCLUDED.confidence,
		   reasoning = EXCLUDED.reasoning,
		   exclusion_reason = EXCLUDED.exclusion_reason,
		   time_spent_ms = EXCLUDED.time_spent_ms,
		   matched_ai = EXCLUDED.matched_ai,
		   submitted_at = EXCLUDED.submitted_at
		 RETURNING id`,
		d.ID, d.StudyID, d.Phase, d.ReviewerID, d.Verdict, d.Confidence,
		d.Reasoning, d.ExclusionReason, d.TimeSpentMs, d.MatchedAI, d.SubmittedAt,
	).Scan(&d.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Decision{}, ErrPhaseMismatch
	}
	if err != nil {
		return model.Decision{}, fmt.Errorf("storage: upsert decision: %w", err)
	}
	return d, nil
}

// InsertDecisionIfAbsent inserts a decision only when the voter slot is
// still empty for (study, phase, reviewer). Used by apply_ai so an existing
// decision, human or system, is never overwritten. Returns false when the
// slot was already taken, and ErrPhaseMismatch when the study is no longer
// in the named phase (same share-lock guard as UpsertDecision).
func (db *DB) InsertDecisionIfAbsent(ctx context.Context, d model.Decision) (bool, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.SubmittedAt.IsZero() {
		d.SubmittedAt = time.Now().UTC()
	}
	var phaseOK, inserted bool
	err := db.pool.QueryRow(ctx,
		`WITH locked AS (
		   SELECT id FROM studies
		   WHERE id = $2 AND phase = $3 AND excluded_at IS NULL
		   FOR SHARE
		 ), ins AS (
		   INSERT INTO decisions (id, study_id, phase, reviewer_id, verdict, confidence,
		   reasoning, exclusion_reason, time_spent_ms, matched_ai, submitted_at)
		   SELECT $1, locked.id, $3, $4, $5, $6, $7, $8, $9, $10, $11 FROM locked
		   ON CONFLICT (study_id, phase, reviewer_id) DO NOTHING
		   RETURNING id
		 )
		 SELECT EXISTS(SELECT 1 FROM locked), EXISTS(SELECT 1 FROM ins)`,
		d.ID, d.StudyID, d.Phase, d.ReviewerID, d.Verdict, d.Confidence,
		d.Reasoning, d.ExclusionReason, d.TimeSpentMs, d.MatchedAI, d.SubmittedAt,
	).Scan(&phaseOK, &inserted)
	if err != nil {
		return false, fmt.Errorf("storage: insert decision: %w", err)
	}
	if !phaseOK {
		return false, ErrPhaseMismatch
	}
	return inserted, nil
}

// ListDecisions returns all decisions for one study+phase, oldest first.
func (db *DB) ListDecisions(ctx context.Context, studyID uuid.UUID, phase model.Phase) ([]model.Decision, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE study_id = $1 AND phase = $2 ORDER BY submitted_at ASC`,
		studyID, phase,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// ListDecisionsByStudies batch-loads decisions for many studies in one phase,
// keyed by study. Avoids N+1 queries on queue and stats reads.
func (db *DB) ListDecisionsByStudies(ctx context.Context, studyIDs []uuid.UUID, phase model.Phase) (map[uuid.UUID][]model.Decision, error) {
	return listDecisionsByStudiesQ(ctx, db.pool, studyIDs, phase)
}

func listDecisionsByStudiesQ(ctx context.Context, q querier, studyIDs []uuid.UUID, phase model.Phase) (map[uuid.UUID][]model.Decision, error) {
	if len(studyIDs) == 0 {
		return map[uuid.UUID][]model.Decision{}, nil
	}
	rows, err := q.Query(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE study_id = ANY($1) AND phase = $2 ORDER BY submitted_at ASC`,
		studyIDs, phase,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions by studies: %w", err)
	}
	defer rows.Close()

	decisions, err := scanDecisions(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID][]model.Decision, len(studyIDs))
	for _, d := range decisions {
		out[d.StudyID] = append(out[d.StudyID], d)
	}
	return out, nil
}

// DeleteDecisions removes every decision for one study+phase. Reset only;
// returns the number of rows deleted.
func (db *DB) DeleteDecisions(ctx context.Context, studyID uuid.UUID, phase model.Phase) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM decisions WHERE study_id = $1 AND phase = $2`, studyID, phase)
	if err != nil {
		return 0, fmt.Errorf("storage: delete decisions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanDecisions(rows pgx.Rows) ([]model.Decision, error) {
	var decisions []model.Decision
	for rows.Next() {
		var d model.Decision
		if err := rows.Scan(
			&d.ID, &d.StudyID, &d.Phase, &d.ReviewerID, &d.Verdict, &d.Confidence,
			&d.Reasoning, &d.ExclusionReason, &d.TimeSpentMs, &d.MatchedAI, &d.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: scan decisions: %w", err)
	}
	return decisions, nil
}
