package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/siftlab/sieve/internal/model"
)

// CreateResolution records the harmonized verdict for a (study, phase).
// Resolution is final for the phase: a second attempt returns
// ErrAlreadyResolved; re-resolution requires an explicit reset first.
// The underlying decisions are never touched.
func (db *DB) CreateResolution(ctx context.Context, r model.Resolution) (model.Resolution, error) {
	if r.ResolvedAt.IsZero() {
		r.ResolvedAt = time.Now().UTC()
	}
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO resolutions (study_id, phase, verdict, notes, resolved_by, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (study_id, phase) DO NOTHING`,
		r.StudyID, r.Phase, r.Verdict, r.Notes, r.ResolvedBy, r.ResolvedAt,
	)
	if err != nil {
		return model.Resolution{}, fmt.Errorf("storage: create resolution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Resolution{}, fmt.Errorf("storage: resolution for study %s phase %s: %w",
			r.StudyID, r.Phase, ErrAlreadyResolved)
	}
	return r, nil
}

// GetResolution retrieves the resolution for one study+phase, or nil.
func (db *DB) GetResolution(ctx context.Context, studyID uuid.UUID, phase model.Phase) (*model.Resolution, error) {
	m, err := db.ListResolutionsByStudies(ctx, []uuid.UUID{studyID}, phase)
	if err != nil {
		return nil, err
	}
	return m[studyID], nil
}

// ListResolutionsByStudies batch-loads resolutions for many studies in one
// phase, keyed by study.
func (db *DB) ListResolutionsByStudies(ctx context.Context, studyIDs []uuid.UUID, phase model.Phase) (map[uuid.UUID]*model.Resolution, error) {
	return listResolutionsByStudiesQ(ctx, db.pool, studyIDs, phase)
}

func listResolutionsByStudiesQ(ctx context.Context, q querier, studyIDs []uuid.UUID, phase model.Phase) (map[uuid.UUID]*model.Resolution, error) {
	if len(studyIDs) == 0 {
		return map[uuid.UUID]*model.Resolution{}, nil
	}
	rows, err := q.Query(ctx,
		`SELECT study_id, phase, verdict, notes, resolved_by, resolved_at
		 FROM resolutions WHERE study_id = ANY($1) AND phase = $2`,
		studyIDs, phase,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list resolutions: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*model.Resolution, len(studyIDs))
	for rows.Next() {
		var r model.Resolution
		if err := rows.Scan(&r.StudyID, &r.Phase, &r.Verdict, &r.Notes, &r.ResolvedBy, &r.ResolvedAt); err != nil {
			return nil, fmt.Errorf("storage: scan resolution: %w", err)
		}
		res := r
		out[r.StudyID] = &res
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: scan resolutions: %w", err)
	}
	return out, nil
}

// DeleteResolution removes the resolution for one study+phase (reset only).
func (db *DB) DeleteResolution(ctx context.Context, studyID uuid.UUID, phase model.Phase) error {
	_, err := db.pool.Exec(ctx,
		`DELETE FROM resolutions WHERE study_id = $1 AND phase = $2`, studyID, phase)
	if err != nil {
		return fmt.Errorf("storage: delete resolution: %w", err)
	}
	return nil
}
