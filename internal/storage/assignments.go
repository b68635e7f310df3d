package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/siftlab/sieve/internal/model"
)

// Assignment attaches a reviewer to a study for a phase as an eligible
// voter. Assignment never casts a decision by itself.
type Assignment struct {
	StudyID    uuid.UUID   `json:"study_id"`
	Phase      model.Phase `json:"phase"`
	ReviewerID uuid.UUID   `json:"reviewer_id"`
	AssignedBy uuid.UUID   `json:"assigned_by"`
	AssignedAt time.Time   `json:"assigned_at"`
}

// UpsertAssignment records an assignment; re-assigning is idempotent.
func (db *DB) UpsertAssignment(ctx context.Context, a Assignment) error {
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO assignments (study_id, phase, reviewer_id, assigned_by, assigned_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (study_id, phase, reviewer_id) DO NOTHING`,
		a.StudyID, a.Phase, a.ReviewerID, a.AssignedBy, a.AssignedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert assignment: %w", err)
	}
	return nil
}

// ListAssignees returns the reviewers assigned to a study for a phase.
func (db *DB) ListAssignees(ctx context.Context, studyID uuid.UUID, phase model.Phase) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT reviewer_id FROM assignments WHERE study_id = $1 AND phase = $2 ORDER BY assigned_at ASC`,
		studyID, phase,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list assignees: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan assignee: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
