package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEvent records an override or state-changing operation: who did what
// to which subject. Force moves, resets, and phase advancements are logged
// here so a review's provenance survives the operations that bypass or
// mutate screening state.
type AuditEvent struct {
	ID        uuid.UUID      `json:"id"`
	ProjectID uuid.UUID      `json:"project_id"`
	ActorID   uuid.UUID      `json:"actor_id"`
	Action    string         `json:"action"` // e.g. "move_phase", "reset", "advance_phase", "resolve"
	SubjectID *uuid.UUID     `json:"subject_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// InsertAuditEvent appends one audit record. Audit writes are best-effort at
// call sites. A failed audit insert must not roll back the operation it
// describes, so callers log the error instead of propagating it.
func (db *DB) InsertAuditEvent(ctx context.Context, ev AuditEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Detail == nil {
		ev.Detail = map[string]any{}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO audit_events (id, project_id, actor_id, action, subject_id, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.ProjectID, ev.ActorID, ev.Action, ev.SubjectID, ev.Detail, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns the most recent audit records for a project.
func (db *DB) ListAuditEvents(ctx context.Context, projectID uuid.UUID, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, project_id, actor_id, action, subject_id, detail, created_at
		 FROM audit_events WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`,
		projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		if err := rows.Scan(&ev.ID, &ev.ProjectID, &ev.ActorID, &ev.Action, &ev.SubjectID, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan audit event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
