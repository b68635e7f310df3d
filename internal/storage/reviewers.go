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

// CreateReviewer inserts a reviewer and returns it.
func (db *DB) CreateReviewer(ctx context.Context, r model.Reviewer) (model.Reviewer, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO reviewers (id, handle, display_name, role, api_key_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.Handle, r.DisplayName, r.Role, r.APIKeyHash, r.CreatedAt,
	)
	if err != nil {
		return model.Reviewer{}, fmt.Errorf("storage: create reviewer: %w", err)
	}
	return r, nil
}

// UpsertReviewerByHandle inserts a reviewer or refreshes role and key hash
// of an existing one. Used by the admin bootstrap at startup.
func (db *DB) UpsertReviewerByHandle(ctx context.Context, r model.Reviewer) (model.Reviewer, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO reviewers (id, handle, display_name, role, api_key_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (handle) DO UPDATE
		 SET role = EXCLUDED.role, api_key_hash = EXCLUDED.api_key_hash
		 RETURNING id, created_at`,
		r.ID, r.Handle, r.DisplayName, r.Role, r.APIKeyHash, r.CreatedAt,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return model.Reviewer{}, fmt.Errorf("storage: upsert reviewer: %w", err)
	}
	return r, nil
}

// GetReviewer retrieves a reviewer by ID.
func (db *DB) GetReviewer(ctx context.Context, id uuid.UUID) (model.Reviewer, error) {
	return db.getReviewer(ctx, `WHERE id = $1`, id)
}

// GetReviewerByHandle retrieves a reviewer by handle (login identity).
func (db *DB) GetReviewerByHandle(ctx context.Context, handle string) (model.Reviewer, error) {
	return db.getReviewer(ctx, `WHERE handle = $1`, handle)
}

func (db *DB) getReviewer(ctx context.Context, where string, arg any) (model.Reviewer, error) {
	var r model.Reviewer
	err := db.pool.QueryRow(ctx,
		`SELECT id, handle, display_name, role, api_key_hash, created_at
		 FROM reviewers `+where, arg,
	).Scan(&r.ID, &r.Handle, &r.DisplayName, &r.Role, &r.APIKeyHash, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Reviewer{}, fmt.Errorf("storage: get reviewer: %w", ErrNotFound)
		}
		return model.Reviewer{}, fmt.Errorf("storage: get reviewer: %w", err)
	}
	return r, nil
}
