package model

import (
	"time"

	"github.com/google/uuid"
)

// ReviewerRole gates override operations. Membership in projects is an
// external concern; roles are global.
type ReviewerRole string

const (
	RoleReviewer ReviewerRole = "reviewer"
	RoleLead     ReviewerRole = "lead"
	RoleAdmin    ReviewerRole = "admin"
	// RoleSystem marks the reserved apply_ai voter slot. Never authenticates.
	RoleSystem ReviewerRole = "system"
)

// CanOverride reports whether the role may run override operations
// (move_phase, reset, resolve, advance).
func (r ReviewerRole) CanOverride() bool {
	return r == RoleLead || r == RoleAdmin
}

// Reviewer is an authenticated screening actor.
type Reviewer struct {
	ID          uuid.UUID    `json:"id"`
	Handle      string       `json:"handle"`
	DisplayName string       `json:"display_name,omitempty"`
	Role        ReviewerRole `json:"role"`
	APIKeyHash  *string      `json:"-"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Actor is the caller identity threaded through service operations.
type Actor struct {
	ReviewerID uuid.UUID
	Role       ReviewerRole
}
