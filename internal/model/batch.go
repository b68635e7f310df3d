package model

import (
	"fmt"

	"github.com/google/uuid"
)

// BatchKind is the closed set of bulk operations. Dispatch over kinds is
// exhaustive by construction; ParseBatchKind is the only way in from wire data.
type BatchKind string

const (
	BatchAssign    BatchKind = "assign"
	BatchApplyAI   BatchKind = "apply_ai"
	BatchMovePhase BatchKind = "move_phase"
	BatchReset     BatchKind = "reset"
)

// ParseBatchKind validates a batch operation kind.
func ParseBatchKind(s string) (BatchKind, error) {
	switch BatchKind(s) {
	case BatchAssign, BatchApplyAI, BatchMovePhase, BatchReset:
		return BatchKind(s), nil
	}
	return "", ValidationError{Field: "op", Reason: fmt.Sprintf("unknown batch operation %q", s)}
}

// BatchParams carries the operation-specific inputs. Only the fields relevant
// to the chosen kind are consulted.
type BatchParams struct {
	AssigneeID  *uuid.UUID `json:"assignee_id,omitempty"`  // assign
	AIThreshold *int       `json:"ai_threshold,omitempty"` // apply_ai: minimum confidence, 0-100
	TargetPhase *Phase     `json:"target_phase,omitempty"` // move_phase
}

// BatchOperation targets an explicit study set, never an implicit "all",
// to keep the blast radius bounded.
type BatchOperation struct {
	Kind     BatchKind   `json:"op"`
	StudyIDs []uuid.UUID `json:"study_ids"`
	Params   BatchParams `json:"params"`
}

// BatchFailure records one study that the operation could not process.
type BatchFailure struct {
	StudyID uuid.UUID `json:"study_id"`
	Reason  string    `json:"reason"`
}

// BatchResult reports per-item outcomes. Invariant:
// Processed + len(Failures) == len(op.StudyIDs).
type BatchResult struct {
	Processed int            `json:"processed"`
	Failed    int            `json:"failed"`
	Failures  []BatchFailure `json:"failures,omitempty"`
}

// Validate checks the operation shape before any item is touched.
func (op BatchOperation) Validate() error {
	if _, err := ParseBatchKind(string(op.Kind)); err != nil {
		return err
	}
	if len(op.StudyIDs) == 0 {
		return ValidationError{Field: "study_ids", Reason: "batch target list must not be empty"}
	}
	switch op.Kind {
	case BatchAssign:
		if op.Params.AssigneeID == nil || *op.Params.AssigneeID == uuid.Nil {
			return ValidationError{Field: "assignee_id", Reason: "assign requires a reviewer id"}
		}
	case BatchApplyAI:
		if op.Params.AIThreshold == nil {
			return ValidationError{Field: "ai_threshold", Reason: "apply_ai requires a confidence threshold"}
		}
		if *op.Params.AIThreshold < 0 || *op.Params.AIThreshold > 100 {
			return ValidationError{Field: "ai_threshold", Reason: "threshold must be between 0 and 100"}
		}
	case BatchMovePhase:
		if op.Params.TargetPhase == nil {
			return ValidationError{Field: "target_phase", Reason: "move_phase requires a target phase"}
		}
		if _, err := ParsePhase(string(*op.Params.TargetPhase)); err != nil {
			return err
		}
	case BatchReset:
		// No parameters: resets the selected studies' current phase.
	}
	return nil
}
