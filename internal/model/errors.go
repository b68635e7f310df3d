package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// The engine's error taxonomy. Every mutation surfaces one of these (or a
// wrapped storage error) so callers can distinguish "nothing happened" from
// "partially happened" (batch) from "happened but needs reconciliation"
// (advancement race).

// ValidationError reports malformed input. Never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PreconditionError reports that required state does not hold (resolving a
// non-completed quorum, advancing a terminal phase, re-resolving without a
// reset). The message names the unmet condition so the caller can re-sync.
type PreconditionError struct {
	Condition string
}

func (e PreconditionError) Error() string {
	return "precondition failed: " + e.Condition
}

// StaleStateError reports that state changed between a read and a dependent
// write: the phase-gate re-check failing inside the advancement transaction.
// Callers may refetch stats and retry once; repeated failures go to a human.
type StaleStateError struct {
	Reason  string
	Studies []uuid.UUID // studies that newly fail the gate
}

func (e StaleStateError) Error() string {
	if len(e.Studies) == 0 {
		return "state changed: " + e.Reason
	}
	ids := make([]string, len(e.Studies))
	for i, id := range e.Studies {
		ids[i] = id.String()
	}
	return fmt.Sprintf("state changed: %s (studies %s)", e.Reason, strings.Join(ids, ", "))
}

// AuthorizationError reports a caller lacking privilege for an override
// operation (force move, reset). Never retried.
type AuthorizationError struct {
	Operation string
}

func (e AuthorizationError) Error() string {
	return "not authorized: " + e.Operation
}
