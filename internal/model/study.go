package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase is a sequential screening stage a study passes through.
type Phase string

const (
	PhaseTitleAbstract Phase = "TITLE_ABSTRACT"
	PhaseFullText      Phase = "FULL_TEXT"
	PhaseFinal         Phase = "FINAL"
)

// phaseOrder fixes the total order of screening phases.
var phaseOrder = []Phase{PhaseTitleAbstract, PhaseFullText, PhaseFinal}

// Phases returns the screening phases in workflow order.
func Phases() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// ParsePhase validates and normalizes a phase string.
func ParsePhase(s string) (Phase, error) {
	for _, p := range phaseOrder {
		if string(p) == s {
			return p, nil
		}
	}
	return "", ValidationError{Field: "phase", Reason: fmt.Sprintf("unknown phase %q", s)}
}

// Next returns the phase following p. ok is false when p is terminal.
func (p Phase) Next() (next Phase, ok bool) {
	for i, candidate := range phaseOrder[:len(phaseOrder)-1] {
		if candidate == p {
			return phaseOrder[i+1], true
		}
	}
	return "", false
}

// Verdict is a reviewer's judgment on a study within a phase.
// It is a closed set; ParseVerdict is the only way in from wire data.
type Verdict string

const (
	VerdictInclude Verdict = "INCLUDE"
	VerdictExclude Verdict = "EXCLUDE"
	VerdictMaybe   Verdict = "MAYBE"
)

// ParseVerdict validates a verdict string.
func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(s) {
	case VerdictInclude, VerdictExclude, VerdictMaybe:
		return Verdict(s), nil
	}
	return "", ValidationError{Field: "verdict", Reason: fmt.Sprintf("unknown verdict %q", s)}
}

// AISuggestion is an opaque relevance suggestion attached to a study at
// ingestion time. The engine never generates these; it only consumes them
// (queue ordering, apply_ai batch operation, matched-AI bookkeeping).
type AISuggestion struct {
	Verdict    Verdict `json:"verdict"`
	Confidence int     `json:"confidence"` // 0-100
}

// Study is the unit of screening work. Bibliographic fields are immutable
// after creation; Phase is mutated only by the Phase Advancer (or an explicit
// move_phase override), and ExcludedAt only by the Phase Advancer.
type Study struct {
	ID          uuid.UUID         `json:"id"`
	ProjectID   uuid.UUID         `json:"project_id"`
	Title       string            `json:"title"`
	Authors     string            `json:"authors,omitempty"`
	Year        *int              `json:"year,omitempty"`
	Venue       string            `json:"venue,omitempty"`
	ExternalIDs map[string]string `json:"external_ids,omitempty"` // e.g. doi, pmid
	Suggestion  *AISuggestion     `json:"ai_suggestion,omitempty"`
	Phase       Phase             `json:"phase"`
	Tags        []string          `json:"tags"`
	ExcludedAt  *time.Time        `json:"excluded_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Project holds the screening configuration for a review project.
// QuorumSize and BlindScreening are independent knobs: a single-reviewer
// project may still run blinded, and an open project may require N votes.
type Project struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	QuorumSize     int       `json:"quorum_size"`
	BlindScreening bool      `json:"blind_screening"`
	CreatedAt      time.Time `json:"created_at"`
}

// DefaultQuorumSize is the reviewer quorum used when a project doesn't set one.
const DefaultQuorumSize = 2
