package model

import (
	"time"

	"github.com/google/uuid"
)

// SystemReviewerID is the reserved voter slot used by the apply_ai batch
// operation. It is seeded by migration and never issued a credential, so the
// slot can hold auto-accepted AI suggestions without masquerading as a human.
var SystemReviewerID = uuid.MustParse("00000000-0000-0000-0000-00000000a15e")

// Decision is one reviewer's verdict on one study in one phase.
// At most one row exists per (study, phase, reviewer); resubmission replaces
// the prior decision entirely (upsert, last-writer-wins for the same actor).
type Decision struct {
	ID              uuid.UUID `json:"id"`
	StudyID         uuid.UUID `json:"study_id"`
	Phase           Phase     `json:"phase"`
	ReviewerID      uuid.UUID `json:"reviewer_id"`
	Verdict         Verdict   `json:"verdict"`
	Confidence      int       `json:"confidence"` // 0-100, rejected (not clamped) out of range
	Reasoning       *string   `json:"reasoning,omitempty"`
	ExclusionReason *string   `json:"exclusion_reason,omitempty"` // required when Verdict == EXCLUDE
	TimeSpentMs     *int64    `json:"time_spent_ms,omitempty"`
	MatchedAI       bool      `json:"matched_ai"` // verdict agreed with the study's AI suggestion at submit time
	SubmittedAt     time.Time `json:"submitted_at"`
}

// Resolution is the harmonized decision recorded when reviewers disagree
// (or unanimously land on MAYBE). It supersedes individual decisions without
// deleting them; the reviewer-level audit trail stays intact.
type Resolution struct {
	StudyID    uuid.UUID `json:"study_id"`
	Phase      Phase     `json:"phase"`
	Verdict    Verdict   `json:"verdict"` // INCLUDE or EXCLUDE only
	Notes      string    `json:"notes,omitempty"`
	ResolvedBy uuid.UUID `json:"resolved_by"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// QuorumStatus is the reviewer-facing state of a study within a phase.
// It is derived from decisions on every read, never persisted.
type QuorumStatus string

const (
	// StatusFirstReviewer: the caller is the only voter so far.
	StatusFirstReviewer QuorumStatus = "FIRST_REVIEWER"
	// StatusSecondReviewer: others have voted, the caller has not, quorum open.
	StatusSecondReviewer QuorumStatus = "SECOND_REVIEWER"
	// StatusAwaitingOther: the caller has voted, quorum not yet met.
	StatusAwaitingOther QuorumStatus = "AWAITING_OTHER"
	// StatusCompleted: quorum met. Agreement is a separate, second-order
	// property evaluated by conflict detection.
	StatusCompleted QuorumStatus = "COMPLETED"
)

// StudyStatus is the quorum evaluation for one study+phase from one
// reviewer's perspective.
type StudyStatus struct {
	Status         QuorumStatus `json:"status,omitempty"` // empty when no votes exist yet
	ReviewersVoted int          `json:"reviewers_voted"`
	ReviewersNeed  int          `json:"reviewers_needed"`
	// VotedReviewers lists who has voted. Redacted to the caller's own entry
	// while blinding is in effect.
	VotedReviewers []uuid.UUID `json:"voted_reviewers,omitempty"`
}

// Conflict is a disagreement among reviewers once quorum is complete, or a
// unanimous MAYBE (which needs harmonization before the phase can advance).
type Conflict struct {
	StudyID  uuid.UUID  `json:"study_id"`
	Phase    Phase      `json:"phase"`
	Verdicts []Verdict  `json:"verdicts"` // distinct verdicts among voters, sorted
	Votes    []Decision `json:"votes"`
}

// PhaseStats aggregates a phase for gate evaluation. Derived per call.
type PhaseStats struct {
	Phase              Phase           `json:"phase"`
	TotalStudies       int             `json:"total_studies"`
	VerdictCounts      map[Verdict]int `json:"verdict_counts"`
	TotalPending       int             `json:"total_pending"` // caller hasn't voted and quorum still open
	Conflicts          int             `json:"conflicts"`
	RemainingReviewers int             `json:"remaining_reviewers"` // studies needing >=1 more vote from anyone
	CanAdvance         bool            `json:"can_advance"`
	NextPhase          *Phase          `json:"next_phase,omitempty"`
}

// AdvanceResult reports an executed phase advancement.
type AdvanceResult struct {
	AdvancedCount int   `json:"advanced_count"`
	ExcludedCount int   `json:"excluded_count"`
	ToPhase       Phase `json:"to_phase"`
}
