package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Field length limits for reviewer-supplied free text. These keep a single
// oversized submission from filling TEXT columns with caller-controlled bulk.
const (
	MaxReasoningLen       = 16 * 1024
	MaxExclusionReasonLen = 1024
	MaxNotesLen           = 16 * 1024
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   int          `json:"total"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail carries a machine-readable code and human-readable message.
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Studies []uuid.UUID `json:"studies,omitempty"` // populated for STALE_STATE
}

// ResponseMeta is attached to every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Error codes used in API responses.
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodePreconditionFailed = "PRECONDITION_FAILED"
	ErrCodeStaleState         = "STALE_STATE"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeRateLimited        = "RATE_LIMITED"
)

// AuthTokenRequest authenticates a reviewer by API key.
type AuthTokenRequest struct {
	Handle string `json:"handle"`
	APIKey string `json:"api_key"`
}

// SubmitDecisionRequest is the body of POST /v1/studies/{id}/decisions.
type SubmitDecisionRequest struct {
	Phase           string  `json:"phase"`
	Verdict         string  `json:"verdict"`
	Confidence      int     `json:"confidence"`
	Reasoning       *string `json:"reasoning,omitempty"`
	ExclusionReason *string `json:"exclusion_reason,omitempty"`
	TimeSpentMs     *int64  `json:"time_spent_ms,omitempty"`
}

// Validate applies the decision submission rules: verdict must parse,
// confidence must already be in range (out-of-range input is rejected, not
// clamped, to avoid masking client defects), and EXCLUDE requires a reason.
func (r SubmitDecisionRequest) Validate() (Verdict, Phase, error) {
	phase, err := ParsePhase(r.Phase)
	if err != nil {
		return "", "", err
	}
	verdict, err := ParseVerdict(r.Verdict)
	if err != nil {
		return "", "", err
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return "", "", ValidationError{Field: "confidence", Reason: fmt.Sprintf("must be between 0 and 100, got %d", r.Confidence)}
	}
	if verdict == VerdictExclude && (r.ExclusionReason == nil || *r.ExclusionReason == "") {
		return "", "", ValidationError{Field: "exclusion_reason", Reason: "required when verdict is EXCLUDE"}
	}
	if r.Reasoning != nil && len(*r.Reasoning) > MaxReasoningLen {
		return "", "", ValidationError{Field: "reasoning", Reason: fmt.Sprintf("exceeds maximum length of %d bytes", MaxReasoningLen)}
	}
	if r.ExclusionReason != nil && len(*r.ExclusionReason) > MaxExclusionReasonLen {
		return "", "", ValidationError{Field: "exclusion_reason", Reason: fmt.Sprintf("exceeds maximum length of %d bytes", MaxExclusionReasonLen)}
	}
	return verdict, phase, nil
}

// ResolveConflictRequest is the body of POST /v1/studies/{id}/resolution.
type ResolveConflictRequest struct {
	Phase   string `json:"phase"`
	Verdict string `json:"verdict"`
	Notes   string `json:"notes,omitempty"`
}

// Validate enforces the harmonization rules: the final verdict must be
// INCLUDE or EXCLUDE. Harmonizing to MAYBE would leave the gate blocked.
func (r ResolveConflictRequest) Validate() (Verdict, Phase, error) {
	phase, err := ParsePhase(r.Phase)
	if err != nil {
		return "", "", err
	}
	verdict, err := ParseVerdict(r.Verdict)
	if err != nil {
		return "", "", err
	}
	if verdict == VerdictMaybe {
		return "", "", ValidationError{Field: "verdict", Reason: "harmonized verdict must be INCLUDE or EXCLUDE"}
	}
	if len(r.Notes) > MaxNotesLen {
		return "", "", ValidationError{Field: "notes", Reason: fmt.Sprintf("exceeds maximum length of %d bytes", MaxNotesLen)}
	}
	return verdict, phase, nil
}

// QueueSort is the closed set of queue sort keys. Sorting is presentational:
// it must be stable and must never alter decision data.
type QueueSort string

const (
	SortAIConfidence QueueSort = "ai_confidence"
	SortPriority     QueueSort = "priority" // uncertainty-first: |confidence-50| ascending
	SortRecency      QueueSort = "recency"
	SortTitle        QueueSort = "title"
	SortYear         QueueSort = "year"
)

// DefaultDesc reports the natural direction for a sort key when the caller
// does not pick one: confidence and recency read high-first and newest-first.
func (s QueueSort) DefaultDesc() bool {
	return s == SortAIConfidence || s == SortRecency
}

// ParseQueueSort validates a sort key, defaulting to priority.
func ParseQueueSort(s string) (QueueSort, error) {
	if s == "" {
		return SortPriority, nil
	}
	switch QueueSort(s) {
	case SortAIConfidence, SortPriority, SortRecency, SortTitle, SortYear:
		return QueueSort(s), nil
	}
	return "", ValidationError{Field: "sort_by", Reason: fmt.Sprintf("unknown sort key %q", s)}
}

// QueueStatusFilter narrows the queue by the caller-facing screening state.
type QueueStatusFilter string

const (
	FilterNone      QueueStatusFilter = ""
	FilterPending   QueueStatusFilter = "pending"   // caller has not voted, quorum open
	FilterVoted     QueueStatusFilter = "voted"     // caller has voted
	FilterCompleted QueueStatusFilter = "completed" // quorum met
	FilterConflicts QueueStatusFilter = "conflicts" // completed with disagreement, unresolved
)

// ParseQueueStatusFilter validates a status filter.
func ParseQueueStatusFilter(s string) (QueueStatusFilter, error) {
	switch QueueStatusFilter(s) {
	case FilterNone, FilterPending, FilterVoted, FilterCompleted, FilterConflicts:
		return QueueStatusFilter(s), nil
	}
	return "", ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status filter %q", s)}
}

// QueueRequest parameterizes a queue read.
type QueueRequest struct {
	ProjectID uuid.UUID
	Phase     Phase
	Search    string
	SortBy    QueueSort
	SortDesc  bool
	Status    QueueStatusFilter
	Limit     int
	Offset    int
}

// QueueEntry is one study in a reviewer's queue, with the caller's quorum
// view attached. Peer votes are redacted per the blinding rule.
type QueueEntry struct {
	Study      Study       `json:"study"`
	Status     StudyStatus `json:"status"`
	OwnVote    *Decision   `json:"own_vote,omitempty"`
	PeerVotes  []Decision  `json:"peer_votes,omitempty"` // only once quorum completes or blinding is off
	InConflict bool        `json:"in_conflict"`
}

// NewStudyInput is one study in a bulk ingestion request.
type NewStudyInput struct {
	Title       string            `json:"title"`
	Authors     string            `json:"authors,omitempty"`
	Year        *int              `json:"year,omitempty"`
	Venue       string            `json:"venue,omitempty"`
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
	Suggestion  *AISuggestion     `json:"ai_suggestion,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
}

// Validate checks a study ingestion record.
func (in NewStudyInput) Validate() error {
	if in.Title == "" {
		return ValidationError{Field: "title", Reason: "required"}
	}
	if in.Suggestion != nil {
		if _, err := ParseVerdict(string(in.Suggestion.Verdict)); err != nil {
			return ValidationError{Field: "ai_suggestion.verdict", Reason: "unknown verdict"}
		}
		if in.Suggestion.Confidence < 0 || in.Suggestion.Confidence > 100 {
			return ValidationError{Field: "ai_suggestion.confidence", Reason: "must be between 0 and 100"}
		}
	}
	return nil
}
