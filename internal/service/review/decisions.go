package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/siftlab/sieve/internal/model"
	"github.com/siftlab/sieve/internal/screening"
	"github.com/siftlab/sieve/internal/storage"
)

// SubmitDecision records (or replaces) the caller's verdict on a study and
// returns the decision together with the caller's updated quorum view.
//
// The request phase must match the study's current phase: a vote for a phase
// the study has left (or not reached) is a stale client, not a valid input.
// Once a resolution exists for the phase the vote set is frozen.
func (s *Service) SubmitDecision(ctx context.Context, actor model.Actor, studyID uuid.UUID, req model.SubmitDecisionRequest) (model.Decision, model.StudyStatus, error) {
	verdict, phase, err := req.Validate()
	if err != nil {
		return model.Decision{}, model.StudyStatus{}, err
	}

	study, err := s.db.GetStudy(ctx, studyID)
	if err != nil {
		return model.Decision{}, model.StudyStatus{}, err
	}
	if study.ExcludedAt != nil {
		return model.Decision{}, model.StudyStatus{}, model.PreconditionError{
			Condition: "study is archived (excluded at an earlier phase)",
		}
	}
	if phase != study.Phase {
		return model.Decision{}, model.StudyStatus{}, model.PreconditionError{
			Condition: fmt.Sprintf("study is in phase %s, not %s", study.Phase, phase),
		}
	}

	project, err := s.db.GetProject(ctx, study.ProjectID)
	if err != nil {
		return model.Decision{}, model.StudyStatus{}, err
	}

	resolution, err := s.db.GetResolution(ctx, studyID, phase)
	if err != nil {
		return model.Decision{}, model.StudyStatus{}, err
	}
	if resolution != nil {
		return model.Decision{}, model.StudyStatus{}, model.PreconditionError{
			Condition: "phase already harmonized for this study; reset before re-screening",
		}
	}

	d := model.Decision{
		StudyID:         studyID,
		Phase:           phase,
		ReviewerID:      actor.ReviewerID,
		Verdict:         verdict,
		Confidence:      req.Confidence,
		Reasoning:       req.Reasoning,
		ExclusionReason: req.ExclusionReason,
		TimeSpentMs:     req.TimeSpentMs,
		MatchedAI:       study.Suggestion != nil && study.Suggestion.Verdict == verdict,
	}
	d, err = s.db.UpsertDecision(ctx, d)
	if errors.Is(err, storage.ErrPhaseMismatch) {
		// The study moved between the read above and the write: a phase
		// advancement committed in the gap. The write-time guard catches
		// what the read-time check cannot.
		return model.Decision{}, model.StudyStatus{}, model.PreconditionError{
			Condition: fmt.Sprintf("study left phase %s before the vote was recorded", phase),
		}
	}
	if err != nil {
		return model.Decision{}, model.StudyStatus{}, err
	}

	s.decisionsSubmitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("verdict", string(verdict)),
	))

	votes, err := s.db.ListDecisions(ctx, studyID, phase)
	if err != nil {
		return model.Decision{}, model.StudyStatus{}, err
	}
	status := screening.StatusFor(votes, project.QuorumSize, actor.ReviewerID)
	status = redactStatus(status, project, actor.ReviewerID)

	s.notify(ctx, storage.ChannelDecisions, map[string]any{
		"study_id": studyID,
		"phase":    phase,
		"status":   status.Status,
	})

	return d, status, nil
}

// StudyStatus returns the caller's quorum view of one study+phase.
func (s *Service) StudyStatus(ctx context.Context, actor model.Actor, studyID uuid.UUID, phase model.Phase) (model.StudyStatus, error) {
	study, err := s.db.GetStudy(ctx, studyID)
	if err != nil {
		return model.StudyStatus{}, err
	}
	project, err := s.db.GetProject(ctx, study.ProjectID)
	if err != nil {
		return model.StudyStatus{}, err
	}
	votes, err := s.db.ListDecisions(ctx, studyID, phase)
	if err != nil {
		return model.StudyStatus{}, err
	}
	status := screening.StatusFor(votes, project.QuorumSize, actor.ReviewerID)
	return redactStatus(status, project, actor.ReviewerID), nil
}

// Resolve records the harmonized verdict for a conflicted study. Only leads
// and admins may harmonize, only once quorum is complete, and only while a
// conflict actually exists. The underlying votes are never modified.
func (s *Service) Resolve(ctx context.Context, actor model.Actor, studyID uuid.UUID, req model.ResolveConflictRequest) (model.Resolution, error) {
	if !actor.Role.CanOverride() {
		return model.Resolution{}, model.AuthorizationError{Operation: "resolve"}
	}
	verdict, phase, err := req.Validate()
	if err != nil {
		return model.Resolution{}, err
	}

	study, err := s.db.GetStudy(ctx, studyID)
	if err != nil {
		return model.Resolution{}, err
	}
	if phase != study.Phase {
		return model.Resolution{}, model.PreconditionError{
			Condition: fmt.Sprintf("study is in phase %s, not %s", study.Phase, phase),
		}
	}
	project, err := s.db.GetProject(ctx, study.ProjectID)
	if err != nil {
		return model.Resolution{}, err
	}

	votes, err := s.db.ListDecisions(ctx, studyID, phase)
	if err != nil {
		return model.Resolution{}, err
	}
	if screening.DistinctReviewers(votes) < project.QuorumSize {
		return model.Resolution{}, model.PreconditionError{
			Condition: "quorum not yet complete; harmonization applies to finished disagreements only",
		}
	}
	if !screening.IsConflict(votes, project.QuorumSize, false) {
		return model.Resolution{}, model.PreconditionError{
			Condition: "reviewers agree; nothing to harmonize",
		}
	}

	res, err := s.db.CreateResolution(ctx, model.Resolution{
		StudyID:    studyID,
		Phase:      phase,
		Verdict:    verdict,
		Notes:      req.Notes,
		ResolvedBy: actor.ReviewerID,
	})
	if errors.Is(err, storage.ErrAlreadyResolved) {
		return model.Resolution{}, model.PreconditionError{
			Condition: "conflict already resolved; reset before re-harmonizing",
		}
	}
	if err != nil {
		return model.Resolution{}, err
	}

	if err := s.db.InsertAuditEvent(ctx, storage.AuditEvent{
		ProjectID: study.ProjectID,
		ActorID:   actor.ReviewerID,
		Action:    "resolve",
		SubjectID: &studyID,
		Detail: map[string]any{
			"phase":   string(phase),
			"verdict": string(verdict),
		},
	}); err != nil {
		s.logger.Warn("resolve: audit event failed", "error", err, "study_id", studyID)
	}

	s.notify(ctx, storage.ChannelDecisions, map[string]any{
		"study_id": studyID,
		"phase":    phase,
		"resolved": true,
		"verdict":  verdict,
	})

	return res, nil
}

// redactStatus applies the blinding rule: while quorum is open in a blinded
// project, the caller learns vote counts but not who cast them.
func redactStatus(st model.StudyStatus, project model.Project, caller uuid.UUID) model.StudyStatus {
	if !project.BlindScreening || st.Status == model.StatusCompleted {
		return st
	}
	var own []uuid.UUID
	for _, id := range st.VotedReviewers {
		if id == caller {
			own = append(own, id)
		}
	}
	st.VotedReviewers = own
	return st
}

// notify publishes a post-commit event; failures are logged, never returned.
func (s *Service) notify(ctx context.Context, channel string, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("notify: marshal payload", "error", err, "channel", channel)
		return
	}
	if err := s.db.Notify(ctx, channel, string(body)); err != nil {
		s.logger.Error("notify: publish", "error", err, "channel", channel)
	}
}
