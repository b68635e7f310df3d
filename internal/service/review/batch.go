package review

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/siftlab/sieve/internal/model"
	"github.com/siftlab/sieve/internal/storage"
)

// Batch applies one operation to an explicit study set with per-item
// isolation: each study succeeds or fails on its own, and the result
// accounts for every requested id exactly once. move_phase and reset are
// override operations restricted to leads and admins.
func (s *Service) Batch(ctx context.Context, actor model.Actor, projectID uuid.UUID, op model.BatchOperation) (model.BatchResult, error) {
	if err := op.Validate(); err != nil {
		return model.BatchResult{}, err
	}
	switch op.Kind {
	case model.BatchMovePhase, model.BatchReset:
		if !actor.Role.CanOverride() {
			return model.BatchResult{}, model.AuthorizationError{Operation: string(op.Kind)}
		}
	}

	project, err := s.db.GetProject(ctx, projectID)
	if err != nil {
		return model.BatchResult{}, err
	}

	// failures[i] is nil on success; indexing keeps the report ordered by
	// the caller's study list regardless of goroutine completion order.
	failures := make([]*model.BatchFailure, len(op.StudyIDs))

	sem := semaphore.NewWeighted(s.batchConcurrency)
	var wg sync.WaitGroup
	for i, id := range op.StudyIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			failures[i] = &model.BatchFailure{StudyID: id, Reason: "canceled"}
			continue
		}
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			defer sem.Release(1)
			if err := s.applyBatchItem(ctx, actor, project, op, id); err != nil {
				failures[i] = &model.BatchFailure{StudyID: id, Reason: err.Error()}
			}
		}(i, id)
	}
	wg.Wait()

	result := model.BatchResult{}
	for _, f := range failures {
		if f != nil {
			result.Failed++
			result.Failures = append(result.Failures, *f)
			continue
		}
		result.Processed++
	}

	s.logger.Info("batch operation finished",
		"op", op.Kind,
		"project_id", projectID,
		"processed", result.Processed,
		"failed", result.Failed,
	)
	return result, nil
}

// applyBatchItem processes one study. Errors are per-item: they become a
// BatchFailure entry, never an operation-level failure.
func (s *Service) applyBatchItem(ctx context.Context, actor model.Actor, project model.Project, op model.BatchOperation, studyID uuid.UUID) error {
	study, err := s.db.GetStudy(ctx, studyID)
	if err != nil {
		return err
	}
	if study.ProjectID != project.ID {
		return fmt.Errorf("study belongs to a different project")
	}

	switch op.Kind {
	case model.BatchAssign:
		return s.db.UpsertAssignment(ctx, storage.Assignment{
			StudyID:    studyID,
			Phase:      study.Phase,
			ReviewerID: *op.Params.AssigneeID,
			AssignedBy: actor.ReviewerID,
		})

	case model.BatchApplyAI:
		return s.applyAISuggestion(ctx, study, *op.Params.AIThreshold)

	case model.BatchMovePhase:
		if err := s.db.SetStudyPhase(ctx, studyID, *op.Params.TargetPhase); err != nil {
			return err
		}
		s.auditBatchItem(ctx, actor, project.ID, "move_phase", studyID, map[string]any{
			"from_phase": string(study.Phase),
			"to_phase":   string(*op.Params.TargetPhase),
		})
		return nil

	case model.BatchReset:
		deleted, err := s.db.DeleteDecisions(ctx, studyID, study.Phase)
		if err != nil {
			return err
		}
		if err := s.db.DeleteResolution(ctx, studyID, study.Phase); err != nil {
			return err
		}
		s.auditBatchItem(ctx, actor, project.ID, "reset", studyID, map[string]any{
			"phase":             string(study.Phase),
			"decisions_deleted": deleted,
		})
		return nil
	}
	return fmt.Errorf("unhandled batch operation %q", op.Kind)
}

// applyAISuggestion casts the system reviewer's vote from the study's stored
// suggestion. The vote lands in an ordinary decision slot, so quorum,
// conflict detection, and resolution treat it like any other reviewer.
// An occupied slot (human or previous apply_ai) is never overwritten.
func (s *Service) applyAISuggestion(ctx context.Context, study model.Study, threshold int) error {
	if study.Suggestion == nil {
		return fmt.Errorf("study has no AI suggestion")
	}
	if study.Suggestion.Confidence < threshold {
		return fmt.Errorf("suggestion confidence %d below threshold %d", study.Suggestion.Confidence, threshold)
	}

	d := model.Decision{
		StudyID:    study.ID,
		Phase:      study.Phase,
		ReviewerID: model.SystemReviewerID,
		Verdict:    study.Suggestion.Verdict,
		Confidence: study.Suggestion.Confidence,
		MatchedAI:  true,
	}
	if d.Verdict == model.VerdictExclude {
		reason := "auto-excluded from AI suggestion"
		d.ExclusionReason = &reason
	}

	inserted, err := s.db.InsertDecisionIfAbsent(ctx, d)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("decision slot already occupied for this phase")
	}
	return nil
}

func (s *Service) auditBatchItem(ctx context.Context, actor model.Actor, projectID uuid.UUID, action string, studyID uuid.UUID, detail map[string]any) {
	if err := s.db.InsertAuditEvent(ctx, storage.AuditEvent{
		ProjectID: projectID,
		ActorID:   actor.ReviewerID,
		Action:    action,
		SubjectID: &studyID,
		Detail:    detail,
	}); err != nil {
		s.logger.Warn("batch: audit event failed", "error", err, "action", action, "study_id", studyID)
	}
}
