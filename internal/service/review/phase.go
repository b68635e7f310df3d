package review

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/siftlab/sieve/internal/model"
	"github.com/siftlab/sieve/internal/screening"
	"github.com/siftlab/sieve/internal/storage"
)

// PhaseStats aggregates one project phase into the gate view: pending work,
// open conflicts, remaining quorum slots, and whether advancement is allowed.
// Derived fresh on every call; nothing here is cached.
func (s *Service) PhaseStats(ctx context.Context, actor model.Actor, projectID uuid.UUID, phase model.Phase) (model.PhaseStats, error) {
	project, err := s.db.GetProject(ctx, projectID)
	if err != nil {
		return model.PhaseStats{}, err
	}
	states, err := s.db.LoadPhaseStates(ctx, projectID, phase)
	if err != nil {
		return model.PhaseStats{}, err
	}
	return screening.EvaluateGate(phase, states, project.QuorumSize, actor.ReviewerID), nil
}

// ListConflicts returns the unresolved conflicts in one project phase.
func (s *Service) ListConflicts(ctx context.Context, projectID uuid.UUID, phase model.Phase) ([]model.Conflict, error) {
	project, err := s.db.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	states, err := s.db.LoadPhaseStates(ctx, projectID, phase)
	if err != nil {
		return nil, err
	}
	conflicts := screening.Conflicts(states, project.QuorumSize)
	if conflicts == nil {
		conflicts = []model.Conflict{}
	}
	return conflicts, nil
}

// AdvancePhase executes the phase gate: every active study must have an
// effective verdict or the whole operation aborts with a StaleStateError
// listing the blockers. The storage layer re-checks qualification on locked
// rows, so a vote landing between the caller's stats read and this call
// cannot slip a half-screened study through.
func (s *Service) AdvancePhase(ctx context.Context, actor model.Actor, projectID uuid.UUID, from model.Phase) (model.AdvanceResult, error) {
	if !actor.Role.CanOverride() {
		return model.AdvanceResult{}, model.AuthorizationError{Operation: "advance_phase"}
	}
	project, err := s.db.GetProject(ctx, projectID)
	if err != nil {
		return model.AdvanceResult{}, err
	}

	start := time.Now()
	result, err := s.db.AdvancePhase(ctx, projectID, from, project.QuorumSize, actor.ReviewerID)
	s.advanceDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return model.AdvanceResult{}, err
	}

	s.logger.Info("phase advanced",
		"project_id", projectID,
		"from_phase", from,
		"advanced", result.AdvancedCount,
		"excluded", result.ExcludedCount,
	)

	s.notify(ctx, storage.ChannelPhases, map[string]any{
		"project_id": projectID,
		"from_phase": from,
		"to_phase":   result.ToPhase,
		"advanced":   result.AdvancedCount,
		"excluded":   result.ExcludedCount,
	})

	return result, nil
}
