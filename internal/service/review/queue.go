package review

import (
	"context"

	"github.com/google/uuid"

	"github.com/siftlab/sieve/internal/model"
	"github.com/siftlab/sieve/internal/screening"
)

// Queue returns the caller's screening queue for one project phase, with
// quorum status and (blinding permitting) peer votes attached to each study.
// The total is the filtered count before pagination.
func (s *Service) Queue(ctx context.Context, actor model.Actor, req model.QueueRequest) ([]model.QueueEntry, int, error) {
	project, err := s.db.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, 0, err
	}

	studies, total, err := s.db.ListQueue(ctx, req, project.QuorumSize, actor.ReviewerID)
	if err != nil {
		return nil, 0, err
	}
	if len(studies) == 0 {
		return []model.QueueEntry{}, total, nil
	}

	ids := make([]uuid.UUID, len(studies))
	for i, st := range studies {
		ids[i] = st.ID
	}
	votes, err := s.db.ListDecisionsByStudies(ctx, ids, req.Phase)
	if err != nil {
		return nil, 0, err
	}
	resolutions, err := s.db.ListResolutionsByStudies(ctx, ids, req.Phase)
	if err != nil {
		return nil, 0, err
	}

	entries := make([]model.QueueEntry, len(studies))
	for i, st := range studies {
		entries[i] = buildEntry(st, votes[st.ID], resolutions[st.ID], project, actor.ReviewerID)
	}
	return entries, total, nil
}

// buildEntry assembles one queue row from the caller's perspective.
// Peer votes are withheld while blinding is in effect and quorum is open;
// the caller's own vote is always visible.
func buildEntry(study model.Study, votes []model.Decision, resolution *model.Resolution, project model.Project, caller uuid.UUID) model.QueueEntry {
	status := screening.StatusFor(votes, project.QuorumSize, caller)

	entry := model.QueueEntry{
		Study:      study,
		InConflict: screening.IsConflict(votes, project.QuorumSize, resolution != nil),
	}

	revealPeers := !project.BlindScreening || status.Status == model.StatusCompleted
	for _, v := range votes {
		v := v
		if v.ReviewerID == caller {
			entry.OwnVote = &v
			continue
		}
		if revealPeers {
			entry.PeerVotes = append(entry.PeerVotes, v)
		}
	}

	entry.Status = redactStatus(status, project, caller)
	return entry
}
