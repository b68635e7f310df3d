// Package screening implements the pure decision rules of the review engine:
// quorum evaluation, conflict detection, phase-gate aggregation, and
// advancement qualification.
//
// Everything here is a function over in-memory state. The package holds no
// storage handles and keeps no caches; results are re-derived from the
// decision records on every call, so concurrent reviewers can never observe
// divergent cached state. Persistence and transactions live in
// internal/storage; HTTP and MCP surfaces live above the services.
package screening

import (
	"sort"

	"github.com/google/uuid"

	"github.com/siftlab/sieve/internal/model"
)

// StudyState is everything the engine needs to know about one study within
// one phase: the study row, every vote cast, and the harmonized resolution
// if one was recorded.
type StudyState struct {
	Study      model.Study
	Votes      []model.Decision
	Resolution *model.Resolution
}

// DistinctReviewers counts the reviewers who have voted. Upsert semantics
// guarantee one decision per reviewer, but the count dedupes defensively so
// a caller assembling votes from multiple phases can't inflate quorum.
func DistinctReviewers(votes []model.Decision) int {
	seen := make(map[uuid.UUID]struct{}, len(votes))
	for _, v := range votes {
		seen[v.ReviewerID] = struct{}{}
	}
	return len(seen)
}

// DistinctVerdicts returns the sorted set of verdicts among the votes.
func DistinctVerdicts(votes []model.Decision) []model.Verdict {
	set := make(map[model.Verdict]struct{}, 3)
	for _, v := range votes {
		set[v.Verdict] = struct{}{}
	}
	out := make([]model.Verdict, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// hasVoted reports whether the caller appears among the votes.
func hasVoted(votes []model.Decision, caller uuid.UUID) bool {
	for _, v := range votes {
		if v.ReviewerID == caller {
			return true
		}
	}
	return false
}

// StatusFor derives the reviewer-facing quorum status for one study+phase.
// An empty vote set yields a zero status (study not yet touched). COMPLETED
// reflects participation only; agreement is evaluated by IsConflict.
func StatusFor(votes []model.Decision, quorum int, caller uuid.UUID) model.StudyStatus {
	if quorum < 1 {
		quorum = model.DefaultQuorumSize
	}
	voted := DistinctReviewers(votes)
	st := model.StudyStatus{
		ReviewersVoted: voted,
		ReviewersNeed:  quorum,
	}
	if voted == 0 {
		return st
	}
	for _, v := range votes {
		st.VotedReviewers = append(st.VotedReviewers, v.ReviewerID)
	}
	sort.Slice(st.VotedReviewers, func(i, j int) bool {
		return st.VotedReviewers[i].String() < st.VotedReviewers[j].String()
	})

	callerVoted := hasVoted(votes, caller)
	switch {
	case voted >= quorum:
		st.Status = model.StatusCompleted
	case callerVoted && voted == 1:
		st.Status = model.StatusFirstReviewer
	case callerVoted:
		st.Status = model.StatusAwaitingOther
	default:
		// Others have voted, the caller has not: the caller is about to be
		// the Nth (or an intermediate) voter.
		st.Status = model.StatusSecondReviewer
	}
	return st
}

// IsConflict reports whether a study+phase is in conflict: quorum complete
// and either the voters disagree, or they unanimously landed on MAYBE (which
// is not a terminal verdict and needs harmonization before advancement).
// A recorded resolution clears the conflict without touching the votes.
func IsConflict(votes []model.Decision, quorum int, resolved bool) bool {
	if resolved {
		return false
	}
	if quorum < 1 {
		quorum = model.DefaultQuorumSize
	}
	if DistinctReviewers(votes) < quorum {
		return false
	}
	verdicts := DistinctVerdicts(votes)
	if len(verdicts) > 1 {
		return true
	}
	return len(verdicts) == 1 && verdicts[0] == model.VerdictMaybe
}

// EffectiveVerdict is the verdict that governs phase advancement: the
// harmonized resolution when present, otherwise the unanimous verdict of a
// completed quorum. ok is false while the study is pending, conflicted, or
// unanimously MAYBE.
func EffectiveVerdict(s StudyState, quorum int) (model.Verdict, bool) {
	if s.Resolution != nil {
		return s.Resolution.Verdict, true
	}
	if quorum < 1 {
		quorum = model.DefaultQuorumSize
	}
	if DistinctReviewers(s.Votes) < quorum {
		return "", false
	}
	verdicts := DistinctVerdicts(s.Votes)
	if len(verdicts) != 1 || verdicts[0] == model.VerdictMaybe {
		return "", false
	}
	return verdicts[0], true
}

// EvaluateGate aggregates a phase into PhaseStats from one caller's
// perspective. Studies already archived by an earlier exclusion are skipped.
//
// TotalPending counts studies the caller can still act on: no vote from the
// caller AND quorum still open. A study whose quorum completed without the
// caller is not pending, otherwise a lead who never screens could never
// advance the phase.
func EvaluateGate(phase model.Phase, states []StudyState, quorum int, caller uuid.UUID) model.PhaseStats {
	if quorum < 1 {
		quorum = model.DefaultQuorumSize
	}
	stats := model.PhaseStats{
		Phase:         phase,
		VerdictCounts: map[model.Verdict]int{},
	}
	for _, s := range states {
		if s.Study.ExcludedAt != nil {
			continue
		}
		stats.TotalStudies++
		for _, v := range s.Votes {
			stats.VerdictCounts[v.Verdict]++
		}

		voted := DistinctReviewers(s.Votes)
		if voted < quorum {
			stats.RemainingReviewers++
			if !hasVoted(s.Votes, caller) {
				stats.TotalPending++
			}
		}
		if IsConflict(s.Votes, quorum, s.Resolution != nil) {
			stats.Conflicts++
		}
	}
	stats.CanAdvance = stats.TotalPending == 0 && stats.Conflicts == 0 && stats.RemainingReviewers == 0
	if next, ok := phase.Next(); ok {
		stats.NextPhase = &next
	}
	return stats
}

// Qualification partitions a phase's studies for advancement.
type Qualification struct {
	Include  []uuid.UUID // effective INCLUDE: phase pointer moves forward
	Exclude  []uuid.UUID // effective EXCLUDE: archived at the current phase
	Blockers []uuid.UUID // pending, conflicted, or unresolved MAYBE
}

// QualifyAdvance re-derives, inside the advancement transaction, which
// studies may move. Any blocker aborts the whole advancement: either all
// qualifying studies move or none do.
func QualifyAdvance(states []StudyState, quorum int) Qualification {
	var q Qualification
	for _, s := range states {
		if s.Study.ExcludedAt != nil {
			continue
		}
		verdict, ok := EffectiveVerdict(s, quorum)
		if !ok {
			q.Blockers = append(q.Blockers, s.Study.ID)
			continue
		}
		switch verdict {
		case model.VerdictInclude:
			q.Include = append(q.Include, s.Study.ID)
		case model.VerdictExclude:
			q.Exclude = append(q.Exclude, s.Study.ID)
		default:
			q.Blockers = append(q.Blockers, s.Study.ID)
		}
	}
	return q
}

// Conflicts lists the unresolved conflicts among the given states, with the
// distinct verdict sets attached for display.
func Conflicts(states []StudyState, quorum int) []model.Conflict {
	var out []model.Conflict
	for _, s := range states {
		if s.Study.ExcludedAt != nil {
			continue
		}
		if !IsConflict(s.Votes, quorum, s.Resolution != nil) {
			continue
		}
		out = append(out, model.Conflict{
			StudyID:  s.Study.ID,
			Phase:    s.Study.Phase,
			Verdicts: DistinctVerdicts(s.Votes),
			Votes:    s.Votes,
		})
	}
	return out
}
