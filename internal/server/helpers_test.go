package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/siftlab/sieve/internal/model"
	"github.com/siftlab/sieve/internal/screening"
	"github.com/siftlab/sieve/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory Store for handler tests: maps behind one mutex,
// no SQL. It mirrors the semantics the storage layer provides.
type fakeStore struct {
	mu          sync.Mutex
	projects    map[uuid.UUID]model.Project
	studies     map[uuid.UUID]model.Study
	reviewers   map[uuid.UUID]model.Reviewer
	decisions   map[string]model.Decision
	resolutions map[string]model.Resolution
	assignments []storage.Assignment
	audits      []storage.AuditEvent
	notified    []string
	pingErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:    map[uuid.UUID]model.Project{},
		studies:     map[uuid.UUID]model.Study{},
		reviewers:   map[uuid.UUID]model.Reviewer{},
		decisions:   map[string]model.Decision{},
		resolutions: map[string]model.Resolution{},
	}
}

func decisionKey(studyID uuid.UUID, phase model.Phase, reviewerID uuid.UUID) string {
	return fmt.Sprintf("%s|%s|%s", studyID, phase, reviewerID)
}

func resolutionKey(studyID uuid.UUID, phase model.Phase) string {
	return fmt.Sprintf("%s|%s", studyID, phase)
}

func (f *fakeStore) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeStore) CreateProject(_ context.Context, p model.Project) (model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	f.projects[p.ID] = p
	return p, nil
}

func (f *fakeStore) GetProject(_ context.Context, id uuid.UUID) (model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return model.Project{}, storage.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) CreateStudies(_ context.Context, projectID uuid.UUID, inputs []model.NewStudyInput) ([]model.Study, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Study, 0, len(inputs))
	for _, in := range inputs {
		s := model.Study{
			ID:          uuid.New(),
			ProjectID:   projectID,
			Title:       in.Title,
			Authors:     in.Authors,
			Year:        in.Year,
			Venue:       in.Venue,
			ExternalIDs: in.ExternalIDs,
			Suggestion:  in.Suggestion,
			Phase:       model.PhaseTitleAbstract,
			Tags:        in.Tags,
			CreatedAt:   time.Now().UTC(),
		}
		f.studies[s.ID] = s
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) GetStudy(_ context.Context, id uuid.UUID) (model.Study, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.studies[id]
	if !ok {
		return model.Study{}, storage.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) SetStudyPhase(_ context.Context, studyID uuid.UUID, phase model.Phase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.studies[studyID]
	if !ok {
		return storage.ErrNotFound
	}
	s.Phase = phase
	s.ExcludedAt = nil
	f.studies[studyID] = s
	return nil
}

func (f *fakeStore) ListQueue(_ context.Context, req model.QueueRequest, _ int, _ uuid.UUID) ([]model.Study, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Study
	for _, s := range f.studies {
		if s.ProjectID == req.ProjectID && s.Phase == req.Phase && s.ExcludedAt == nil {
			out = append(out, s)
		}
	}
	return out, len(out), nil
}

func (f *fakeStore) CreateReviewer(_ context.Context, r model.Reviewer) (model.Reviewer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = time.Now().UTC()
	f.reviewers[r.ID] = r
	return r, nil
}

func (f *fakeStore) GetReviewerByHandle(_ context.Context, handle string) (model.Reviewer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reviewers {
		if r.Handle == handle {
			return r, nil
		}
	}
	return model.Reviewer{}, storage.ErrNotFound
}

func (f *fakeStore) ListAuditEvents(_ context.Context, projectID uuid.UUID, limit int) ([]storage.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.AuditEvent
	for _, ev := range f.audits {
		if ev.ProjectID == projectID {
			out = append(out, ev)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) phaseOKLocked(studyID uuid.UUID, phase model.Phase) bool {
	s, ok := f.studies[studyID]
	return ok && s.Phase == phase && s.ExcludedAt == nil
}

func (f *fakeStore) UpsertDecision(_ context.Context, d model.Decision) (model.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.phaseOKLocked(d.StudyID, d.Phase) {
		return model.Decision{}, storage.ErrPhaseMismatch
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	f.decisions[decisionKey(d.StudyID, d.Phase, d.ReviewerID)] = d
	return d, nil
}

func (f *fakeStore) InsertDecisionIfAbsent(_ context.Context, d model.Decision) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.phaseOKLocked(d.StudyID, d.Phase) {
		return false, storage.ErrPhaseMismatch
	}
	key := decisionKey(d.StudyID, d.Phase, d.ReviewerID)
	if _, exists := f.decisions[key]; exists {
		return false, nil
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	f.decisions[key] = d
	return true, nil
}

func (f *fakeStore) ListDecisions(_ context.Context, studyID uuid.UUID, phase model.Phase) ([]model.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.votesLocked(studyID, phase), nil
}

func (f *fakeStore) votesLocked(studyID uuid.UUID, phase model.Phase) []model.Decision {
	var out []model.Decision
	for _, d := range f.decisions {
		if d.StudyID == studyID && d.Phase == phase {
			out = append(out, d)
		}
	}
	return out
}

func (f *fakeStore) ListDecisionsByStudies(_ context.Context, studyIDs []uuid.UUID, phase model.Phase) (map[uuid.UUID][]model.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[uuid.UUID][]model.Decision{}
	for _, id := range studyIDs {
		if votes := f.votesLocked(id, phase); votes != nil {
			out[id] = votes
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteDecisions(_ context.Context, studyID uuid.UUID, phase model.Phase) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, d := range f.decisions {
		if d.StudyID == studyID && d.Phase == phase {
			delete(f.decisions, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CreateResolution(_ context.Context, r model.Resolution) (model.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := resolutionKey(r.StudyID, r.Phase)
	if _, exists := f.resolutions[key]; exists {
		return model.Resolution{}, storage.ErrAlreadyResolved
	}
	f.resolutions[key] = r
	return r, nil
}

func (f *fakeStore) GetResolution(_ context.Context, studyID uuid.UUID, phase model.Phase) (*model.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.resolutions[resolutionKey(studyID, phase)]; ok {
		return &r, nil
	}
	return nil, nil
}

func (f *fakeStore) ListResolutionsByStudies(_ context.Context, studyIDs []uuid.UUID, phase model.Phase) (map[uuid.UUID]*model.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[uuid.UUID]*model.Resolution{}
	for _, id := range studyIDs {
		if r, ok := f.resolutions[resolutionKey(id, phase)]; ok {
			res := r
			out[id] = &res
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteResolution(_ context.Context, studyID uuid.UUID, phase model.Phase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resolutions, resolutionKey(studyID, phase))
	return nil
}

func (f *fakeStore) UpsertAssignment(_ context.Context, a storage.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignments = append(f.assignments, a)
	return nil
}

func (f *fakeStore) LoadPhaseStates(_ context.Context, projectID uuid.UUID, phase model.Phase) ([]screening.StudyState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var states []screening.StudyState
	for _, s := range f.studies {
		if s.ProjectID != projectID || s.Phase != phase || s.ExcludedAt != nil {
			continue
		}
		state := screening.StudyState{Study: s, Votes: f.votesLocked(s.ID, phase)}
		if r, ok := f.resolutions[resolutionKey(s.ID, phase)]; ok {
			res := r
			state.Resolution = &res
		}
		states = append(states, state)
	}
	return states, nil
}

func (f *fakeStore) AdvancePhase(ctx context.Context, projectID uuid.UUID, from model.Phase, quorum int, _ uuid.UUID) (model.AdvanceResult, error) {
	states, err := f.LoadPhaseStates(ctx, projectID, from)
	if err != nil {
		return model.AdvanceResult{}, err
	}
	qual := screening.QualifyAdvance(states, quorum)
	if len(qual.Blockers) > 0 {
		return model.AdvanceResult{}, model.StaleStateError{
			Reason:  "phase has unresolved studies",
			Studies: qual.Blockers,
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	next, hasNext := from.Next()
	result := model.AdvanceResult{ToPhase: next}
	if !hasNext {
		result.ToPhase = from
	}
	for _, id := range qual.Include {
		if hasNext {
			s := f.studies[id]
			s.Phase = next
			f.studies[id] = s
			result.AdvancedCount++
		}
	}
	for _, id := range qual.Exclude {
		s := f.studies[id]
		now := time.Now().UTC()
		s.ExcludedAt = &now
		f.studies[id] = s
		result.ExcludedCount++
	}
	return result, nil
}

func (f *fakeStore) InsertAuditEvent(_ context.Context, ev storage.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, ev)
	return nil
}

func (f *fakeStore) Notify(_ context.Context, channel, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, channel+":"+payload)
	return nil
}
