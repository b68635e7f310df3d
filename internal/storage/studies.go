package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/siftlab/sieve/internal/model"
)

const studyColumns = `s.id, s.project_id, s.title, s.authors, s.year, s.venue,
	 s.external_ids, s.ai_verdict, s.ai_confidence, s.phase, s.tags,
	 s.excluded_at, s.created_at, s.updated_at`

// CreateStudies bulk-inserts candidate studies into a project. All studies
// start in TITLE_ABSTRACT. Bibliographic fields are immutable afterwards.
func (db *DB) CreateStudies(ctx context.Context, projectID uuid.UUID, inputs []model.NewStudyInput) ([]model.Study, error) {
	now := time.Now().UTC()
	studies := make([]model.Study, len(inputs))

	batch := &pgx.Batch{}
	for i, in := range inputs {
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
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if s.Tags == nil {
			s.Tags = []string{}
		}
		if s.ExternalIDs == nil {
			s.ExternalIDs = map[string]string{}
		}
		studies[i] = s

		var aiVerdict *string
		var aiConfidence *int
		if s.Suggestion != nil {
			v := string(s.Suggestion.Verdict)
			c := s.Suggestion.Confidence
			aiVerdict, aiConfidence = &v, &c
		}
		batch.Queue(
			`INSERT INTO studies (id, project_id, title, authors, year, venue,
			 external_ids, ai_verdict, ai_confidence, phase, tags, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			s.ID, s.ProjectID, s.Title, s.Authors, s.Year, s.Venue,
			s.ExternalIDs, aiVerdict, aiConfidence, s.Phase, s.Tags, s.CreatedAt, s.UpdatedAt,
		)
	}

	results := db.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range inputs {
		if _, err := results.Exec(); err != nil {
			return nil, fmt.Errorf("storage: create studies: %w", err)
		}
	}
	return studies, nil
}

// GetStudy retrieves a study by ID.
func (db *DB) GetStudy(ctx context.Context, id uuid.UUID) (model.Study, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+studyColumns+` FROM studies s WHERE s.id = $1`, id)
	s, err := scanStudy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Study{}, fmt.Errorf("storage: get study %s: %w", id, ErrNotFound)
		}
		return model.Study{}, fmt.Errorf("storage: get study: %w", err)
	}
	return s, nil
}

// SetStudyPhase force-moves a study's phase pointer. This bypasses the phase
// gate; callers are responsible for authorization and audit logging.
func (db *DB) SetStudyPhase(ctx context.Context, studyID uuid.UUID, phase model.Phase) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE studies SET phase = $1, excluded_at = NULL, updated_at = now() WHERE id = $2`,
		phase, studyID,
	)
	if err != nil {
		return fmt.Errorf("storage: set study phase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: set study phase %s: %w", studyID, ErrNotFound)
	}
	return nil
}

// ListQueue executes the reviewer queue query: search, status filtering,
// stable ordering, and pagination. Archived (excluded) studies never appear.
// The status filter needs the project's quorum size and the caller identity
// because pending/completed are derived from the decision rows.
func (db *DB) ListQueue(ctx context.Context, req model.QueueRequest, quorum int, caller uuid.UUID) ([]model.Study, int, error) {
	where, args := buildQueueWhere(req, quorum, caller)

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM studies s`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count queue: %w", err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT `+studyColumns+` FROM studies s%s %s LIMIT %d OFFSET %d`,
		where, queueOrderClause(req.SortBy, req.SortDesc), limit, offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: query queue: %w", err)
	}
	defer rows.Close()

	studies, err := scanStudies(rows)
	if err != nil {
		return nil, 0, err
	}
	return studies, total, nil
}

// quorum-dependent subqueries reused by the status filters.
const (
	votesSub    = `(SELECT COUNT(DISTINCT d.reviewer_id) FROM decisions d WHERE d.study_id = s.id AND d.phase = s.phase)`
	verdictsSub = `(SELECT COUNT(DISTINCT d.verdict) FROM decisions d WHERE d.study_id = s.id AND d.phase = s.phase)`
	maybeSub    = `(SELECT MIN(d.verdict) FROM decisions d WHERE d.study_id = s.id AND d.phase = s.phase)`
	resolvedSub = `EXISTS (SELECT 1 FROM resolutions r WHERE r.study_id = s.id AND r.phase = s.phase)`
)

func buildQueueWhere(req model.QueueRequest, quorum int, caller uuid.UUID) (string, []any) {
	conditions := []string{
		"s.project_id = $1",
		"s.phase = $2",
		"s.excluded_at IS NULL",
	}
	args := []any{req.ProjectID, req.Phase}
	idx := 3

	if req.Search != "" {
		conditions = append(conditions,
			fmt.Sprintf("(s.title ILIKE $%d OR s.authors ILIKE $%d OR s.venue ILIKE $%d)", idx, idx, idx))
		args = append(args, "%"+req.Search+"%")
		idx++
	}

	callerVotedSub := fmt.Sprintf(
		`EXISTS (SELECT 1 FROM decisions d WHERE d.study_id = s.id AND d.phase = s.phase AND d.reviewer_id = $%d)`, idx)

	switch req.Status {
	case model.FilterPending:
		conditions = append(conditions,
			"NOT "+callerVotedSub,
			fmt.Sprintf("%s < $%d", votesSub, idx+1))
		args = append(args, caller, quorum)
	case model.FilterVoted:
		conditions = append(conditions, callerVotedSub)
		args = append(args, caller)
	case model.FilterCompleted:
		conditions = append(conditions, fmt.Sprintf("%s >= $%d", votesSub, idx))
		args = append(args, quorum)
	case model.FilterConflicts:
		conditions = append(conditions,
			fmt.Sprintf("%s >= $%d", votesSub, idx),
			fmt.Sprintf("(%s > 1 OR %s = 'MAYBE')", verdictsSub, maybeSub),
			"NOT "+resolvedSub)
		args = append(args, quorum)
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

// queueOrderClause maps a sort key to a stable ORDER BY: every key is
// tiebroken by study id so pagination never shuffles rows between pages.
func queueOrderClause(sortBy model.QueueSort, desc bool) string {
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	switch sortBy {
	case model.SortAIConfidence:
		return fmt.Sprintf("ORDER BY s.ai_confidence %s NULLS LAST, s.id ASC", dir)
	case model.SortRecency:
		return fmt.Sprintf("ORDER BY s.created_at %s, s.id ASC", dir)
	case model.SortTitle:
		return fmt.Sprintf("ORDER BY LOWER(s.title) %s, s.id ASC", dir)
	case model.SortYear:
		return fmt.Sprintf("ORDER BY s.year %s NULLS LAST, s.id ASC", dir)
	default:
		// Priority: least-certain AI suggestions first, since those are where a
		// human reviewer adds the most value. Unsuggested studies rank first.
		return "ORDER BY ABS(COALESCE(s.ai_confidence, 50) - 50) ASC, s.id ASC"
	}
}

func scanStudy(row pgx.Row) (model.Study, error) {
	var s model.Study
	var aiVerdict *string
	var aiConfidence *int
	err := row.Scan(
		&s.ID, &s.ProjectID, &s.Title, &s.Authors, &s.Year, &s.Venue,
		&s.ExternalIDs, &aiVerdict, &aiConfidence, &s.Phase, &s.Tags,
		&s.ExcludedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return model.Study{}, err
	}
	if aiVerdict != nil && aiConfidence != nil {
		s.Suggestion = &model.AISuggestion{Verdict: model.Verdict(*aiVerdict), Confidence: *aiConfidence}
	}
	return s, nil
}

func scanStudies(rows pgx.Rows) ([]model.Study, error) {
	var studies []model.Study
	for rows.Next() {
		s, err := scanStudy(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan study: %w", err)
		}
		studies = append(studies, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: scan studies: %w", err)
	}
	return studies, nil
}
