// Package review provides the shared business logic for screening operations.
//
// Both the HTTP API and MCP server delegate to this service, eliminating
// duplicated logic and ensuring consistent behavior (quorum evaluation,
// blinding, conflict detection, notification) across all interfaces.
package review

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/siftlab/sieve/internal/model"
	"github.com/siftlab/sieve/internal/screening"
	"github.com/siftlab/sieve/internal/storage"
	"github.com/siftlab/sieve/internal/telemetry"
)

// Store is the persistence surface the review service needs. *storage.DB
// implements it; tests substitute an in-memory fake so engine behavior
// (blinding, batch isolation, gate preconditions) is testable without
// Postgres.
type Store interface {
	GetProject(ctx context.Context, id uuid.UUID) (model.Project, error)
	GetStudy(ctx context.Context, id uuid.UUID) (model.Study, error)
	SetStudyPhase(ctx context.Context, studyID uuid.UUID, phase model.Phase) error
	ListQueue(ctx context.Context, req model.QueueRequest, quorum int, caller uuid.UUID) ([]model.Study, int, error)

	UpsertDecision(ctx context.Context, d model.Decision) (model.Decision, error)
	InsertDecisionIfAbsent(ctx context.Context, d model.Decision) (bool, error)
	ListDecisions(ctx context.Context, studyID uuid.UUID, phase model.Phase) ([]model.Decision, error)
	ListDecisionsByStudies(ctx context.Context, studyIDs []uuid.UUID, phase model.Phase) (map[uuid.UUID][]model.Decision, error)
	DeleteDecisions(ctx context.Context, studyID uuid.UUID, phase model.Phase) (int64, error)

	CreateResolution(ctx context.Context, r model.Resolution) (model.Resolution, error)
	GetResolution(ctx context.Context, studyID uuid.UUID, phase model.Phase) (*model.Resolution, error)
	ListResolutionsByStudies(ctx context.Context, studyIDs []uuid.UUID, phase model.Phase) (map[uuid.UUID]*model.Resolution, error)
	DeleteResolution(ctx context.Context, studyID uuid.UUID, phase model.Phase) error

	UpsertAssignment(ctx context.Context, a storage.Assignment) error

	LoadPhaseStates(ctx context.Context, projectID uuid.UUID, phase model.Phase) ([]screening.StudyState, error)
	AdvancePhase(ctx context.Context, projectID uuid.UUID, from model.Phase, quorum int, actor uuid.UUID) (model.AdvanceResult, error)

	InsertAuditEvent(ctx context.Context, ev storage.AuditEvent) error
	Notify(ctx context.Context, channel, payload string) error
}

// Service encapsulates screening business logic shared by HTTP and MCP handlers.
type Service struct {
	db               Store
	logger           *slog.Logger
	batchConcurrency int64

	decisionsSubmitted metric.Int64Counter
	advanceDuration    metric.Float64Histogram
}

// New creates a review Service. batchConcurrency bounds how many studies a
// single batch operation touches in parallel.
func New(db Store, batchConcurrency int, logger *slog.Logger) *Service {
	if batchConcurrency < 1 {
		batchConcurrency = 1
	}
	meter := telemetry.Meter("sieve/review")
	submitted, _ := meter.Int64Counter("sieve.decisions.submitted",
		metric.WithDescription("Decisions submitted, by verdict"),
	)
	advDur, _ := meter.Float64Histogram("sieve.phase.advance.duration",
		metric.WithDescription("Time to execute a phase advancement (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{
		db:                 db,
		logger:             logger,
		batchConcurrency:   int64(batchConcurrency),
		decisionsSubmitted: submitted,
		advanceDuration:    advDur,
	}
}
