package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/siftlab/sieve/internal/auth"
	"github.com/siftlab/sieve/internal/model"
	"github.com/siftlab/sieve/internal/service/review"
	"github.com/siftlab/sieve/internal/storage"
)

// Store is the persistence surface the HTTP handlers use directly. It
// extends the screening service's store with the CRUD the handlers own
// (projects, ingestion, reviewers, audit). *storage.DB satisfies it.
type Store interface {
	review.Store

	CreateProject(ctx context.Context, p model.Project) (model.Project, error)
	CreateStudies(ctx context.Context, projectID uuid.UUID, inputs []model.NewStudyInput) ([]model.Study, error)
	CreateReviewer(ctx context.Context, r model.Reviewer) (model.Reviewer, error)
	GetReviewerByHandle(ctx context.Context, handle string) (model.Reviewer, error)
	ListAuditEvents(ctx context.Context, projectID uuid.UUID, limit int) ([]storage.AuditEvent, error)
	Ping(ctx context.Context) error
}

// Handlers carries the dependencies shared by all HTTP handlers.
type Handlers struct {
	db        Store
	jwtMgr    *auth.JWTManager
	svc       *review.Service
	broker    *Broker
	logger    *slog.Logger
	version   string
	startedAt time.Time
	maxBody   int64

	defaultQuorum int
	defaultBlind  bool
}

// HandlersDeps bundles the constructor arguments for Handlers.
type HandlersDeps struct {
	DB        Store
	JWTMgr    *auth.JWTManager
	ReviewSvc *review.Service
	Broker    *Broker
	Logger    *slog.Logger
	Version   string
	MaxBody   int64

	DefaultQuorum int
	DefaultBlind  bool
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	if deps.MaxBody <= 0 {
		deps.MaxBody = 1 << 20
	}
	if deps.DefaultQuorum < 1 {
		deps.DefaultQuorum = model.DefaultQuorumSize
	}
	return &Handlers{
		db:        deps.DB,
		jwtMgr:    deps.JWTMgr,
		svc:       deps.ReviewSvc,
		broker:    deps.Broker,
		logger:    deps.Logger,
		version:   deps.Version,
		startedAt: time.Now(),
		maxBody:   deps.MaxBody,

		defaultQuorum: deps.DefaultQuorum,
		defaultBlind:  deps.DefaultBlind,
	}
}

// HandleHealth reports liveness and database reachability.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Error("health check: database unreachable", "error", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, map[string]any{
		"status":         status,
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// HandleAuthToken exchanges a reviewer handle plus API key for a JWT.
// Unknown handles still burn an Argon2 verification so response timing
// does not reveal which handles exist.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Handle == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "handle and api_key are required")
		return
	}

	reviewer, err := h.db.GetReviewerByHandle(r.Context(), req.Handle)
	if err != nil || reviewer.APIKeyHash == nil || reviewer.Role == model.RoleSystem {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	ok, err := auth.VerifyAPIKey(req.APIKey, *reviewer.APIKeyHash)
	if err != nil || !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(reviewer)
	if err != nil {
		h.logger.Error("issue token", "error", err, "handle", reviewer.Handle)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"token":       token,
		"expires_at":  expiresAt.UTC(),
		"reviewer_id": reviewer.ID,
		"role":        reviewer.Role,
	})
}

// pathUUID parses a UUID path segment, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// pathPhase parses a phase path segment, writing a 400 on failure.
func pathPhase(w http.ResponseWriter, r *http.Request) (model.Phase, bool) {
	phase, err := model.ParsePhase(r.PathValue("phase"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return "", false
	}
	return phase, true
}
