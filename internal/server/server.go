package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/siftlab/sieve/internal/auth"
	"github.com/siftlab/sieve/internal/model"
	"github.com/siftlab/sieve/internal/ratelimit"
	"github.com/siftlab/sieve/internal/service/review"
)

// Server is the Sieve HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional fields (nil-safe): APILimiter, AuthLimiter, Broker,
// MCPServer.
type ServerConfig struct {
	// Required dependencies.
	DB        Store
	JWTMgr    *auth.JWTManager
	ReviewSvc *review.Service
	Logger    *slog.Logger

	// Optional dependencies (nil = disabled).
	APILimiter  ratelimit.Limiter // keyed by reviewer, admins exempt
	AuthLimiter ratelimit.Limiter // keyed by client IP
	Broker      *Broker
	MCPServer   *mcpserver.MCPServer

	// Defaults applied to newly created projects.
	DefaultQuorumSize     int
	DefaultBlindScreening bool

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:        cfg.DB,
		JWTMgr:    cfg.JWTMgr,
		ReviewSvc: cfg.ReviewSvc,
		Broker:    cfg.Broker,
		Logger:    cfg.Logger,
		Version:   cfg.Version,
		MaxBody:   cfg.MaxRequestBodyBytes,

		DefaultQuorum: cfg.DefaultQuorumSize,
		DefaultBlind:  cfg.DefaultBlindScreening,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	apiRL := ratelimit.Middleware(cfg.APILimiter, reviewerKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.AuthLimiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Auth endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Reviewer management (admin-only).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/reviewers", adminOnly(http.HandlerFunc(h.HandleCreateReviewer)))

	// Override operations (lead+): harmonization, advancement, batch,
	// project setup, ingestion, audit.
	leadOnly := requireRole(model.RoleLead, model.RoleAdmin)
	mux.Handle("POST /v1/projects", leadOnly(http.HandlerFunc(h.HandleCreateProject)))
	mux.Handle("POST /v1/projects/{project_id}/studies", leadOnly(http.HandlerFunc(h.HandleIngestStudies)))
	mux.Handle("POST /v1/projects/{project_id}/phases/{phase}/advance", leadOnly(http.HandlerFunc(h.HandleAdvancePhase)))
	mux.Handle("GET /v1/projects/{project_id}/audit", leadOnly(http.HandlerFunc(h.HandleAudit)))
	mux.Handle("POST /v1/studies/{study_id}/resolution", leadOnly(http.HandlerFunc(h.HandleResolve)))

	// Screening endpoints (reviewer+, rate limited per reviewer). The
	// service layer enforces the finer-grained rules (batch ops that
	// need lead, archived studies, phase mismatches).
	anyReviewer := requireRole(model.RoleReviewer, model.RoleLead, model.RoleAdmin)
	mux.Handle("GET /v1/projects/{project_id}", apiRL(anyReviewer(http.HandlerFunc(h.HandleGetProject))))
	mux.Handle("GET /v1/projects/{project_id}/queue", apiRL(anyReviewer(http.HandlerFunc(h.HandleQueue))))
	mux.Handle("GET /v1/projects/{project_id}/phases/{phase}/stats", apiRL(anyReviewer(http.HandlerFunc(h.HandlePhaseStats))))
	mux.Handle("GET /v1/projects/{project_id}/phases/{phase}/conflicts", apiRL(anyReviewer(http.HandlerFunc(h.HandleListConflicts))))
	mux.Handle("POST /v1/projects/{project_id}/batch", apiRL(anyReviewer(http.HandlerFunc(h.HandleBatch))))
	mux.Handle("GET /v1/studies/{study_id}", apiRL(anyReviewer(http.HandlerFunc(h.HandleGetStudy))))
	mux.Handle("POST /v1/studies/{study_id}/decisions", apiRL(anyReviewer(http.HandlerFunc(h.HandleSubmitDecision))))
	mux.Handle("GET /v1/studies/{study_id}/status", apiRL(anyReviewer(http.HandlerFunc(h.HandleStudyStatus))))

	// Subscription endpoint (reviewer+, no rate limit on a long-lived connection).
	mux.Handle("GET /v1/subscribe", anyReviewer(http.HandlerFunc(h.HandleSubscribe)))

	// MCP StreamableHTTP transport (auth required, reviewer+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", anyReviewer(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// reviewerKeyFunc keys rate limiting on the authenticated reviewer.
// Admins are exempt.
func reviewerKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if claims.Role == model.RoleAdmin {
		return ""
	}
	return claims.Subject
}

// Handlers returns the underlying Handlers for use in tests.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
