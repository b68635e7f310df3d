// Package sieve embeds the Sieve screening server in a host application.
//
// Sieve coordinates multi-reviewer study screening for systematic reviews:
// independent verdicts collect toward a per-project quorum, disagreements
// surface as conflicts for a lead to harmonize, and whole phases advance
// atomically once every study is settled.
//
// Most deployments run the sieved binary; this package exists for programs
// that want the same server inside their own process:
//
//	app, err := sieve.New(sieve.WithDatabaseURL(dsn), sieve.WithLogger(logger))
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
package sieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/siftlab/sieve/internal/auth"
	"github.com/siftlab/sieve/internal/config"
	"github.com/siftlab/sieve/internal/mcp"
	"github.com/siftlab/sieve/internal/model"
	"github.com/siftlab/sieve/internal/ratelimit"
	"github.com/siftlab/sieve/internal/server"
	"github.com/siftlab/sieve/internal/service/review"
	"github.com/siftlab/sieve/internal/storage"
	"github.com/siftlab/sieve/internal/telemetry"
	"github.com/siftlab/sieve/migrations"
)

// App is a fully wired Sieve instance: storage, screening service, MCP
// surface, and HTTP server.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	db     *storage.DB
	srv    *server.Server
	broker *server.Broker

	apiLimiter   ratelimit.Limiter
	authLimiter  ratelimit.Limiter
	otelShutdown telemetry.Shutdown
}

// New loads configuration, connects to Postgres, runs migrations, and wires
// every component. The returned App is ready to Run.
func New(opts ...Option) (*App, error) {
	var o resolvedOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	ctx := context.Background()

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for _, extra := range o.extraMigrations {
		if err := db.RunMigrations(ctx, extra); err != nil {
			db.Close(ctx)
			return nil, fmt.Errorf("extra migrations: %w", err)
		}
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("auth: %w", err)
	}

	reviewSvc := review.New(db, cfg.BatchConcurrency, logger)
	mcpSrv := mcp.New(reviewSvc, logger, version)

	var broker *server.Broker
	if db.HasNotifyConn() {
		broker = server.NewBroker(db, logger)
	} else {
		logger.Info("SSE broker: disabled (no NOTIFY_URL)")
	}

	var apiLimiter, authLimiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		apiLimiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		// Token exchanges are far rarer than screening calls; one per
		// second per IP absorbs retries without enabling brute force.
		authLimiter = ratelimit.NewMemoryLimiter(1, 5)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		apiLimiter = ratelimit.NoopLimiter{}
		authLimiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.ServerConfig{
		DB:          db,
		JWTMgr:      jwtMgr,
		ReviewSvc:   reviewSvc,
		Logger:      logger,
		APILimiter:  apiLimiter,
		AuthLimiter: authLimiter,
		Broker:      broker,
		MCPServer:   mcpSrv.MCPServer(),

		DefaultQuorumSize:     cfg.DefaultQuorumSize,
		DefaultBlindScreening: cfg.DefaultBlind,

		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	app := &App{
		cfg:          cfg,
		logger:       logger,
		db:           db,
		srv:          srv,
		broker:       broker,
		apiLimiter:   apiLimiter,
		authLimiter:  authLimiter,
		otelShutdown: otelShutdown,
	}

	if cfg.AdminAPIKey != "" {
		if err := app.seedAdmin(ctx); err != nil {
			logger.Warn("admin seed failed", "error", err)
		}
	}

	return app, nil
}

// seedAdmin upserts the bootstrap admin reviewer from SIEVE_ADMIN_API_KEY.
// Idempotent: re-running with the same key leaves the reviewer unchanged
// except for a refreshed hash.
func (a *App) seedAdmin(ctx context.Context) error {
	hash, err := auth.HashAPIKey(a.cfg.AdminAPIKey)
	if err != nil {
		return fmt.Errorf("hash admin key: %w", err)
	}
	reviewer, err := a.db.UpsertReviewerByHandle(ctx, model.Reviewer{
		Handle:      "admin",
		DisplayName: "Administrator",
		Role:        model.RoleAdmin,
		APIKeyHash:  &hash,
	})
	if err != nil {
		return fmt.Errorf("upsert admin: %w", err)
	}
	a.logger.Info("admin reviewer seeded", "handle", reviewer.Handle, "id", reviewer.ID)
	return nil
}

// Run starts the broker and HTTP server, then blocks until the context is
// cancelled or the server fails. It shuts the App down before returning.
func (a *App) Run(ctx context.Context) error {
	if a.broker != nil {
		go func() {
			if err := a.broker.Run(ctx); err != nil {
				a.logger.Error("broker stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.shutdown()
		return err
	}

	a.logger.Info("sieve shutting down")
	httpCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	a.shutdown()
	a.logger.Info("sieve stopped")
	return nil
}

// shutdown releases everything Run started. Safe to call once.
func (a *App) shutdown() {
	_ = a.apiLimiter.Close()
	_ = a.authLimiter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.db.Close(ctx)
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
	}
}

// Handler exposes the root HTTP handler, mainly for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}
