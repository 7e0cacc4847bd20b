package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/medicore/hms/internal/app"
	"github.com/medicore/hms/internal/audit"
	audithttp "github.com/medicore/hms/internal/audit/http"
	"github.com/medicore/hms/internal/auth"
	"github.com/medicore/hms/internal/dashboard"
	"github.com/medicore/hms/internal/observability"
	"github.com/medicore/hms/internal/platform/cache"
	"github.com/medicore/hms/internal/platform/db"
	"github.com/medicore/hms/internal/rbac"
	"github.com/medicore/hms/internal/roles"
	"github.com/medicore/hms/internal/shared"
	"github.com/medicore/hms/internal/users"
	"github.com/medicore/hms/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "hms_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)

	metrics := observability.NewMetrics()
	rbacMetrics, err := rbac.NewMetrics(metrics.Registerer())
	if err != nil {
		logger.Error("register rbac metrics", slog.Any("error", err))
		os.Exit(1)
	}

	permissionCache, err := app.NewPermissionCache(cfg, redisClient)
	if err != nil {
		logger.Error("permission cache", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	auditRepo := audit.NewRepository(dbpool)
	var auditSink audit.Sink = audit.NewDirectSink(auditRepo, logger)
	if cfg.AuditAsync {
		queue := jobs.NewClient(redisOpts)
		defer func() {
			if err := queue.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		auditSink = audit.NewAsyncSink(queue, logger)
	}

	rbacStore := rbac.NewRepository(dbpool)
	resolver := rbac.NewResolver(rbacStore, permissionCache, rbac.ResolverConfig{
		TTL:                cfg.PermissionCacheTTL,
		CaseSensitiveRoles: cfg.RoleMatchCaseSensitive,
		Logger:             logger,
		Metrics:            rbacMetrics,
	})
	rbacService := rbac.NewService(rbacStore, resolver, rbac.DefaultDependencyRules(), auditSink, logger)
	rbacMiddleware := rbac.Middleware{Resolver: resolver, Audit: auditSink, Logger: logger}

	if stored, err := rbacStore.ListPermissions(ctx); err != nil {
		logger.Warn("list stored permissions", slog.Any("error", err))
	} else if extra := rbac.DefaultRegistry().Unregistered(stored); len(extra) > 0 {
		logger.Warn("stored permissions missing from registry", slog.Any("permissions", extra))
	}

	authService := auth.NewService(auth.NewRepository(dbpool))
	authHandler := auth.NewHandler(logger, authService, tokens, sessionManager, csrfManager, auditSink)

	rolesHandler := roles.NewHandler(logger, rbacService, rbacMiddleware)
	usersHandler := users.NewHandler(logger, users.NewService(users.NewRepository(dbpool)), rbacService, resolver, rbacMiddleware)
	dashboardHandler := dashboard.NewHandler(logger, dashboard.NewService(rbacStore), rbacMiddleware)
	auditHandler := audithttp.NewHandler(logger, audit.NewService(auditRepo), rbacMiddleware.RequireAny(rbac.PermViewActivityLogs))

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger, rbacMiddleware.RequireSuperAdmin)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		Tokens:           tokens,
		RBACMiddleware:   rbacMiddleware,
		AuthHandler:      authHandler,
		RolesHandler:     rolesHandler,
		UsersHandler:     usersHandler,
		DashboardHandler: dashboardHandler,
		AuditHandler:     auditHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
