// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelamos/clinica-identity/internal/admin"
	"github.com/angelamos/clinica-identity/internal/audit"
	"github.com/angelamos/clinica-identity/internal/auth"
	"github.com/angelamos/clinica-identity/internal/config"
	"github.com/angelamos/clinica-identity/internal/core"
	"github.com/angelamos/clinica-identity/internal/email"
	"github.com/angelamos/clinica-identity/internal/health"
	"github.com/angelamos/clinica-identity/internal/middleware"
	"github.com/angelamos/clinica-identity/internal/rbac"
	"github.com/angelamos/clinica-identity/internal/server"
	"github.com/angelamos/clinica-identity/internal/user"
)

const (
	drainDelay = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

// sessionKiller breaks the construction cycle between the user and auth
// services: the user service needs to revoke sessions, and the auth
// service needs user lookups. The inner pointer is set once the auth
// service exists, before the server starts accepting requests.
type sessionKiller struct {
	auth *auth.Service
}

func (k *sessionKiller) LogoutAll(ctx context.Context, userID string) error {
	return k.auth.LogoutAll(ctx, userID)
}

//nolint:funlen // bootstrap code is inherently verbose
func run(configPath string) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	var telemetry *core.Telemetry
	if cfg.Otel.Enabled {
		tel, telErr := core.NewTelemetry(ctx, cfg.Otel, cfg.App)
		if telErr != nil {
			logger.Warn("failed to initialize telemetry", "error", telErr)
		} else {
			telemetry = tel
			logger.Info("OpenTelemetry tracer initialized",
				"endpoint", cfg.Otel.Endpoint,
			)
		}
	}

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("database connected",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	redis, err := core.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	logger.Info("redis connected",
		"pool_size", cfg.Redis.PoolSize,
	)

	jwtManager, err := auth.NewJWTManager(cfg.JWT)
	if err != nil {
		return err
	}
	logger.Info("JWT manager initialized",
		"algorithm", "ES256",
		"key_id", jwtManager.GetKeyID(),
	)

	auditor := audit.NewRecorder(db.DB, logger)
	throttle := auth.NewLoginThrottle(redis.Client, cfg.Lockout.Window)
	codes := auth.NewCodeStore(redis.Client, auth.CodeStoreConfig{
		CodeTTL:       cfg.OTP.CodeTTL,
		MaxVerifies:   cfg.OTP.MaxVerifies,
		MaxRequests:   cfg.OTP.MaxRequests,
		RequestWindow: cfg.OTP.RequestWindow,
	})

	var mailer email.Sender
	if cfg.SMTP.Enabled {
		mailer = email.NewSMTPSender(cfg.SMTP)
		logger.Info("smtp sender configured", "host", cfg.SMTP.Host)
	} else {
		mailer = email.NewLogSender(logger)
		logger.Warn("smtp disabled, reset codes are logged instead of sent")
	}

	killer := &sessionKiller{}

	userRepo := user.NewRepository(db.DB)
	userSvc := user.NewService(userRepo, killer, jwtManager, throttle, auditor)

	rbacRepo := rbac.NewRepository(db.DB)
	permCache := rbac.NewCache(rbacRepo, cfg.PermCache.TTL)
	rbacSvc := rbac.NewService(db.DB, rbacRepo, permCache, userSvc, auditor)

	authRepo := auth.NewRepository(db.DB)
	authSvc := auth.NewService(
		authRepo,
		jwtManager,
		userSvc,
		rbacSvc,
		throttle,
		codes,
		mailer,
		redis.Client,
		auditor,
		cfg.Lockout.MaxAttempts,
	)
	killer.auth = authSvc

	cookies := auth.NewCookieWriter(cfg.Cookies)

	authHandler := auth.NewHandler(authSvc, cookies)
	rbacHandler := rbac.NewHandler(rbacSvc)
	userHandler := user.NewHandler(userSvc, rbacSvc)

	healthHandler := health.NewHandler(db, redis)

	adminHandler := admin.NewHandler(admin.HandlerConfig{
		DBStats:    db.Stats,
		RedisStats: redis.PoolStats,
		DBPing:     db.Ping,
		RedisPing:  redis.Ping,
		PermCache:  permCache,
		Tokens:     authRepo,
	})

	srv := server.New(server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: healthHandler,
		Logger:        logger,
	})

	router := srv.Router()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(logger))
	router.Use(
		middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
			Limit: middleware.PerMinute(
				cfg.RateLimit.Requests,
				cfg.RateLimit.Burst,
			),
			FailOpen: true,
		}).Handler,
	)
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler.RegisterRoutes(router)

	router.Get("/.well-known/jwks.json", jwtManager.GetJWKSHandler())

	authenticator := middleware.Authenticator(jwtManager, authSvc)
	permSource := rbac.CacheSource{Service: rbacSvc}

	router.Route("/api", func(r chi.Router) {
		authHandler.RegisterRoutes(r, authenticator)
		userHandler.RegisterPublicRoutes(r)

		r.Route("/admin", func(r chi.Router) {
			r.Use(authenticator)
			r.Use(middleware.CSRF)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(permSource, "users:manage"))
				userHandler.RegisterAdminRoutes(r, rbacHandler)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(permSource, "roles:manage"))
				rbacHandler.RegisterRoutes(r)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				adminHandler.RegisterRoutes(r)
			})
		})
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout+drainDelay+5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx, drainDelay); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}

	if err := redis.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	if err := db.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("application stopped")
	return nil
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
