package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	"github.com/shardhq/shard/internal/app/migrate"
	"github.com/shardhq/shard/internal/health"
	httpx "github.com/shardhq/shard/internal/http"
	"github.com/shardhq/shard/internal/repository/postgres"
	"github.com/shardhq/shard/internal/service/auth"
	"github.com/shardhq/shard/internal/service/deploy"
	"github.com/shardhq/shard/internal/service/logs"
	"github.com/shardhq/shard/internal/service/project"
	"github.com/shardhq/shard/internal/service/webhook"
	"github.com/shardhq/shard/internal/worker"
	"github.com/shardhq/shard/internal/ws"
	"github.com/shardhq/shard/pkg/config"
	"github.com/shardhq/shard/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("invalid database configuration", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// The relay surface stays up even when the database is unreachable, so
	// health checks can report it as disconnected instead of the whole
	// process dying.
	connected := connectDatabase(ctx, pool, cfg, log)
	if connected {
		runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	} else {
		log.Warn("starting in degraded mode, database unavailable")
	}

	repo := postgres.New(pool)
	dbInfo := postgres.NewDBInfo(pool)

	targets := []health.ServiceTarget{
		{Name: "deployment_worker", URL: cfg.WorkerURL},
		{Name: "ai_review", URL: cfg.AIReviewURL},
	}
	producer := health.NewProducer(dbInfo, targets, cfg.HealthProbeTimeout, log)
	logStartupProbes(ctx, producer, log)

	hub := ws.NewHub(func(ctx context.Context) any {
		return producer.Produce(ctx)
	}, cfg.HealthPushInterval, log)
	defer hub.Close()

	dispatcher, err := worker.New(cfg.WorkerURL, cfg.WorkerAuthToken)
	if err != nil {
		log.Error("invalid worker configuration", "error", err)
		os.Exit(1)
	}

	authSvc := auth.New(repo, log, cfg)
	projectSvc := project.New(repo, log, cfg)
	logSvc := logs.New(repo, hub, log)
	deploySvc := deploy.New(repo, repo, dispatcher, projectSvc, hub, log, logSvc)
	webhookSvc := webhook.New(repo, log, cfg)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable, using in-memory limits", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, cfg, authSvc, projectSvc, deploySvc, logSvc, webhookSvc, producer, hub, limiter)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown exceeded grace period, forcing exit", "error", err)
			os.Exit(1)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// connectDatabase pings the pool with bounded retries. It reports whether a
// connection was established; callers decide what degraded mode means.
func connectDatabase(ctx context.Context, pool *pgxpool.Pool, cfg config.APIConfig, log *slog.Logger) bool {
	attempts := cfg.DBConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(cfg.DBConnectDelay))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			log.Warn("database ping failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return false
	}
	log.Info("database connected", "attempts", attempt)
	return true
}

// logStartupProbes runs one snapshot at boot purely so operators can see the
// state of the dependent services in the logs.
func logStartupProbes(ctx context.Context, producer *health.Producer, log *slog.Logger) {
	snapshot := producer.Produce(ctx)
	for name, svc := range snapshot.Services {
		if svc.Status == health.StatusOK {
			log.Info("dependent service reachable", "service", name, "response_time_ms", svc.ResponseTimeMs)
		} else {
			log.Warn("dependent service unreachable", "service", name, "error", svc.Error)
		}
	}
	log.Info("database state at startup", "status", snapshot.Database.Status)
}
