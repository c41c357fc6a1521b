package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/oh-ehr-portal/cmd/mainconfig"
	"github.com/wolfman30/oh-ehr-portal/internal/app/bootstrap"
	appconfig "github.com/wolfman30/oh-ehr-portal/internal/config"
	"github.com/wolfman30/oh-ehr-portal/internal/db"
	"github.com/wolfman30/oh-ehr-portal/internal/notify"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting oh-ehr-portal API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	tel := setupMetrics()
	app, err := buildPortal(cfg, pool, awsCfg, redisClient, tel, logger)
	if err != nil {
		logger.Error("failed to wire services", "error", err)
		os.Exit(1)
	}
	defer app.rateLimiter.Stop()

	if n, err := app.forms.SeedBuiltins(ctx); err != nil {
		logger.Warn("failed to seed built-in form templates", "error", err)
	} else if n > 0 {
		logger.Info("seeded built-in form templates", "count", n)
	}

	var mailer *notify.Mailer
	if app.inProcess {
		logger.Info("USE_MEMORY_QUEUE enabled, running notification delivery in-process")
		dispatcher := notify.NewDispatcher(app.notifyRepo, app.queue, logger).
			WithInterval(cfg.NotificationPollInterval).
			WithMaxAttempts(cfg.NotificationMaxAttempts).
			WithObserver(tel.metrics)
		go dispatcher.Start(ctx)

		mailer = notify.NewMailer(app.queue, app.auth, app.emailSender, logger,
			notify.WithMailerWorkers(cfg.WorkerCount),
			notify.WithMailerObserver(tel.metrics),
		)
		mailer.Start(ctx)
	}

	srv := newServer(cfg, app.handler)

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if mailer != nil {
		mailer.Wait()
	}
	logger.Info("server stopped")
}

// newServer applies the portal's timeouts. WriteTimeout stays zero because
// WebSocket signaling connections are long-lived.
func newServer(cfg *appconfig.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
