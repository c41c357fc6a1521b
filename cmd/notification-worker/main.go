package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/oh-ehr-portal/cmd/mainconfig"
	"github.com/wolfman30/oh-ehr-portal/internal/app/bootstrap"
	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/config"
	"github.com/wolfman30/oh-ehr-portal/internal/db"
	"github.com/wolfman30/oh-ehr-portal/internal/notify"
	"github.com/wolfman30/oh-ehr-portal/internal/observability/metrics"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("notification worker requires DATABASE_URL")
		os.Exit(1)
	}
	if cfg.UseMemoryQueue {
		logger.Error("notification worker needs SQS; with USE_MEMORY_QUEUE the API delivers in-process")
		os.Exit(1)
	}

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

	queue, _, err := bootstrap.BuildNotificationQueue(cfg, sqs.NewFromConfig(awsCfg))
	if err != nil {
		logger.Error("failed to build notification queue", "error", err)
		os.Exit(1)
	}
	sender, provider, reason := bootstrap.BuildEmailSender(cfg, sesv2.NewFromConfig(awsCfg), logger)
	if reason != "" {
		logger.Warn("email provider unavailable, using stub", "reason", reason)
	}

	reg := prometheus.NewRegistry()
	portalMetrics := metrics.NewPortalMetrics(reg)

	// Recipients only need user lookups; the token issuer is never exercised here.
	users := auth.NewService(auth.NewPostgresRepository(pool), nil, auth.WithLogger(logger))

	dispatcher := notify.NewDispatcher(notify.NewPostgresRepository(pool), queue, logger).
		WithInterval(cfg.NotificationPollInterval).
		WithMaxAttempts(cfg.NotificationMaxAttempts).
		WithObserver(portalMetrics)
	mailer := notify.NewMailer(queue, users, sender, logger,
		notify.WithMailerWorkers(cfg.WorkerCount),
		notify.WithMailerObserver(portalMetrics),
	)

	var metricsSrv *http.Server
	if cfg.MetricsEnabled {
		metricsSrv = &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	logger.Info("notification worker started",
		"workers", cfg.WorkerCount,
		"email_provider", provider,
		"poll_interval", cfg.NotificationPollInterval,
	)
	go dispatcher.Start(ctx)
	mailer.Start(ctx)

	<-ctx.Done()
	logger.Info("notification worker shutting down")
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	mailer.Wait()
}
