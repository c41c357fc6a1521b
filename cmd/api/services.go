package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/oh-ehr-portal/cmd/mainconfig"
	"github.com/wolfman30/oh-ehr-portal/internal/api/router"
	"github.com/wolfman30/oh-ehr-portal/internal/app/bootstrap"
	"github.com/wolfman30/oh-ehr-portal/internal/appointments"
	"github.com/wolfman30/oh-ehr-portal/internal/audit"
	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/compliance"
	appconfig "github.com/wolfman30/oh-ehr-portal/internal/config"
	"github.com/wolfman30/oh-ehr-portal/internal/dashboard"
	"github.com/wolfman30/oh-ehr-portal/internal/documents"
	"github.com/wolfman30/oh-ehr-portal/internal/employees"
	"github.com/wolfman30/oh-ehr-portal/internal/encryption"
	"github.com/wolfman30/oh-ehr-portal/internal/forms"
	"github.com/wolfman30/oh-ehr-portal/internal/healthrecords"
	httpmiddleware "github.com/wolfman30/oh-ehr-portal/internal/http/middleware"
	"github.com/wolfman30/oh-ehr-portal/internal/messaging"
	"github.com/wolfman30/oh-ehr-portal/internal/notify"
	"github.com/wolfman30/oh-ehr-portal/internal/observability/metrics"
	"github.com/wolfman30/oh-ehr-portal/internal/professionals"
	"github.com/wolfman30/oh-ehr-portal/internal/terminology"
	"github.com/wolfman30/oh-ehr-portal/internal/video"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

// telemetry bundles the private registry's views.
type telemetry struct {
	handler  http.Handler
	metrics  *metrics.PortalMetrics
	snapshot *metrics.Snapshotter
}

// setupMetrics builds a private registry with the portal collectors and the
// Go runtime/process collectors.
func setupMetrics() telemetry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return telemetry{
		handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		metrics:  metrics.NewPortalMetrics(reg),
		snapshot: metrics.NewSnapshotter(reg),
	}
}

// portal is the fully wired API process.
type portal struct {
	handler     http.Handler
	forms       *forms.Service
	notifyRepo  notify.Repository
	auth        *auth.Service
	queue       notify.Queue
	inProcess   bool
	emailSender notify.EmailSender
	rateLimiter *httpmiddleware.RateLimiter
}

func buildPortal(cfg *appconfig.Config, pool *pgxpool.Pool, awsCfg aws.Config, redisClient *redis.Client,
	tel telemetry, logger *logging.Logger) (*portal, error) {
	portalMetrics := tel.metrics
	cipher, err := encryption.New(cfg.EncryptionSecretKey)
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}
	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("tokens: %w", err)
	}

	var sqsClient notify.SQSAPI
	if !cfg.UseMemoryQueue {
		sqsClient = sqs.NewFromConfig(awsCfg)
	}
	queue, inProcess, err := bootstrap.BuildNotificationQueue(cfg, sqsClient)
	if err != nil {
		return nil, err
	}
	sender, provider, reason := bootstrap.BuildEmailSender(cfg, sesv2.NewFromConfig(awsCfg), logger)
	if reason != "" {
		logger.Warn("email provider unavailable, using stub", "reason", reason)
	}
	logger.Info("email provider selected", "provider", provider)

	// The audit trail goes through database/sql on the same pool.
	auditSvc := audit.NewService(stdlib.OpenDBFromPool(pool))
	terms := terminology.Default()

	authSvc := auth.NewService(auth.NewPostgresRepository(pool), tokens,
		auth.WithThrottle(auth.NewRedisThrottle(redisClient, cfg.LoginMaxFailures, cfg.LoginFailureWindow, logger)),
		auth.WithAudit(auditSvc),
		auth.WithResetMailer(notify.NewAccountMailer(sender, cfg.PublicBaseURL, logger)),
		auth.WithLoginObserver(portalMetrics),
		auth.WithLogger(logger),
		auth.WithRefreshTTL(cfg.RefreshTokenExpiration),
		auth.WithResetTTL(cfg.PasswordResetTTL),
		auth.WithTOTPIssuer(cfg.TOTPIssuer),
	)

	notifyRepo := notify.NewPostgresRepository(pool)
	notifySvc := notify.NewService(notifyRepo, logger)
	employeeSvc := employees.NewService(employees.NewPostgresRepository(pool), auditSvc, logger)
	professionalSvc := professionals.NewService(professionals.NewPostgresRepository(pool), authSvc, auditSvc, logger)
	appointmentSvc := appointments.NewService(appointments.NewPostgresRepository(pool), employeeSvc, professionalSvc,
		notifySvc, auditSvc, logger).WithReminderLead(cfg.ReminderLeadTime)

	var blobs documents.BlobStore
	if cfg.DocumentsBucket != "" {
		blobs = documents.NewS3Store(mainconfig.NewS3Client(awsCfg, cfg), cfg.DocumentsBucket)
	} else {
		logger.Warn("DOCUMENTS_BUCKET not set, document blobs are kept in memory")
		blobs = documents.NewMemoryStore()
	}
	documentSvc := documents.NewService(documents.NewPostgresRepository(pool), blobs, employeeSvc, notifySvc, auditSvc, logger).
		WithMaxBytes(cfg.DocumentMaxBytes).
		WithObserver(portalMetrics)

	messagingSvc := messaging.NewService(messaging.NewPostgresRepository(pool), cipher, notifySvc, auditSvc, logger)

	complianceRepo := compliance.NewPostgresRepository(pool)
	healthSvc := healthrecords.NewService(healthrecords.NewPostgresRepository(pool), cipher, employeeSvc,
		compliance.NewConsentLedger(complianceRepo), terms, notifySvc, auditSvc, logger)
	complianceSvc := compliance.NewService(complianceRepo, employeeSvc, healthSvc, appointmentSvc, documentSvc, auditSvc, logger)

	videoSvc := video.NewService(video.NewPostgresRepository(pool), appointmentSvc, cfg.STUNServers, logger)
	hub := video.NewHub(portalMetrics, logger)

	formSvc := forms.NewService(forms.NewPostgresRepository(pool), terms, employeeSvc, auditSvc, logger)
	dashboardSvc := dashboard.NewService(appointmentSvc, notifySvc, healthSvc, employeeSvc, authSvc).
		WithOperations(tel.snapshot)

	proxies, err := httpmiddleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	routerCfg := &router.Config{
		Logger:        logger,
		Authenticator: authSvc,
		Auth:          auth.NewHandler(authSvc, logger),
		Employees:     employees.NewHandler(employeeSvc, logger),
		Professionals: professionals.NewHandler(professionalSvc, logger),
		Appointments:  appointments.NewHandler(appointmentSvc, logger),
		Notifications: notify.NewHandler(notifySvc, logger),
		Documents:     documents.NewHandler(documentSvc, logger),
		Messaging:     messaging.NewHandler(messagingSvc, logger),
		HealthRecords: healthrecords.NewHandler(healthSvc, logger),
		Compliance:    compliance.NewHandler(complianceSvc, logger),
		Video:         video.NewHandler(videoSvc, hub, cfg.CORSAllowedOrigins, logger),
		Terminology:   terminology.NewHandler(terms),
		Forms:         forms.NewHandler(formSvc, logger),
		Dashboard:     dashboard.NewHandler(dashboardSvc, logger),
		Audit:         audit.NewHandler(auditSvc, logger),

		AuthRateLimiter:    limiter,
		HealthCheck:        func(ctx context.Context) error { return pool.Ping(ctx) },
		Metrics:            portalMetrics,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		TrustedProxies:     proxies,
	}
	if cfg.MetricsEnabled {
		routerCfg.MetricsHandler = tel.handler
	}

	return &portal{
		handler:     router.New(routerCfg),
		forms:       formSvc,
		notifyRepo:  notifyRepo,
		auth:        authSvc,
		queue:       queue,
		inProcess:   inProcess,
		emailSender: sender,
		rateLimiter: limiter,
	}, nil
}
