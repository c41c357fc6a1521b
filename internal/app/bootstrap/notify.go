package bootstrap

import (
	"errors"
	"strings"

	appconfig "github.com/wolfman30/oh-ehr-portal/internal/config"
	"github.com/wolfman30/oh-ehr-portal/internal/notify"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

// memoryQueueBuffer bounds the in-process queue used in development.
const memoryQueueBuffer = 256

// BuildEmailSender picks the outbound email provider. It always returns a
// usable sender: when the preferred provider cannot be built it falls back to
// the logging stub and reports why.
func BuildEmailSender(cfg *appconfig.Config, ses notify.SESAPI, logger *logging.Logger) (notify.EmailSender, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	stub := notify.NewStubEmailSender(logger)
	if cfg == nil {
		return stub, "stub", "missing config"
	}

	from := notify.Identity{Email: cfg.EmailFromAddress, Name: cfg.EmailFromName}
	switch strings.ToLower(strings.TrimSpace(cfg.EmailProvider)) {
	case "ses":
		if sender := notify.NewSESSender(ses, from, logger); sender != nil {
			return sender, "ses", ""
		}
		return stub, "stub", "ses client unavailable"
	case "sendgrid":
		if sender := notify.NewSendGridSender(cfg.SendGridAPIKey, from, logger); sender != nil {
			return sender, "sendgrid", ""
		}
		return stub, "stub", "sendgrid api key missing"
	default:
		return stub, "stub", ""
	}
}

// BuildNotificationQueue returns the in-memory queue when configured, or an
// SQS queue otherwise. The boolean reports whether the queue is in-process,
// in which case the caller must run the mailer in the same process.
func BuildNotificationQueue(cfg *appconfig.Config, sqsClient notify.SQSAPI) (notify.Queue, bool, error) {
	if cfg == nil {
		return nil, false, errors.New("bootstrap: missing config")
	}
	if cfg.UseMemoryQueue {
		return notify.NewMemoryQueue(memoryQueueBuffer), true, nil
	}
	if sqsClient == nil {
		return nil, false, errors.New("bootstrap: sqs client required when USE_MEMORY_QUEUE is false")
	}
	if strings.TrimSpace(cfg.NotificationQueueURL) == "" {
		return nil, false, errors.New("bootstrap: NOTIFICATION_QUEUE_URL is required when USE_MEMORY_QUEUE is false")
	}
	return notify.NewSQSQueue(sqsClient, cfg.NotificationQueueURL), false, nil
}
