package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

// Recipients resolves the user a job is addressed to; auth.Service satisfies it.
type Recipients interface {
	GetUser(ctx context.Context, id string) (*auth.User, error)
}

const (
	defaultMailerWorkers  = 2
	defaultWaitSeconds    = 10
	defaultReceiveBatch   = 5
	deleteTimeout         = 5 * time.Second
	maxReceiveBackoff     = 5 * time.Second
	initialReceiveBackoff = time.Second
)

// Mailer consumes delivery jobs from the queue and sends them as email.
type Mailer struct {
	queue       Queue
	users       Recipients
	sender      EmailSender
	logger      *logging.Logger
	observer    DeliveryObserver
	workers     int
	waitSeconds int
	batchSize   int
	wg          sync.WaitGroup
}

type MailerOption func(*Mailer)

func WithMailerWorkers(n int) MailerOption {
	return func(m *Mailer) {
		if n > 0 {
			m.workers = n
		}
	}
}

func WithReceiveWaitSeconds(s int) MailerOption {
	return func(m *Mailer) {
		if s >= 0 && s <= 20 {
			m.waitSeconds = s
		}
	}
}

func WithMailerObserver(o DeliveryObserver) MailerOption {
	return func(m *Mailer) { m.observer = o }
}

func NewMailer(queue Queue, users Recipients, sender EmailSender, logger *logging.Logger, opts ...MailerOption) *Mailer {
	if queue == nil {
		panic("notify: queue cannot be nil")
	}
	if sender == nil {
		panic("notify: email sender cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &Mailer{
		queue:       queue,
		users:       users,
		sender:      sender,
		logger:      logger,
		workers:     defaultMailerWorkers,
		waitSeconds: defaultWaitSeconds,
		batchSize:   defaultReceiveBatch,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches worker goroutines until ctx is cancelled.
func (m *Mailer) Start(ctx context.Context) {
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (m *Mailer) Wait() {
	m.wg.Wait()
}

func (m *Mailer) run(ctx context.Context, workerID int) {
	defer m.wg.Done()
	m.logger.Debug("notification mailer started", "worker_id", workerID)

	backoff := initialReceiveBackoff
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("notification mailer stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := m.queue.Receive(ctx, m.batchSize, m.waitSeconds)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.logger.Error("failed to receive delivery jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxReceiveBackoff)
			continue
		}
		backoff = initialReceiveBackoff

		for _, msg := range messages {
			m.Handle(ctx, msg)
		}
	}
}

// Handle delivers one queue message. Messages are deleted unless sending failed,
// in which case the queue's visibility timeout redelivers them.
func (m *Mailer) Handle(ctx context.Context, msg QueueMessage) {
	job, err := decodeJob(msg.Body)
	if err != nil {
		m.logger.Error("dropping malformed delivery job", "error", err, "msg_id", msg.ID)
		m.delete(msg.ReceiptHandle)
		return
	}

	err = m.deliver(ctx, job)
	switch {
	case errors.Is(err, errSkipped):
		m.observe("skipped")
	case err != nil:
		m.logger.Error("notification email failed", "error", err, "notification_id", job.NotificationID)
		m.observe(string(DeliveryFailed))
		return
	default:
		m.observe(string(DeliverySent))
	}
	m.delete(msg.ReceiptHandle)
}

var errSkipped = errors.New("notify: delivery skipped")

func (m *Mailer) deliver(ctx context.Context, job DeliveryJob) error {
	ctx, span := notifyTracer.Start(ctx, "notify.deliver",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("notify.notification_id", job.NotificationID)))
	defer span.End()

	if m.users == nil {
		return fmt.Errorf("notify: no recipient directory configured")
	}
	user, err := m.users.GetUser(ctx, job.UserID)
	if errors.Is(err, auth.ErrUserNotFound) {
		m.logger.Warn("recipient no longer exists", "user_id", job.UserID, "notification_id", job.NotificationID)
		return errSkipped
	}
	if err != nil {
		return err
	}
	if !user.EmailNotifications || user.Status != auth.UserActive || user.Email == "" {
		m.logger.Debug("email notifications disabled for user", "user_id", user.ID)
		return errSkipped
	}
	if err := m.sender.Send(ctx, renderEmail(user, job)); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (m *Mailer) delete(receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()
	if err := m.queue.Delete(ctx, receiptHandle); err != nil {
		m.logger.Error("failed to delete delivery job", "error", err)
	}
}

func (m *Mailer) observe(status string) {
	if m.observer != nil {
		m.observer.ObserveNotification("email", status)
	}
}
