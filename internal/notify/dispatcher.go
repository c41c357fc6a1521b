package notify

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

var notifyTracer = otel.Tracer("ohehr.internal.notify")

// DeliveryObserver receives delivery outcomes for metrics.
type DeliveryObserver interface {
	ObserveNotification(channel, status string)
}

// Dispatcher polls for due notifications and publishes a delivery job for each.
type Dispatcher struct {
	repo        Repository
	queue       Queue
	logger      *logging.Logger
	observer    DeliveryObserver
	batchSize   int
	interval    time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewDispatcher(repo Repository, queue Queue, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		repo:        repo,
		queue:       queue,
		logger:      logger,
		batchSize:   25,
		interval:    30 * time.Second,
		maxAttempts: 5,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) WithBatchSize(size int) *Dispatcher {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Dispatcher) WithMaxAttempts(n int) *Dispatcher {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

func (d *Dispatcher) WithObserver(o DeliveryObserver) *Dispatcher {
	d.observer = o
	return d
}

// Start drains once immediately and then on every tick until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	if d.repo == nil || d.queue == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain publishes one batch of due notifications and returns how many were published.
func (d *Dispatcher) Drain(ctx context.Context) int {
	ctx, span := notifyTracer.Start(ctx, "notify.dispatch", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	now := d.now()
	due, err := d.repo.ClaimDue(ctx, now, now.Add(d.claimTTL()), d.batchSize)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error("notification fetch failed", "error", err)
		return 0
	}
	span.SetAttributes(attribute.Int("notify.due", len(due)))

	published := 0
	for _, n := range due {
		body, err := encodeJob(newDeliveryJob(n))
		if err == nil {
			err = d.queue.Send(ctx, body)
		}
		if err != nil {
			d.fail(ctx, n, err)
			continue
		}
		if err := d.repo.MarkSent(ctx, n.ID, d.now()); err != nil {
			d.logger.Error("failed to mark notification sent", "error", err, "notification_id", n.ID)
			continue
		}
		published++
		d.observe("queue", string(DeliverySent))
	}
	return published
}

// claimTTL keeps a batch hidden from other dispatchers for a few ticks.
func (d *Dispatcher) claimTTL() time.Duration {
	return max(4*d.interval, time.Minute)
}

func (d *Dispatcher) fail(ctx context.Context, n Notification, cause error) {
	status, err := d.repo.RecordFailure(ctx, n.ID, cause.Error(), d.maxAttempts)
	if err != nil {
		d.logger.Error("failed to record notification failure", "error", err, "notification_id", n.ID)
		return
	}
	d.logger.Warn("notification publish failed", "error", cause, "notification_id", n.ID, "attempt", n.Attempts+1, "status", status)
	d.observe("queue", string(status))
}

func (d *Dispatcher) observe(channel, status string) {
	if d.observer != nil {
		d.observer.ObserveNotification(channel, status)
	}
}
