package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

const defaultListLimit = 50

// Service creates notifications and serves the user's inbox.
type Service struct {
	repo   Repository
	logger *logging.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Notify stores a notification for later delivery by the dispatcher.
func (s *Service) Notify(ctx context.Context, req Request) (*Notification, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("notify: user id required")
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("notify: title required")
	}
	at := req.ScheduledFor
	if at.IsZero() {
		at = s.now()
	}
	n := &Notification{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		Type:            req.Type,
		Title:           req.Title,
		Message:         req.Message,
		ScheduledFor:    at.UTC(),
		DeliveryStatus:  DeliveryPending,
		RelatedEntityID: req.RelatedEntityID,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	logging.FromContext(ctx, s.logger).Debug("notification queued",
		"notification_id", n.ID, "type", n.Type, "scheduled_for", n.ScheduledFor)
	return n, nil
}

// NotifyQuietly is Notify for side effects that must not fail the caller.
func (s *Service) NotifyQuietly(ctx context.Context, req Request) {
	if s == nil {
		return
	}
	if _, err := s.Notify(ctx, req); err != nil {
		logging.FromContext(ctx, s.logger).Error("notification create failed", "type", req.Type, "user_id", req.UserID, "error", err)
	}
}

func (s *Service) List(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	return s.repo.ListForUser(ctx, userID, unreadOnly, defaultListLimit)
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.UnreadCount(ctx, userID)
}

func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	return s.repo.MarkRead(ctx, id, userID, s.now())
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return s.repo.MarkAllRead(ctx, userID, s.now())
}

// CancelPending drops undelivered notifications of typ tied to an entity,
// e.g. the reminder for a cancelled appointment.
func (s *Service) CancelPending(ctx context.Context, relatedEntityID string, typ Type) error {
	n, err := s.repo.DeletePending(ctx, relatedEntityID, typ)
	if err != nil {
		return err
	}
	if n > 0 {
		logging.FromContext(ctx, s.logger).Info("pending notifications cancelled", "related_entity_id", relatedEntityID, "type", typ, "count", n)
	}
	return nil
}
