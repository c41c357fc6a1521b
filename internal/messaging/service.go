package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/oh-ehr-portal/internal/audit"
	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/notify"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

var messagingTracer = otel.Tracer("ohehr.internal.messaging")

const (
	serviceName = "MessagingService"
	entityType  = "Message"
)

// Cipher seals message bodies at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, req notify.Request) (*notify.Notification, error)
}

type Service struct {
	repo     Repository
	cipher   Cipher
	notifier Notifier
	audit    audit.Recorder
	logger   *logging.Logger
	now      func() time.Time
}

func NewService(repo Repository, cipher Cipher, notifier Notifier, recorder audit.Recorder, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:     repo,
		cipher:   cipher,
		notifier: notifier,
		audit:    recorder,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateConversation opens a conversation; the creator always joins it.
func (s *Service) CreateConversation(ctx context.Context, actor auth.Principal, req CreateConversationRequest) (*Conversation, error) {
	c := &Conversation{
		ID:        uuid.NewString(),
		Subject:   strings.TrimSpace(req.Subject),
		CreatedBy: actor.UserID,
	}
	seen := map[string]bool{}
	for _, id := range append([]string{actor.UserID}, req.ParticipantIDs...) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		c.Participants = append(c.Participants, Participant{UserID: id})
	}
	if err := s.repo.CreateConversation(ctx, c); err != nil {
		return nil, err
	}
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  "Conversation",
		EntityID:    c.ID,
		Action:      audit.ActionCreate,
		NewValues:   audit.Values(map[string]any{"participants": len(c.Participants)}),
	})
	return s.repo.GetConversation(ctx, c.ID)
}

func (s *Service) ListConversations(ctx context.Context, actor auth.Principal) ([]Conversation, error) {
	return s.repo.ListConversations(ctx, actor.UserID)
}

func (s *Service) GetConversation(ctx context.Context, actor auth.Principal, id string) (*Conversation, error) {
	c, err := s.repo.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.has(actor.UserID) {
		return nil, ErrNotParticipant
	}
	return c, nil
}

func (s *Service) requireParticipant(ctx context.Context, conversationID, userID string) error {
	ok, err := s.repo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

// Send stores the message encrypted and alerts every other participant.
func (s *Service) Send(ctx context.Context, actor auth.Principal, req SendRequest) (*Message, error) {
	ctx, span := messagingTracer.Start(ctx, "messaging.send")
	defer span.End()
	span.SetAttributes(attribute.String("ohehr.conversation_id", req.ConversationID))

	if err := validateContent(req.Content); err != nil {
		return nil, err
	}
	c, err := s.repo.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if !c.has(actor.UserID) {
		return nil, ErrNotParticipant
	}
	sealed, err := s.cipher.Encrypt(req.Content)
	if err != nil {
		return nil, fmt.Errorf("messaging: encrypt: %w", err)
	}
	m := &Message{
		ID:             uuid.NewString(),
		ConversationID: c.ID,
		SenderID:       actor.UserID,
		SenderName:     strings.TrimSpace(actor.FirstName + " " + actor.LastName),
		Content:        sealed,
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	m.Content = req.Content

	for _, p := range c.Participants {
		if p.UserID == actor.UserID || s.notifier == nil {
			continue
		}
		_, err := s.notifier.Notify(ctx, notify.Request{
			UserID:          p.UserID,
			Type:            notify.TypeMessageAlert,
			Title:           "New Message from " + actor.FirstName,
			Message:         "You have a new message in your conversation.",
			RelatedEntityID: c.ID,
		})
		if err != nil {
			logging.FromContext(ctx, s.logger).Error("message alert failed", "conversation_id", c.ID, "recipient", p.UserID, "error", err)
		}
	}
	return m, nil
}

// Messages returns the conversation decrypted. Unreadable bodies are replaced, not dropped.
func (s *Service) Messages(ctx context.Context, actor auth.Principal, conversationID string) ([]Message, error) {
	if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, conversationID, actor.UserID); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Content = s.open(ctx, &msgs[i])
	}
	return msgs, nil
}

func (s *Service) open(ctx context.Context, m *Message) string {
	plain, err := s.cipher.Decrypt(m.Content)
	if err != nil {
		logging.FromContext(ctx, s.logger).Warn("message could not be decrypted", "message_id", m.ID, "error", err)
		return unreadable
	}
	return plain
}

func (s *Service) ownMessage(ctx context.Context, actor auth.Principal, id string) (*Message, error) {
	m, err := s.repo.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.IsDeleted {
		return nil, ErrMessageNotFound
	}
	if m.SenderID != actor.UserID {
		return nil, auth.ErrForbidden
	}
	return m, nil
}

// Edit replaces the sender's own message.
func (s *Service) Edit(ctx context.Context, actor auth.Principal, id, content string) (*Message, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}
	m, err := s.ownMessage(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	sealed, err := s.cipher.Encrypt(content)
	if err != nil {
		return nil, fmt.Errorf("messaging: encrypt: %w", err)
	}
	at := s.now()
	if err := s.repo.UpdateContent(ctx, m.ID, sealed, at); err != nil {
		return nil, err
	}
	m.Content = content
	m.IsEdited = true
	m.EditedAt = &at
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  entityType,
		EntityID:    m.ID,
		Action:      audit.ActionUpdate,
	})
	return m, nil
}

// Delete hides the sender's own message.
func (s *Service) Delete(ctx context.Context, actor auth.Principal, id string) error {
	m, err := s.ownMessage(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, m.ID); err != nil {
		return err
	}
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  entityType,
		EntityID:    m.ID,
		Action:      audit.ActionDelete,
	})
	return nil
}

func (s *Service) MarkRead(ctx context.Context, actor auth.Principal, id string) error {
	m, err := s.repo.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requireParticipant(ctx, m.ConversationID, actor.UserID); err != nil {
		return err
	}
	return s.repo.MarkRead(ctx, m.ID, actor.UserID, s.now())
}

func (s *Service) UnreadCount(ctx context.Context, actor auth.Principal, conversationID string) (int, error) {
	if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		return 0, err
	}
	if err := s.requireParticipant(ctx, conversationID, actor.UserID); err != nil {
		return 0, err
	}
	return s.repo.UnreadCount(ctx, conversationID, actor.UserID)
}
