package notify

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

const defaultFromName = "Occupational Health"

// CategoryPasswordReset tags account emails; notification emails use their Type.
const CategoryPasswordReset = "password_reset"

// EmailSender delivers one email. SendGrid, SES and the logging stub implement it.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is a rendered portal email. Category and Reference travel to
// the provider as tags so bounces can be traced back to a notification.
type EmailMessage struct {
	To        string
	ToName    string
	Subject   string
	Body      string // plain text
	HTML      string
	Category  string
	Reference string
}

// Identity is the From address every portal email carries.
type Identity struct {
	Email string
	Name  string
}

func (i Identity) normalized() Identity {
	i.Email = strings.TrimSpace(i.Email)
	i.Name = strings.TrimSpace(i.Name)
	if i.Name == "" {
		i.Name = defaultFromName
	}
	return i
}

// header renders the identity as an RFC 5322 address.
func (i Identity) header() string {
	return (&mail.Address{Name: i.Name, Address: i.Email}).String()
}

// SendGridSender delivers through the SendGrid v3 API.
type SendGridSender struct {
	client *sendgrid.Client
	from   Identity
	logger *logging.Logger
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(apiKey string, from Identity, logger *logging.Logger) *SendGridSender {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridSender{client: sendgrid.NewSendClient(apiKey), from: from.normalized(), logger: logger}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}
	resp, err := s.client.SendWithContext(ctx, sendgridMessage(s.from, msg))
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}
	logging.FromContext(ctx, s.logger).Info("email accepted by sendgrid",
		"category", msg.Category, "reference", msg.Reference, "status", resp.StatusCode)
	return nil
}

func sendgridMessage(from Identity, msg EmailMessage) *sgmail.SGMailV3 {
	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	m := sgmail.NewSingleEmail(
		sgmail.NewEmail(from.Name, from.Email),
		msg.Subject,
		sgmail.NewEmail(msg.ToName, msg.To),
		msg.Body,
		html,
	)
	if msg.Category != "" {
		m.AddCategories(msg.Category)
	}
	if msg.Reference != "" {
		m.SetCustomArg("reference", msg.Reference)
	}
	return m
}

// StubEmailSender logs instead of sending. Used in development and tests.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	logging.FromContext(ctx, s.logger).Info("email not sent (stub provider)",
		"category", msg.Category, "reference", msg.Reference, "subject", msg.Subject)
	return nil
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
