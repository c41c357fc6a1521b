package notify

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

// AccountMailer sends account emails synchronously. Reset tokens never touch
// the notifications table or the queue.
type AccountMailer struct {
	sender  EmailSender
	baseURL string
	logger  *logging.Logger
}

func NewAccountMailer(sender EmailSender, publicBaseURL string, logger *logging.Logger) *AccountMailer {
	if logger == nil {
		logger = logging.Default()
	}
	return &AccountMailer{sender: sender, baseURL: strings.TrimRight(publicBaseURL, "/"), logger: logger}
}

// SendPasswordReset implements auth.ResetMailer.
func (m *AccountMailer) SendPasswordReset(ctx context.Context, user *auth.User, token string, expires time.Time) error {
	link := m.baseURL + "/reset-password?token=" + url.QueryEscape(token)
	msg, err := renderReset(user, link, expires)
	if err != nil {
		return err
	}
	if err := m.sender.Send(ctx, msg); err != nil {
		return err
	}
	logging.FromContext(ctx, m.logger).Info("password reset email sent", "user_id", user.ID)
	return nil
}

var _ auth.ResetMailer = (*AccountMailer)(nil)
