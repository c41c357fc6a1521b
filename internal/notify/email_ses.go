package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

// SESAPI is the slice of the SES v2 client the sender uses.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers through Amazon SES v2.
type SESSender struct {
	client SESAPI
	from   Identity
	logger *logging.Logger
}

// NewSESSender returns nil without a client.
func NewSESSender(client SESAPI, from Identity, logger *logging.Logger) *SESSender {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SESSender{client: client, from: from.normalized(), logger: logger}
}

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: SES client not configured")
	}
	out, err := s.client.SendEmail(ctx, sesInput(s.from, msg))
	if err != nil {
		return fmt.Errorf("notify: SES send: %w", err)
	}
	logging.FromContext(ctx, s.logger).Info("email accepted by SES",
		"category", msg.Category, "reference", msg.Reference, "message_id", aws.ToString(out.MessageId))
	return nil
}

func sesInput(from Identity, msg EmailMessage) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.Body != "" {
		body.Text = utf8Content(msg.Body)
	}
	if msg.HTML != "" {
		body.Html = utf8Content(msg.HTML)
	}
	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from.header()),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{Subject: utf8Content(msg.Subject), Body: body},
		},
	}
	// SES tag values are restricted to [A-Za-z0-9_-], which category names and UUIDs satisfy.
	if msg.Category != "" {
		in.EmailTags = append(in.EmailTags, types.MessageTag{Name: aws.String("category"), Value: aws.String(msg.Category)})
	}
	if msg.Reference != "" {
		in.EmailTags = append(in.EmailTags, types.MessageTag{Name: aws.String("reference"), Value: aws.String(msg.Reference)})
	}
	return in
}

func utf8Content(v string) *types.Content {
	return &types.Content{Data: aws.String(v), Charset: aws.String("UTF-8")}
}

var _ EmailSender = (*SESSender)(nil)
