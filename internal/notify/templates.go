package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"
	"time"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
)

// Templates are parsed once with strict missing-key semantics.
var (
	notificationText = template.Must(template.New("notification.txt").Option("missingkey=error").Parse(
		`Hello {{.FirstName}},

{{.Message}}

Sign in to the Occupational Health portal to view the details.
`))
	notificationHTML = htmltemplate.Must(htmltemplate.New("notification.html").Option("missingkey=error").Parse(
		`<p>Hello {{.FirstName}},</p><p>{{.Message}}</p><p>Sign in to the Occupational Health portal to view the details.</p>`))

	resetText = template.Must(template.New("reset.txt").Option("missingkey=error").Parse(
		`Hello {{.FirstName}},

A password reset was requested for your Occupational Health portal account.
Use the link below to choose a new password. It expires at {{.Expires}}.

{{.Link}}

If you did not request this, you can ignore this email.
`))
)

type notificationData struct {
	FirstName string
	Message   string
}

type resetData struct {
	FirstName string
	Link      string
	Expires   string
}

func renderEmail(user *auth.User, job DeliveryJob) EmailMessage {
	data := notificationData{FirstName: user.FirstName, Message: job.Message}
	var text, html bytes.Buffer
	// Execution can only fail on missing keys, which the typed data rules out.
	_ = notificationText.Execute(&text, data)
	_ = notificationHTML.Execute(&html, data)
	return EmailMessage{
		To:        user.Email,
		ToName:    user.FullName(),
		Subject:   job.Title,
		Body:      text.String(),
		HTML:      html.String(),
		Category:  string(job.Type),
		Reference: job.NotificationID,
	}
}

func renderReset(user *auth.User, link string, expires time.Time) (EmailMessage, error) {
	var text bytes.Buffer
	err := resetText.Execute(&text, resetData{
		FirstName: user.FirstName,
		Link:      link,
		Expires:   expires.UTC().Format("2 Jan 2006 15:04 MST"),
	})
	if err != nil {
		return EmailMessage{}, fmt.Errorf("notify: render reset email: %w", err)
	}
	return EmailMessage{
		To:       user.Email,
		ToName:   user.FullName(),
		Subject:  "Reset your Occupational Health portal password",
		Body:     text.String(),
		Category: CategoryPasswordReset,
	}, nil
}
