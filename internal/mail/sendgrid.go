package mail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Mailer sends account emails.
type Mailer interface {
	SendPasswordReset(ctx context.Context, toEmail, resetLink string) error
}

type sendClient interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

type SendGridMailer struct {
	client    sendClient
	fromEmail string
	fromName  string
}

func NewSendGridMailer(apiKey, fromEmail, fromName string) *SendGridMailer {
	return &SendGridMailer{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (m *SendGridMailer) SendPasswordReset(ctx context.Context, toEmail, resetLink string) error {
	from := sgmail.NewEmail(m.fromName, m.fromEmail)
	to := sgmail.NewEmail("", toEmail)
	subject := "Reset your Gotta Go password"
	plainContent := fmt.Sprintf("Use this link to choose a new password: %s\n\nIf you did not ask for a reset you can ignore this email.", resetLink)
	htmlContent := fmt.Sprintf("<p>Use <a href=\"%s\">this link</a> to choose a new password.</p><p>If you did not ask for a reset you can ignore this email.</p>", resetLink)

	message := sgmail.NewSingleEmail(from, subject, to, plainContent, htmlContent)
	response, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("failed to send reset email to %s: %d", toEmail, response.StatusCode)
	}
	return nil
}

// LogMailer logs instead of sending. Used when no mail provider is configured.
type LogMailer struct{}

func (LogMailer) SendPasswordReset(ctx context.Context, toEmail, resetLink string) error {
	slog.Warn("mail provider not configured, password reset email not sent", "to", toEmail)
	return nil
}
