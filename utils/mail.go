package utils

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer delivers a message or reports why it could not.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type SendGridMailer struct {
	apiKey   string
	host     string
	fromName string
	from     string
	log      *zap.Logger
}

func NewSendGridMailer(apiKey, host, fromName, from string, log *zap.Logger) *SendGridMailer {
	if host == "" {
		host = "https://api.sendgrid.com"
	}
	return &SendGridMailer{apiKey: apiKey, host: host, fromName: fromName, from: from, log: log}
}

func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	from := mail.NewEmail(m.fromName, m.from)
	to := mail.NewEmail("", msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)

	request := sendgrid.GetRequest(m.apiKey, "/v3/mail/send", m.host)
	request.Method = rest.Post
	request.Body = mail.GetRequestBody(message)

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if response.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid rejected message: status %d: %s", response.StatusCode, response.Body)
	}

	m.log.Info("email sent",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("status", response.StatusCode))
	return nil
}

// LogMailer writes messages to the log instead of sending them. Used when no
// SendGrid key is configured.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.log.Info("email not sent, no provider configured",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Text))
	return nil
}
