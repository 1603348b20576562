// Package mail delivers registration confirmation messages.
package mail

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/envvault/internal/config"
)

var (
	ErrInvalidConfig = errors.New("invalid mail configuration")
	ErrSendFailed    = errors.New("failed to send email")
	ErrInvalidParams = errors.New("invalid email parameters")
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Message is one outbound email.
type Message struct {
	To       string
	Subject  string
	Tag      string
	HTMLBody string
}

// Validate checks that the message can be sent.
func (m Message) Validate() error {
	if m.To == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidParams)
	}
	if m.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidParams)
	}
	if m.HTMLBody == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidParams)
	}
	return nil
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Confirmation is the data rendered into the confirmation template.
type Confirmation struct {
	Username  string
	Link      string
	ExpiresAt time.Time
}

// ConfirmationMessage renders the registration confirmation email.
func ConfirmationMessage(to string, data Confirmation) (Message, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "confirm.html", data); err != nil {
		return Message{}, fmt.Errorf("failed to render confirmation email: %w", err)
	}
	return Message{
		To:       to,
		Subject:  "Confirm your account",
		Tag:      "registration",
		HTMLBody: buf.String(),
	}, nil
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger *logrus.Logger
}

// NewLogSender creates a sender for development setups.
func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
		"tag":     msg.Tag,
	}).Info("Email not delivered (log provider)")
	s.logger.WithField("to", msg.To).Debug(msg.HTMLBody)
	return nil
}

// NewSender builds the sender selected by cfg.Provider.
func NewSender(cfg config.MailConfig, logger *logrus.Logger) (Sender, error) {
	switch cfg.Provider {
	case "", "log":
		return NewLogSender(logger), nil
	case "postmark":
		return NewPostmarkSender(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
