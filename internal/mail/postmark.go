package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"

	"github.com/kenneth/envvault/internal/config"
)

type postmarkAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkSender delivers messages through the Postmark transactional API.
type PostmarkSender struct {
	client       postmarkAPI
	senderEmail  string
	supportEmail string
}

// NewPostmarkSender creates a Postmark-backed sender. Both tokens and both
// addresses are required.
func NewPostmarkSender(cfg config.MailConfig) (*PostmarkSender, error) {
	switch {
	case cfg.Postmark.ServerToken == "":
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	case cfg.Postmark.AccountToken == "":
		return nil, fmt.Errorf("%w: postmark account token is required", ErrInvalidConfig)
	case cfg.SenderEmail == "":
		return nil, fmt.Errorf("%w: sender email is required", ErrInvalidConfig)
	case cfg.SupportEmail == "":
		return nil, fmt.Errorf("%w: support email is required", ErrInvalidConfig)
	}
	return &PostmarkSender{
		client:       postmark.NewClient(cfg.Postmark.ServerToken, cfg.Postmark.AccountToken),
		senderEmail:  cfg.SenderEmail,
		supportEmail: cfg.SupportEmail,
	}, nil
}

// Send delivers msg. Replies go to the support address.
func (s *PostmarkSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       s.senderEmail,
		ReplyTo:    s.supportEmail,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTMLBody,
		TrackOpens: false,
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrSendFailed, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}
