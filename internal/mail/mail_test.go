package mail

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mrz1836/postmark"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/envvault/internal/config"
)

type fakePostmark struct {
	sent []postmark.Email
	resp postmark.EmailResponse
	err  error
}

func (f *fakePostmark) SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error) {
	f.sent = append(f.sent, email)
	return f.resp, f.err
}

func TestConfirmationMessage(t *testing.T) {
	msg, err := ConfirmationMessage("alice@example.com", Confirmation{
		Username:  "alice",
		Link:      "https://vault.example.com/api/users/confirm/abc",
		ExpiresAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, msg.Validate())

	assert.Equal(t, "alice@example.com", msg.To)
	assert.Contains(t, msg.HTMLBody, "Hello alice")
	assert.Contains(t, msg.HTMLBody, `href="https://vault.example.com/api/users/confirm/abc"`)
	assert.Contains(t, msg.HTMLBody, "2024-01-01 12:00 UTC")
}

func TestConfirmationMessage_EscapesUsername(t *testing.T) {
	msg, err := ConfirmationMessage("x@example.com", Confirmation{Username: "<script>", Link: "https://a/b"})
	require.NoError(t, err)
	assert.False(t, strings.Contains(msg.HTMLBody, "<script>"))
}

func TestPostmarkSender_Send(t *testing.T) {
	fake := &fakePostmark{}
	s := &PostmarkSender{client: fake, senderEmail: "noreply@example.com", supportEmail: "support@example.com"}

	err := s.Send(context.Background(), Message{To: "alice@example.com", Subject: "Hi", Tag: "registration", HTMLBody: "<p>x</p>"})
	require.NoError(t, err)
	require.Len(t, fake.sent, 1)
	assert.Equal(t, "noreply@example.com", fake.sent[0].From)
	assert.Equal(t, "support@example.com", fake.sent[0].ReplyTo)
	assert.Equal(t, "registration", fake.sent[0].Tag)

	fake.resp = postmark.EmailResponse{ErrorCode: 300, Message: "Invalid email request"}
	err = s.Send(context.Background(), Message{To: "a@example.com", Subject: "Hi", HTMLBody: "x"})
	assert.ErrorIs(t, err, ErrSendFailed)

	fake.resp = postmark.EmailResponse{}
	fake.err = errors.New("connection reset")
	err = s.Send(context.Background(), Message{To: "a@example.com", Subject: "Hi", HTMLBody: "x"})
	assert.ErrorIs(t, err, ErrSendFailed)

	err = s.Send(context.Background(), Message{Subject: "Hi", HTMLBody: "x"})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestNewSender(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)

	s, err := NewSender(config.MailConfig{Provider: "log"}, logger)
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), Message{To: "a@example.com", Subject: "Hi", HTMLBody: "x"}))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "a@example.com", hook.LastEntry().Data["to"])

	_, err = NewSender(config.MailConfig{Provider: "postmark"}, logger)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	s, err = NewSender(config.MailConfig{
		Provider:     "postmark",
		SenderEmail:  "noreply@example.com",
		SupportEmail: "support@example.com",
		Postmark:     config.PostmarkConfig{ServerToken: "server", AccountToken: "account"},
	}, logger)
	require.NoError(t, err)
	assert.IsType(t, &PostmarkSender{}, s)

	_, err = NewSender(config.MailConfig{Provider: "carrier-pigeon"}, logger)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
