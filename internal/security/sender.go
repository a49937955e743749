package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mailersend/mailersend-go"

	"chainattend/internal/logger"
)

// CodeSender delivers a login code to a user.
type CodeSender interface {
	SendCode(ctx context.Context, name, email, code string) error
}

// MailerSendSender emails codes through MailerSend.
type MailerSendSender struct {
	client *mailersend.Mailersend
	from   mailersend.From
}

// NewMailerSendSender returns a sender, or nil when apiKey or fromEmail is
// empty.
func NewMailerSendSender(apiKey, fromName, fromEmail string) *MailerSendSender {
	if apiKey == "" || fromEmail == "" {
		return nil
	}
	return &MailerSendSender{
		client: mailersend.NewMailersend(apiKey),
		from:   mailersend.From{Name: fromName, Email: fromEmail},
	}
}

func (s *MailerSendSender) SendCode(ctx context.Context, name, email, code string) error {
	if email == "" {
		return errors.New("no email on file")
	}
	msg := s.client.Email.NewMessage()
	msg.SetFrom(s.from)
	msg.SetRecipients([]mailersend.Recipient{{Name: name, Email: email}})
	msg.SetSubject("Your attendance login code")
	msg.SetText(fmt.Sprintf("Your OTP is: %s", code))
	msg.SetHTML(fmt.Sprintf("<p>Your OTP is: <b>%s</b></p>", code))

	res, err := s.client.Email.Send(ctx, msg)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("mailersend error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	logger.InfoContext(ctx, "login code sent", "name", name, "message_id", res.Header.Get("X-Message-Id"))
	return nil
}

// LogSender writes codes to the log. Dev only.
type LogSender struct {
	Logger *slog.Logger // nil uses the process logger
}

func (s LogSender) SendCode(ctx context.Context, name, email, code string) error {
	if s.Logger != nil {
		s.Logger.InfoContext(ctx, "login code", "name", name, "email", email, "code", code)
		return nil
	}
	logger.InfoContext(ctx, "login code", "name", name, "email", email, "code", code)
	return nil
}
