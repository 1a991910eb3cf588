package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
)

// Sender delivers one rendered notification. Failures are the
// caller's to log and absorb, they never cross the per-user pipeline
// boundary.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
}

type SmtpSender struct {
	config SmtpConfig
}

func NewSmtpSender(config SmtpConfig) SmtpSender {
	return SmtpSender{config: config}
}

func (s SmtpSender) Send(ctx context.Context, to, subject, html string) error {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Attendance Bot <%s>", s.config.EmailAddress)
	mail.To = []string{to}
	mail.Subject = subject
	mail.HTML = []byte(html)

	addr := fmt.Sprintf("%s:%d", s.config.Server, s.config.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", s.config.EmailAddress, s.config.Password, s.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		return err
	}

	slog.DebugContext(ctx, "sent notification", "to", to, "subject", subject)
	return nil
}
