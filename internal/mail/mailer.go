// Package mail sends account confirmation emails.
package mail

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"sensor_monitor/internal/config"
	"sensor_monitor/internal/logger"
)

// Mailer sends emails.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// New picks the implementation selected by cfg.Driver.
func New(cfg config.MailConfig, log *logger.Logger) Mailer {
	if cfg.Driver == "smtp" {
		return NewSMTPMailer(cfg)
	}
	return NewLogMailer(cfg.From, log)
}

// SMTPMailer delivers HTML mail through a plain SMTP relay.
type SMTPMailer struct {
	host     string
	port     string
	from     string
	username string
	password string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	return &SMTPMailer{
		host:     cfg.Host,
		port:     cfg.Port,
		from:     cfg.From,
		username: cfg.Username,
		password: cfg.Password,
		send:     smtp.SendMail,
	}
}

func (m *SMTPMailer) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("invalid header value")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(body)

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	addr := net.JoinHostPort(m.host, m.port)
	if err := m.send(addr, auth, m.from, []string{to}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send to %s: %w", addr, err)
	}
	return nil
}

// LogMailer writes the message to the log instead of sending it.
type LogMailer struct {
	from string
	log  *logger.Logger
}

func NewLogMailer(from string, log *logger.Logger) *LogMailer {
	return &LogMailer{from: from, log: log}
}

func (m *LogMailer) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.log != nil {
		m.log.Infow("mail_outgoing", "from", m.from, "to", to, "subject", subject, "body", body)
	}
	return nil
}
