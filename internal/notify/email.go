package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPSettings is a resolved outgoing mail server.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends alerts to recipients that opted in to email.
type Email struct {
	server     SMTPSettings
	recipients []string
	send       SendMailFunc
}

// NewEmail creates an Email channel. A nil send uses smtp.SendMail.
func NewEmail(server SMTPSettings, recipients []string, send SendMailFunc) *Email {
	if send == nil {
		send = smtp.SendMail
	}
	return &Email{server: server, recipients: recipients, send: send}
}

// Name implements Channel.
func (e *Email) Name() string { return "email" }

// Targets implements Channel.
func (e *Email) Targets() []string {
	if e.server.Host == "" {
		return nil
	}
	return e.recipients
}

// Deliver implements Channel. net/smtp has no context support, so ctx is
// only checked before dialing.
func (e *Email) Deliver(ctx context.Context, to string, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := net.JoinHostPort(e.server.Host, strconv.Itoa(e.server.Port))
	var auth smtp.Auth
	if e.server.Username != "" {
		auth = smtp.PlainAuth("", e.server.Username, e.server.Password, e.server.Host)
	}
	return e.send(addr, auth, e.server.From, []string{to}, e.message(to, n))
}

func (e *Email) message(to string, n Notification) []byte {
	from := e.server.From
	if e.server.FromName != "" {
		from = fmt.Sprintf("%q <%s>", e.server.FromName, e.server.From)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", n.Subject())
	fmt.Fprintf(&b, "Date: %s\r\n", n.TriggeredAt.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(n.Message + "\r\n\r\n")
	if n.QueueNumber != "" {
		fmt.Fprintf(&b, "Queue: %s (%s)\r\n", n.QueueName, n.QueueNumber)
	}
	fmt.Fprintf(&b, "Current value: %s\r\n", formatValue(n.CurrentValue))
	fmt.Fprintf(&b, "Threshold: %s\r\n", formatValue(n.Threshold))
	fmt.Fprintf(&b, "Triggered: %s\r\n", n.TriggeredAt.Format("2006-01-02 15:04:05 MST"))
	return []byte(b.String())
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
