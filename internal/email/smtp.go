package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// SMTPTransport delivers messages through an SMTP relay.
type SMTPTransport struct {
	Host     string
	Port     int
	Username string
	Password string

	// MessageIDDomain is the right-hand side of generated Message-ID headers.
	MessageIDDomain string

	dialer *gomail.Dialer
}

func NewSMTPTransport(host string, port int, username, password string) *SMTPTransport {
	return &SMTPTransport{
		Host:            host,
		Port:            port,
		Username:        username,
		Password:        password,
		MessageIDDomain: host,
		dialer:          gomail.NewDialer(host, port, username, password),
	}
}

// Send builds a MIME message and hands it to the relay. The generated Message-ID
// is returned as the provider id.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) (string, error) {
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), t.domain())
	m := t.build(msg, messageID)

	// gomail has no context support; the dial itself carries its own timeout.
	done := make(chan error, 1)
	go func() {
		done <- t.dialer.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp send error: %w", err)
		}
		return messageID, nil
	case <-ctx.Done():
		return "", fmt.Errorf("smtp send error: %w", ctx.Err())
	}
}

func (t *SMTPTransport) build(msg Message, messageID string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.From.Email, msg.From.Name)
	m.SetAddressHeader("To", msg.To.Email, msg.To.Name)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		m.SetBody("text/html", msg.HTML)
	default:
		m.SetBody("text/plain", msg.Text)
	}
	return m
}

func (t *SMTPTransport) domain() string {
	d := strings.TrimSpace(t.MessageIDDomain)
	if d == "" {
		return "localhost"
	}
	return d
}
