package email

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"PulseMail/internal/models"
)

// Address is a mailbox with an optional display name.
type Address struct {
	Email string
	Name  string
}

// String formats the address as "Name <email>", or just the email without a name.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return (&mail.Address{Name: a.Name, Address: a.Email}).String()
}

// Message is a fully rendered email handed to a Transport.
type Message struct {
	From    Address
	To      Address
	Subject string
	HTML    string
	Text    string
}

// Transport delivers one message and returns the provider-assigned id.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// DefaultSendTimeout bounds a single transport call when none is configured.
const DefaultSendTimeout = 30 * time.Second

// Executor performs exactly one delivery attempt per call. Retrying is the
// processor's job.
type Executor struct {
	transport Transport
	timeout   time.Duration
}

func NewExecutor(transport Transport, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Executor{transport: transport, timeout: timeout}
}

// Send delivers entry through the transport.
func (x *Executor) Send(ctx context.Context, entry *models.QueueEntry) (string, error) {
	msg, err := MessageFromEntry(entry)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	id, err := x.transport.Send(ctx, msg)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w after %s: %w", ErrSendTimeout, x.timeout, err)
		}
		return "", err
	}
	return id, nil
}

// MessageFromEntry builds a Message and validates both addresses.
func MessageFromEntry(entry *models.QueueEntry) (Message, error) {
	if _, err := mail.ParseAddress(entry.ToAddress); err != nil {
		return Message{}, Permanent(fmt.Errorf("invalid recipient %q: %w", entry.ToAddress, err))
	}
	if _, err := mail.ParseAddress(entry.FromAddress); err != nil {
		return Message{}, Permanent(fmt.Errorf("invalid sender %q: %w", entry.FromAddress, err))
	}

	return Message{
		From:    Address{Email: entry.FromAddress, Name: entry.FromDisplayName},
		To:      Address{Email: entry.ToAddress, Name: entry.ToDisplayName},
		Subject: entry.Subject,
		HTML:    entry.BodyHTML,
		Text:    entry.BodyText,
	}, nil
}
