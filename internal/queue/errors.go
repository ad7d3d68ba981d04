package queue

import "errors"

var (
	// ErrTemplateNotFound is returned when no template has the requested name.
	// No entry is created.
	ErrTemplateNotFound = errors.New("queue: template not found")

	// ErrRepository wraps storage failures on the enqueue path.
	ErrRepository = errors.New("queue: repository error")

	// ErrInvalidMessage is returned for an empty or malformed recipient,
	// sender, subject or body.
	ErrInvalidMessage = errors.New("queue: invalid message")
)
