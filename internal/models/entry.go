package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EntryStatus string

const (
	StatusPending EntryStatus = "pending"
	StatusSending EntryStatus = "sending"
	StatusSent    EntryStatus = "sent"
	StatusRetry   EntryStatus = "retry"
	StatusFailed  EntryStatus = "failed"
)

// DefaultMaxRetries is the retry budget applied when an entry does not carry its own.
const DefaultMaxRetries = 3

// Statuses lists every entry status in lifecycle order.
var Statuses = []EntryStatus{StatusPending, StatusSending, StatusSent, StatusRetry, StatusFailed}

// Claimable reports whether an entry in this status may be moved to sending.
func (s EntryStatus) Claimable() bool {
	return s == StatusPending || s == StatusRetry
}

// Terminal reports whether the status never changes again.
func (s EntryStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

func (s EntryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSending, StatusSent, StatusRetry, StatusFailed:
		return true
	}
	return false
}

// QueueEntry is one persisted outbound message. Content is rendered once, before
// insertion, and is never re-rendered on retry.
type QueueEntry struct {
	ID uuid.UUID `json:"id"`

	ToAddress       string `json:"to_address"`
	ToDisplayName   string `json:"to_display_name,omitempty"`
	FromAddress     string `json:"from_address"`
	FromDisplayName string `json:"from_display_name,omitempty"`

	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
	BodyText string `json:"body_text,omitempty"`

	TemplateID        *uuid.UUID      `json:"template_id,omitempty"`
	TemplateVariables json.RawMessage `json:"template_variables,omitempty"`
	ScheduledFor      *time.Time      `json:"scheduled_for,omitempty"`

	Status            EntryStatus `json:"status"`
	RetryCount        int         `json:"retry_count"`
	MaxRetries        int         `json:"max_retries"`
	ErrorMessage      *string     `json:"error_message,omitempty"`
	ProviderMessageID *string     `json:"provider_message_id,omitempty"`
	SentAt            *time.Time  `json:"sent_at,omitempty"`
	SentBy            *string     `json:"sent_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Due reports whether the entry is eligible for a processing pass at now.
func (e *QueueEntry) Due(now time.Time) bool {
	if !e.Status.Claimable() || e.RetryCount >= e.MaxRetries {
		return false
	}
	return e.ScheduledFor == nil || !e.ScheduledFor.After(now)
}

// StatusUpdate is a partial update applied by the processor. Nil fields are left
// untouched; RetryCount is applied as a floor so it can never move backwards.
type StatusUpdate struct {
	Status            EntryStatus
	RetryCount        *int
	ErrorMessage      *string
	ProviderMessageID *string
	SentAt            *time.Time
}

// StatusCounts holds the number of queue entries per status.
type StatusCounts map[EntryStatus]int

func (c StatusCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}
