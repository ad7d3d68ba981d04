package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventQueued   = "queued"
	EventSending  = "sending"
	EventSent     = "sent"
	EventFailed   = "failed"
	EventRequeued = "requeued"
)

// EventLogRecord is one append-only row in an entry's audit trail.
type EventLogRecord struct {
	ID           uuid.UUID      `json:"id"`
	QueueEntryID uuid.UUID      `json:"queue_entry_id"`
	EventType    string         `json:"event_type"`
	EventData    map[string]any `json:"event_data"`
	CreatedAt    time.Time      `json:"created_at"`
}
