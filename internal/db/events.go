package db

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"PulseMail/internal/models"
)

func (s *Store) AppendEvent(ctx context.Context, entryID uuid.UUID, eventType string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = s.Pool.Exec(ctx,
		`INSERT INTO email_events (id, queue_entry_id, event_type, event_data)
		 VALUES ($1, $2, $3, $4::jsonb)`,
		uuid.New(),
		entryID,
		eventType,
		string(payload),
	)
	return err
}

// Events returns the audit trail of one entry, oldest first.
func (s *Store) Events(ctx context.Context, entryID uuid.UUID) ([]models.EventLogRecord, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, queue_entry_id, event_type, event_data, created_at
		 FROM email_events
		 WHERE queue_entry_id = $1
		 ORDER BY created_at ASC`,
		entryID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EventLogRecord
	for rows.Next() {
		var ev models.EventLogRecord
		var data []byte
		if err := rows.Scan(&ev.ID, &ev.QueueEntryID, &ev.EventType, &data, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &ev.EventData); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
