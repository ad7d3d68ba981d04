package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"PulseMail/internal/models"
)

const entryColumns = `id, to_address, to_display_name, from_address, from_display_name,
	subject, body_html, body_text, template_id, template_variables, scheduled_for,
	status, retry_count, max_retries, error_message, provider_message_id,
	sent_at, sent_by, created_at, updated_at`

func scanEntry(row pgx.Row) (*models.QueueEntry, error) {
	var e models.QueueEntry
	var vars []byte
	err := row.Scan(
		&e.ID,
		&e.ToAddress,
		&e.ToDisplayName,
		&e.FromAddress,
		&e.FromDisplayName,
		&e.Subject,
		&e.BodyHTML,
		&e.BodyText,
		&e.TemplateID,
		&vars,
		&e.ScheduledFor,
		&e.Status,
		&e.RetryCount,
		&e.MaxRetries,
		&e.ErrorMessage,
		&e.ProviderMessageID,
		&e.SentAt,
		&e.SentBy,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(vars) > 0 {
		e.TemplateVariables = vars
	}
	return &e, nil
}

// Insert stores a new pending entry and fills in its id and timestamps.
func (s *Store) Insert(ctx context.Context, e *models.QueueEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.MaxRetries <= 0 {
		e.MaxRetries = models.DefaultMaxRetries
	}
	e.Status = models.StatusPending
	e.RetryCount = 0

	return s.Pool.QueryRow(ctx,
		`INSERT INTO email_queue
		 (id, to_address, to_display_name, from_address, from_display_name,
		  subject, body_html, body_text, template_id, template_variables,
		  scheduled_for, status, retry_count, max_retries, sent_by)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::jsonb,$11,$12,0,$13,$14)
		 RETURNING created_at, updated_at`,
		e.ID,
		e.ToAddress,
		e.ToDisplayName,
		e.FromAddress,
		e.FromDisplayName,
		e.Subject,
		e.BodyHTML,
		e.BodyText,
		e.TemplateID,
		nullableJSON(e.TemplateVariables),
		e.ScheduledFor,
		models.StatusPending,
		e.MaxRetries,
		e.SentBy,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error) {
	e, err := scanEntry(s.Pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM email_queue WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrEntryNotFound
	}
	return e, err
}

// UpdateStatus applies u atomically. Moving to sending only succeeds while the
// row is still pending or retry, so two processors cannot claim the same entry.
// Terminal rows are never updated. retry_count only moves forward.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, u models.StatusUpdate) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE email_queue
		 SET status = $2::text,
		     retry_count = GREATEST(retry_count, COALESCE($3::int, retry_count)),
		     error_message = CASE WHEN $2::text = 'sent' THEN NULL
		                          ELSE COALESCE($4::text, error_message) END,
		     provider_message_id = COALESCE($5::text, provider_message_id),
		     sent_at = CASE WHEN $2::text = 'sent' THEN COALESCE($6::timestamptz, NOW())
		                    WHEN $2::text IN ('retry', 'failed') THEN NULL
		                    ELSE sent_at END,
		     updated_at = clock_timestamp()
		 WHERE id = $1
		   AND status NOT IN ('sent', 'failed')
		   AND ($2::text <> 'sending' OR status IN ('pending', 'retry'))`,
		id,
		string(u.Status),
		u.RetryCount,
		u.ErrorMessage,
		u.ProviderMessageID,
		u.SentAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM email_queue WHERE id=$1)`, id,
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return models.ErrEntryNotFound
	}
	return models.ErrClaimConflict
}

// SelectDue returns up to limit eligible entries, oldest first.
func (s *Store) SelectDue(ctx context.Context, now time.Time, limit int) ([]*models.QueueEntry, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+entryColumns+`
		 FROM email_queue
		 WHERE status IN ('pending', 'retry')
		   AND (scheduled_for IS NULL OR scheduled_for <= $1)
		   AND retry_count < max_retries
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2`,
		now,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RequeueStale puts entries stuck in sending since before back to pending.
func (s *Store) RequeueStale(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	rows, err := s.Pool.Query(ctx,
		`UPDATE email_queue
		 SET status = 'pending', updated_at = clock_timestamp()
		 WHERE status = 'sending' AND updated_at < $1
		 RETURNING id`,
		before,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (s *Store) CountByStatus(ctx context.Context) (models.StatusCounts, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT status, COUNT(*) FROM email_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(models.StatusCounts, len(models.Statuses))
	for _, st := range models.Statuses {
		counts[st] = 0
	}
	for rows.Next() {
		var status models.EntryStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
