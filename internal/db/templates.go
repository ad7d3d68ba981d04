package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"PulseMail/internal/models"
)

func (s *Store) GetTemplateByName(ctx context.Context, name string) (*models.Template, error) {
	var t models.Template
	err := s.Pool.QueryRow(ctx,
		`SELECT id, name, subject, body_html, body_text, created_at, updated_at
		 FROM email_templates
		 WHERE name = $1`,
		name,
	).Scan(&t.ID, &t.Name, &t.Subject, &t.BodyHTML, &t.BodyText, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpsertTemplate creates the template or replaces the content of the one with
// the same name, keeping its id.
func (s *Store) UpsertTemplate(ctx context.Context, t *models.Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return s.Pool.QueryRow(ctx,
		`INSERT INTO email_templates (id, name, subject, body_html, body_text)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name) DO UPDATE
		 SET subject = EXCLUDED.subject,
		     body_html = EXCLUDED.body_html,
		     body_text = EXCLUDED.body_text,
		     updated_at = NOW()
		 RETURNING id, created_at, updated_at`,
		t.ID,
		t.Name,
		t.Subject,
		t.BodyHTML,
		t.BodyText,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}
