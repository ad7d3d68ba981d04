package models

import (
	"time"

	"github.com/google/uuid"
)

// Template is a named subject/body triple. Callers reference templates by Name.
type Template struct {
	ID        uuid.UUID `json:"id" yaml:"-"`
	Name      string    `json:"name" yaml:"name"`
	Subject   string    `json:"subject" yaml:"subject"`
	BodyHTML  string    `json:"body_html" yaml:"body_html"`
	BodyText  string    `json:"body_text,omitempty" yaml:"body_text"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}
