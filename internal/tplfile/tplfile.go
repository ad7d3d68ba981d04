// Package tplfile loads email templates from a YAML seed file:
//
//	templates:
//	  - name: welcome
//	    subject: "Welcome, {{name}}!"
//	    body_html: "<p>Hi {{name}}</p>"
//	    body_text: "Hi {{name}}"
package tplfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"PulseMail/internal/models"
)

var (
	ErrInvalidFile     = errors.New("tplfile: invalid template file")
	ErrInvalidTemplate = errors.New("tplfile: invalid template")
)

type file struct {
	Templates []models.Template `yaml:"templates"`
}

// Upserter stores templates by name.
type Upserter interface {
	UpsertTemplate(ctx context.Context, t *models.Template) error
}

// Load reads and validates the templates in path.
func Load(path string) ([]models.Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(f)
}

func Parse(r io.Reader) ([]models.Template, error) {
	var doc file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}

	seen := make(map[string]bool, len(doc.Templates))
	for i := range doc.Templates {
		t := &doc.Templates[i]
		t.Name = strings.TrimSpace(t.Name)

		switch {
		case t.Name == "":
			return nil, fmt.Errorf("%w: entry %d has no name", ErrInvalidTemplate, i)
		case seen[t.Name]:
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidTemplate, t.Name)
		case strings.TrimSpace(t.Subject) == "":
			return nil, fmt.Errorf("%w: %q has no subject", ErrInvalidTemplate, t.Name)
		case strings.TrimSpace(t.BodyHTML) == "":
			return nil, fmt.Errorf("%w: %q has no body_html", ErrInvalidTemplate, t.Name)
		}
		seen[t.Name] = true
	}
	return doc.Templates, nil
}

// Seed upserts every template, so a re-run after editing the file updates
// existing rows in place.
func Seed(ctx context.Context, store Upserter, templates []models.Template, logger *zap.Logger) error {
	for i := range templates {
		t := templates[i]
		if err := store.UpsertTemplate(ctx, &t); err != nil {
			return fmt.Errorf("seed template %q: %w", t.Name, err)
		}
		logger.Info("template seeded", zap.String("template", t.Name), zap.String("template_id", t.ID.String()))
	}
	return nil
}
