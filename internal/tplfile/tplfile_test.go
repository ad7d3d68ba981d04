package tplfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"PulseMail/internal/memstore"
)

const seed = `
templates:
  - name: welcome
    subject: "Welcome, {{name}}!"
    body_html: |
      <p>Hi {{name}}</p>
    body_text: Hi {{name}}
  - name: digest
    subject: Your digest
    body_html: "<ul>{{#each items}}<li>{{this}}</li>{{/each}}</ul>"
`

func TestLoadAndSeed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	templates, err := Load(path)
	require.NoError(t, err)
	require.Len(t, templates, 2)
	require.Equal(t, "welcome", templates[0].Name)
	require.Equal(t, "<p>Hi {{name}}</p>\n", templates[0].BodyHTML)
	require.Empty(t, templates[1].BodyText)

	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, Seed(ctx, store, templates, zap.NewNop()))

	got, err := store.GetTemplateByName(ctx, "digest")
	require.NoError(t, err)
	require.Equal(t, "Your digest", got.Subject)

	// Re-seeding updates in place.
	templates[1].Subject = "Weekly digest"
	require.NoError(t, Seed(ctx, store, templates, zap.NewNop()))

	updated, err := store.GetTemplateByName(ctx, "digest")
	require.NoError(t, err)
	require.Equal(t, got.ID, updated.ID)
	require.Equal(t, "Weekly digest", updated.Subject)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		err   error
	}{
		{name: "not yaml", input: "templates: [", err: ErrInvalidFile},
		{name: "unknown field", input: "templates:\n  - name: a\n    subjet: x\n", err: ErrInvalidFile},
		{name: "missing name", input: "templates:\n  - subject: s\n    body_html: b\n", err: ErrInvalidTemplate},
		{name: "missing subject", input: "templates:\n  - name: a\n    body_html: b\n", err: ErrInvalidTemplate},
		{name: "missing body", input: "templates:\n  - name: a\n    subject: s\n", err: ErrInvalidTemplate},
		{name: "duplicate", input: "templates:\n  - {name: a, subject: s, body_html: b}\n  - {name: a, subject: s, body_html: b}\n", err: ErrInvalidTemplate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(strings.NewReader(tt.input))
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestParse_EmptyFile(t *testing.T) {
	t.Parallel()

	templates, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, templates)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
