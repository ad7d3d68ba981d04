// Package queue is the caller-facing side of the delivery queue: it renders
// templates once, persists entries and optionally triggers an immediate send.
package queue

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"PulseMail/internal/csvparser"
	"PulseMail/internal/metrics"
	"PulseMail/internal/models"
	"PulseMail/internal/render"
	"PulseMail/internal/worker"
)

// Repository is the part of the queue store the enqueue side needs.
type Repository interface {
	Insert(ctx context.Context, e *models.QueueEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error)
	AppendEvent(ctx context.Context, entryID uuid.UUID, eventType string, data map[string]any) error
	Events(ctx context.Context, entryID uuid.UUID) ([]models.EventLogRecord, error)
	CountByStatus(ctx context.Context) (models.StatusCounts, error)
}

type TemplateStore interface {
	GetTemplateByName(ctx context.Context, name string) (*models.Template, error)
}

// Runner runs processing passes. *worker.Processor satisfies it.
type Runner interface {
	RunPass(ctx context.Context) (worker.Stats, error)
	ProcessEntry(ctx context.Context, id uuid.UUID) (worker.Stats, error)
}

// Recipient is a mailbox with an optional display name.
type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Content is an already rendered message.
type Content struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text,omitempty"`
}

type Options struct {
	// From overrides the configured sender when its Email is set.
	From Recipient
	// ScheduledFor defers delivery until the given time.
	ScheduledFor *time.Time
	// SendNow attempts delivery before returning. Ignored for scheduled entries.
	SendNow bool
	// MaxRetries overrides the configured retry budget when positive.
	MaxRetries int
	SentBy     string
}

type Config struct {
	From       Recipient
	MaxRetries int
}

// Enqueuer is the only component that creates queue entries.
type Enqueuer struct {
	repo      Repository
	templates TemplateStore
	runner    Runner
	logger    *zap.Logger
	cfg       Config
	strip     *bluemonday.Policy
	now       func() time.Time
}

// NewEnqueuer wires the enqueue side. runner may be nil, in which case
// SendNow is ignored and entries wait for the next pass.
func NewEnqueuer(repo Repository, templates TemplateStore, runner Runner, logger *zap.Logger, cfg Config) *Enqueuer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = models.DefaultMaxRetries
	}
	return &Enqueuer{
		repo:      repo,
		templates: templates,
		runner:    runner,
		logger:    logger,
		cfg:       cfg,
		strip:     bluemonday.StrictPolicy(),
		now:       time.Now,
	}
}

// EnqueueFromTemplate renders the named template against vars and queues the result.
func (q *Enqueuer) EnqueueFromTemplate(ctx context.Context, templateName string, to Recipient, vars map[string]any, opts Options) (uuid.UUID, error) {
	tpl, err := q.template(ctx, templateName)
	if err != nil {
		return uuid.Nil, err
	}
	return q.fromTemplate(ctx, tpl, to, vars, opts)
}

// EnqueueRendered queues content that the caller rendered itself.
func (q *Enqueuer) EnqueueRendered(ctx context.Context, to Recipient, content Content, opts Options) (uuid.UUID, error) {
	return q.enqueue(ctx, to, content, opts, nil, nil)
}

// RowError describes a bulk row that could not be queued.
type RowError struct {
	Line  int    `json:"line"`
	Email string `json:"email"`
	Err   error  `json:"-"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d (%s): %v", e.Line, e.Email, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

func (e RowError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"line":  e.Line,
		"email": e.Email,
		"error": e.Err.Error(),
	})
}

type BulkResult struct {
	IDs    []uuid.UUID `json:"ids"`
	Errors []RowError  `json:"errors,omitempty"`
	// Truncated reports that rows past the row cap were not read.
	Truncated bool `json:"truncated,omitempty"`
}

// EnqueueBulk queues one entry per parsed recipient row. The template is
// loaded once; per-row failures, including rows the parser rejected, are
// collected in line order instead of aborting the batch. Bulk entries are
// never sent inline.
func (q *Enqueuer) EnqueueBulk(ctx context.Context, templateName string, recipients csvparser.Recipients, opts Options) (BulkResult, error) {
	tpl, err := q.template(ctx, templateName)
	if err != nil {
		return BulkResult{}, err
	}

	opts.SendNow = false
	result := BulkResult{
		IDs:       make([]uuid.UUID, 0, len(recipients.Rows)),
		Truncated: recipients.Truncated,
	}
	for _, rej := range recipients.Rejected {
		result.Errors = append(result.Errors, RowError{
			Line:  rej.Line,
			Email: rej.Email,
			Err:   errors.Join(ErrInvalidMessage, rej.Err),
		})
	}
	for _, row := range recipients.Rows {
		to := Recipient{Email: row.Email, Name: row.Name}
		id, err := q.fromTemplate(ctx, tpl, to, row.Vars(), opts)
		if err != nil {
			result.Errors = append(result.Errors, RowError{Line: row.Line, Email: row.Email, Err: err})
			continue
		}
		result.IDs = append(result.IDs, id)
	}
	slices.SortStableFunc(result.Errors, func(a, b RowError) int {
		return cmp.Compare(a.Line, b.Line)
	})

	q.logger.Info("bulk enqueue finished",
		zap.String("template", templateName),
		zap.Int("queued", len(result.IDs)),
		zap.Int("rejected", len(result.Errors)),
		zap.Bool("truncated", result.Truncated),
	)
	return result, nil
}

func (q *Enqueuer) template(ctx context.Context, name string) (*models.Template, error) {
	tpl, err := q.templates.GetTemplateByName(ctx, name)
	if errors.Is(err, models.ErrTemplateNotFound) {
		return nil, fmt.Errorf("%w: %q: %w", ErrTemplateNotFound, name, err)
	}
	if err != nil {
		return nil, errors.Join(ErrRepository, err)
	}
	return tpl, nil
}

func (q *Enqueuer) fromTemplate(ctx context.Context, tpl *models.Template, to Recipient, vars map[string]any, opts Options) (uuid.UUID, error) {
	res, err := render.Template(tpl, vars)
	if err != nil {
		return uuid.Nil, err
	}

	if vars == nil {
		vars = map[string]any{}
	}
	snapshot, err := json.Marshal(vars)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: template variables: %w", ErrInvalidMessage, err)
	}

	content := Content{Subject: res.Subject, HTML: res.HTML, Text: res.Text}
	return q.enqueue(ctx, to, content, opts, tpl, snapshot)
}

func (q *Enqueuer) enqueue(ctx context.Context, to Recipient, content Content, opts Options, tpl *models.Template, vars json.RawMessage) (uuid.UUID, error) {
	from := q.cfg.From
	if opts.From.Email != "" {
		from = opts.From
	}

	entry := &models.QueueEntry{
		ToAddress:         strings.TrimSpace(to.Email),
		ToDisplayName:     strings.TrimSpace(to.Name),
		FromAddress:       strings.TrimSpace(from.Email),
		FromDisplayName:   strings.TrimSpace(from.Name),
		Subject:           strings.TrimSpace(content.Subject),
		BodyHTML:          content.HTML,
		BodyText:          content.Text,
		TemplateVariables: vars,
		MaxRetries:        q.cfg.MaxRetries,
	}
	if opts.MaxRetries > 0 {
		entry.MaxRetries = opts.MaxRetries
	}
	if opts.ScheduledFor != nil {
		at := opts.ScheduledFor.UTC()
		entry.ScheduledFor = &at
	}
	if opts.SentBy != "" {
		sentBy := opts.SentBy
		entry.SentBy = &sentBy
	}
	if tpl != nil {
		id := tpl.ID
		entry.TemplateID = &id
	}
	if entry.BodyText == "" && entry.BodyHTML != "" {
		entry.BodyText = q.plainText(entry.BodyHTML)
	}

	if err := validate(entry); err != nil {
		return uuid.Nil, err
	}

	if err := q.repo.Insert(ctx, entry); err != nil {
		return uuid.Nil, errors.Join(ErrRepository, err)
	}

	log := q.logger.With(
		zap.String("entry_id", entry.ID.String()),
		zap.String("to", entry.ToAddress),
	)

	data := map[string]any{}
	if tpl != nil {
		data["template"] = tpl.Name
	}
	if entry.ScheduledFor != nil {
		data["scheduled_for"] = entry.ScheduledFor.Format(time.RFC3339)
	}
	if err := q.repo.AppendEvent(ctx, entry.ID, models.EventQueued, data); err != nil {
		// The entry exists and will be delivered; only its audit trail is short.
		log.Error("failed to record queued event", zap.String("kind", "repository"), zap.Error(err))
	}

	metrics.EmailsQueued.Inc()
	log.Info("email queued")

	if opts.SendNow && q.shouldSendNow(entry) {
		if _, err := q.runner.ProcessEntry(ctx, entry.ID); err != nil {
			// The entry stays queued for the next pass.
			log.Warn("immediate send did not run", zap.Error(err))
		}
	}
	return entry.ID, nil
}

func (q *Enqueuer) shouldSendNow(entry *models.QueueEntry) bool {
	if q.runner == nil {
		q.logger.Warn("send-now requested without a processor, entry left for the next pass",
			zap.String("entry_id", entry.ID.String()))
		return false
	}
	return entry.ScheduledFor == nil || !entry.ScheduledFor.After(q.now())
}

// plainText derives a text body from rendered HTML.
func (q *Enqueuer) plainText(body string) string {
	stripped := html.UnescapeString(q.strip.Sanitize(body))

	lines := strings.Split(stripped, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func validate(e *models.QueueEntry) error {
	if err := validateAddress("recipient", e.ToAddress); err != nil {
		return err
	}
	if err := validateAddress("sender", e.FromAddress); err != nil {
		return err
	}
	if e.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	if strings.TrimSpace(e.BodyHTML) == "" && strings.TrimSpace(e.BodyText) == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	return nil
}

// validateAddress accepts a bare addr-spec only; display names travel separately.
func validateAddress(field, addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidMessage, field)
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return fmt.Errorf("%w: %s %q: %w", ErrInvalidMessage, field, addr, err)
	}
	if parsed.Address != addr {
		return fmt.Errorf("%w: %s %q must be a bare address", ErrInvalidMessage, field, addr)
	}
	return nil
}
