// Package memstore is an in-memory queue repository and template store.
// Safe for concurrent access. Intended for unit testing and local development.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"PulseMail/internal/models"
)

// Store keeps templates, queue entries and events in maps guarded by one mutex.
type Store struct {
	mu sync.RWMutex

	templates map[string]*models.Template
	entries   map[uuid.UUID]*models.QueueEntry
	events    map[uuid.UUID][]models.EventLogRecord

	// seq breaks createdAt ties so FIFO order stays stable.
	seq   map[uuid.UUID]int64
	next  int64
	clock func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for createdAt/updatedAt.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

func New(opts ...Option) *Store {
	s := &Store{
		templates: make(map[string]*models.Template),
		entries:   make(map[uuid.UUID]*models.QueueEntry),
		events:    make(map[uuid.UUID][]models.EventLogRecord),
		seq:       make(map[uuid.UUID]int64),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) now() time.Time { return s.clock().UTC() }

// ──────────────────────────────────────────────────
// Templates
// ──────────────────────────────────────────────────

// UpsertTemplate creates or replaces the template with the same name.
func (s *Store) UpsertTemplate(_ context.Context, t *models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cp := *t
	if existing, ok := s.templates[t.Name]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	} else {
		if cp.ID == uuid.Nil {
			cp.ID = uuid.New()
		}
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.templates[t.Name] = &cp
	*t = cp
	return nil
}

func (s *Store) GetTemplateByName(_ context.Context, name string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[name]
	if !ok {
		return nil, models.ErrTemplateNotFound
	}
	cp := *t
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Queue entries
// ──────────────────────────────────────────────────

func (s *Store) Insert(_ context.Context, e *models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := s.now()
	e.Status = models.StatusPending
	e.RetryCount = 0
	if e.MaxRetries <= 0 {
		e.MaxRetries = models.DefaultMaxRetries
	}
	e.CreatedAt = now
	e.UpdatedAt = now

	s.entries[e.ID] = cloneEntry(e)
	s.next++
	s.seq[e.ID] = s.next
	return nil
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*models.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, models.ErrEntryNotFound
	}
	return cloneEntry(e), nil
}

func (s *Store) UpdateStatus(_ context.Context, id uuid.UUID, u models.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return models.ErrEntryNotFound
	}
	if e.Status.Terminal() {
		return models.ErrClaimConflict
	}
	if u.Status == models.StatusSending && !e.Status.Claimable() {
		return models.ErrClaimConflict
	}

	e.Status = u.Status
	if u.RetryCount != nil && *u.RetryCount > e.RetryCount {
		e.RetryCount = *u.RetryCount
	}
	switch u.Status {
	case models.StatusSent:
		e.ErrorMessage = nil
		e.SentAt = copyTime(u.SentAt)
		if e.SentAt == nil {
			now := s.now()
			e.SentAt = &now
		}
	case models.StatusRetry, models.StatusFailed:
		e.SentAt = nil
	}
	if u.ErrorMessage != nil && u.Status != models.StatusSent {
		e.ErrorMessage = copyString(u.ErrorMessage)
	}
	if u.ProviderMessageID != nil {
		e.ProviderMessageID = copyString(u.ProviderMessageID)
	}
	e.UpdatedAt = s.now()
	return nil
}

func (s *Store) SelectDue(_ context.Context, now time.Time, limit int) ([]*models.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := make([]*models.QueueEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Due(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return s.seq[due[i].ID] < s.seq[due[j].ID]
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*models.QueueEntry, len(due))
	for i, e := range due {
		out[i] = cloneEntry(e)
	}
	return out, nil
}

func (s *Store) RequeueStale(_ context.Context, before time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for id, e := range s.entries {
		if e.Status == models.StatusSending && e.UpdatedAt.Before(before) {
			e.Status = models.StatusPending
			e.UpdatedAt = s.now()
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) CountByStatus(_ context.Context) (models.StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(models.StatusCounts, len(models.Statuses))
	for _, st := range models.Statuses {
		counts[st] = 0
	}
	for _, e := range s.entries {
		counts[e.Status]++
	}
	return counts, nil
}

// ──────────────────────────────────────────────────
// Event log
// ──────────────────────────────────────────────────

func (s *Store) AppendEvent(_ context.Context, entryID uuid.UUID, eventType string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data == nil {
		data = map[string]any{}
	}
	s.events[entryID] = append(s.events[entryID], models.EventLogRecord{
		ID:           uuid.New(),
		QueueEntryID: entryID,
		EventType:    eventType,
		EventData:    maps.Clone(data),
		CreatedAt:    s.now(),
	})
	return nil
}

func (s *Store) Events(_ context.Context, entryID uuid.UUID) ([]models.EventLogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.events[entryID]), nil
}

func cloneEntry(e *models.QueueEntry) *models.QueueEntry {
	cp := *e
	cp.TemplateVariables = slices.Clone(e.TemplateVariables)
	cp.ScheduledFor = copyTime(e.ScheduledFor)
	cp.SentAt = copyTime(e.SentAt)
	cp.ErrorMessage = copyString(e.ErrorMessage)
	cp.ProviderMessageID = copyString(e.ProviderMessageID)
	cp.SentBy = copyString(e.SentBy)
	if e.TemplateID != nil {
		id := *e.TemplateID
		cp.TemplateID = &id
	}
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
