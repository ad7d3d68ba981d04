package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"PulseMail/internal/models"
	"PulseMail/internal/worker"
)

// EntryDetails is a queue entry together with its audit trail, oldest event first.
type EntryDetails struct {
	Entry  *models.QueueEntry      `json:"entry"`
	Events []models.EventLogRecord `json:"events"`
}

// Get returns the entry and its events. A missing entry yields models.ErrEntryNotFound.
func (q *Enqueuer) Get(ctx context.Context, id uuid.UUID) (*EntryDetails, error) {
	entry, err := q.repo.GetByID(ctx, id)
	if errors.Is(err, models.ErrEntryNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, errors.Join(ErrRepository, err)
	}

	events, err := q.repo.Events(ctx, id)
	if err != nil {
		return nil, errors.Join(ErrRepository, err)
	}
	if events == nil {
		events = []models.EventLogRecord{}
	}
	return &EntryDetails{Entry: entry, Events: events}, nil
}

func (q *Enqueuer) StatusCounts(ctx context.Context) (models.StatusCounts, error) {
	counts, err := q.repo.CountByStatus(ctx)
	if err != nil {
		return nil, errors.Join(ErrRepository, err)
	}
	return counts, nil
}

// ProcessPending runs one processing pass on demand.
func (q *Enqueuer) ProcessPending(ctx context.Context) (worker.Stats, error) {
	if q.runner == nil {
		return worker.Stats{}, errors.New("queue: no processor configured")
	}
	return q.runner.RunPass(ctx)
}
