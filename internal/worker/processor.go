package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"PulseMail/internal/email"
	"PulseMail/internal/metrics"
	"PulseMail/internal/models"
)

const (
	DefaultBatchSize  = 50
	DefaultSendDelay  = 100 * time.Millisecond
	DefaultStaleAfter = 10 * time.Minute
)

var (
	// ErrPassInProgress is returned by RunPass while another pass is running.
	ErrPassInProgress = errors.New("worker: processing pass already in progress")

	ErrSelectDue = errors.New("worker: failed to select due entries")
)

// Repository is the part of the queue store the processor needs.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, u models.StatusUpdate) error
	SelectDue(ctx context.Context, now time.Time, limit int) ([]*models.QueueEntry, error)
	AppendEvent(ctx context.Context, entryID uuid.UUID, eventType string, data map[string]any) error
	RequeueStale(ctx context.Context, before time.Time) ([]uuid.UUID, error)
	CountByStatus(ctx context.Context) (models.StatusCounts, error)
}

// Sender performs one delivery attempt.
type Sender interface {
	Send(ctx context.Context, entry *models.QueueEntry) (string, error)
}

type Config struct {
	BatchSize int
	// SendDelay is the minimum gap between two delivery attempts.
	SendDelay time.Duration
	// StaleAfter is how long an entry may stay in sending before it is requeued.
	// Zero disables stale recovery.
	StaleAfter time.Duration
}

// Stats summarizes one pass. Failed counts every failed attempt; Retried is the
// subset that went back to the queue.
type Stats struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Retried    int `json:"retried"`
	Skipped    int `json:"skipped"`
}

func (s *Stats) add(o outcome) {
	switch o {
	case outcomeSkipped:
		s.Skipped++
		return
	case outcomeSent:
		s.Successful++
	case outcomeRetry:
		s.Failed++
		s.Retried++
	case outcomeFailed:
		s.Failed++
	}
	s.Processed++
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeRetry
	outcomeFailed
)

// Processor drains due queue entries one at a time.
type Processor struct {
	repo    Repository
	sender  Sender
	logger  *zap.Logger
	cfg     Config
	limiter *rate.Limiter
	pass    *semaphore.Weighted
	now     func() time.Time
}

type Option func(*Processor)

// WithClock overrides the time source used for due selection and sentAt.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func NewProcessor(repo Repository, sender Sender, logger *zap.Logger, cfg Config, opts ...Option) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.SendDelay < 0 {
		cfg.SendDelay = 0
	}

	limit := rate.Inf
	if cfg.SendDelay > 0 {
		limit = rate.Every(cfg.SendDelay)
	}

	p := &Processor{
		repo:    repo,
		sender:  sender,
		logger:  logger,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		pass:    semaphore.NewWeighted(1),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunPass processes one batch of due entries in FIFO order. Per-entry failures
// are recorded on the entry and in the returned Stats, never returned as errors.
func (p *Processor) RunPass(ctx context.Context) (Stats, error) {
	if !p.pass.TryAcquire(1) {
		return Stats{}, ErrPassInProgress
	}
	defer p.pass.Release(1)

	start := time.Now()
	defer func() {
		metrics.PassDuration.Observe(time.Since(start).Seconds())
		metrics.LastPassTimestamp.SetToCurrentTime()
	}()

	p.requeueStale(ctx)

	entries, err := p.repo.SelectDue(ctx, p.now(), p.cfg.BatchSize)
	if err != nil {
		metrics.RepositoryErrors.WithLabelValues("select_due").Inc()
		return Stats{}, errors.Join(ErrSelectDue, err)
	}

	var stats Stats
	for _, entry := range entries {
		// ----------------------------
		// Rate Limit
		// ----------------------------
		if err := p.limiter.Wait(ctx); err != nil {
			p.logger.Warn("processing pass interrupted",
				zap.Int("remaining", len(entries)-stats.Processed-stats.Skipped),
				zap.Error(err),
			)
			break
		}
		stats.add(p.process(ctx, entry))
	}

	p.recordDepth(ctx)

	if len(entries) > 0 {
		p.logger.Info("processing pass finished",
			zap.Int("processed", stats.Processed),
			zap.Int("successful", stats.Successful),
			zap.Int("failed", stats.Failed),
			zap.Int("retried", stats.Retried),
			zap.Int("skipped", stats.Skipped),
		)
	}
	return stats, nil
}

// ProcessEntry runs a single-entry pass, used for immediate sends.
// An entry that is no longer due is skipped.
func (p *Processor) ProcessEntry(ctx context.Context, id uuid.UUID) (Stats, error) {
	var stats Stats

	entry, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return stats, err
	}
	if !entry.Due(p.now()) {
		stats.add(outcomeSkipped)
		return stats, nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return stats, err
	}

	stats.add(p.process(ctx, entry))
	return stats, nil
}

func (p *Processor) process(ctx context.Context, entry *models.QueueEntry) outcome {
	log := p.logger.With(
		zap.String("entry_id", entry.ID.String()),
		zap.String("to", entry.ToAddress),
	)

	// ----------------------------
	// Claim
	// ----------------------------
	if err := p.repo.UpdateStatus(ctx, entry.ID, models.StatusUpdate{Status: models.StatusSending}); err != nil {
		if errors.Is(err, models.ErrClaimConflict) {
			log.Info("entry already claimed, skipping")
			return outcomeSkipped
		}
		p.repositoryError(log, "claim", err)
		return outcomeSkipped
	}

	// Once claimed, the attempt and its bookkeeping run to completion.
	ctx = context.WithoutCancel(ctx)

	// The selected row may predate another attempt; retry accounting must
	// start from the row as it was claimed.
	if claimed, err := p.repo.GetByID(ctx, entry.ID); err != nil {
		p.repositoryError(log, "reload_claimed", err)
	} else {
		entry = claimed
	}

	p.appendEvent(ctx, log, entry.ID, models.EventSending, map[string]any{})

	// ----------------------------
	// Send Email
	// ----------------------------
	providerID, sendErr := p.sender.Send(ctx, entry)
	if sendErr == nil {
		return p.markSent(ctx, log, entry, providerID)
	}
	return p.markFailed(ctx, log, entry, sendErr)
}

func (p *Processor) markSent(ctx context.Context, log *zap.Logger, entry *models.QueueEntry, providerID string) outcome {
	sentAt := p.now().UTC()
	update := models.StatusUpdate{
		Status:            models.StatusSent,
		SentAt:            &sentAt,
		ProviderMessageID: &providerID,
	}
	data := map[string]any{"provider_id": providerID}
	if err := p.repo.UpdateStatus(ctx, entry.ID, update); err != nil {
		// The entry stays in sending and is requeued by stale recovery,
		// which may deliver it twice.
		p.repositoryError(log, "mark_sent", err)
		data["status_write_failed"] = true
	}

	p.appendEvent(ctx, log, entry.ID, models.EventSent, data)

	log.Info("email sent successfully", zap.String("provider_id", providerID))
	metrics.EmailsSent.Inc()
	return outcomeSent
}

func (p *Processor) markFailed(ctx context.Context, log *zap.Logger, entry *models.QueueEntry, sendErr error) outcome {
	retryCount := entry.RetryCount + 1
	permanent := email.IsPermanent(sendErr)

	status := models.StatusRetry
	if permanent || retryCount >= entry.MaxRetries {
		status = models.StatusFailed
	}

	msg := sendErr.Error()
	update := models.StatusUpdate{
		Status:       status,
		RetryCount:   &retryCount,
		ErrorMessage: &msg,
	}
	if err := p.repo.UpdateStatus(ctx, entry.ID, update); err != nil {
		p.repositoryError(log, "mark_failed", err)
	}

	p.appendEvent(ctx, log, entry.ID, models.EventFailed, map[string]any{
		"error":       msg,
		"retry_count": retryCount,
		"status":      string(status),
		"permanent":   permanent,
	})

	log.Error("email send failed",
		zap.String("kind", "transport"),
		zap.String("status", string(status)),
		zap.Int("retry_count", retryCount),
		zap.Int("max_retries", entry.MaxRetries),
		zap.Bool("permanent", permanent),
		zap.Error(sendErr),
	)
	metrics.EmailFailures.WithLabelValues(string(status)).Inc()

	if status == models.StatusRetry {
		return outcomeRetry
	}
	return outcomeFailed
}

func (p *Processor) requeueStale(ctx context.Context) {
	if p.cfg.StaleAfter <= 0 {
		return
	}

	ids, err := p.repo.RequeueStale(ctx, p.now().Add(-p.cfg.StaleAfter))
	if err != nil {
		p.repositoryError(p.logger, "requeue_stale", err)
		return
	}
	for _, id := range ids {
		log := p.logger.With(zap.String("entry_id", id.String()))
		log.Warn("requeued entry stuck in sending", zap.Duration("stale_after", p.cfg.StaleAfter))
		p.appendEvent(ctx, log, id, models.EventRequeued, map[string]any{
			"stale_after": p.cfg.StaleAfter.String(),
		})
	}
}

func (p *Processor) recordDepth(ctx context.Context) {
	counts, err := p.repo.CountByStatus(ctx)
	if err != nil {
		p.repositoryError(p.logger, "count_by_status", err)
		return
	}
	for status, n := range counts {
		metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(n))
	}
}

func (p *Processor) appendEvent(ctx context.Context, log *zap.Logger, id uuid.UUID, eventType string, data map[string]any) {
	if err := p.repo.AppendEvent(ctx, id, eventType, data); err != nil {
		p.repositoryError(log, fmt.Sprintf("append_event_%s", eventType), err)
	}
}

func (p *Processor) repositoryError(log *zap.Logger, operation string, err error) {
	log.Error("queue repository operation failed",
		zap.String("kind", "repository"),
		zap.String("operation", operation),
		zap.Error(err),
	)
	metrics.RepositoryErrors.WithLabelValues(operation).Inc()
}
