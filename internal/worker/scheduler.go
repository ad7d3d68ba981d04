package worker

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler triggers processing passes on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	processor *Processor
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler registers processor on a cron schedule, e.g. "@every 1m" or "*/5 * * * *".
func NewScheduler(schedule string, processor *Processor, logger *zap.Logger) (*Scheduler, error) {
	cl := cronLogger{logger.Sugar()}
	c := cron.New(cron.WithChain(
		cron.Recover(cl),
		cron.SkipIfStillRunning(cl),
	))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:      c,
		processor: processor,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	if _, err := c.AddFunc(schedule, s.tick); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.logger.Info("queue scheduler started")
	s.cron.Start()
}

// Stop halts the schedule and waits for a running pass to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	_, err := s.processor.RunPass(s.ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrPassInProgress):
		s.logger.Info("skipping scheduled pass, previous pass still running")
	default:
		s.logger.Error("scheduled processing pass failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
