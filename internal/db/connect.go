package db

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	ErrParseConfig = errors.New("db: failed to parse database configuration")
	ErrConnect     = errors.New("db: failed to open database connection")
)

// Connect opens a pool and pings it, retrying with exponential backoff so the
// service survives a database that starts after it.
func Connect(ctx context.Context, url string, attempts int, logger *zap.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.Join(ErrParseConfig, err)
	}

	var pool *pgxpool.Pool
	operation := func() error {
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 0

	retries := uint64(max(attempts, 1) - 1)
	policy := backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)

	notify := func(err error, wait time.Duration) {
		logger.Warn("database not ready, retrying",
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, errors.Join(ErrConnect, err)
	}
	return pool, nil
}
