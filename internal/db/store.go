package db

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres-backed queue repository, template store and event log.
type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

func (s *Store) Close() {
	s.Pool.Close()
}

func nullableJSON(raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}
	v := string(raw)
	return &v
}
