// Package postgres archives rows as append-only JSONB, directly
// generalizing the teacher's internal/adapter/pg package (pgxpool,
// per-table SQL) from a fixed order/trade/snapshot schema to one generic
// append-only table, one row per archive.Sink.Emit call.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Sink writes archived rows into a single `engine_archive` table, one row
// per Emit call, with the logical table name as a discriminator column —
// the teacher keeps one Go struct per SQL table; this collapses to one
// wide table because the set of archived payload shapes is open-ended
// (fills, reservations, drift events, reboots).
type Sink struct {
	pool *pgxpool.Pool
}

// New connects a pgx pool to dsn and ensures the archive table exists.
func New(ctx context.Context, dsn string) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive/postgres: create pool: %w", err)
	}
	s := &Sink{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS engine_archive (
  id BIGSERIAL PRIMARY KEY,
  table_name TEXT NOT NULL,
  recorded_at TIMESTAMPTZ NOT NULL,
  payload JSONB NOT NULL
)`)
	return err
}

func (s *Sink) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Emit inserts one append-only JSONB row. Never updates or deletes an
// existing row.
func (s *Sink) Emit(ctx context.Context, table string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("archive/postgres: marshal payload for %s: %w", table, err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO engine_archive(table_name, recorded_at, payload)
VALUES ($1, $2, $3)
`, table, time.Now(), string(body))
	return err
}
