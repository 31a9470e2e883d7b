package journal

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the timer_events table. Execute it via
// [PostgresSink.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS timer_events (
    id           BIGSERIAL PRIMARY KEY,
    timer_id     TEXT NOT NULL,
    timer_name   TEXT NOT NULL DEFAULT '',
    previous     TEXT NOT NULL,
    current      TEXT NOT NULL,
    remaining_ms BIGINT NOT NULL DEFAULT 0,
    removed      BOOLEAN NOT NULL DEFAULT false,
    occurred_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_timer_events_timer ON timer_events(timer_id, id);
`

// DB is the database interface used by [PostgresSink]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var (
	_ Sink   = (*PostgresSink)(nil)
	_ Reader = (*PostgresSink)(nil)
)

// PostgresSink writes records to the timer_events table.
type PostgresSink struct {
	db    DB
	close func()
}

// NewPostgresSink returns a sink using db. The caller is responsible for
// calling [PostgresSink.Migrate] and for closing db.
func NewPostgresSink(db DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// OpenPostgres connects a pool to dsn, verifies it and applies [Schema].
// [PostgresSink.Close] releases the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: parse dsn: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}

	s := &PostgresSink{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) Name() string { return "postgres" }

// Migrate executes the [Schema] DDL.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// Write inserts rec.
func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	const q = `
		INSERT INTO timer_events (timer_id, timer_name, previous, current, remaining_ms, removed, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.Exec(ctx, q,
		rec.TimerID, rec.TimerName, rec.Previous, rec.Current,
		rec.RemainingMS, rec.Removed, rec.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("journal: insert %s: %w", rec.TimerID, err)
	}
	return nil
}

// History returns the newest records for timerID, oldest first.
func (s *PostgresSink) History(ctx context.Context, timerID string, limit int) ([]Record, error) {
	q := `
		SELECT timer_id, timer_name, previous, current, remaining_ms, removed, occurred_at
		FROM timer_events
		WHERE timer_id = $1
		ORDER BY id DESC`
	args := []any{timerID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: history query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec Record
			at  time.Time
		)
		if err := rows.Scan(&rec.TimerID, &rec.TimerName, &rec.Previous, &rec.Current, &rec.RemainingMS, &rec.Removed, &at); err != nil {
			return nil, fmt.Errorf("journal: history scan: %w", err)
		}
		rec.OccurredAt = at.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: history rows: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// Ping checks that the database answers.
func (s *PostgresSink) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("journal: ping: %w", err)
	}
	return nil
}

// Close releases the pool opened by [OpenPostgres]. It is a no-op for sinks
// built with [NewPostgresSink].
func (s *PostgresSink) Close() {
	if s.close != nil {
		s.close()
	}
}
