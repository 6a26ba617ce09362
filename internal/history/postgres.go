package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/h1v3-io/triage/pkg/protocol"
)

// PostgresStore implements Store on PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and runs migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id              TEXT PRIMARY KEY,
			subject         TEXT NOT NULL,
			description     TEXT NOT NULL,
			category        TEXT NOT NULL DEFAULT '',
			context         TEXT NOT NULL DEFAULT '',
			draft           TEXT NOT NULL DEFAULT '',
			review_feedback TEXT NOT NULL DEFAULT '',
			attempts        INTEGER NOT NULL DEFAULT 0,
			outcome         TEXT NOT NULL,
			trace           JSONB NOT NULL DEFAULT '[]',
			started_at      TIMESTAMPTZ NOT NULL,
			finished_at     TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome);
		CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON runs(finished_at);
	`)
	if err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	time:        func(t time.Time) any { return t },
	like:        "ILIKE",
}

func (s *PostgresStore) Save(ctx context.Context, run *protocol.Run) error {
	if err := validate(run); err != nil {
		return err
	}
	trace := run.Trace
	if trace == nil {
		trace = []protocol.Transition{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, subject, description, category, context, draft, review_feedback,
			attempts, outcome, trace, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, run.ID, run.Subject, run.Description, run.Category, run.Context, run.Draft, run.ReviewFeedback,
		run.Attempts, string(run.Outcome), trace, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("history: save: %w", err)
	}
	return nil
}

const postgresColumns = "id, subject, description, category, context, draft, review_feedback, attempts, outcome, trace, started_at, finished_at"

func (s *PostgresStore) Get(ctx context.Context, id string) (*protocol.Run, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+postgresColumns+" FROM runs WHERE id = $1", id)
	run, err := scanPostgresRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("history: get: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*protocol.Run, error) {
	clause, args := postgresDialect.where(filter)
	query := "SELECT " + postgresColumns + " FROM runs" + clause + " ORDER BY finished_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var runs []*protocol.Run
	for rows.Next() {
		run, err := scanPostgresRun(rows)
		if err != nil {
			return nil, fmt.Errorf("history: list scan: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, filter Filter) (int, error) {
	clause, args := postgresDialect.where(filter)
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM runs"+clause, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgresRun(row pgx.Row) (*protocol.Run, error) {
	var (
		run     protocol.Run
		outcome string
	)
	err := row.Scan(&run.ID, &run.Subject, &run.Description, &run.Category, &run.Context, &run.Draft,
		&run.ReviewFeedback, &run.Attempts, &outcome, &run.Trace, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}
	run.Outcome = protocol.Outcome(outcome)
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = run.FinishedAt.UTC()
	return &run, nil
}
