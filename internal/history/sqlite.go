package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/h1v3-io/triage/pkg/protocol"
)

// sqliteTime is a fixed-width UTC layout, so text comparison orders times.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
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
			trace           TEXT NOT NULL DEFAULT '[]',
			started_at      TEXT NOT NULL,
			finished_at     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome);
		CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON runs(finished_at);
	`)
	if err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, run *protocol.Run) error {
	if err := validate(run); err != nil {
		return err
	}
	trace, err := json.Marshal(run.Trace)
	if err != nil {
		return fmt.Errorf("history: encode trace: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, subject, description, category, context, draft, review_feedback,
			attempts, outcome, trace, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Subject, run.Description, run.Category, run.Context, run.Draft, run.ReviewFeedback,
		run.Attempts, string(run.Outcome), string(trace), formatTime(run.StartedAt), formatTime(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("history: save: %w", err)
	}
	return nil
}

const sqliteColumns = "id, subject, description, category, context, draft, review_feedback, attempts, outcome, trace, started_at, finished_at"

func (s *SQLiteStore) Get(ctx context.Context, id string) (*protocol.Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sqliteColumns+" FROM runs WHERE id = ?", id)
	run, err := scanSQLiteRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("history: get: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*protocol.Run, error) {
	clause, args := sqliteDialect.where(filter)
	query := "SELECT " + sqliteColumns + " FROM runs" + clause + " ORDER BY finished_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var runs []*protocol.Run
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, fmt.Errorf("history: list scan: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context, filter Filter) (int, error) {
	clause, args := sqliteDialect.where(filter)
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs"+clause, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- helpers ---

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	time:        func(t time.Time) any { return formatTime(t) },
	like:        "LIKE",
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(s scannable) (*protocol.Run, error) {
	var (
		run                 protocol.Run
		outcome, trace      string
		startedAt, finished string
	)
	err := s.Scan(&run.ID, &run.Subject, &run.Description, &run.Category, &run.Context, &run.Draft,
		&run.ReviewFeedback, &run.Attempts, &outcome, &trace, &startedAt, &finished)
	if err != nil {
		return nil, err
	}
	run.Outcome = protocol.Outcome(outcome)
	if err := json.Unmarshal([]byte(trace), &run.Trace); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	if run.StartedAt, err = time.Parse(sqliteTime, startedAt); err != nil {
		return nil, fmt.Errorf("decode started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(sqliteTime, finished); err != nil {
		return nil, fmt.Errorf("decode finished_at: %w", err)
	}
	return &run, nil
}
