// Package history persists the terminal outcome of every triage run.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/h1v3-io/triage/pkg/protocol"
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("history: run not found")

// Store is the persistence interface for finished runs. Runs are written
// once, when they reach a terminal outcome.
type Store interface {
	// Save records a finished run.
	Save(ctx context.Context, run *protocol.Run) error
	// Get retrieves a run by ID.
	Get(ctx context.Context, id string) (*protocol.Run, error)
	// List returns runs matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]*protocol.Run, error)
	// Count returns the number of runs matching the filter.
	Count(ctx context.Context, filter Filter) (int, error)
	// Close releases the underlying connection.
	Close() error
}

// Filter constrains run list queries.
type Filter struct {
	Outcome  protocol.Outcome // "" = any
	Category string           // exact match on the classified category
	Query    string           // text search on subject and description
	Since    time.Time        // finished at or after; zero = no bound
	Limit    int              // 0 = no limit
}

func validate(run *protocol.Run) error {
	if run == nil || run.ID == "" {
		return errors.New("history: run ID is required")
	}
	if !run.Outcome.Valid() {
		return fmt.Errorf("history: run %s has no terminal outcome (%q)", run.ID, run.Outcome)
	}
	return nil
}

// dialect captures the SQL differences between the backends.
type dialect struct {
	placeholder func(n int) string // n-th (1-based) bind parameter
	time        func(t time.Time) any
	like        string // case-insensitive match operator
}

// where builds the WHERE clause for f.
func (d dialect) where(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}

	if f.Outcome != "" {
		conds = append(conds, "outcome = "+arg(string(f.Outcome)))
	}
	if f.Category != "" {
		conds = append(conds, "category = "+arg(f.Category))
	}
	if f.Query != "" {
		pattern := "%" + f.Query + "%"
		subject := arg(pattern)
		description := arg(pattern)
		conds = append(conds, fmt.Sprintf("(subject %s %s OR description %s %s)", d.like, subject, d.like, description))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "finished_at >= "+arg(d.time(f.Since)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
