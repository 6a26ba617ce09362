// Package escalation records tickets that need a human: an append-only CSV
// log, plus best-effort notifications.
package escalation

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/h1v3-io/triage/pkg/protocol"
)

// Columns is the row layout of the escalation log. The log has no header.
var Columns = []string{"subject", "description", "draft", "review_feedback"}

// CSVLog appends escalation records to a CSV file. The file is opened and
// closed on every append and never truncated.
type CSVLog struct {
	path string
	mu   sync.Mutex
}

// NewCSVLog returns a log writing to path. The file is created on first append.
func NewCSVLog(path string) *CSVLog {
	return &CSVLog{path: path}
}

// Path returns the log file path.
func (l *CSVLog) Path() string { return l.path }

// Append writes rec as one row. Every field must be non-empty.
func (l *CSVLog) Append(_ context.Context, rec protocol.EscalationRecord) (err error) {
	for i, f := range rec.Fields() {
		if f == "" {
			return fmt.Errorf("escalation: empty %s", Columns[i])
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("escalation: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("escalation: open log: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("escalation: close log: %w", cerr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(rec.Fields()); err != nil {
		return fmt.Errorf("escalation: write row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("escalation: flush row: %w", err)
	}
	return nil
}

// ReadAll reads every record from the log at path. A missing file is an
// empty log. Quoted fields come back byte for byte, CRLF included; blank
// lines between records are skipped.
func ReadAll(path string) ([]protocol.EscalationRecord, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("escalation: open log: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var out []protocol.EscalationRecord
	for n := 1; ; n++ {
		row, err := readRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("escalation: read log: record %d: %w", n, err)
		}
		if len(row) != len(Columns) {
			return nil, fmt.Errorf("escalation: read log: record %d: %d fields, want %d", n, len(row), len(Columns))
		}
		out = append(out, protocol.EscalationRecord{
			Subject:        row[0],
			Description:    row[1],
			Draft:          row[2],
			ReviewFeedback: row[3],
		})
	}
	return out, nil
}

// readRecord parses one RFC 4180 record. encoding/csv folds CRLF inside
// quoted fields to LF, so the log is read back with this scanner instead.
// A record ends at LF or CRLF outside quotes.
func readRecord(r *bufio.Reader) ([]string, error) {
	var (
		fields   []string
		field    []byte
		quoted   bool // current field opened with a quote
		inQuotes bool
	)
	endField := func() {
		fields = append(fields, string(field))
		field = field[:0]
		quoted = false
	}
	for {
		b, err := r.ReadByte()
		if err == io.EOF {
			if inQuotes {
				return nil, errors.New("unterminated quoted field")
			}
			if len(fields) == 0 && len(field) == 0 && !quoted {
				return nil, io.EOF
			}
			endField()
			return fields, nil
		}
		if err != nil {
			return nil, err
		}

		if inQuotes {
			if b != '"' {
				field = append(field, b)
				continue
			}
			if next, err := r.Peek(1); err == nil && next[0] == '"' {
				r.ReadByte()
				field = append(field, '"')
				continue
			}
			inQuotes = false
			continue
		}

		switch b {
		case '"':
			if quoted || len(field) > 0 {
				return nil, errors.New(`bare " in field`)
			}
			quoted, inQuotes = true, true
		case ',':
			endField()
		case '\r':
			if next, err := r.Peek(1); err == nil && next[0] == '\n' {
				continue
			}
			if quoted {
				return nil, errors.New(`extraneous character after closing quote`)
			}
			field = append(field, b)
		case '\n':
			if len(fields) == 0 && len(field) == 0 && !quoted {
				continue
			}
			endField()
			return fields, nil
		default:
			if quoted {
				return nil, errors.New(`extraneous character after closing quote`)
			}
			field = append(field, b)
		}
	}
}
