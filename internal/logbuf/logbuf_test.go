package logbuf

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestBufferWriteAndQuery(t *testing.T) {
	buf := New(5)
	now := time.Now()

	for i := 0; i < 3; i++ {
		buf.Write(Entry{
			Time:    now.Add(time.Duration(i) * time.Second),
			Level:   slog.LevelInfo,
			Message: "msg",
		})
	}

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
}

func TestBufferRingOverwrite(t *testing.T) {
	buf := New(3)
	now := time.Now()

	for i := 0; i < 5; i++ {
		buf.Write(Entry{
			Time:    now.Add(time.Duration(i) * time.Second),
			Level:   slog.LevelInfo,
			Message: "msg",
			Attrs:   map[string]any{"i": i},
		})
	}

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries (ring buffer size), got %d", len(entries))
	}
	// Should be entries 2, 3, 4 (oldest first)
	if entries[0].Attrs["i"] != 2 {
		t.Fatalf("expected first entry i=2, got %v", entries[0].Attrs["i"])
	}
	if entries[2].Attrs["i"] != 4 {
		t.Fatalf("expected last entry i=4, got %v", entries[2].Attrs["i"])
	}
}

func TestBufferQuerySince(t *testing.T) {
	buf := New(10)
	now := time.Now()

	for i := 0; i < 5; i++ {
		buf.Write(Entry{
			Time:    now.Add(time.Duration(i) * time.Second),
			Level:   slog.LevelInfo,
			Message: "msg",
		})
	}

	since := now.Add(3 * time.Second)
	entries := buf.Query(Filter{Since: since, MinLevel: slog.LevelDebug})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries since t+3s, got %d", len(entries))
	}
}

func TestBufferQueryLevel(t *testing.T) {
	buf := New(10)
	now := time.Now()

	buf.Write(Entry{Time: now, Level: slog.LevelDebug, Message: "debug"})
	buf.Write(Entry{Time: now, Level: slog.LevelInfo, Message: "info"})
	buf.Write(Entry{Time: now, Level: slog.LevelWarn, Message: "warn"})
	buf.Write(Entry{Time: now, Level: slog.LevelError, Message: "error"})

	entries := buf.Query(Filter{MinLevel: slog.LevelWarn})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries at WARN+, got %d", len(entries))
	}
	if entries[0].Message != "warn" || entries[1].Message != "error" {
		t.Fatalf("unexpected entries: %v", entries)
	}
}

func TestBufferQueryLimit(t *testing.T) {
	buf := New(10)
	now := time.Now()

	for i := 0; i < 8; i++ {
		buf.Write(Entry{Time: now.Add(time.Duration(i) * time.Second), Level: slog.LevelInfo, Message: "msg"})
	}

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug, Limit: 3})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries with limit, got %d", len(entries))
	}
}

func TestHandlerCaptures(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(&discardWriter{}, nil)
	handler := NewHandler(inner, buf)
	logger := slog.New(handler)

	logger.Info("classified", "category", "billing")
	logger.Warn("escalated")

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "classified" {
		t.Fatalf("expected 'classified', got %q", entries[0].Message)
	}
	if entries[0].Attrs["category"] != "billing" {
		t.Fatalf("expected attr category=billing, got %v", entries[0].Attrs)
	}
	if entries[1].Level != slog.LevelWarn {
		t.Fatalf("expected WARN level, got %v", entries[1].Level)
	}
}

func TestHandlerWithAttrs(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(&discardWriter{}, nil)
	handler := NewHandler(inner, buf)
	logger := slog.New(handler).With("component", "pipeline")

	logger.Info("msg")

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Attrs["component"] != "pipeline" {
		t.Fatalf("expected component=pipeline, got %v", entries[0].Attrs)
	}
}

func TestHandlerEnabledAlwaysTrue(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(&discardWriter{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	handler := NewHandler(inner, buf)

	// Buffer handler always returns true so it captures all levels
	if !handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected DEBUG to be enabled (buffer captures all)")
	}
	if !handler.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatal("expected WARN to be enabled")
	}
}

func TestHandlerCapturesAllLevels(t *testing.T) {
	buf := New(10)
	// Inner handler only allows WARN+
	inner := slog.NewTextHandler(&discardWriter{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	handler := NewHandler(inner, buf)
	logger := slog.New(handler)

	logger.Debug("debug msg")
	logger.Info("info msg")
	logger.Warn("warn msg")

	// Buffer should have all 3 even though inner only allows WARN+
	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries in buffer, got %d", len(entries))
	}
}

func TestHandlerPromotesRunID(t *testing.T) {
	buf := New(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(&discardWriter{}, nil), buf))

	logger.With(RunKey, "run-a").Info("classified", "category", "billing")
	logger.With(RunKey, "run-b").Info("classified", "category", "technical")
	logger.With(RunKey, "run-a").Debug("transition")
	logger.Info("server started")

	got := buf.QueryRun("run-a", slog.LevelDebug)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for run-a, got %d", len(got))
	}
	if got[0].RunID != "run-a" || got[0].Attrs[RunKey] != nil {
		t.Errorf("run attr not promoted: %+v", got[0])
	}
	if info := buf.QueryRun("run-a", slog.LevelInfo); len(info) != 1 {
		t.Errorf("expected 1 info entry for run-a, got %d", len(info))
	}
	if buf.QueryRun("", slog.LevelDebug) != nil {
		t.Error("empty run ID should match nothing")
	}
	if buf.Len() != 4 {
		t.Errorf("Len() = %d", buf.Len())
	}
}

func TestHandlerGroups(t *testing.T) {
	buf := New(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(&discardWriter{}, nil), buf))

	logger.WithGroup("provider").WithGroup("usage").Info("tokens", "prompt", 10)

	entries := buf.Query(Filter{})
	if entries[0].Attrs["provider.usage.prompt"] == nil {
		t.Errorf("expected grouped key, got %v", entries[0].Attrs)
	}
}

func TestEntryLevelJSON(t *testing.T) {
	data, err := json.Marshal(Entry{Level: slog.LevelWarn, Message: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"level":"WARN"`) {
		t.Errorf("level not encoded by name: %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

type discardWriter struct{}

func (d *discardWriter) Write(p []byte) (int, error) { return len(p), nil }
