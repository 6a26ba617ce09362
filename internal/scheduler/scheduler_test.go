package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/h1v3-io/triage/internal/history"
	"github.com/h1v3-io/triage/internal/notify"
	"github.com/h1v3-io/triage/pkg/protocol"
)

func TestAddJob(t *testing.T) {
	var mu sync.Mutex
	var calls int

	sched := New(nil)
	err := sched.AddJob("digest", "@every 1s", func(context.Context) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	if sched.JobCount() != 1 {
		t.Errorf("JobCount = %d", sched.JobCount())
	}

	// Start cron and wait for it to fire
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	if err := sched.Start(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Start returned %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls == 0 {
		t.Error("expected at least one call")
	}
}

func TestAddJob_ReplacesSameName(t *testing.T) {
	sched := New(nil)
	sched.AddJob("digest", "@every 1h", func(context.Context) {})
	sched.AddJob("digest", "@every 2h", func(context.Context) {})

	if sched.JobCount() != 1 {
		t.Errorf("JobCount = %d, want 1", sched.JobCount())
	}
	if len(sched.cron.Entries()) != 1 {
		t.Errorf("cron entries = %d, want 1", len(sched.cron.Entries()))
	}
}

func TestInvalidSchedule(t *testing.T) {
	sched := New(nil)
	if err := sched.AddJob("digest", "invalid-cron", func(context.Context) {}); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if sched.JobCount() != 0 {
		t.Errorf("JobCount = %d", sched.JobCount())
	}
}

func TestRemoveJob(t *testing.T) {
	sched := New(nil)
	sched.AddJob("a", "@every 1h", func(context.Context) {})
	sched.AddJob("b", "@every 2h", func(context.Context) {})

	sched.RemoveJob("a")
	sched.RemoveJob("unknown")

	jobs := sched.Jobs()
	if len(jobs) != 1 || jobs[0] != "b" {
		t.Errorf("jobs = %v", jobs)
	}
	if !sched.Next("a").IsZero() {
		t.Error("removed job should have no next run")
	}
}

type fakeLister struct {
	runs    []*protocol.Run
	err     error
	filters []history.Filter
}

// List mimics the store: runs at or after filter.Since, newest first.
func (f *fakeLister) List(_ context.Context, filter history.Filter) ([]*protocol.Run, error) {
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	var out []*protocol.Run
	for _, r := range f.runs {
		if r.FinishedAt.Before(filter.Since) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt.After(out[j].FinishedAt) })
	return out, nil
}

func (f *fakeLister) save(id string, finished time.Time) {
	f.runs = append(f.runs, &protocol.Run{ID: id, Outcome: protocol.OutcomeEscalated, FinishedAt: finished})
}

type recordingNotifier struct {
	events []notify.Event
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func TestDigest_WindowAdvances(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	lister := &fakeLister{}
	lister.save("a", base.Add(10*time.Minute))
	lister.save("b", base.Add(20*time.Minute))
	lister.save("c", base.Add(30*time.Minute))

	n := &recordingNotifier{}
	d := NewDigest(lister, []notify.Notifier{n}, nil)
	clock := base
	d.last = clock
	d.now = func() time.Time { return clock }

	clock = clock.Add(time.Hour)
	ev, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ev.Count != 3 || ev.Kind != notify.KindDigest {
		t.Errorf("event = %+v", ev)
	}
	if len(n.events) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(n.events))
	}

	f := lister.filters[0]
	if f.Outcome != protocol.OutcomeEscalated || !f.Since.Equal(base) {
		t.Errorf("filter = %+v", f)
	}

	clock = clock.Add(time.Hour)
	ev, _ = d.Run(context.Background())
	if want := base.Add(30*time.Minute + time.Microsecond); !lister.filters[1].Since.Equal(want) {
		t.Errorf("second window since = %v, want %v", lister.filters[1].Since, want)
	}
	if ev.Count != 0 {
		t.Errorf("second window counted %d runs twice", ev.Count)
	}
}

func TestDigest_LateSaveLandsInNextWindow(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	lister := &fakeLister{}
	lister.save("early", base.Add(5*time.Minute))

	d := NewDigest(lister, nil, nil)
	clock := base.Add(time.Hour)
	d.last = base
	d.now = func() time.Time { return clock }

	ev, err := d.Run(context.Background())
	if err != nil || ev.Count != 1 {
		t.Fatalf("first window: count=%d err=%v", ev.Count, err)
	}

	// Finished before the first digest ran, saved after its query.
	lister.save("late", clock.Add(-time.Second))

	clock = clock.Add(time.Hour)
	ev, err = d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ev.Count != 1 {
		t.Errorf("late run missed: count = %d", ev.Count)
	}
}

func TestDigest_EmptyWindowKeepsStart(t *testing.T) {
	d := NewDigest(&fakeLister{}, nil, nil)
	start := d.last
	d.now = func() time.Time { return start.Add(time.Hour) }

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !d.last.Equal(start) {
		t.Errorf("window moved to %v with nothing seen", d.last)
	}
}

func TestDigest_SkipEmpty(t *testing.T) {
	n := &recordingNotifier{}
	d := NewDigest(&fakeLister{}, []notify.Notifier{n}, nil)
	d.SkipEmpty = true

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(n.events) != 0 {
		t.Errorf("expected no notification for empty digest")
	}
}

func TestDigest_ListErrorKeepsWindow(t *testing.T) {
	lister := &fakeLister{err: errors.New("db locked")}
	d := NewDigest(lister, nil, nil)
	start := d.last

	if _, err := d.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !d.last.Equal(start) {
		t.Error("window advanced despite failed query")
	}
}

func TestDigest_Register(t *testing.T) {
	sched := New(nil)
	d := NewDigest(&fakeLister{}, nil, nil)
	if err := d.Register(sched, "@daily"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if jobs := sched.Jobs(); len(jobs) != 1 || jobs[0] != DigestJob {
		t.Errorf("jobs = %v", jobs)
	}
}
