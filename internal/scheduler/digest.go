package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/h1v3-io/triage/internal/history"
	"github.com/h1v3-io/triage/internal/notify"
	"github.com/h1v3-io/triage/pkg/protocol"
)

// DigestJob is the job name the digest registers under.
const DigestJob = "escalation-digest"

// RunLister lists stored runs, newest first.
type RunLister interface {
	List(ctx context.Context, filter history.Filter) ([]*protocol.Run, error)
}

// windowStep is the smallest timestamp step every history backend keeps.
const windowStep = time.Microsecond

// Digest reports how many tickets were escalated since it last ran.
type Digest struct {
	runs      RunLister
	notifiers []notify.Notifier
	logger    *slog.Logger
	now       func() time.Time

	// SkipEmpty suppresses the notification when nothing was escalated.
	SkipEmpty bool

	mu   sync.Mutex
	last time.Time
}

// NewDigest creates a digest whose first window starts now.
func NewDigest(runs RunLister, notifiers []notify.Notifier, logger *slog.Logger) *Digest {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Digest{runs: runs, notifiers: notifiers, logger: logger, now: time.Now}
	d.last = d.now()
	return d
}

// Register schedules the digest on s.
func (d *Digest) Register(s *Scheduler, schedule string) error {
	return s.AddJob(DigestJob, schedule, func(ctx context.Context) { d.Run(ctx) })
}

// Run counts escalations in the window since the previous run and sends
// the digest.
//
// The next window starts just past the newest escalation this one saw,
// not at the clock, so a run that finished earlier but was saved after
// the query lands in the next digest. Runs are saved in finish order, so
// nothing older than that bound can still arrive. The window stays put
// when the query fails or finds nothing.
func (d *Digest) Run(ctx context.Context) (notify.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	runs, err := d.runs.List(ctx, history.Filter{Outcome: protocol.OutcomeEscalated, Since: d.last})
	if err != nil {
		d.logger.Error("digest count failed", "error", err)
		return notify.Event{}, err
	}
	n := len(runs)

	ev := notify.Event{Kind: notify.KindDigest, Count: n, Since: d.last, At: now}
	if n > 0 {
		d.last = runs[0].FinishedAt.Add(windowStep)
	}

	if n == 0 && d.SkipEmpty {
		d.logger.Debug("digest skipped, no escalations")
		return ev, nil
	}
	d.logger.Info("sending escalation digest", "escalations", n, "since", ev.Since)
	notify.Broadcast(ctx, d.notifiers, ev, d.logger)
	return ev, nil
}
