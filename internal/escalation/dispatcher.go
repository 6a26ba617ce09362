package escalation

import (
	"context"
	"log/slog"
	"time"

	"github.com/h1v3-io/triage/internal/notify"
	"github.com/h1v3-io/triage/internal/pipeline"
	"github.com/h1v3-io/triage/pkg/protocol"
)

// Appender durably stores an escalation record.
type Appender interface {
	Append(ctx context.Context, rec protocol.EscalationRecord) error
}

// Dispatcher is the pipeline's escalation sink. The log append must
// succeed; notifications afterwards are best-effort.
type Dispatcher struct {
	log       Appender
	notifiers []notify.Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher creates a Dispatcher over log and any notifiers.
func NewDispatcher(log Appender, notifiers []notify.Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{log: log, notifiers: notifiers, logger: logger, now: time.Now}
}

// Escalate appends rec to the log, then notifies. A notifier failure never
// fails the escalation.
func (d *Dispatcher) Escalate(ctx context.Context, rec protocol.EscalationRecord) error {
	if err := d.log.Append(ctx, rec); err != nil {
		return err
	}
	if len(d.notifiers) == 0 {
		return nil
	}

	runID := pipeline.RunIDFromContext(ctx)
	ev := notify.Event{
		Kind:           notify.KindEscalation,
		RunID:          runID,
		Subject:        rec.Subject,
		Description:    rec.Description,
		Draft:          rec.Draft,
		ReviewFeedback: rec.ReviewFeedback,
		Reason:         pipeline.RejectionReason(rec.ReviewFeedback),
		At:             d.now(),
	}
	if failed := notify.Broadcast(ctx, d.notifiers, ev, d.logger.With("run", runID)); failed > 0 {
		d.logger.Warn("escalation recorded but some notifications failed", "run", runID, "failed", failed)
	}
	return nil
}
