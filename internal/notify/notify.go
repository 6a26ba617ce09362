// Package notify delivers escalation and digest events to chat and
// messaging platforms.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Event kinds.
const (
	KindEscalation = "escalation"
	KindDigest     = "digest"
)

// Event is one notification. Escalations carry the ticket fields; digests
// carry the count of escalations since the previous digest.
type Event struct {
	Kind           string    `json:"kind"`
	RunID          string    `json:"run_id,omitempty"`
	Subject        string    `json:"subject,omitempty"`
	Description    string    `json:"description,omitempty"`
	Draft          string    `json:"draft,omitempty"`
	ReviewFeedback string    `json:"review_feedback,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Count          int       `json:"count,omitempty"`
	Since          time.Time `json:"since,omitzero"`
	At             time.Time `json:"at"`
}

// Key identifies the event for partitioned transports.
func (e Event) Key() string {
	if e.RunID != "" {
		return e.RunID
	}
	return e.Kind
}

// Notifier sends events to one external platform.
type Notifier interface {
	// Name returns the notifier type (e.g., "slack", "telegram").
	Name() string
	// Notify delivers ev. It must not retain ev after returning.
	Notify(ctx context.Context, ev Event) error
}

// Broadcast sends ev to every notifier. Failures are logged and counted but
// never stop delivery to the rest.
func Broadcast(ctx context.Context, notifiers []Notifier, ev Event, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	failed := 0
	for _, n := range notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			failed++
			logger.Warn("notification failed", "notifier", n.Name(), "kind", ev.Kind, "error", err)
			continue
		}
		logger.Debug("notification sent", "notifier", n.Name(), "kind", ev.Kind)
	}
	return failed
}

// field is one labelled line of a rendered event.
type field struct {
	label string
	value string
}

// title and fields give a platform-neutral layout that each notifier
// renders in its own markup.
func (e Event) title() string {
	switch e.Kind {
	case KindDigest:
		return "Escalation digest"
	default:
		return "Ticket escalated"
	}
}

func (e Event) fields() []field {
	if e.Kind == KindDigest {
		since := "start"
		if !e.Since.IsZero() {
			since = e.Since.UTC().Format(time.RFC3339)
		}
		return []field{
			{"Escalations", fmt.Sprintf("%d", e.Count)},
			{"Since", since},
		}
	}
	fs := []field{
		{"Subject", e.Subject},
		{"Description", e.Description},
		{"Draft", e.Draft},
		{"Review", e.ReviewFeedback},
	}
	if e.Reason != "" {
		fs = append(fs, field{"Reason", e.Reason})
	}
	if e.RunID != "" {
		fs = append(fs, field{"Run", e.RunID})
	}
	return fs
}

// PlainText renders ev without markup.
func PlainText(ev Event) string {
	var b strings.Builder
	b.WriteString(ev.title())
	for _, f := range ev.fields() {
		fmt.Fprintf(&b, "\n%s: %s", f.label, f.value)
	}
	return b.String()
}
