// Package pipeline drives a support ticket through classification,
// retrieval, drafting and review, and escalates tickets whose drafts keep
// failing review.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/h1v3-io/triage/pkg/protocol"
)

// NoDocumentsContext is the context used when retrieval finds nothing, so
// drafting always has non-empty context.
const NoDocumentsContext = "No relevant documents found."

// Generator produces text for a prompt. A blank reply should be returned as
// an error.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// KnowledgeIndex answers nearest-neighbour queries over the corpus, best
// match first.
type KnowledgeIndex interface {
	Query(ctx context.Context, text string) ([]protocol.Document, error)
}

// EscalationSink durably records tickets handed off to a human.
type EscalationSink interface {
	Escalate(ctx context.Context, rec protocol.EscalationRecord) error
}

// Pipeline runs one ticket at a time. It is safe to share between
// goroutines only if callers serialize Run.
type Pipeline struct {
	gen    Generator
	index  KnowledgeIndex
	sink   EscalationSink
	marker string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Each run adds a "run" attribute.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithApprovalMarker sets the substring a review must contain to approve.
func WithApprovalMarker(m string) Option {
	return func(p *Pipeline) { p.marker = m }
}

// New creates a pipeline over its three collaborators.
func New(gen Generator, index KnowledgeIndex, sink EscalationSink, opts ...Option) *Pipeline {
	p := &Pipeline{
		gen:    gen,
		index:  index,
		sink:   sink,
		marker: DefaultApprovalMarker,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.marker == "" {
		p.marker = DefaultApprovalMarker
	}
	return p
}

// Result is the terminal state of a run.
type Result struct {
	ID         string
	State      *TicketState
	Final      Step
	Trace      []protocol.Transition
	StartedAt  time.Time
	FinishedAt time.Time
}

// Outcome maps the terminal step to a run outcome.
func (r *Result) Outcome() protocol.Outcome {
	if r.Final == StepApproved {
		return protocol.OutcomeApproved
	}
	return protocol.OutcomeEscalated
}

// Record converts the result to its history form.
func (r *Result) Record() *protocol.Run {
	s := r.State
	return &protocol.Run{
		ID:             r.ID,
		Subject:        s.Subject,
		Description:    s.Description,
		Category:       Get(s.Category),
		Context:        Get(s.Context),
		Draft:          Get(s.Draft),
		ReviewFeedback: Get(s.ReviewFeedback),
		Attempts:       s.Attempts,
		Outcome:        r.Outcome(),
		Trace:          r.Trace,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
}

// Run drives t from classify to approved or failed. The run ID is taken
// from ctx (see WithRunID) or generated. Collaborator errors end the run
// immediately, wrapped with the failing step; nothing is escalated.
func (p *Pipeline) Run(ctx context.Context, t Ticket) (*Result, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	runID := RunIDFromContext(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = WithRunID(ctx, runID)
	}
	log := p.logger.With("run", runID)

	res := &Result{ID: runID, State: NewState(t), StartedAt: p.now()}
	log.Info("ticket received", "subject", t.Subject)

	step := StepClassify
	for !step.Terminal() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("pipeline: %s: %w", step, err)
		}
		before := res.State.Attempts
		next, err := p.advance(ctx, log, step, res.State)
		if err != nil {
			log.Error("step failed", "step", step, "error", err)
			return nil, fmt.Errorf("pipeline: %s: %w", step, err)
		}
		if err := checkTransition(step, next); err != nil {
			return nil, err
		}
		if res.State.Attempts < before {
			return nil, fmt.Errorf("pipeline: %s: attempts decreased from %d to %d", step, before, res.State.Attempts)
		}
		res.Trace = append(res.Trace, protocol.Transition{
			From:     string(step),
			To:       string(next),
			Attempts: res.State.Attempts,
			At:       p.now(),
		})
		log.Debug("transition", "from", step, "to", next, "attempts", res.State.Attempts)
		step = next
	}

	res.Final = step
	res.FinishedAt = p.now()
	log.Info("ticket finished",
		"outcome", res.Outcome(),
		"attempts", res.State.Attempts,
		"duration", res.FinishedAt.Sub(res.StartedAt),
	)
	return res, nil
}

func (p *Pipeline) advance(ctx context.Context, log *slog.Logger, step Step, st *TicketState) (Step, error) {
	switch step {
	case StepClassify:
		return p.classify(ctx, log, st)
	case StepRetrieve:
		return p.retrieve(ctx, log, st)
	case StepDraft:
		return p.draft(ctx, log, st)
	case StepReview:
		d, err := p.review(ctx, log, st)
		if err != nil {
			return "", err
		}
		return d.Next(), nil
	case StepEscalate:
		return p.escalate(ctx, log, st)
	default:
		return "", fmt.Errorf("%w: no handler for %s", ErrIllegalTransition, step)
	}
}

// classify sets Category from one generation call.
func (p *Pipeline) classify(ctx context.Context, log *slog.Logger, st *TicketState) (Step, error) {
	out, err := p.gen.Generate(ctx, classifyPrompt(st.Subject, st.Description))
	if err != nil {
		return "", err
	}
	set(&st.Category, strings.ToLower(strings.TrimSpace(out)))
	log.Info("classified", "category", *st.Category)
	return StepRetrieve, nil
}

// retrieve sets Context from a knowledge query keyed on the description and
// category. It is idempotent against an unchanged index.
func (p *Pipeline) retrieve(ctx context.Context, log *slog.Logger, st *TicketState) (Step, error) {
	if st.Description == "" {
		return "", fmt.Errorf("%w: description", ErrMissingField)
	}
	category, err := require("category", st.Category)
	if err != nil {
		return "", err
	}

	docs, err := p.index.Query(ctx, st.Description+" "+category)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		set(&st.Context, NoDocumentsContext)
	} else {
		parts := make([]string, len(docs))
		for i, d := range docs {
			parts[i] = d.Content
		}
		set(&st.Context, strings.Join(parts, "\n\n"))
	}
	log.Info("retrieved", "documents", len(docs), "context_len", len(*st.Context))
	return StepDraft, nil
}

// draft sets Draft from a generation call over subject, description and context.
func (p *Pipeline) draft(ctx context.Context, log *slog.Logger, st *TicketState) (Step, error) {
	kb, err := require("context", st.Context)
	if err != nil {
		return "", err
	}
	out, err := p.gen.Generate(ctx, draftPrompt(st.Subject, st.Description, kb))
	if err != nil {
		return "", err
	}
	set(&st.Draft, strings.TrimSpace(out))
	log.Info("drafted", "draft_len", len(*st.Draft))
	return StepReview, nil
}

// review sets ReviewFeedback and Attempts and returns the policy decision.
func (p *Pipeline) review(ctx context.Context, log *slog.Logger, st *TicketState) (Decision, error) {
	draft, err := require("draft", st.Draft)
	if err != nil {
		return nil, err
	}
	out, err := p.gen.Generate(ctx, reviewPrompt(draft))
	if err != nil {
		return nil, err
	}
	set(&st.ReviewFeedback, out)

	d := Decide(out, st.Attempts, p.marker)
	st.Attempts = d.Attempts()
	switch d := d.(type) {
	case Approve:
		log.Info("reviewed", "decision", "approve", "attempts", d.Count)
	case Retry:
		log.Info("reviewed", "decision", "retry", "attempts", d.Count, "reason", RejectionReason(d.Feedback))
	case Escalate:
		log.Info("reviewed", "decision", "escalate", "attempts", d.Count, "reason", RejectionReason(d.Feedback))
	}
	return d, nil
}

// escalate appends the ticket to the escalation sink. Every field of the
// record must be present and non-empty.
func (p *Pipeline) escalate(ctx context.Context, log *slog.Logger, st *TicketState) (Step, error) {
	if st.Subject == "" || st.Description == "" {
		return "", fmt.Errorf("%w: subject/description", ErrMissingField)
	}
	draft, err := require("draft", st.Draft)
	if err != nil {
		return "", err
	}
	feedback, err := require("review_feedback", st.ReviewFeedback)
	if err != nil {
		return "", err
	}

	rec := protocol.EscalationRecord{
		Subject:        st.Subject,
		Description:    st.Description,
		Draft:          draft,
		ReviewFeedback: feedback,
	}
	if err := p.sink.Escalate(ctx, rec); err != nil {
		return "", err
	}
	log.Warn("escalated", "attempts", st.Attempts, "reason", RejectionReason(feedback))
	return StepFailed, nil
}
