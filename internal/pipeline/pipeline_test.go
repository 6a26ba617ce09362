package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/h1v3-io/triage/pkg/protocol"
)

// scriptedGenerator answers by prompt kind. Reviews are consumed in order;
// the last one repeats.
type scriptedGenerator struct {
	category string
	drafts   []string
	reviews  []string
	err      error
	errOn    string

	prompts []string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	kind := promptKind(prompt)
	if g.err != nil && g.errOn == kind {
		return "", g.err
	}
	switch kind {
	case "classify":
		return g.category, nil
	case "draft":
		return next(&g.drafts), nil
	default:
		return next(&g.reviews), nil
	}
}

func next(s *[]string) string {
	v := (*s)[0]
	if len(*s) > 1 {
		*s = (*s)[1:]
	}
	return v
}

func promptKind(prompt string) string {
	switch {
	case strings.HasPrefix(prompt, "Classify"):
		return "classify"
	case strings.HasPrefix(prompt, "Write"):
		return "draft"
	default:
		return "review"
	}
}

// keywordIndex returns every document whose content shares a word with the query.
type keywordIndex struct {
	docs    []protocol.Document
	queries []string
	err     error
}

func (ix *keywordIndex) Query(_ context.Context, text string) ([]protocol.Document, error) {
	ix.queries = append(ix.queries, text)
	if ix.err != nil {
		return nil, ix.err
	}
	var out []protocol.Document
	words := strings.Fields(strings.ToLower(text))
	for _, d := range ix.docs {
		content := strings.ToLower(d.Content)
		for _, w := range words {
			if strings.Contains(content, w) {
				out = append(out, d)
				break
			}
		}
	}
	return out, nil
}

type recordingSink struct {
	records []protocol.EscalationRecord
	err     error
}

func (s *recordingSink) Escalate(_ context.Context, rec protocol.EscalationRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var refundDoc = protocol.Document{
	ID:       "billing#0",
	Category: "billing",
	Content:  "Refunds are processed within 5 business days.",
}

func TestRun_ApprovedFirstPass(t *testing.T) {
	gen := &scriptedGenerator{
		category: "  Billing\n",
		drafts:   []string{"  Your refund will arrive within 5 business days.  "},
		reviews:  []string{"Approved"},
	}
	index := &keywordIndex{docs: []protocol.Document{refundDoc}}
	sink := &recordingSink{}
	p := New(gen, index, sink, WithLogger(quietLogger()))

	res, err := p.Run(context.Background(), Ticket{Subject: "Refund status", Description: "I want a refund"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	st := res.State
	if !strings.Contains(Get(st.Category), "billing") {
		t.Errorf("category = %q, want billing-like", Get(st.Category))
	}
	if !strings.Contains(Get(st.Context), "Refunds are processed within 5 business days.") {
		t.Errorf("context = %q", Get(st.Context))
	}
	if Get(st.Draft) != "Your refund will arrive within 5 business days." {
		t.Errorf("draft not trimmed: %q", Get(st.Draft))
	}
	if res.Final != StepApproved || res.Outcome() != protocol.OutcomeApproved {
		t.Errorf("final = %s outcome = %s", res.Final, res.Outcome())
	}
	if st.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", st.Attempts)
	}
	if len(sink.records) != 0 {
		t.Errorf("expected no escalation, got %d rows", len(sink.records))
	}
	if index.queries[0] != "I want a refund billing" {
		t.Errorf("query = %q", index.queries[0])
	}
	if res.ID == "" {
		t.Error("expected a generated run ID")
	}
}

func TestRun_AlwaysRejectEscalates(t *testing.T) {
	gen := &scriptedGenerator{
		category: "technical",
		drafts:   []string{"first draft", "second draft"},
		reviews:  []string{"Rejected: too vague", "Rejected: still vague"},
	}
	sink := &recordingSink{}
	p := New(gen, &keywordIndex{}, sink, WithLogger(quietLogger()))

	res, err := p.Run(context.Background(), Ticket{Subject: "App crash", Description: "It crashes on login"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.State.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", res.State.Attempts)
	}
	if res.Final != StepFailed || res.Outcome() != protocol.OutcomeEscalated {
		t.Errorf("final = %s outcome = %s", res.Final, res.Outcome())
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected exactly one escalation row, got %d", len(sink.records))
	}
	want := protocol.EscalationRecord{
		Subject:        "App crash",
		Description:    "It crashes on login",
		Draft:          "second draft",
		ReviewFeedback: "Rejected: still vague",
	}
	if sink.records[0] != want {
		t.Errorf("row = %+v, want %+v", sink.records[0], want)
	}
	if Get(res.State.Context) != NoDocumentsContext {
		t.Errorf("context = %q, want sentinel", Get(res.State.Context))
	}
}

func TestRun_RetryThenApprove(t *testing.T) {
	gen := &scriptedGenerator{
		category: "general",
		drafts:   []string{"draft one", "draft two"},
		reviews:  []string{"Rejected: missing steps", "Approved"},
	}
	sink := &recordingSink{}
	p := New(gen, &keywordIndex{}, sink, WithLogger(quietLogger()))

	res, err := p.Run(context.Background(), Ticket{Subject: "Hi", Description: "Question"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Final != StepApproved {
		t.Errorf("final = %s", res.Final)
	}
	if res.State.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.State.Attempts)
	}
	if Get(res.State.Draft) != "draft two" {
		t.Errorf("draft = %q", Get(res.State.Draft))
	}
	if len(sink.records) != 0 {
		t.Errorf("unexpected escalation")
	}

	wantTrace := []Step{StepRetrieve, StepDraft, StepReview, StepRetrieve, StepDraft, StepReview, StepApproved}
	if len(res.Trace) != len(wantTrace) {
		t.Fatalf("trace len = %d, want %d", len(res.Trace), len(wantTrace))
	}
	for i, tr := range res.Trace {
		if tr.To != string(wantTrace[i]) {
			t.Errorf("trace[%d].To = %s, want %s", i, tr.To, wantTrace[i])
		}
		if !CanTransition(Step(tr.From), Step(tr.To)) {
			t.Errorf("trace[%d] illegal: %s -> %s", i, tr.From, tr.To)
		}
	}
}

func TestRun_AttemptsMatchRejections(t *testing.T) {
	tests := []struct {
		name         string
		reviews      []string
		wantAttempts int
		wantFinal    Step
	}{
		{"approve", []string{"Approved"}, 0, StepApproved},
		{"reject then approve", []string{"Rejected: a", "Looks Approved to me"}, 1, StepApproved},
		{"reject twice", []string{"Rejected: a", "Rejected: b"}, 2, StepFailed},
		{"lowercase is a rejection", []string{"approved", "approved"}, 2, StepFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &scriptedGenerator{category: "general", drafts: []string{"d"}, reviews: tt.reviews}
			sink := &recordingSink{}
			p := New(gen, &keywordIndex{}, sink, WithLogger(quietLogger()))

			res, err := p.Run(context.Background(), Ticket{Subject: "s", Description: "d"})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.State.Attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", res.State.Attempts, tt.wantAttempts)
			}
			if res.Final != tt.wantFinal {
				t.Errorf("final = %s, want %s", res.Final, tt.wantFinal)
			}

			rejections := 0
			for _, p := range gen.prompts {
				if promptKind(p) == "review" {
					rejections++
				}
			}
			if tt.wantFinal == StepApproved {
				rejections--
			}
			if rejections != res.State.Attempts {
				t.Errorf("rejections = %d, attempts = %d", rejections, res.State.Attempts)
			}
			if escalated := len(sink.records) == 1; escalated != (tt.wantFinal == StepFailed) {
				t.Errorf("escalated = %v for final %s", escalated, tt.wantFinal)
			}
		})
	}
}

func TestRun_InvalidTicket(t *testing.T) {
	gen := &scriptedGenerator{}
	p := New(gen, &keywordIndex{}, &recordingSink{}, WithLogger(quietLogger()))

	for _, tk := range []Ticket{{Subject: "", Description: "d"}, {Subject: "s", Description: "  \n"}} {
		if _, err := p.Run(context.Background(), tk); !errors.Is(err, ErrInvalidTicket) {
			t.Errorf("Run(%+v) err = %v, want ErrInvalidTicket", tk, err)
		}
	}
	if len(gen.prompts) != 0 {
		t.Errorf("generator called for invalid ticket")
	}
}

func TestRun_CollaboratorErrorsPropagate(t *testing.T) {
	boom := errors.New("service unavailable")

	tests := []struct {
		name  string
		gen   *scriptedGenerator
		index *keywordIndex
		sink  *recordingSink
		step  Step
	}{
		{"classify", &scriptedGenerator{err: boom, errOn: "classify"}, &keywordIndex{}, &recordingSink{}, StepClassify},
		{"retrieve", &scriptedGenerator{category: "billing"}, &keywordIndex{err: boom}, &recordingSink{}, StepRetrieve},
		{"draft", &scriptedGenerator{category: "billing", err: boom, errOn: "draft"}, &keywordIndex{}, &recordingSink{}, StepDraft},
		{"review", &scriptedGenerator{category: "billing", drafts: []string{"d"}, err: boom, errOn: "review"}, &keywordIndex{}, &recordingSink{}, StepReview},
		{"escalate", &scriptedGenerator{category: "billing", drafts: []string{"d"}, reviews: []string{"Rejected: no"}}, &keywordIndex{}, &recordingSink{err: boom}, StepEscalate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.gen, tt.index, tt.sink, WithLogger(quietLogger()))
			res, err := p.Run(context.Background(), Ticket{Subject: "s", Description: "d"})
			if !errors.Is(err, boom) {
				t.Fatalf("err = %v, want wrapped %v", err, boom)
			}
			if !strings.Contains(err.Error(), string(tt.step)) {
				t.Errorf("error %q does not name step %s", err, tt.step)
			}
			if res != nil {
				t.Errorf("expected nil result on failure")
			}
			if len(tt.sink.records) != 0 {
				t.Errorf("escalation row written for failed run")
			}
		})
	}
}

func TestRun_UsesContextRunID(t *testing.T) {
	gen := &scriptedGenerator{category: "general", drafts: []string{"d"}, reviews: []string{"Approved"}}
	p := New(gen, &keywordIndex{}, &recordingSink{}, WithLogger(quietLogger()))

	ctx := WithRunID(context.Background(), "run-123")
	res, err := p.Run(ctx, Ticket{Subject: "s", Description: "d"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ID != "run-123" {
		t.Errorf("ID = %q", res.ID)
	}
	rec := res.Record()
	if rec.ID != "run-123" || rec.Outcome != protocol.OutcomeApproved || rec.Draft != "d" {
		t.Errorf("record = %+v", rec)
	}
}

func TestRun_CustomApprovalMarker(t *testing.T) {
	gen := &scriptedGenerator{category: "general", drafts: []string{"d"}, reviews: []string{"LGTM"}}
	p := New(gen, &keywordIndex{}, &recordingSink{}, WithLogger(quietLogger()), WithApprovalMarker("LGTM"))

	res, err := p.Run(context.Background(), Ticket{Subject: "s", Description: "d"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Final != StepApproved {
		t.Errorf("final = %s", res.Final)
	}
}

func TestRetrieve_Idempotent(t *testing.T) {
	index := &keywordIndex{docs: []protocol.Document{
		refundDoc,
		{ID: "billing#1", Category: "billing", Content: "Invoices are emailed monthly."},
	}}
	p := New(&scriptedGenerator{}, index, &recordingSink{}, WithLogger(quietLogger()))

	st := NewState(Ticket{Subject: "s", Description: "refund for invoices"})
	set(&st.Category, "billing")

	if _, err := p.retrieve(context.Background(), p.logger, st); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	first := Get(st.Context)
	if _, err := p.retrieve(context.Background(), p.logger, st); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if Get(st.Context) != first {
		t.Errorf("context changed between identical retrievals:\n%q\n%q", first, Get(st.Context))
	}
	if !strings.Contains(first, "\n\n") {
		t.Errorf("expected documents joined by a blank line, got %q", first)
	}
}

func TestSteps_MissingField(t *testing.T) {
	p := New(&scriptedGenerator{category: "x", drafts: []string{"d"}, reviews: []string{"Approved"}},
		&keywordIndex{}, &recordingSink{}, WithLogger(quietLogger()))
	ctx := context.Background()
	log := p.logger

	tests := []struct {
		name string
		run  func(st *TicketState) error
	}{
		{"retrieve without category", func(st *TicketState) error { _, err := p.retrieve(ctx, log, st); return err }},
		{"draft without context", func(st *TicketState) error { _, err := p.draft(ctx, log, st); return err }},
		{"review without draft", func(st *TicketState) error { _, err := p.review(ctx, log, st); return err }},
		{"escalate without draft", func(st *TicketState) error { _, err := p.escalate(ctx, log, st); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewState(Ticket{Subject: "s", Description: "d"})
			if err := tt.run(st); !errors.Is(err, ErrMissingField) {
				t.Errorf("err = %v, want ErrMissingField", err)
			}
		})
	}

	t.Run("escalate without feedback", func(t *testing.T) {
		st := NewState(Ticket{Subject: "s", Description: "d"})
		set(&st.Draft, "d")
		if _, err := p.escalate(ctx, log, st); !errors.Is(err, ErrMissingField) {
			t.Errorf("err = %v, want ErrMissingField", err)
		}
	})
}

func TestSteps_OnlySetOwnFields(t *testing.T) {
	gen := &scriptedGenerator{category: "billing", drafts: []string{"d"}, reviews: []string{"Approved"}}
	p := New(gen, &keywordIndex{}, &recordingSink{}, WithLogger(quietLogger()))
	ctx := context.Background()

	st := NewState(Ticket{Subject: "s", Description: "d"})
	if _, err := p.classify(ctx, p.logger, st); err != nil {
		t.Fatal(err)
	}
	if st.Context != nil || st.Draft != nil || st.ReviewFeedback != nil {
		t.Errorf("classify touched other fields: %+v", st)
	}
	if _, err := p.retrieve(ctx, p.logger, st); err != nil {
		t.Fatal(err)
	}
	if st.Draft != nil || st.ReviewFeedback != nil || Get(st.Category) != "billing" {
		t.Errorf("retrieve touched other fields: %+v", st)
	}
}
