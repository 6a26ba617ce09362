package pipeline

import "strings"

// DefaultApprovalMarker is the text a review must contain to approve a draft.
const DefaultApprovalMarker = "Approved"

// MaxAttempts is the number of reviews after which a rejected draft is
// escalated instead of retried.
const MaxAttempts = 2

// Decision is the outcome of a review. The concrete types are Approve,
// Retry and Escalate.
type Decision interface {
	// Next is the step the driver moves to.
	Next() Step
	// Attempts is the attempt count after the review.
	Attempts() int
	decision()
}

// Approve ends the run with the current draft.
type Approve struct {
	Feedback string
	Count    int
}

// Retry sends the ticket back through retrieval and drafting.
type Retry struct {
	Feedback string
	Count    int
}

// Escalate hands the ticket to a human via the escalation sink.
type Escalate struct {
	Feedback string
	Count    int
}

func (Approve) Next() Step  { return StepApproved }
func (Retry) Next() Step    { return StepRetrieve }
func (Escalate) Next() Step { return StepEscalate }

func (d Approve) Attempts() int  { return d.Count }
func (d Retry) Attempts() int    { return d.Count }
func (d Escalate) Attempts() int { return d.Count }

func (Approve) decision()  {}
func (Retry) decision()    {}
func (Escalate) decision() {}

// Decide applies the review policy. A review containing marker approves
// without touching attempts. Otherwise attempts is incremented and the
// ticket is retried once, then escalated. An empty marker falls back to
// DefaultApprovalMarker.
//
// The marker check is a case-sensitive substring match on free-form text:
// "Not Approved" approves.
func Decide(feedback string, attempts int, marker string) Decision {
	if marker == "" {
		marker = DefaultApprovalMarker
	}
	if strings.Contains(feedback, marker) {
		return Approve{Feedback: feedback, Count: attempts}
	}
	if attempts+1 >= MaxAttempts {
		return Escalate{Feedback: feedback, Count: attempts + 1}
	}
	return Retry{Feedback: feedback, Count: attempts + 1}
}

// RejectionReason returns the text following "Rejected:" in feedback, or
// the trimmed feedback when the reviewer used some other form.
func RejectionReason(feedback string) string {
	if _, reason, ok := strings.Cut(feedback, "Rejected:"); ok {
		return strings.TrimSpace(reason)
	}
	return strings.TrimSpace(feedback)
}
