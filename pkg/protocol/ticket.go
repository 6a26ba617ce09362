package protocol

import "time"

// Outcome is how a triage run ended.
type Outcome string

const (
	OutcomeApproved  Outcome = "approved"
	OutcomeEscalated Outcome = "escalated"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeApproved || o == OutcomeEscalated
}

// EscalationRecord is the row appended to the escalation log when a ticket
// cannot be resolved automatically. Field order matches the log columns.
type EscalationRecord struct {
	Subject        string `json:"subject"`
	Description    string `json:"description"`
	Draft          string `json:"draft"`
	ReviewFeedback string `json:"review_feedback"`
}

// Fields returns the record as a log row in column order.
func (r EscalationRecord) Fields() []string {
	return []string{r.Subject, r.Description, r.Draft, r.ReviewFeedback}
}

// Transition is one move of the triage state machine.
type Transition struct {
	From     string    `json:"from"`
	To       string    `json:"to"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}

// Run is the terminal record of one ticket going through the pipeline.
type Run struct {
	ID             string       `json:"id"`
	Subject        string       `json:"subject"`
	Description    string       `json:"description"`
	Category       string       `json:"category"`
	Context        string       `json:"context"`
	Draft          string       `json:"draft"`
	ReviewFeedback string       `json:"review_feedback"`
	Attempts       int          `json:"attempts"`
	Outcome        Outcome      `json:"outcome"`
	Trace          []Transition `json:"trace"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
}

// Escalated reports whether the run ended in the escalation log.
func (r *Run) Escalated() bool {
	return r.Outcome == OutcomeEscalated
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
