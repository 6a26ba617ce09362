package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTicket is returned when a ticket is submitted without a
	// subject or description.
	ErrInvalidTicket = errors.New("pipeline: ticket requires a non-blank subject and description")

	// ErrMissingField is returned when a step runs without one of its
	// required inputs. It signals a driver bug, not a runtime condition.
	ErrMissingField = errors.New("pipeline: missing required field")
)

// Ticket is the intake record for one run.
type Ticket struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

// Validate checks that both intake fields carry text.
func (t Ticket) Validate() error {
	if strings.TrimSpace(t.Subject) == "" || strings.TrimSpace(t.Description) == "" {
		return ErrInvalidTicket
	}
	return nil
}

// TicketState is the record threaded through every step of a run.
// Optional fields are nil until the step that owns them has run.
type TicketState struct {
	Subject     string
	Description string
	Attempts    int

	Category       *string
	Context        *string
	Draft          *string
	ReviewFeedback *string
}

// NewState returns the initial state for t.
func NewState(t Ticket) *TicketState {
	return &TicketState{Subject: t.Subject, Description: t.Description}
}

// Get returns the value of an optional field, or "" when absent.
func Get(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func set(dst **string, v string) {
	*dst = &v
}

func require(name string, p *string) (string, error) {
	if p == nil || *p == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return *p, nil
}
