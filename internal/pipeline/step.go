package pipeline

import (
	"errors"
	"fmt"
)

// Step names a state of the triage state machine.
type Step string

const (
	StepClassify Step = "classify"
	StepRetrieve Step = "retrieve"
	StepDraft    Step = "draft"
	StepReview   Step = "review"
	StepEscalate Step = "escalate"
	StepApproved Step = "approved"
	StepFailed   Step = "failed"
)

// Terminal reports whether no further step runs after s.
func (s Step) Terminal() bool {
	return s == StepApproved || s == StepFailed
}

// ErrIllegalTransition is returned when the driver attempts a move that the
// transition table does not allow.
var ErrIllegalTransition = errors.New("pipeline: illegal transition")

// transitions lists every legal move. Review is the only branching step.
var transitions = map[Step][]Step{
	StepClassify: {StepRetrieve},
	StepRetrieve: {StepDraft},
	StepDraft:    {StepReview},
	StepReview:   {StepApproved, StepRetrieve, StepEscalate},
	StepEscalate: {StepFailed},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Step) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Step) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
