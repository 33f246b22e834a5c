package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotConflict        = errors.New("slot already has an active appointment")
	ErrSlotBlocked         = errors.New("slot is blocked by the provider")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrOutOfPolicy         = errors.New("outside booking policy")
	ErrInvalidOutcome      = errors.New("invalid appointment outcome")
	ErrStore               = errors.New("record store failure")
)

// TransitionError reports a status change the state machine does not allow.
type TransitionError struct {
	ID     string
	From   Status
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s appointment %s in status %s", ErrInvalidTransition, e.Action, e.ID, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
