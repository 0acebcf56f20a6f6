package data

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every component. Callers wrap these with
// fmt.Errorf("%w: ...") and match them with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrOwnership         = errors.New("outside caller scope")
	ErrNotFound          = errors.New("not found")
	ErrAuthentication    = errors.New("authentication failed")
	ErrInvalidTransition = errors.New("invalid alert transition")
	ErrDispatchRecord    = errors.New("dispatch record failed")
	ErrConflict          = errors.New("already exists")
)

// TransitionError describes a rejected lifecycle action.
type TransitionError struct {
	AlertID string
	From    AlertStatus
	Action  ActionType
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s alert %s in status %s", ErrInvalidTransition, e.Action, e.AlertID, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
