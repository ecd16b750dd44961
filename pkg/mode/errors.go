package mode

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrModeBleed marks a transition without an explicit, logged reason.
	ErrModeBleed = errors.New("mode bleed: transition has no explicit reason")
	// ErrUnknownMode is returned for modes outside the fixed set.
	ErrUnknownMode = errors.New("unknown mode")
	// ErrIncompleteReport is returned when an executed check has no recorded outcome.
	ErrIncompleteReport = errors.New("verification report is incomplete")
)

// TransitionError is a rejected transition. The machine state is unchanged.
type TransitionError struct {
	From   Mode
	To     Mode
	Reason string
	Err    error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s rejected: %v", e.From, e.To, e.Err)
}

// Cause supports errors.Cause.
func (e *TransitionError) Cause() error { return e.Err }

// Unwrap supports errors.Is and errors.As.
func (e *TransitionError) Unwrap() error { return e.Err }

// IsModeBleed reports whether err is, or wraps, ErrModeBleed.
func IsModeBleed(err error) bool {
	return errors.Is(err, ErrModeBleed)
}
