package restore

import (
	"errors"
	"fmt"
)

var (
	// ErrUserFacing marks failures caused by the query itself: it does not
	// parse, or it names an object the org does not have.
	ErrUserFacing = errors.New("query cannot be restored")
	// ErrRestoreFailed marks every other failure, typically a describe call
	// that could not be completed.
	ErrRestoreFailed = errors.New("failed to restore query")
)

// UserFacingError carries a message that can be shown to the user as is.
type UserFacingError struct {
	Message string
	Err     error
}

func (e *UserFacingError) Error() string {
	return e.Message
}

func (e *UserFacingError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUserFacing}
	}
	return []error{ErrUserFacing, e.Err}
}

func userError(err error, format string, args ...any) *UserFacingError {
	return &UserFacingError{Message: fmt.Sprintf(format, args...), Err: err}
}

// internalError hides err behind ErrRestoreFailed while keeping it in the
// chain for logging and errors.Is.
func internalError(err error) error {
	return fmt.Errorf("%w: %w", ErrRestoreFailed, err)
}
