package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates an unknown task or subtask id.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates that the stored aggregate version no longer matches
// the version read at the start of the mutation. A conflicted attempt is
// terminal; callers must re-fetch and resubmit.
var ErrConflict = errors.New("concurrency conflict")

// ValidationError rejects malformed patches, unknown patch fields, illegal
// status transitions and invalid assignee ids.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
