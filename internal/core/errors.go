package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the ledger has no live entry for the job id.
	ErrNotFound = errors.New("job not found")

	// ErrConflict means a concurrent claim won; the caller should refresh
	// and retry against another job.
	ErrConflict = errors.New("job already claimed")

	// ErrForbidden is an authorization failure. Never retried; logged for
	// audit by the caller.
	ErrForbidden = errors.New("permission denied")
)

// ValidationError rejects a malformed submission before anything touches
// the spooler.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid submission: %s", e.Reason)
}

func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
