package checkin

import (
	"errors"
	"fmt"
)

// ErrVisitNotFound is returned by mutations addressed at an unknown visit id.
var ErrVisitNotFound = errors.New("visit not found")

// DuplicateVisitError is returned by Repository.Create when a visit with the
// same id already exists. Restore relies on it as its idempotency guard.
type DuplicateVisitError struct {
	ID string
}

func (e *DuplicateVisitError) Error() string {
	return fmt.Sprintf("visit already exists: %s", e.ID)
}

// IsDuplicateVisit reports whether err is (or wraps) a DuplicateVisitError.
func IsDuplicateVisit(err error) bool {
	var dup *DuplicateVisitError
	return errors.As(err, &dup)
}
