package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested entry or forecast does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTailMoved is returned by a backend when the conditional append finds a
	// different tail than the one the writer chained against.
	ErrTailMoved = errors.New("ledger tail moved")

	// ErrForecastClosed is returned when updating or resolving a resolved forecast.
	ErrForecastClosed = errors.New("forecast already resolved")
)

// IntegrityError reports a broken hash chain. Once observed, the Ledger refuses
// all further appends.
type IntegrityError struct {
	Sequence uint64
	Reason   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger integrity violation at sequence %d: %s", e.Sequence, e.Reason)
}

// IsIntegrityError reports whether err is or wraps an IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
