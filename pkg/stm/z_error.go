package stm

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors use the Err prefix; every message starts with "stm: ".
var ErrMisuse = errors.New("stm: misuse")
var ErrValidation = errors.New("stm: value rejected by validator")
var ErrDeadlock = errors.New("stm: retries exhausted")

var ErrNoTransaction error = misuseError("ref written outside of a transaction")
var ErrReadOnlyTransaction error = misuseError("write in a read-only transaction")
var ErrSetAfterCommute error = misuseError("ref set after commute in the same transaction")
var ErrForeignRef error = misuseError("ref or transaction belongs to another STM")

// errConflict never leaves the package: it only drives the retry loop.
var errConflict = errors.New("stm: commit conflict")

type misuseError string

func (e misuseError) Error() string        { return "stm: " + string(e) }
func (e misuseError) Is(target error) bool { return target == ErrMisuse }

// ValidationError reports the ref whose validator rejected a committed value.
// It is fatal and never retried.
type ValidationError struct {
	RefID uint64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("stm: value rejected by validator of ref %d", e.RefID)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RetriesExhaustedError is returned when a swap or a transaction could not
// commit within its retry bound.
type RetriesExhaustedError struct {
	Attempts int
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("stm: no clean commit after %d attempts", e.Attempts)
}

func (e *RetriesExhaustedError) Unwrap() error { return ErrDeadlock }
