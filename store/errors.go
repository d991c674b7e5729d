package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrQRCodeNotFound = fmt.Errorf("qr code %w", ErrNotFound)
	ErrAlreadyExists  = errors.New("already exists")
	ErrInvalidWidths  = errors.New("invalid widths")
	ErrAlreadyUsed    = errors.New("child roll already used")
	ErrAlreadySlit    = errors.New("master roll already slit")
	ErrPersistence    = errors.New("persistence failure")
	// ErrBatchWriteFailed matches ErrPersistence too.
	ErrBatchWriteFailed  = fmt.Errorf("batch write failed: %w", ErrPersistence)
	ErrInconsistentState = errors.New("inconsistent state")
)

// InconsistentStateError reports a multi-step operation that committed some
// of its writes. Step names the first write that did not land.
type InconsistentStateError struct {
	Op      string
	QRValue string
	Step    string
	Err     error
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("%s %s: inconsistent state, step %s failed: %v", e.Op, e.QRValue, e.Step, e.Err)
}

func (e *InconsistentStateError) Unwrap() error { return e.Err }

func (e *InconsistentStateError) Is(target error) bool { return target == ErrInconsistentState }

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
