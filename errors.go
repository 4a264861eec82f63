package seqcache

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRange is matched by *InvalidRangeError.
	ErrInvalidRange = errors.New("invalid block range")

	// ErrCorruptCounter is matched by *CorruptCounterError.
	ErrCorruptCounter = errors.New("corrupt sequence counter")

	// ErrStore is matched by *StoreError.
	ErrStore = errors.New("counter store failure")

	// ErrUnknownSequence is returned when a sequence does not exist and the
	// cache is configured with FailIfMissing.
	ErrUnknownSequence = errors.New("unknown sequence")

	// ErrCounterOverflow is returned when reserving another block would
	// overflow int64.
	ErrCounterOverflow = errors.New("sequence counter overflow")

	// ErrTooManyConflicts is returned when the configured conflict back-off
	// gives up retrying lost compare-and-swap attempts.
	ErrTooManyConflicts = errors.New("too many conflicting reservations")

	// ErrInvalidName is returned for an empty sequence name.
	ErrInvalidName = errors.New("sequence name must not be empty")
)

// InvalidRangeError indicates an attempt to build a block with start < 0 or
// end <= start.
type InvalidRangeError struct {
	Start int64
	End   int64
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid block range [%d, %d)", e.Start, e.End)
}

// Is reports whether target is ErrInvalidRange.
func (e *InvalidRangeError) Is(target error) bool { return target == ErrInvalidRange }

// CorruptCounterError indicates a negative high-water mark in the store.
// It is never retried.
type CorruptCounterError struct {
	Sequence string
	Value    int64
}

func (e *CorruptCounterError) Error() string {
	return fmt.Sprintf("corrupt counter for sequence %q: stored value %d is negative", e.Sequence, e.Value)
}

// Is reports whether target is ErrCorruptCounter.
func (e *CorruptCounterError) Is(target error) bool { return target == ErrCorruptCounter }

// StoreError wraps an I/O failure of the backing counter store.
//
// The original underlying error can be accessed via errors.Unwrap.
type StoreError struct {
	Op       string
	Sequence string
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Sequence, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is reports whether target is ErrStore.
func (e *StoreError) Is(target error) bool { return target == ErrStore }

func storeError(op, name string, err error) error {
	return &StoreError{Op: op, Sequence: name, Err: err}
}
