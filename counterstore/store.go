package counterstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Store is the backing counter store shared by every process allocating ids
// for the same sequences. It maps a sequence name to its high-water mark,
// the last id durably reserved.
//
// Implementations must be safe for concurrent use, and ConditionalAdvance
// must be atomic with respect to every other writer of the same name.
type Store interface {
	// ReadCurrentValue returns the high-water mark of name. found is false
	// if no counter exists.
	ReadCurrentValue(ctx context.Context, name string) (value int64, found bool, err error)

	// CreateIfAbsent initializes the counter of name to 0. It is idempotent:
	// losing a creation race to another writer is not an error.
	CreateIfAbsent(ctx context.Context, name string) error

	// ConditionalAdvance sets the counter of name to next only if it still
	// equals expected. It reports whether the update was applied.
	ConditionalAdvance(ctx context.Context, name string, expected, next int64) (bool, error)
}

// Lister is implemented by stores that can enumerate their sequences.
type Lister interface {
	// List returns all sequence names in ascending order.
	List(ctx context.Context) ([]string, error)
}

var (
	// ErrMalformedValue is returned when a stored counter cannot be decoded.
	ErrMalformedValue = errors.New("malformed counter value")

	// ErrNotListable is returned by wrappers whose underlying store does not
	// implement Lister.
	ErrNotListable = errors.New("store does not support listing")
)

// EncodeValue renders a counter as the decimal text stored by object-store
// backends.
func EncodeValue(v int64) []byte {
	return strconv.AppendInt(nil, v, 10)
}

// DecodeValue parses a counter written by EncodeValue. Surrounding whitespace
// is ignored so objects edited by hand stay readable.
func DecodeValue(data []byte) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedValue, data)
	}
	return v, nil
}
