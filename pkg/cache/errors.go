package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrBackend marks a failure of an underlying store (unreachable, timeout, protocol error).
	ErrBackend = errors.New("cache backend failure")

	// ErrInvalidTTL is returned for negative TTLs on Set and non-positive TTLs on Expire.
	ErrInvalidTTL = errors.New("invalid ttl")

	// ErrInvalidPattern is returned for empty patterns or patterns with unsupported glob syntax.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrInvalidKey is returned for keys a store cannot hold.
	ErrInvalidKey = errors.New("invalid key")

	// ErrSerialization is returned when a value cannot be encoded or decoded.
	ErrSerialization = errors.New("serialization failure")

	// ErrClosed is returned by operations on a closed provider.
	ErrClosed = errors.New("cache closed")

	// ErrPatternUnsupported is returned by stores that cannot enumerate keys.
	ErrPatternUnsupported = errors.New("pattern deletion not supported")
)

// LevelError reports a failed call to one level of a MultiLevel cache.
// It matches both ErrBackend and the underlying cause with errors.Is.
type LevelError struct {
	Level string
	Op    string
	Err   error
}

func (e *LevelError) Error() string {
	return fmt.Sprintf("cache level %q %s: %v", e.Level, e.Op, e.Err)
}

func (e *LevelError) Unwrap() []error {
	return []error{ErrBackend, e.Err}
}

// backendError wraps a store client error so callers can match ErrBackend.
func backendError(store, op string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrBackend, store, op, err)
}
