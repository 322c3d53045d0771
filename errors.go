package flatdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/flatdb/internal/mmap"
	"github.com/hupe1980/flatdb/internal/pager"
	"github.com/hupe1980/flatdb/schema"
)

var (
	// ErrIO wraps failures of the underlying file system.
	ErrIO = errors.New("flatdb: i/o failure")
	// ErrCorrupted is returned when a file does not hold a whole number of records.
	ErrCorrupted = errors.New("flatdb: store corrupted")
	// ErrKeyNotFound is returned when a key is not indexed.
	ErrKeyNotFound = errors.New("flatdb: key not found")
	// ErrDuplicateKey is returned when adding a key that is already indexed.
	ErrDuplicateKey = errors.New("flatdb: duplicate key")
	// ErrConflict is returned by Merge under MergeError when both stores hold a key.
	ErrConflict = errors.New("flatdb: merge conflict")
	// ErrOutOfRange is returned when an offset lies beyond the file.
	ErrOutOfRange = errors.New("flatdb: offset out of range")
	// ErrNotOwner is returned when growth is requested on a borrowed mapping.
	ErrNotOwner = errors.New("flatdb: mapping not owned")
	// ErrUnsupportedKeyType is returned when a key type has no successor.
	ErrUnsupportedKeyType = errors.New("flatdb: unsupported key type")
	// ErrInvalidRecordType is returned when a record type has no fixed binary size
	// or cannot hold its key field.
	ErrInvalidRecordType = errors.New("flatdb: invalid record type")
	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("flatdb: store closed")
	// ErrInvalidArgument is returned for malformed arguments.
	ErrInvalidArgument = errors.New("flatdb: invalid argument")
	// ErrKeySpaceExhausted is returned when no successor key is left.
	ErrKeySpaceExhausted = errors.New("flatdb: key space exhausted")
)

// KeyError reports a failed operation on a single key.
//
// Err is one of ErrKeyNotFound, ErrDuplicateKey or ErrConflict.
type KeyError[K comparable] struct {
	Op     string
	Key    K
	Offset int64
	Err    error
}

func (e *KeyError[K]) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s %v (offset %d): %v", e.Op, e.Key, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s %v: %v", e.Op, e.Key, e.Err)
}

func (e *KeyError[K]) Unwrap() error { return e.Err }

// CorruptionError reports a file whose size does not match its layout.
type CorruptionError struct {
	Path         string
	FileSize     int64
	HeaderOffset int64
	RecordSize   int
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("flatdb: %s: size %d is not header %d plus a multiple of %d-byte records",
		e.Path, e.FileSize, e.HeaderOffset, e.RecordSize)
}

func (e *CorruptionError) Unwrap() error { return ErrCorrupted }

var classified = []error{
	ErrIO, ErrCorrupted, ErrKeyNotFound, ErrDuplicateKey, ErrConflict,
	ErrOutOfRange, ErrNotOwner, ErrUnsupportedKeyType, ErrInvalidRecordType,
	ErrClosed, ErrInvalidArgument, ErrKeySpaceExhausted,
	context.Canceled, context.DeadlineExceeded,
}

// translateError maps errors of the lower layers onto the package sentinels.
// Anything it does not recognize is treated as an I/O failure.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	for _, target := range classified {
		if errors.Is(err, target) {
			return err
		}
	}

	switch {
	case errors.Is(err, pager.ErrOutOfRange), errors.Is(err, mmap.ErrOutOfBounds):
		return fmt.Errorf("%w: %w", ErrOutOfRange, err)
	case errors.Is(err, pager.ErrNotOwner):
		return fmt.Errorf("%w: %w", ErrNotOwner, err)
	case errors.Is(err, pager.ErrClosed), errors.Is(err, mmap.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, schema.ErrUnsupportedKeyType):
		return fmt.Errorf("%w: %w", ErrUnsupportedKeyType, err)
	case errors.Is(err, schema.ErrKeySpaceExhausted):
		return fmt.Errorf("%w: %w", ErrKeySpaceExhausted, err)
	case errors.Is(err, schema.ErrInvalidLayout):
		return fmt.Errorf("%w: %w", ErrInvalidRecordType, err)
	case errors.Is(err, schema.ErrKeyTooLong),
		errors.Is(err, schema.ErrArrayLength),
		errors.Is(err, pager.ErrInvalidPageSize),
		errors.Is(err, pager.ErrBusy):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return fmt.Errorf("%w: %w", ErrIO, err)
}
