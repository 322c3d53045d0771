package flatdb

import (
	"context"
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/hupe1980/flatdb/schema"
)

// Typed stores values of a fixed-layout Go type T.
//
// T must have a fixed binary size in the sense of encoding/binary: only
// fixed-width numbers, bools, arrays and structs of those. Values are
// encoded in native byte order with no padding, so schema offsets refer to
// that packed layout.
type Typed[K comparable, T any] struct {
	store *Store[K]
}

// Item is a decoded record yielded by Typed.All.
type Item[K comparable, T any] struct {
	Key   K
	Value T
}

// RecordSizeOf returns the encoded size of T, or ErrInvalidRecordType when
// T has no fixed size.
func RecordSizeOf[T any]() (int, error) {
	var v T
	n := binary.Size(v)
	if n <= 0 {
		return 0, fmt.Errorf("%w: %T has no fixed binary size", ErrInvalidRecordType, v)
	}
	return n, nil
}

// OpenTyped opens a store whose records are values of T.
func OpenTyped[K comparable, T any](ctx context.Context, path string, s schema.Schema[K], optFns ...Option) (*Typed[K, T], error) {
	size, err := RecordSizeOf[T]()
	if err != nil {
		return nil, err
	}
	store, err := Open(ctx, path, size, s, optFns...)
	if err != nil {
		return nil, err
	}
	return &Typed[K, T]{store: store}, nil
}

// NewTyped wraps an open store whose record size matches T.
func NewTyped[K comparable, T any](store *Store[K]) (*Typed[K, T], error) {
	size, err := RecordSizeOf[T]()
	if err != nil {
		return nil, err
	}
	if size != store.RecordSize() {
		return nil, fmt.Errorf("%w: %d-byte type for %d-byte records", ErrInvalidRecordType, size, store.RecordSize())
	}
	return &Typed[K, T]{store: store}, nil
}

// Store returns the underlying byte-level store.
func (t *Typed[K, T]) Store() *Store[K] { return t.store }

// Get returns the value stored under key.
func (t *Typed[K, T]) Get(key K) (T, error) {
	var v T
	b, err := t.store.Get(key)
	if err != nil {
		return v, err
	}
	return t.decode(b)
}

// Add stores v under key.
func (t *Typed[K, T]) Add(key K, v T) error {
	b, err := t.encode(v)
	if err != nil {
		return err
	}
	return t.store.Add(key, b)
}

// Append stores v under the key it carries and returns that key.
func (t *Typed[K, T]) Append(v T) (K, error) {
	b, err := t.encode(v)
	if err != nil {
		var zero K
		return zero, err
	}
	return t.store.Append(b)
}

// Update overwrites the value stored under key, keeping its key field.
func (t *Typed[K, T]) Update(key K, v T) error {
	b, err := t.encode(v)
	if err != nil {
		return err
	}
	return t.store.Update(key, b)
}

// Remove deletes the value stored under key.
func (t *Typed[K, T]) Remove(key K) error { return t.store.Remove(key) }

// Rewrite replaces the content of the store with values.
func (t *Typed[K, T]) Rewrite(ctx context.Context, values []T) error {
	records := make([][]byte, len(values))
	for i, v := range values {
		b, err := t.encode(v)
		if err != nil {
			return err
		}
		records[i] = b
	}
	return t.store.Rewrite(ctx, records)
}

// ForEach calls fn with every live value in slot order.
func (t *Typed[K, T]) ForEach(fn func(key K, v T) error) error {
	return t.store.ForEach(func(key K, record []byte) error {
		v, err := t.decode(record)
		if err != nil {
			return err
		}
		return fn(key, v)
	})
}

// All returns an iterator over the live values in slot order.
func (t *Typed[K, T]) All(ctx context.Context) iter.Seq2[Item[K, T], error] {
	return func(yield func(Item[K, T], error) bool) {
		for e, err := range t.store.All(ctx) {
			if err != nil {
				yield(Item[K, T]{}, err)
				return
			}
			v, err := t.decode(e.Record)
			if err != nil {
				yield(Item[K, T]{}, err)
				return
			}
			if !yield(Item[K, T]{Key: e.Key, Value: v}, nil) {
				return
			}
		}
	}
}

// Len returns the number of live values.
func (t *Typed[K, T]) Len() int { return t.store.Len() }

// Close closes the underlying store.
func (t *Typed[K, T]) Close() error { return t.store.Close() }

func (t *Typed[K, T]) encode(v T) ([]byte, error) {
	b := make([]byte, t.store.RecordSize())
	if _, err := binary.Encode(b, binary.NativeEndian, v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecordType, err)
	}
	return b, nil
}

func (t *Typed[K, T]) decode(b []byte) (T, error) {
	var v T
	if _, err := binary.Decode(b, binary.NativeEndian, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrInvalidRecordType, err)
	}
	return v, nil
}
