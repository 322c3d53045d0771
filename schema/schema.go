package schema

import (
	"errors"
	"fmt"
)

// Kind identifies a key encoding.
type Kind uint8

const (
	// KindPositional keys are slot numbers.
	KindPositional Kind = iota
	// KindScalar keys are fixed-width numbers.
	KindScalar
	// KindFixedString keys are NUL-padded byte strings.
	KindFixedString
	// KindFixedArray keys are fixed-length numeric arrays.
	KindFixedArray
)

func (k Kind) String() string {
	switch k {
	case KindPositional:
		return "positional"
	case KindScalar:
		return "scalar"
	case KindFixedString:
		return "fixed-string"
	case KindFixedArray:
		return "fixed-array"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

var (
	// ErrUnsupportedKeyType is returned when a successor is requested for a key type without one.
	ErrUnsupportedKeyType = errors.New("schema: key type has no successor")
	// ErrKeySpaceExhausted is returned when the successor of the largest key is requested.
	ErrKeySpaceExhausted = errors.New("schema: key space exhausted")
	// ErrKeyTooLong is returned when a string key exceeds its field capacity.
	ErrKeyTooLong = errors.New("schema: key exceeds field capacity")
	// ErrArrayLength is returned when an array key has the wrong element count.
	ErrArrayLength = errors.New("schema: array key length mismatch")
	// ErrInvalidLayout is returned when the key field does not fit the record.
	ErrInvalidLayout = errors.New("schema: key field outside record")
)

// Schema locates and encodes the key of a fixed-size record.
type Schema[K comparable] interface {
	// Kind returns the encoding variant.
	Kind() Kind
	// Offset is the byte offset of the key field inside a record.
	Offset() int
	// Width is the number of key bytes; zero for positional keys.
	Width() int
	// Decode extracts the key from a record stored at slot position.
	Decode(record []byte, position int64) K
	// Encode writes key into the key field of record.
	Encode(key K, record []byte) error
	// Compare orders keys: negative, zero or positive.
	Compare(a, b K) int
}

// Successor is implemented by schemas whose keys can be incremented.
type Successor[K comparable] interface {
	// Next returns the key following k.
	Next(k K) (K, error)
}

// Validate checks that the key field of s fits into records of recordSize bytes.
func Validate[K comparable](s Schema[K], recordSize int) error {
	if s == nil {
		return fmt.Errorf("%w: nil schema", ErrInvalidLayout)
	}
	if recordSize <= 0 {
		return fmt.Errorf("%w: record size %d", ErrInvalidLayout, recordSize)
	}
	if s.Offset() < 0 || s.Offset()+s.Width() > recordSize {
		return fmt.Errorf("%w: field [%d,%d) in %d-byte record",
			ErrInvalidLayout, s.Offset(), s.Offset()+s.Width(), recordSize)
	}
	return nil
}

// Next returns the successor of k under s, or ErrUnsupportedKeyType when
// s has none.
func Next[K comparable](s Schema[K], k K) (K, error) {
	succ, ok := s.(Successor[K])
	if !ok {
		var zero K
		return zero, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, s.Kind())
	}
	return succ.Next(k)
}

// SupportsNext reports whether s implements Successor.
func SupportsNext[K comparable](s Schema[K]) bool {
	_, ok := s.(Successor[K])
	return ok
}
