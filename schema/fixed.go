package schema

import (
	"bytes"
	"cmp"
	"fmt"
	"strings"
)

type fixedString struct {
	offset   int
	capacity int
}

// FixedString returns a schema for a NUL-padded string key of capacity
// bytes at offset. The logical key ends at the first NUL, or spans the
// whole field when there is none.
func FixedString(offset, capacity int) Schema[string] {
	return fixedString{offset: offset, capacity: capacity}
}

func (s fixedString) Kind() Kind  { return KindFixedString }
func (s fixedString) Offset() int { return s.offset }
func (s fixedString) Width() int  { return s.capacity }

func (s fixedString) Decode(record []byte, _ int64) string {
	b := record[s.offset : s.offset+s.capacity]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func (s fixedString) Encode(key string, record []byte) error {
	if len(key) > s.capacity {
		return fmt.Errorf("%w: %d > %d", ErrKeyTooLong, len(key), s.capacity)
	}
	b := record[s.offset : s.offset+s.capacity]
	n := copy(b, key)
	clear(b[n:])
	return nil
}

func (s fixedString) Compare(a, b string) int { return strings.Compare(a, b) }

// Array is a fixed-length numeric array usable as a map key. It holds the
// native encoding of its elements.
type Array[E Number] struct {
	raw string
}

// MakeArray builds an Array from elems.
func MakeArray[E Number](elems ...E) Array[E] {
	size := SizeOf[E]()
	b := make([]byte, len(elems)*size)
	for i, e := range elems {
		putNumber(b[i*size:], e)
	}
	return Array[E]{raw: string(b)}
}

// Len returns the number of elements.
func (a Array[E]) Len() int { return len(a.raw) / SizeOf[E]() }

// At returns element i.
func (a Array[E]) At(i int) E {
	size := SizeOf[E]()
	return getNumber[E]([]byte(a.raw[i*size : (i+1)*size]))
}

// Elems returns the elements as a slice.
func (a Array[E]) Elems() []E {
	out := make([]E, a.Len())
	for i := range out {
		out[i] = a.At(i)
	}
	return out
}

func (a Array[E]) String() string {
	return fmt.Sprint(a.Elems())
}

type fixedArray[E Number] struct {
	offset int
	count  int
	size   int
}

// FixedArray returns a schema for an array key of count elements at offset.
// Array keys are ordered element by element and have no successor.
func FixedArray[E Number](offset, count int) Schema[Array[E]] {
	return fixedArray[E]{offset: offset, count: count, size: SizeOf[E]()}
}

func (s fixedArray[E]) Kind() Kind  { return KindFixedArray }
func (s fixedArray[E]) Offset() int { return s.offset }
func (s fixedArray[E]) Width() int  { return s.count * s.size }

func (s fixedArray[E]) Decode(record []byte, _ int64) Array[E] {
	return Array[E]{raw: string(record[s.offset : s.offset+s.Width()])}
}

func (s fixedArray[E]) Encode(key Array[E], record []byte) error {
	if key.Len() != s.count || len(key.raw)%s.size != 0 {
		return fmt.Errorf("%w: %d elements, want %d", ErrArrayLength, key.Len(), s.count)
	}
	copy(record[s.offset:s.offset+s.Width()], key.raw)
	return nil
}

func (s fixedArray[E]) Compare(a, b Array[E]) int {
	n := min(a.Len(), b.Len())
	for i := 0; i < n; i++ {
		if c := cmp.Compare(a.At(i), b.At(i)); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.Len(), b.Len())
}
