package schema

import (
	"cmp"
	"encoding/binary"
	"math"
)

// Integer is the set of fixed-width integer key types.
type Integer interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

// Float is the set of floating-point key types.
type Float interface {
	float32 | float64
}

// Number is any fixed-width numeric type.
type Number interface {
	Integer | Float
}

var native = binary.NativeEndian

// SizeOf returns the encoded width of N in bytes.
func SizeOf[N Number]() int {
	var n N
	switch any(n).(type) {
	case int8, uint8:
		return 1
	case int16, uint16:
		return 2
	case int32, uint32, float32:
		return 4
	default:
		return 8
	}
}

func getNumber[N Number](b []byte) N {
	var n N
	switch any(n).(type) {
	case int8:
		return N(int8(b[0]))
	case uint8:
		return N(b[0])
	case int16:
		return N(int16(native.Uint16(b)))
	case uint16:
		return N(native.Uint16(b))
	case int32:
		return N(int32(native.Uint32(b)))
	case uint32:
		return N(native.Uint32(b))
	case int64:
		return N(int64(native.Uint64(b)))
	case uint64:
		return N(native.Uint64(b))
	case float32:
		return N(math.Float32frombits(native.Uint32(b)))
	default:
		return N(math.Float64frombits(native.Uint64(b)))
	}
}

func putNumber[N Number](b []byte, n N) {
	switch v := any(n).(type) {
	case int8:
		b[0] = byte(v)
	case uint8:
		b[0] = v
	case int16:
		native.PutUint16(b, uint16(v))
	case uint16:
		native.PutUint16(b, v)
	case int32:
		native.PutUint32(b, uint32(v))
	case uint32:
		native.PutUint32(b, v)
	case int64:
		native.PutUint64(b, uint64(v))
	case uint64:
		native.PutUint64(b, v)
	case float32:
		native.PutUint32(b, math.Float32bits(v))
	case float64:
		native.PutUint64(b, math.Float64bits(v))
	}
}

type scalar[N Number] struct {
	offset int
	width  int
}

func (s scalar[N]) Kind() Kind  { return KindScalar }
func (s scalar[N]) Offset() int { return s.offset }
func (s scalar[N]) Width() int  { return s.width }

func (s scalar[N]) Decode(record []byte, _ int64) N {
	return getNumber[N](record[s.offset:])
}

func (s scalar[N]) Encode(key N, record []byte) error {
	putNumber(record[s.offset:], key)
	return nil
}

func (s scalar[N]) Compare(a, b N) int { return cmp.Compare(a, b) }

type integerScalar[N Integer] struct {
	scalar[N]
}

func (s integerScalar[N]) Next(k N) (N, error) {
	n := k + 1
	if n < k {
		return k, ErrKeySpaceExhausted
	}
	return n, nil
}

// Scalar returns a schema for an integer key stored at offset.
func Scalar[N Integer](offset int) Schema[N] {
	return integerScalar[N]{scalar[N]{offset: offset, width: SizeOf[N]()}}
}

// ScalarFloat returns a schema for a floating-point key stored at offset.
// Float keys have no successor.
func ScalarFloat[N Float](offset int) Schema[N] {
	return scalar[N]{offset: offset, width: SizeOf[N]()}
}

type positional struct{}

// Positional returns the schema in which a record's key is its slot number.
func Positional() Schema[int64] { return positional{} }

func (positional) Kind() Kind                            { return KindPositional }
func (positional) Offset() int                           { return 0 }
func (positional) Width() int                            { return 0 }
func (positional) Decode(_ []byte, position int64) int64 { return position }
func (positional) Encode(int64, []byte) error            { return nil }
func (positional) Compare(a, b int64) int                { return cmp.Compare(a, b) }

func (positional) Next(k int64) (int64, error) {
	if k == math.MaxInt64 {
		return k, ErrKeySpaceExhausted
	}
	return k + 1, nil
}
