package schema

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalar_RoundTrip(t *testing.T) {
	rec := make([]byte, 24)

	s64 := Scalar[int64](8)
	assert.Equal(t, KindScalar, s64.Kind())
	assert.Equal(t, 8, s64.Width())
	require.NoError(t, s64.Encode(-42, rec))
	assert.Equal(t, int64(-42), s64.Decode(rec, 0))

	s16 := Scalar[uint16](2)
	require.NoError(t, s16.Encode(65000, rec))
	assert.Equal(t, uint16(65000), s16.Decode(rec, 0))

	s8 := Scalar[int8](0)
	require.NoError(t, s8.Encode(-5, rec))
	assert.Equal(t, int8(-5), s8.Decode(rec, 0))

	f := ScalarFloat[float64](16)
	require.NoError(t, f.Encode(3.25, rec))
	assert.Equal(t, 3.25, f.Decode(rec, 0))
	assert.Equal(t, -1, f.Compare(1.5, 2))

	f32 := ScalarFloat[float32](16)
	require.NoError(t, f32.Encode(1.5, rec))
	assert.Equal(t, float32(1.5), f32.Decode(rec, 0))
}

func TestScalar_Successor(t *testing.T) {
	s := Scalar[uint32](0)
	require.True(t, SupportsNext(s))

	n, err := Next(s, 41)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), n)

	_, err = Next(s, math.MaxUint32)
	assert.ErrorIs(t, err, ErrKeySpaceExhausted)

	_, err = Next(Scalar[int8](0), math.MaxInt8)
	assert.ErrorIs(t, err, ErrKeySpaceExhausted)

	f := ScalarFloat[float64](0)
	assert.False(t, SupportsNext(f))
	_, err = Next(f, 1.0)
	assert.ErrorIs(t, err, ErrUnsupportedKeyType)
}

func TestPositional(t *testing.T) {
	p := Positional()
	assert.Equal(t, KindPositional, p.Kind())
	assert.Equal(t, 0, p.Width())
	assert.Equal(t, int64(17), p.Decode(nil, 17))
	assert.NoError(t, p.Encode(3, nil))

	n, err := Next(p, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	_, err = Next(p, math.MaxInt64)
	assert.ErrorIs(t, err, ErrKeySpaceExhausted)
}

func TestFixedString(t *testing.T) {
	s := FixedString(4, 8)
	rec := make([]byte, 16)
	for i := range rec {
		rec[i] = 0xFF
	}

	require.NoError(t, s.Encode("abc", rec))
	assert.Equal(t, "abc", s.Decode(rec, 0))
	assert.Equal(t, []byte{'a', 'b', 'c', 0, 0, 0, 0, 0}, rec[4:12])
	assert.Equal(t, byte(0xFF), rec[3])
	assert.Equal(t, byte(0xFF), rec[12])

	// Full capacity has no terminator.
	require.NoError(t, s.Encode("12345678", rec))
	assert.Equal(t, "12345678", s.Decode(rec, 0))

	err := s.Encode("123456789", rec)
	assert.ErrorIs(t, err, ErrKeyTooLong)

	assert.Negative(t, s.Compare("a", "b"))
	assert.False(t, SupportsNext(s))
}

func TestFixedArray(t *testing.T) {
	s := FixedArray[uint16](2, 3)
	assert.Equal(t, KindFixedArray, s.Kind())
	assert.Equal(t, 6, s.Width())

	rec := make([]byte, 10)
	key := MakeArray[uint16](1, 2, 300)
	require.NoError(t, s.Encode(key, rec))

	got := s.Decode(rec, 0)
	assert.Equal(t, key, got)
	assert.Equal(t, []uint16{1, 2, 300}, got.Elems())
	assert.Equal(t, "[1 2 300]", got.String())

	err := s.Encode(MakeArray[uint16](1, 2), rec)
	assert.ErrorIs(t, err, ErrArrayLength)

	assert.Negative(t, s.Compare(MakeArray[uint16](1, 2, 3), MakeArray[uint16](1, 3, 0)))
	assert.Zero(t, s.Compare(key, got))
	assert.Positive(t, s.Compare(MakeArray[uint16](2, 0, 0), key))

	m := map[Array[uint16]]int{key: 1}
	assert.Equal(t, 1, m[got])
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Scalar[int64](8), 16))
	assert.ErrorIs(t, Validate(Scalar[int64](9), 16), ErrInvalidLayout)
	assert.ErrorIs(t, Validate(FixedString(-1, 4), 16), ErrInvalidLayout)
	assert.ErrorIs(t, Validate(Positional(), 0), ErrInvalidLayout)
	assert.ErrorIs(t, Validate[int64](nil, 8), ErrInvalidLayout)
	assert.NoError(t, Validate(Positional(), 1))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "positional", KindPositional.String())
	assert.Equal(t, "scalar", KindScalar.String())
	assert.Equal(t, "fixed-string", KindFixedString.String())
	assert.Equal(t, "fixed-array", KindFixedArray.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
