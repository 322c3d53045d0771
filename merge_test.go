package flatdb

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flatdb/schema"
)

func openPair(t *testing.T) (dst, src *Store[uint32]) {
	t.Helper()

	dir := t.TempDir()
	dst = openTestStore(t, filepath.Join(dir, "dst.db"))
	src = openTestStore(t, filepath.Join(dir, "src.db"))

	require.NoError(t, dst.Add(1, makeRecord(1, "A")))
	require.NoError(t, dst.Add(2, makeRecord(2, "B")))
	require.NoError(t, src.Add(2, makeRecord(2, "X")))
	require.NoError(t, src.Add(3, makeRecord(3, "C")))
	return dst, src
}

func contents(t *testing.T, s *Store[uint32]) map[uint32]string {
	t.Helper()

	out := make(map[uint32]string)
	for _, e := range collect(t, s) {
		out[e.Key] = payloadOf(e.Record)
	}
	return out
}

func TestMerge_Policies(t *testing.T) {
	tests := []struct {
		policy MergePolicy
		want   map[uint32]string
		remap  map[uint32]uint32
	}{
		{MergeSkip, map[uint32]string{1: "A", 2: "B", 3: "C"}, map[uint32]uint32{}},
		{MergeReplace, map[uint32]string{1: "A", 2: "X", 3: "C"}, map[uint32]uint32{}},
		{MergeNext, map[uint32]string{1: "A", 2: "B", 3: "C", 4: "X"}, map[uint32]uint32{2: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			dst, src := openPair(t)

			remap, err := dst.Merge(context.Background(), src, tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.remap, remap)
			assert.Equal(t, tt.want, contents(t, dst))

			// The source is left untouched.
			assert.Equal(t, map[uint32]string{2: "X", 3: "C"}, contents(t, src))
		})
	}
}

func TestMerge_Error(t *testing.T) {
	dst, src := openPair(t)
	mc := &BasicMetricsCollector{}
	dst.metrics = mc

	_, err := dst.Merge(context.Background(), src, MergeError)
	require.ErrorIs(t, err, ErrConflict)

	var ke *KeyError[uint32]
	require.ErrorAs(t, err, &ke)
	assert.Equal(t, uint32(2), ke.Key)
	assert.Equal(t, int64(testRecordSize), ke.Offset)

	assert.Equal(t, map[uint32]string{1: "A", 2: "B"}, contents(t, dst))

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.MergeErrors)
	assert.Equal(t, int64(1), stats.MergeConflicts)
}

func TestMerge_NextKeysStayUnique(t *testing.T) {
	dir := t.TempDir()
	dst := openTestStore(t, filepath.Join(dir, "dst.db"))
	src := openTestStore(t, filepath.Join(dir, "src.db"))

	for k := uint32(1); k <= 10; k++ {
		require.NoError(t, dst.Add(k, makeRecord(k, "d")))
	}
	// Source keys above the destination range are copied after the
	// renamed ones and must not collide with them.
	for _, k := range []uint32{5, 6, 11, 12} {
		require.NoError(t, src.Add(k, makeRecord(k, fmt.Sprintf("s%d", k))))
	}

	remap, err := dst.Merge(context.Background(), src, MergeNext)
	require.NoError(t, err)
	assert.Equal(t, map[uint32]uint32{5: 13, 6: 14}, remap)
	assert.Equal(t, 14, dst.Len())

	got := contents(t, dst)
	assert.Equal(t, "s5", got[13])
	assert.Equal(t, "s6", got[14])
	assert.Equal(t, "s11", got[11])
	assert.Equal(t, "d", got[5])
}

func TestMerge_NextUnsupported(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	open := func(name string) *Store[string] {
		s, err := Open(ctx, filepath.Join(dir, name), testRecordSize, schema.FixedString(0, 8), WithCreate(0))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	dst, src := open("dst.db"), open("src.db")
	require.NoError(t, dst.Add("a", make([]byte, testRecordSize)))
	require.NoError(t, src.Add("a", make([]byte, testRecordSize)))

	_, err := dst.Merge(ctx, src, MergeNext)
	require.ErrorIs(t, err, ErrUnsupportedKeyType)
	assert.Equal(t, 1, dst.Len())

	// Other policies work for keys without a successor.
	_, err = dst.Merge(ctx, src, MergeSkip)
	require.NoError(t, err)
}

func TestMerge_KeySpaceExhausted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	open := func(name string) *Store[uint8] {
		s, err := Open(ctx, filepath.Join(dir, name), testRecordSize, schema.Scalar[uint8](0), WithCreate(0))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	dst, src := open("dst.db"), open("src.db")

	rec := make([]byte, testRecordSize)
	rec[8] = 1
	require.NoError(t, dst.Add(255, rec))
	require.NoError(t, src.Add(255, rec))

	_, err := dst.Merge(ctx, src, MergeNext)
	require.ErrorIs(t, err, ErrKeySpaceExhausted)
	assert.Equal(t, 1, dst.Len())
}

func TestMerge_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	dst, src := openPair(t)

	_, err := dst.Merge(ctx, dst, MergeSkip)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = dst.Merge(ctx, nil, MergeSkip)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = dst.Merge(ctx, src, MergePolicy(42))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	wide, err := Open(ctx, filepath.Join(t.TempDir(), "wide.db"), 2*testRecordSize, schema.Scalar[uint32](0), WithCreate(0))
	require.NoError(t, err)
	defer func() { _ = wide.Close() }()
	_, err = dst.Merge(ctx, wide, MergeSkip)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, src.Close())
	_, err = dst.Merge(ctx, src, MergeSkip)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMerge_Canceled(t *testing.T) {
	dst, src := openPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dst.Merge(ctx, src, MergeSkip)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseMergePolicy(t *testing.T) {
	for _, p := range []MergePolicy{MergeError, MergeSkip, MergeReplace, MergeNext} {
		got, err := ParseMergePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	got, err := ParseMergePolicy("REPLACE")
	require.NoError(t, err)
	assert.Equal(t, MergeReplace, got)

	_, err = ParseMergePolicy("overwrite")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, "policy(9)", MergePolicy(9).String())
}
