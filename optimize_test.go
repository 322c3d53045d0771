package flatdb

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flatdb/internal/fs"
)

func fillShuffled(t *testing.T, s *Store[uint32], n int) {
	t.Helper()

	for i := n; i >= 1; i-- {
		k := uint32(i*7919%n + 1)
		require.NoError(t, s.Add(k, makeRecord(k, fmt.Sprintf("p%d", k))))
	}
}

func TestOptimize_SortsAndCompacts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "orders.db")
	s := openTestStore(t, path, WithHeaderOffset(6), WithPageSize(40))
	require.NoError(t, s.WriteHeader([]byte("v1.0.0")))

	fillShuffled(t, s, 64)
	for k := uint32(1); k <= 64; k += 3 {
		require.NoError(t, s.Remove(k))
	}
	live := s.Len()

	require.NoError(t, s.Optimize(ctx))

	keys := slices.Collect(s.Keys())
	assert.True(t, slices.IsSorted(keys))
	assert.Len(t, keys, live)

	st := s.Stats()
	assert.Equal(t, int64(6+live*testRecordSize), st.FileSize)
	assert.Zero(t, st.Tombstones)
	assert.Equal(t, st.FileSize, st.AppendOffset)

	header, err := s.ReadHeader()
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", string(header))

	for _, e := range collect(t, s) {
		assert.Equal(t, e.Key, binary.NativeEndian.Uint32(e.Record))
		assert.Equal(t, fmt.Sprintf("p%d", e.Key), payloadOf(e.Record))
	}

	// Adds go after the compacted records.
	require.NoError(t, s.Add(1000, makeRecord(1000, "new")))
	assert.Equal(t, int64(6+(live+1)*testRecordSize), s.Extent())

	_, err = os.Stat(path + ".tmp")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOptimize_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "orders.db")
	s := openTestStore(t, path)

	fillShuffled(t, s, 50)
	require.NoError(t, s.Remove(10))
	require.NoError(t, s.Optimize(ctx))
	require.NoError(t, s.Sync())

	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, s.Optimize(ctx))
	require.NoError(t, s.Sync())

	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, second, 49*testRecordSize)
}

func TestOptimize_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.db")
	s := openTestStore(t, path, WithHeaderOffset(3), WithCreate(20))

	require.NoError(t, s.Optimize(context.Background()))
	assert.Equal(t, int64(3), s.Stats().FileSize)
	assert.Zero(t, s.Len())
}

func TestOptimize_NotSortable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.db")
	s := openTestStore(t, path, WithSortable(false))

	fillShuffled(t, s, 10)
	require.NoError(t, s.Remove(3))
	before := slices.Collect(s.Keys())
	size := s.Stats().FileSize

	require.NoError(t, s.Optimize(context.Background()))
	assert.Equal(t, before, slices.Collect(s.Keys()))
	assert.Equal(t, size, s.Stats().FileSize)
}

func TestOptimize_Failures(t *testing.T) {
	tests := []struct {
		name  string
		fault fs.Fault
	}{
		{"Sync", fs.Fault{FailAfterBytes: -1, FailOnSync: true}},
		{"Rename", fs.Fault{FailAfterBytes: -1, FailOnRename: true}},
		{"Open", fs.Fault{FailAfterBytes: -1, FailOnOpen: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "orders.db")
			faulty := fs.NewFaultyFS(fs.Default)
			mc := &BasicMetricsCollector{}
			s := openTestStore(t, path, WithFileSystem(faulty), WithMetricsCollector(mc))

			fillShuffled(t, s, 20)
			require.NoError(t, s.Remove(5))
			before := collect(t, s)
			require.NoError(t, s.Sync())
			original, err := os.ReadFile(path)
			require.NoError(t, err)

			faulty.AddRule("orders.db.tmp", tt.fault)
			err = s.Optimize(ctx)
			require.ErrorIs(t, err, ErrIO)
			require.ErrorIs(t, err, fs.ErrInjected)
			assert.Equal(t, int64(1), mc.GetStats().OptimizeErrors)

			_, err = os.Stat(path + ".tmp")
			assert.ErrorIs(t, err, os.ErrNotExist)

			current, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, original, current)

			// The store keeps serving the original content.
			assert.Equal(t, before, collect(t, s))

			faulty.ClearRules()
			require.NoError(t, s.Optimize(ctx))
			assert.Equal(t, 19, s.Len())
			assert.True(t, slices.IsSorted(slices.Collect(s.Keys())))
		})
	}
}
