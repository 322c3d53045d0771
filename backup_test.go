package flatdb

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flatdb/backup"
	"github.com/hupe1980/flatdb/blobstore"
)

func TestStore_BackupRestore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.db")
	bs := blobstore.NewMemoryStore()

	s := openTestStore(t, path, WithHeaderOffset(8), WithPageSize(64))
	require.NoError(t, s.WriteHeader([]byte("ORDERS01")))
	for k := uint32(1); k <= 300; k++ {
		require.NoError(t, s.Add(k, makeRecord(k, fmt.Sprintf("o%d", k))))
	}
	for k := uint32(250); k <= 300; k++ {
		require.NoError(t, s.Remove(k))
	}
	require.NoError(t, s.Remove(7))

	m, err := s.Backup(ctx, bs, "orders-1", backup.WithCompression(backup.CompressionZSTD), backup.WithBlockSize(1000))
	require.NoError(t, err)
	assert.Equal(t, 248, m.Records)
	assert.Equal(t, s.Extent(), m.RawSize)
	assert.Equal(t, int64(249), m.Slots())
	assert.Equal(t, int64(8), m.HeaderOffset)

	latest, err := backup.Latest(ctx, bs)
	require.NoError(t, err)
	assert.Equal(t, "orders-1", latest)

	// Changes after the backup are not part of it.
	require.NoError(t, s.Remove(1))

	restored := filepath.Join(dir, "restored.db")
	_, err = backup.Restore(ctx, bs, "orders-1", restored)
	require.NoError(t, err)
	assert.Equal(t, m.RawSize, fileSize(t, restored))

	r := openTestStore(t, restored, WithHeaderOffset(8))
	assert.Equal(t, 248, r.Len())
	assert.True(t, r.Contains(1))
	assert.False(t, r.Contains(7))

	header, err := r.ReadHeader()
	require.NoError(t, err)
	assert.Equal(t, "ORDERS01", string(header))

	rec, err := r.Get(200)
	require.NoError(t, err)
	assert.Equal(t, "o200", payloadOf(rec))

	_, err = s.Backup(ctx, bs, "orders-1")
	assert.ErrorIs(t, err, blobstore.ErrExists)

	require.NoError(t, s.Close())
	_, err = s.Backup(ctx, bs, "orders-2")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStore_BackupUsesStoreLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	s := openTestStore(t, filepath.Join(t.TempDir(), "orders.db"), WithLogger(logger))
	require.NoError(t, s.Add(1, makeRecord(1, "a")))

	_, err := s.Backup(context.Background(), blobstore.NewMemoryStore(), "b1")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"msg":"backup written"`)
}

func TestLogger_StoreEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	path := filepath.Join(t.TempDir(), "orders.db")
	s := openTestStore(t, path, WithLogger(logger))
	require.NoError(t, s.Add(1, makeRecord(1, "a")))
	require.NoError(t, s.Optimize(context.Background()))
	require.NoError(t, s.Close())

	out := buf.String()
	for _, msg := range []string{"load completed", "optimize completed", "store closed"} {
		assert.Contains(t, out, fmt.Sprintf(`"msg":%q`, msg))
	}
	assert.Contains(t, out, fmt.Sprintf(`"path":%q`, path))
	assert.True(t, slices.ContainsFunc(bytes.Split(buf.Bytes(), []byte("\n")), func(line []byte) bool {
		return bytes.Contains(line, []byte(`"live":1`))
	}))
}
