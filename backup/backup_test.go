package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flatdb/blobstore"
	"github.com/hupe1980/flatdb/codec"
	ifs "github.com/hupe1980/flatdb/internal/fs"
	"github.com/hupe1980/flatdb/resource"
)

type memSource struct {
	data       []byte
	recordSize int
	header     int64
	records    int
	failAt     int64
}

func newMemSource(header int64, recordSize, records int, fill func(i int, rec []byte)) *memSource {
	data := make([]byte, header+int64(recordSize*records))
	for i := range int(header) {
		data[i] = byte('H')
	}
	for i := range records {
		off := header + int64(i*recordSize)
		fill(i, data[off:off+int64(recordSize)])
	}
	return &memSource{data: data, recordSize: recordSize, header: header, records: records, failAt: -1}
}

func (s *memSource) RecordSize() int     { return s.recordSize }
func (s *memSource) HeaderOffset() int64 { return s.header }
func (s *memSource) Len() int            { return s.records }
func (s *memSource) Extent() int64       { return int64(len(s.data)) }

func (s *memSource) ReadAt(p []byte, off int64) (int, error) {
	if s.failAt >= 0 && off+int64(len(p)) > s.failAt {
		return 0, errors.New("read failed")
	}
	return bytes.NewReader(s.data).ReadAt(p, off)
}

func sequentialRecords(i int, rec []byte) {
	for j := range rec {
		rec[j] = byte(i)
	}
}

func randomRecords(seed uint64) func(int, []byte) {
	r := rand.New(rand.NewPCG(seed, seed))
	return func(_ int, rec []byte) {
		for j := range rec {
			rec[j] = byte(r.Uint32())
		}
	}
}

func TestWriteRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()

	sources := map[string]*memSource{
		"compressible": newMemSource(16, 24, 500, sequentialRecords),
		"random":       newMemSource(0, 32, 300, randomRecords(7)),
	}

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		for srcName, src := range sources {
			t.Run(c.String()+"/"+srcName, func(t *testing.T) {
				dir := t.TempDir()
				store := blobstore.NewLocalStore(filepath.Join(dir, "backups"))

				m, err := Write(ctx, src, store, "orders-0001", WithCompression(c), WithBlockSize(1000))
				require.NoError(t, err)
				assert.Equal(t, src.Extent(), m.RawSize)
				assert.Equal(t, src.Len(), m.Records)
				assert.Equal(t, c, m.Compression)
				assert.Equal(t, int64(src.records), m.Slots())

				if c != CompressionNone && srcName == "compressible" {
					assert.Less(t, m.StoredSize, m.RawSize)
				}

				latest, err := Latest(ctx, store)
				require.NoError(t, err)
				assert.Equal(t, "orders-0001", latest)

				path := filepath.Join(dir, "orders.db")
				restored, err := Restore(ctx, store, latest, path)
				require.NoError(t, err)
				assert.Equal(t, m.CRC32C, restored.CRC32C)

				got, err := os.ReadFile(path)
				require.NoError(t, err)
				assert.Equal(t, src.data, got)

				_, err = os.Stat(path + ".restore")
				assert.ErrorIs(t, err, os.ErrNotExist)
			})
		}
	}
}

func TestWrite_HeaderOnly(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	src := newMemSource(8, 4, 0, sequentialRecords)

	m, err := Write(ctx, src, store, "empty")
	require.NoError(t, err)
	assert.Equal(t, int64(8), m.RawSize)
	assert.Zero(t, m.Records)

	path := filepath.Join(t.TempDir(), "empty.db")
	_, err = Restore(ctx, store, "empty", path)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("HHHHHHHH"), got)
}

func TestWrite_ExistingNameIsKept(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	first := newMemSource(0, 4, 3, sequentialRecords)
	_, err := Write(ctx, first, store, "orders-0001")
	require.NoError(t, err)
	_, err = Write(ctx, newMemSource(0, 4, 1, sequentialRecords), store, "orders-0002")
	require.NoError(t, err)

	_, err = Write(ctx, newMemSource(0, 4, 9, sequentialRecords), store, "orders-0001")
	require.ErrorIs(t, err, blobstore.ErrExists)

	m, err := ReadManifest(ctx, store, "orders-0001")
	require.NoError(t, err)
	assert.Equal(t, 3, m.Records)

	latest, err := Latest(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "orders-0002", latest)

	names, err := List(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders-0001", "orders-0002"}, names)
}

func TestWrite_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	src := newMemSource(0, 4, 1, sequentialRecords)

	for _, name := range []string{"", "a/b", `a\b`, blobstore.CurrentName} {
		_, err := Write(ctx, src, store, name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}

	_, err := Write(ctx, src, store, "x", WithBlockSize(0))
	assert.ErrorIs(t, err, ErrInvalidManifest)

	_, err = Write(ctx, src, store, "x", WithCompression(Compression(9)))
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func TestWrite_SourceFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewLocalStore(t.TempDir())

	src := newMemSource(0, 8, 100, sequentialRecords)
	src.failAt = 400

	_, err := Write(ctx, src, store, "broken", WithBlockSize(128))
	require.Error(t, err)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = Latest(ctx, store)
	assert.ErrorIs(t, err, ErrNoBackup)
}

func TestRestore_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	src := newMemSource(0, 16, 64, randomRecords(3))

	_, err := Write(ctx, src, store, "orders-0001", WithBlockSize(256))
	require.NoError(t, err)

	data, err := blobstore.ReadAll(ctx, store, "orders-0001.data")
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, store.Put(ctx, "orders-0001.data", data))

	path := filepath.Join(t.TempDir(), "orders.db")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	_, err = Restore(ctx, store, "orders-0001", path)
	require.ErrorIs(t, err, ErrChecksumMismatch)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))

	_, err = os.Stat(path + ".restore")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRestore_TruncatedData(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	src := newMemSource(0, 16, 64, sequentialRecords)

	_, err := Write(ctx, src, store, "orders-0001", WithBlockSize(256), WithCompression(CompressionLZ4))
	require.NoError(t, err)

	data, err := blobstore.ReadAll(ctx, store, "orders-0001.data")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "orders-0001.data", data[:len(data)-3]))

	_, err = Restore(ctx, store, "orders-0001", filepath.Join(t.TempDir(), "orders.db"))
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestRestore_RenameFailureKeepsTarget(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	_, err := Write(ctx, newMemSource(0, 4, 8, sequentialRecords), store, "orders-0001")
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "orders.db")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	faulty := ifs.NewFaultyFS(ifs.Default)
	faulty.AddRule(".restore", ifs.Fault{FailAfterBytes: -1, FailOnRename: true})

	_, err = Restore(ctx, store, "orders-0001", path, WithFileSystem(faulty))
	require.ErrorIs(t, err, ifs.ErrInjected)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}

func TestRestore_Missing(t *testing.T) {
	_, err := Restore(context.Background(), blobstore.NewMemoryStore(), "nope", filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, ErrNoBackup)
}

func TestManifest_Validate(t *testing.T) {
	valid := Manifest{
		Version:      FormatVersion,
		Name:         "orders-0001",
		RecordSize:   8,
		HeaderOffset: 4,
		Records:      2,
		RawSize:      28,
		BlockSize:    DefaultBlockSize,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(m *Manifest)
	}{
		{"Version", func(m *Manifest) { m.Version = 2 }},
		{"RecordSize", func(m *Manifest) { m.RecordSize = 0 }},
		{"HeaderOffset", func(m *Manifest) { m.HeaderOffset = 40 }},
		{"Alignment", func(m *Manifest) { m.RawSize = 27 }},
		{"BlockSize", func(m *Manifest) { m.BlockSize = maxBlockSize + 1 }},
		{"Records", func(m *Manifest) { m.Records = 4 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid
			tt.mutate(&m)
			assert.ErrorIs(t, m.Validate(), ErrInvalidManifest)
		})
	}
}

func TestManifest_CodecLine(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	_, err := Write(ctx, newMemSource(0, 4, 2, sequentialRecords), store, "orders-0001", WithCompression(CompressionZSTD))
	require.NoError(t, err)

	data, err := blobstore.ReadAll(ctx, store, "orders-0001.manifest")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("json\n")))
	assert.Contains(t, string(data), `"compression": "zstd"`)

	require.NoError(t, store.Put(ctx, "orders-0001.manifest", []byte("xml\n<manifest/>")))
	_, err = ReadManifest(ctx, store, "orders-0001")
	assert.ErrorIs(t, err, ErrInvalidManifest)

	require.NoError(t, store.Put(ctx, "orders-0001.manifest", codec.MustMarshal(nil, map[string]int{"version": 1})))
	_, err = ReadManifest(ctx, store, "orders-0001")
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func TestManifest_CodecSelectedByName(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	src := newMemSource(8, 4, 3, sequentialRecords)

	written, err := Write(ctx, src, store, "orders-0001", WithCodec(codec.GoJSON{}), WithCompression(CompressionLZ4))
	require.NoError(t, err)

	data, err := blobstore.ReadAll(ctx, store, "orders-0001.manifest")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("go-json\n{")))
	assert.Contains(t, string(data), `"compression":"lz4"`)

	m, err := ReadManifest(ctx, store, "orders-0001")
	require.NoError(t, err)
	assert.Equal(t, written.CRC32C, m.CRC32C)
	assert.Equal(t, CompressionLZ4, m.Compression)
	assert.Equal(t, int64(3), m.Slots())
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	src := newMemSource(0, 4, 2, sequentialRecords)

	_, err := Write(ctx, src, store, "orders-0001")
	require.NoError(t, err)
	_, err = Write(ctx, src, store, "orders-0002")
	require.NoError(t, err)

	assert.ErrorIs(t, Delete(ctx, store, "orders-0002"), ErrInvalidName)
	require.NoError(t, Delete(ctx, store, "orders-0001"))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{blobstore.CurrentName, "orders-0002.data", "orders-0002.manifest"}, names)
}

func TestWrite_RateLimited(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc := resource.NewController(resource.Config{BytesPerSecond: 1})
	_, err := Write(ctx, newMemSource(0, 64, 64, sequentialRecords), blobstore.NewMemoryStore(), "slow", WithResourceController(rc))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBlockReader_RejectsOversizedBlocks(t *testing.T) {
	var buf bytes.Buffer
	bw := &blockWriter{w: &buf}
	require.NoError(t, bw.WriteBlock(make([]byte, 100)))

	br := &blockReader{r: &buf, maxBlock: 50}
	_, err := br.ReadBlock()
	assert.ErrorIs(t, err, errBlockFormat)

	_, err = (&blockReader{r: bytes.NewReader(nil), maxBlock: 50}).ReadBlock()
	assert.ErrorIs(t, err, io.EOF)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCompression("brotli")
	assert.ErrorIs(t, err, ErrInvalidManifest)
}
