package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/flatdb/blobstore"
	"github.com/hupe1980/flatdb/codec"
)

// FormatVersion is the backup format written by this package.
const FormatVersion = 1

const (
	dataSuffix     = ".data"
	manifestSuffix = ".manifest"
)

// Manifest describes one backup. It is stored next to the data blob as
// "<codec name>\n<encoded manifest>".
type Manifest struct {
	Version      int         `json:"version"`
	Name         string      `json:"name"`
	CreatedAt    time.Time   `json:"created_at"`
	RecordSize   int         `json:"record_size"`
	HeaderOffset int64       `json:"header_offset"`
	Records      int         `json:"records"`
	RawSize      int64       `json:"raw_size"`
	StoredSize   int64       `json:"stored_size"`
	CRC32C       uint32      `json:"crc32c"`
	Compression  Compression `json:"compression"`
	BlockSize    int         `json:"block_size"`
}

// Slots returns the number of record slots in the backed up file.
func (m *Manifest) Slots() int64 {
	return (m.RawSize - m.HeaderOffset) / int64(m.RecordSize)
}

// Validate checks the manifest for internal consistency.
func (m *Manifest) Validate() error {
	switch {
	case m.Version != FormatVersion:
		return fmt.Errorf("%w: format version %d, want %d", ErrInvalidManifest, m.Version, FormatVersion)
	case m.RecordSize <= 0:
		return fmt.Errorf("%w: record size %d", ErrInvalidManifest, m.RecordSize)
	case m.HeaderOffset < 0 || m.RawSize < m.HeaderOffset:
		return fmt.Errorf("%w: header offset %d with raw size %d", ErrInvalidManifest, m.HeaderOffset, m.RawSize)
	case (m.RawSize-m.HeaderOffset)%int64(m.RecordSize) != 0:
		return fmt.Errorf("%w: raw size %d is not aligned to record size %d", ErrInvalidManifest, m.RawSize, m.RecordSize)
	case m.BlockSize <= 0 || m.BlockSize > maxBlockSize:
		return fmt.Errorf("%w: block size %d", ErrInvalidManifest, m.BlockSize)
	case int64(m.Records) > m.Slots():
		return fmt.Errorf("%w: %d records in %d slots", ErrInvalidManifest, m.Records, m.Slots())
	}
	return nil
}

func encodeManifest(c codec.Codec, m *Manifest) ([]byte, error) {
	payload, err := c.Marshal(m)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, len(c.Name())+1+len(payload))
	data = append(data, c.Name()...)
	data = append(data, '\n')
	return append(data, payload...), nil
}

func decodeManifest(preferred codec.Codec, data []byte) (*Manifest, error) {
	name, payload, ok := bytes.Cut(data, []byte{'\n'})
	if !ok {
		return nil, fmt.Errorf("%w: missing codec line", ErrInvalidManifest)
	}

	c := preferred
	if c == nil || c.Name() != string(name) {
		var found bool
		if c, found = codec.ByName(string(name)); !found {
			return nil, fmt.Errorf("%w: unknown codec %q", ErrInvalidManifest, name)
		}
	}

	m := &Manifest{}
	if err := c.Unmarshal(payload, m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadManifest loads and validates the manifest of the named backup.
func ReadManifest(ctx context.Context, store blobstore.BlobStore, name string, optFns ...Option) (*Manifest, error) {
	o := applyOptions(optFns)

	data, err := blobstore.ReadAll(ctx, store, name+manifestSuffix)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoBackup, name)
		}
		return nil, err
	}
	m, err := decodeManifest(o.codec, data)
	if err != nil {
		return nil, err
	}
	if m.Name != name {
		return nil, fmt.Errorf("%w: manifest names backup %q, want %q", ErrInvalidManifest, m.Name, name)
	}
	return m, nil
}
