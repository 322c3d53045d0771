package backup

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block compression of a backup data blob.
type Compression uint8

const (
	// CompressionNone stores blocks as is.
	CompressionNone Compression = iota
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4
	// CompressionZSTD uses zstd (better ratio).
	CompressionZSTD
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("%w: unknown compression %q", ErrInvalidManifest, s)
	}
}

// MarshalText implements encoding.TextMarshaler for the manifest.
func (c Compression) MarshalText() ([]byte, error) {
	if c > CompressionZSTD {
		return nil, fmt.Errorf("%w: unknown compression %d", ErrInvalidManifest, uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for the manifest.
func (c *Compression) UnmarshalText(text []byte) error {
	v, err := ParseCompression(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Block layout: [raw size uint32][stored size uint32][payload].
// A stored size of zero means the payload is the raw bytes.
const blockHeaderSize = 8

// errBlockFormat reports a malformed block stream.
var errBlockFormat = errors.New("backup: malformed block")

func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil
	case CompressionZSTD:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, err
		}
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, nil
	}
}

func decompress(payload []byte, rawSize int, c Compression) ([]byte, error) {
	raw := make([]byte, rawSize)
	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, err
		}
		if n != rawSize {
			return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", errBlockFormat, n, rawSize)
		}
		return raw, nil
	case CompressionZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, raw[:0])
		if err != nil {
			return nil, err
		}
		if len(out) != rawSize {
			return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", errBlockFormat, len(out), rawSize)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: compressed block in an uncompressed backup", errBlockFormat)
	}
}

// blockWriter frames each block written to it.
type blockWriter struct {
	w           io.Writer
	compression Compression
	written     int64
}

// WriteBlock writes one framed block. Blocks that do not shrink below
// 90% of their raw size are stored raw.
func (b *blockWriter) WriteBlock(data []byte) error {
	var header [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:], uint32(len(data)))

	payload := data
	if b.compression != CompressionNone && len(data) > 0 {
		packed, err := compress(data, b.compression)
		if err != nil {
			return err
		}
		if len(packed) > 0 && float64(len(packed)) <= float64(len(data))*0.9 {
			binary.LittleEndian.PutUint32(header[4:], uint32(len(packed)))
			payload = packed
		}
	}

	if _, err := b.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := b.w.Write(payload); err != nil {
		return err
	}
	b.written += int64(blockHeaderSize + len(payload))
	return nil
}

// blockReader reads framed blocks back.
type blockReader struct {
	r           io.Reader
	compression Compression
	maxBlock    int
}

// ReadBlock returns the next raw block, or io.EOF after the last one.
func (b *blockReader) ReadBlock() ([]byte, error) {
	var header [blockHeaderSize]byte
	if _, err := io.ReadFull(b.r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated header", errBlockFormat)
		}
		return nil, err
	}

	rawSize := int(binary.LittleEndian.Uint32(header[0:]))
	storedSize := int(binary.LittleEndian.Uint32(header[4:]))
	if rawSize > b.maxBlock || storedSize > b.maxBlock {
		return nil, fmt.Errorf("%w: block of %d bytes exceeds %d", errBlockFormat, max(rawSize, storedSize), b.maxBlock)
	}

	if storedSize == 0 {
		raw := make([]byte, rawSize)
		if _, err := io.ReadFull(b.r, raw); err != nil {
			return nil, fmt.Errorf("%w: %w", errBlockFormat, err)
		}
		return raw, nil
	}

	payload := make([]byte, storedSize)
	if _, err := io.ReadFull(b.r, payload); err != nil {
		return nil, fmt.Errorf("%w: %w", errBlockFormat, err)
	}
	return decompress(payload, rawSize, b.compression)
}
