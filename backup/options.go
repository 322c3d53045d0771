package backup

import (
	"log/slog"

	"github.com/hupe1980/flatdb/codec"
	"github.com/hupe1980/flatdb/internal/fs"
	"github.com/hupe1980/flatdb/resource"
)

// DefaultBlockSize is the raw size of one data block.
const DefaultBlockSize = 1 << 20

// maxBlockSize bounds BlockSize so a corrupt manifest can not force huge
// allocations during restore.
const maxBlockSize = 64 << 20

// Option configures Write and Restore.
type Option func(*options)

type options struct {
	compression Compression
	blockSize   int
	codec       codec.Codec
	resources   *resource.Controller
	logger      *slog.Logger
	fsys        fs.FileSystem
}

// WithCompression sets the block compression. Default: CompressionNone.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithBlockSize sets the raw size of a data block.
func WithBlockSize(n int) Option {
	return func(o *options) {
		o.blockSize = n
	}
}

// WithCodec sets the manifest codec. Default: codec.Default.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithResourceController throttles backup I/O and takes a background
// worker slot for the duration of the operation.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithLogger sets the logger for progress and results.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithFileSystem sets the filesystem Restore writes to.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fsys = fsys
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		compression: CompressionNone,
		blockSize:   DefaultBlockSize,
		codec:       codec.Default,
		fsys:        fs.Default,
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.codec == nil {
		o.codec = codec.Default
	}
	if o.fsys == nil {
		o.fsys = fs.Default
	}
	return o
}
