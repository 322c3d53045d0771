package flatdb

import (
	"log/slog"

	"github.com/hupe1980/flatdb/internal/fs"
	"github.com/hupe1980/flatdb/resource"
)

// DefaultPageSize is the page window size used when WithPageSize is not given.
// It is rounded down to a whole number of records.
const DefaultPageSize = 64 * 1024

type options struct {
	headerOffset     int64
	pageSize         int64
	sortable         bool
	create           bool
	createRecords    int64
	logger           *Logger
	metricsCollector MetricsCollector
	fileSystem       fs.FileSystem
	resources        *resource.Controller
	ioLimit          int64
	recordValidator  func(record []byte) bool
	keyValidator     any
}

// Option configures Open.
type Option func(*options)

// WithHeaderOffset reserves n bytes at the start of the file for a
// caller-owned header. Records start at offset n.
func WithHeaderOffset(n int64) Option {
	return func(o *options) {
		o.headerOffset = n
	}
}

// WithPageSize sets the size of the mapped page window. Any positive size
// works; records straddling a window boundary are staged through a buffer.
func WithPageSize(n int64) Option {
	return func(o *options) {
		o.pageSize = n
	}
}

// WithSortable enables or disables compaction. A store that is not sortable
// treats Optimize as a no-op.
func WithSortable(sortable bool) Option {
	return func(o *options) {
		o.sortable = sortable
	}
}

// WithCreate creates the file when it does not exist, sized for minRecords
// zeroed slots after the header.
func WithCreate(minRecords int64) Option {
	return func(o *options) {
		o.create = true
		o.createRecords = minRecords
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := flatdb.NewJSONLogger(slog.LevelInfo)
//	db, _ := flatdb.Open(ctx, path, 16, schema.Scalar[uint32](0), flatdb.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &flatdb.BasicMetricsCollector{}
//	db, _ := flatdb.Open(ctx, path, 16, schema.Positional(), flatdb.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithFileSystem replaces the local file system, mainly for fault injection.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fileSystem = fsys
	}
}

// WithResourceController shares a resource controller between stores.
// Optimize takes a background slot from it and charges its copy traffic
// against the controller's I/O budget.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithIOLimit throttles compaction and backup traffic to bytesPerSec.
// It is ignored when WithResourceController is also given.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithRecordValidator sets the predicate Load uses to tell live records from
// tombstones. The default treats an all-zero record as a tombstone.
func WithRecordValidator(fn func(record []byte) bool) Option {
	return func(o *options) {
		o.recordValidator = fn
	}
}

// WithKeyValidator sets a predicate on decoded keys. Load indexes a record
// only when both the record and the key validator accept it. K must match
// the key type of the store being opened.
func WithKeyValidator[K comparable](fn func(key K) bool) Option {
	return func(o *options) {
		o.keyValidator = fn
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		pageSize:         0,
		sortable:         true,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		fileSystem:       fs.Default,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.fileSystem == nil {
		o.fileSystem = fs.Default
	}
	if o.resources == nil && o.ioLimit > 0 {
		o.resources = resource.NewController(resource.Config{BytesPerSecond: o.ioLimit})
	}
	if o.recordValidator == nil {
		o.recordValidator = nonZero
	}
	return o
}

func nonZero(record []byte) bool {
	for _, b := range record {
		if b != 0 {
			return true
		}
	}
	return false
}

// resolvePageSize rounds the default page size to whole records. An explicit
// size is used as given.
func resolvePageSize(requested int64, recordSize int) int64 {
	if requested > 0 {
		return requested
	}
	rs := int64(recordSize)
	p := DefaultPageSize - DefaultPageSize%rs
	if p < rs {
		p = rs
	}
	return p
}
