package flatdb

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/flatdb/internal/fs"
	"github.com/hupe1980/flatdb/internal/mmap"
	"github.com/hupe1980/flatdb/internal/pager"
	"github.com/hupe1980/flatdb/internal/progress"
	"github.com/hupe1980/flatdb/resource"
	"github.com/hupe1980/flatdb/schema"
)

// Store is a keyed store of fixed-size records kept in a single flat file.
//
// Bytes [0, HeaderOffset) of the file belong to the caller. The rest is a
// packed sequence of RecordSize-byte slots. An in-memory index maps every
// live key to the offset of its slot; removed records are zero-filled
// tombstones that stay in the file until Optimize.
//
// A Store is not safe for concurrent use. Callers must serialize access.
type Store[K comparable] struct {
	path         string
	fsys         fs.FileSystem
	schema       schema.Schema[K]
	recordSize   int64
	headerOffset int64
	pageSize     int64
	sortable     bool
	positional   bool

	recordValidator func(record []byte) bool
	keyValidator    func(key K) bool

	logger    *Logger
	metrics   MetricsCollector
	resources *resource.Controller

	acc          *pager.Accessor
	index        map[K]int64
	live         *roaring64.Bitmap // occupied slot numbers
	appendOffset int64
	closed       bool
}

// Entry is one record yielded by All.
type Entry[K comparable] struct {
	Key    K
	Record []byte
}

// Stats describes the state of a store.
type Stats struct {
	Path         string
	Records      int
	Slots        int64
	Tombstones   int64
	FileSize     int64
	HeaderOffset int64
	RecordSize   int
	PageSize     int64
	AppendOffset int64
	Sortable     bool
	Resources    resource.Stats
}

// Open opens the store at path and builds its index.
//
// recordSize is the size of every record in bytes and s locates the key
// inside a record. The file must hold the header followed by a whole number
// of records, otherwise Open fails with a *CorruptionError.
func Open[K comparable](ctx context.Context, path string, recordSize int, s schema.Schema[K], optFns ...Option) (*Store[K], error) {
	o := applyOptions(optFns)

	if recordSize <= 0 {
		return nil, fmt.Errorf("%w: record size %d", ErrInvalidRecordType, recordSize)
	}
	if o.headerOffset < 0 {
		return nil, fmt.Errorf("%w: header offset %d", ErrInvalidArgument, o.headerOffset)
	}
	if o.pageSize < 0 {
		return nil, fmt.Errorf("%w: page size %d", ErrInvalidArgument, o.pageSize)
	}
	if err := schema.Validate(s, recordSize); err != nil {
		return nil, translateError(err)
	}

	var keyValidator func(K) bool
	if o.keyValidator != nil {
		fn, ok := o.keyValidator.(func(K) bool)
		if !ok {
			return nil, fmt.Errorf("%w: key validator type %T does not match store key type", ErrInvalidArgument, o.keyValidator)
		}
		keyValidator = fn
	}

	rs := int64(recordSize)
	minSize := o.headerOffset

	fi, err := o.fileSystem.Stat(path)
	switch {
	case err == nil && o.create && fi.Size() == 0:
		minSize = o.headerOffset + o.createRecords*rs
	case err == nil:
		size := fi.Size()
		if size < o.headerOffset || (size-o.headerOffset)%rs != 0 {
			return nil, &CorruptionError{
				Path:         path,
				FileSize:     size,
				HeaderOffset: o.headerOffset,
				RecordSize:   recordSize,
			}
		}
	case errors.Is(err, os.ErrNotExist) && o.create:
		minSize = o.headerOffset + o.createRecords*rs
	default:
		return nil, translateError(err)
	}

	pageSize := resolvePageSize(o.pageSize, recordSize)
	acc, err := pager.Open(o.fileSystem, path, minSize, pageSize, accessorOptions(o.headerOffset, rs)...)
	if err != nil {
		return nil, translateError(err)
	}

	st := &Store[K]{
		path:            path,
		fsys:            o.fileSystem,
		schema:          s,
		recordSize:      rs,
		headerOffset:    o.headerOffset,
		pageSize:        pageSize,
		sortable:        o.sortable,
		positional:      s.Kind() == schema.KindPositional,
		recordValidator: o.recordValidator,
		keyValidator:    keyValidator,
		logger:          o.logger.WithPath(path),
		metrics:         o.metricsCollector,
		resources:       o.resources,
		acc:             acc,
		index:           make(map[K]int64),
		live:            roaring64.New(),
		appendOffset:    o.headerOffset,
	}

	if err := st.Load(ctx); err != nil {
		_ = acc.Close()
		return nil, err
	}
	return st, nil
}

// Load rebuilds the index by scanning every slot of the file.
//
// A slot is indexed when the record validator and the optional key validator
// accept it. Two live slots with the same key make the file corrupted, as
// does a key that is not equal to itself (a NaN float key).
func (s *Store[K]) Load(ctx context.Context) (err error) {
	if err := s.checkOpen(); err != nil {
		return err
	}
	defer s.sequential()()

	start := time.Now()
	slots := (s.acc.Size() - s.headerOffset) / s.recordSize
	index := make(map[K]int64)
	live := roaring64.New()

	defer func() {
		s.metrics.RecordLoad(len(index), time.Since(start), err)
		s.logger.LogLoad(ctx, slots, len(index), time.Since(start), err)
	}()

	rep := progress.New(s.logger.Logger, 0)
	rep.Start(ctx, "loading", slots)
	defer rep.Stop(ctx, "")

	record := make([]byte, s.recordSize)
	for slot := int64(0); slot < slots; slot++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		off := s.offsetOf(slot)
		if err := s.acc.Read(off, record); err != nil {
			return translateError(err)
		}
		rep.Add(1)

		if !s.recordValidator(record) {
			continue
		}
		key := s.schema.Decode(record, slot)
		if s.keyValidator != nil && !s.keyValidator(key) {
			continue
		}
		if !selfEqual(key) {
			return fmt.Errorf("%w: %w", ErrCorrupted, &KeyError[K]{Op: "load", Key: key, Offset: off, Err: ErrInvalidArgument})
		}
		if _, dup := index[key]; dup {
			return fmt.Errorf("%w: %w", ErrCorrupted, &KeyError[K]{Op: "load", Key: key, Offset: off, Err: ErrDuplicateKey})
		}

		index[key] = off
		live.Add(uint64(slot))
	}

	s.index = index
	s.live = live
	s.appendOffset = s.extent()
	return nil
}

// Get returns a copy of the record stored under key.
func (s *Store[K]) Get(key K) (record []byte, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordGet(time.Since(start), err) }()

	record = make([]byte, s.recordSize)
	err = s.View(key, func(b []byte) error {
		copy(record, b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// View calls fn with the mapped bytes of the record stored under key.
// The slice is only valid during fn and must not be modified. fn must not
// call back into the store.
func (s *Store[K]) View(key K, fn func(record []byte) error) error {
	off, err := s.lookup("get", key)
	if err != nil {
		return err
	}
	return s.view(off, fn)
}

// Add stores record under key at the append cursor.
//
// The key is encoded into the key field of the stored copy. For positional
// stores the key is the slot number and the record is written to that slot.
// A stored copy the record validator rejects, such as an all-zero record
// that would read back as a tombstone, fails with ErrInvalidArgument.
func (s *Store[K]) Add(key K, record []byte) (err error) {
	start := time.Now()
	defer func() { s.metrics.RecordAdd(time.Since(start), err) }()

	if err := s.checkRecord(record); err != nil {
		return err
	}
	if !selfEqual(key) {
		return &KeyError[K]{Op: "add", Key: key, Offset: -1, Err: ErrInvalidArgument}
	}
	if off, ok := s.index[key]; ok {
		return &KeyError[K]{Op: "add", Key: key, Offset: off, Err: ErrDuplicateKey}
	}

	off := s.appendOffset
	if s.positional {
		slot, ok := any(key).(int64)
		if !ok || slot < 0 {
			return fmt.Errorf("%w: positional key %v", ErrInvalidArgument, key)
		}
		off = s.offsetOf(slot)
	}

	buf := slices.Clone(record)
	if err := s.schema.Encode(key, buf); err != nil {
		return translateError(err)
	}
	if !s.recordValidator(buf) {
		return fmt.Errorf("%w: add %v: record is not valid", ErrInvalidArgument, key)
	}
	if err := s.acc.Write(off, buf, true); err != nil {
		return translateError(err)
	}

	s.index[key] = off
	s.live.Add(uint64(s.slotOf(off)))
	s.appendOffset = max(s.appendOffset, off+s.recordSize)
	return nil
}

// Append stores record at the append cursor under the key it carries. For
// positional stores the key is the cursor slot.
func (s *Store[K]) Append(record []byte) (K, error) {
	var zero K
	if err := s.checkRecord(record); err != nil {
		return zero, err
	}
	key := s.schema.Decode(record, s.slotOf(s.appendOffset))
	if err := s.Add(key, record); err != nil {
		return zero, err
	}
	return key, nil
}

// Update overwrites the record stored under key in place. The bytes of the
// key field are left untouched. Like Add, it refuses a result the record
// validator rejects.
func (s *Store[K]) Update(key K, record []byte) (err error) {
	start := time.Now()
	defer func() { s.metrics.RecordUpdate(time.Since(start), err) }()

	if err := s.checkRecord(record); err != nil {
		return err
	}
	off, err := s.lookup("update", key)
	if err != nil {
		return err
	}

	lo := s.schema.Offset()
	hi := lo + s.schema.Width()
	return s.update(off, func(b []byte) error {
		next := slices.Clone(record)
		copy(next[lo:hi], b[lo:hi])
		if !s.recordValidator(next) {
			return fmt.Errorf("%w: update %v: record is not valid", ErrInvalidArgument, key)
		}
		copy(b, next)
		return nil
	})
}

// Remove zero-fills the record stored under key and drops it from the index.
// The slot is not reused until Optimize.
func (s *Store[K]) Remove(key K) (err error) {
	start := time.Now()
	defer func() { s.metrics.RecordRemove(time.Since(start), err) }()

	off, err := s.lookup("remove", key)
	if err != nil {
		return err
	}
	if err := s.acc.Zero(off, s.recordSize); err != nil {
		return translateError(err)
	}

	delete(s.index, key)
	s.live.Remove(uint64(s.slotOf(off)))
	return nil
}

// Rewrite replaces the whole content of the store with records, in order.
// The header is preserved. Keys are taken from the records; positional
// stores number them from zero.
func (s *Store[K]) Rewrite(ctx context.Context, records [][]byte) (err error) {
	if err := s.checkOpen(); err != nil {
		return err
	}
	for i, r := range records {
		if err := s.checkRecord(r); err != nil {
			return err
		}
		if !s.recordValidator(r) {
			return fmt.Errorf("%w: rewrite: record %d is not valid", ErrInvalidArgument, i)
		}
	}
	defer func() { s.logger.LogRewrite(ctx, len(records), err) }()

	if err := s.acc.Close(); err != nil {
		return translateError(err)
	}
	s.acc = nil

	// Dropping everything past the header first leaves no stale record
	// bytes behind a failed Add.
	if err := s.fsys.Truncate(s.path, s.headerOffset); err != nil {
		return errors.Join(translateError(err), s.reopen(s.headerOffset))
	}

	size := s.headerOffset + int64(len(records))*s.recordSize
	if err := s.reopen(size); err != nil {
		return err
	}

	s.index = make(map[K]int64, len(records))
	s.live = roaring64.New()
	s.appendOffset = s.headerOffset

	for i, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Add(s.schema.Decode(r, int64(i)), r); err != nil {
			return err
		}
	}
	return nil
}

// ForEach calls fn for every live record in slot order. The record slice is
// mapped memory valid only during fn; changes made to it are written
// through. fn must not call back into the store.
func (s *Store[K]) ForEach(fn func(key K, record []byte) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	defer s.sequential()()

	it := s.live.Iterator()
	for it.HasNext() {
		slot := int64(it.Next())
		err := s.update(s.offsetOf(slot), func(b []byte) error {
			return fn(s.schema.Decode(b, slot), b)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// All returns an iterator over copies of the live records in slot order.
// The set of slots is captured when iteration starts, so the loop body may
// modify the store; slots removed meanwhile are skipped.
func (s *Store[K]) All(ctx context.Context) iter.Seq2[Entry[K], error] {
	return func(yield func(Entry[K], error) bool) {
		if err := s.checkOpen(); err != nil {
			yield(Entry[K]{}, err)
			return
		}

		it := s.live.Clone().Iterator()
		for it.HasNext() {
			if err := ctx.Err(); err != nil {
				yield(Entry[K]{}, err)
				return
			}
			if s.closed {
				yield(Entry[K]{}, ErrClosed)
				return
			}

			slot := it.Next()
			if !s.live.Contains(slot) {
				continue
			}

			record := make([]byte, s.recordSize)
			if err := s.acc.Read(s.offsetOf(int64(slot)), record); err != nil {
				yield(Entry[K]{}, translateError(err))
				return
			}
			if !yield(Entry[K]{Key: s.schema.Decode(record, int64(slot)), Record: record}, nil) {
				return
			}
		}
	}
}

// Keys returns an iterator over the live keys in slot order. The keys are
// collected each time iteration starts.
func (s *Store[K]) Keys() iter.Seq[K] {
	type slotKey struct {
		key K
		off int64
	}
	return func(yield func(K) bool) {
		entries := make([]slotKey, 0, len(s.index))
		for k, off := range s.index {
			entries = append(entries, slotKey{k, off})
		}
		slices.SortFunc(entries, func(a, b slotKey) int { return cmp.Compare(a.off, b.off) })

		for _, e := range entries {
			if !yield(e.key) {
				return
			}
		}
	}
}

// Len returns the number of live records.
func (s *Store[K]) Len() int { return len(s.index) }

// Contains reports whether key is indexed.
func (s *Store[K]) Contains(key K) bool {
	_, ok := s.index[key]
	return ok
}

// Path returns the path of the store file.
func (s *Store[K]) Path() string { return s.path }

// RecordSize returns the size of one record in bytes.
func (s *Store[K]) RecordSize() int { return int(s.recordSize) }

// HeaderOffset returns the size of the caller-owned header.
func (s *Store[K]) HeaderOffset() int64 { return s.headerOffset }

// Schema returns the key schema of the store.
func (s *Store[K]) Schema() schema.Schema[K] { return s.schema }

// Extent returns the number of bytes in use: the header plus every slot up
// to and including the last live one.
func (s *Store[K]) Extent() int64 { return s.extent() }

// Stats returns a snapshot of the store state.
func (s *Store[K]) Stats() Stats {
	st := Stats{
		Path:         s.path,
		Records:      len(s.index),
		Slots:        (s.appendOffset - s.headerOffset) / s.recordSize,
		HeaderOffset: s.headerOffset,
		RecordSize:   int(s.recordSize),
		PageSize:     s.pageSize,
		AppendOffset: s.appendOffset,
		Sortable:     s.sortable,
		Resources:    s.resources.Stats(),
	}
	st.Tombstones = st.Slots - int64(st.Records)
	if s.acc != nil && !s.closed {
		st.FileSize = s.acc.Size()
	}
	return st
}

// ReadHeader returns a copy of the caller-owned header bytes.
func (s *Store[K]) ReadHeader() ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	header := make([]byte, s.headerOffset)
	if err := s.acc.Read(0, header); err != nil {
		return nil, translateError(err)
	}
	return header, nil
}

// WriteHeader replaces the caller-owned header. header must be exactly
// HeaderOffset bytes long.
func (s *Store[K]) WriteHeader(header []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if int64(len(header)) != s.headerOffset {
		return fmt.Errorf("%w: header is %d bytes, want %d", ErrInvalidArgument, len(header), s.headerOffset)
	}
	return translateError(s.acc.Write(0, header, false))
}

// ReadAt reads bytes of the store file within its extent.
func (s *Store[K]) ReadAt(p []byte, off int64) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	extent := s.extent()
	if off >= extent {
		return 0, io.EOF
	}
	n := int64(len(p))
	if off+n > extent {
		n = extent - off
	}
	if err := s.acc.Read(off, p[:n]); err != nil {
		return 0, translateError(err)
	}
	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// Sync flushes the mapped window and the file to stable storage.
func (s *Store[K]) Sync() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.acc.Flush(); err != nil {
		return translateError(err)
	}
	return translateError(s.acc.File().Sync())
}

// Close releases the mapping and truncates the file after its last live
// slot. Slots before it, including tombstones, are kept, so Close never
// drops a live record.
func (s *Store[K]) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true

	size := s.extent()
	var firstErr error
	if s.acc != nil {
		if err := s.acc.Flush(); err != nil && firstErr == nil {
			firstErr = translateError(err)
		}
		if err := s.acc.Close(); err != nil && firstErr == nil {
			firstErr = translateError(err)
		}
		s.acc = nil
	}
	if firstErr == nil {
		if err := s.fsys.Truncate(s.path, size); err != nil {
			firstErr = translateError(err)
		}
	}

	s.logger.LogClose(context.Background(), size, firstErr)
	return firstErr
}

func (s *Store[K]) checkOpen() error {
	if s.closed || s.acc == nil {
		return ErrClosed
	}
	return nil
}

func (s *Store[K]) checkRecord(record []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if int64(len(record)) != s.recordSize {
		return fmt.Errorf("%w: record is %d bytes, want %d", ErrInvalidArgument, len(record), s.recordSize)
	}
	return nil
}

func (s *Store[K]) lookup(op string, key K) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	off, ok := s.index[key]
	if !ok {
		return 0, &KeyError[K]{Op: op, Key: key, Offset: -1, Err: ErrKeyNotFound}
	}
	return off, nil
}

// view and update keep errors returned by fn apart from accessor errors.
func (s *Store[K]) view(off int64, fn func([]byte) error) error {
	var fnErr error
	err := s.acc.View(off, s.recordSize, func(b []byte) error {
		fnErr = fn(b)
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return translateError(err)
}

func (s *Store[K]) update(off int64, fn func([]byte) error) error {
	var fnErr error
	err := s.acc.Update(off, s.recordSize, false, func(b []byte) error {
		fnErr = fn(b)
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return translateError(err)
}

func (s *Store[K]) reopen(minSize int64) error {
	acc, err := pager.Open(s.fsys, s.path, minSize, s.pageSize, accessorOptions(s.headerOffset, s.recordSize)...)
	if err != nil {
		s.closed = true
		return translateError(err)
	}
	s.acc = acc
	return nil
}

// accessorOptions grows the file in whole records and hints random access
// for point lookups. Scans switch to a sequential hint with sequential.
func accessorOptions(headerOffset, recordSize int64) []pager.Option {
	return []pager.Option{
		pager.WithGrowthUnit(headerOffset, recordSize),
		pager.WithAccessPattern(mmap.AccessRandom),
	}
}

// sequential hints read-ahead for a front-to-back scan and returns the
// function restoring the previous hint.
func (s *Store[K]) sequential() func() {
	acc := s.acc
	prev := acc.Pattern()
	_ = acc.Advise(mmap.AccessSequential)
	return func() { _ = acc.Advise(prev) }
}

// selfEqual is false only for keys holding a NaN, which can never be looked
// up again.
func selfEqual[K comparable](k K) bool {
	return k == k //nolint:staticcheck // NaN check for any comparable K
}

func (s *Store[K]) offsetOf(slot int64) int64 { return s.headerOffset + slot*s.recordSize }

func (s *Store[K]) slotOf(off int64) int64 { return (off - s.headerOffset) / s.recordSize }

func (s *Store[K]) extent() int64 {
	if s.live.IsEmpty() {
		return s.headerOffset
	}
	return s.offsetOf(int64(s.live.Maximum()) + 1)
}
