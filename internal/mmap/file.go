package mmap

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/flatdb/internal/fs"
)

// File is a growable file that hands out page views.
type File struct {
	mu     sync.Mutex
	path   string
	f      fs.File
	size   atomic.Int64
	gen    atomic.Uint64
	closed atomic.Bool
}

// OpenFile opens or creates the file at path, extending it to at least
// minSize bytes.
func OpenFile(fsys fs.FileSystem, path string, minSize int64) (*File, error) {
	if minSize < 0 {
		return nil, ErrInvalidSize
	}
	if fsys == nil {
		fsys = fs.Default
	}

	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	size := fi.Size()
	if size < minSize {
		if err := f.Truncate(minSize); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("mmap: resize %s to %d: %w", path, minSize, err)
		}
		size = minSize
	}

	m := &File{path: path, f: f}
	m.size.Store(size)
	return m, nil
}

// Path returns the path the file was opened with.
func (m *File) Path() string { return m.path }

// Size returns the current file size in bytes.
func (m *File) Size() int64 { return m.size.Load() }

// Generation is incremented by every Grow.
func (m *File) Generation() uint64 { return m.gen.Load() }

// Grow extends the file by extra bytes. All existing views become stale;
// callers must release them before touching the file again.
func (m *File) Grow(extra int64) error {
	if extra < 0 {
		return ErrInvalidSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}

	newSize := m.size.Load() + extra
	if err := m.f.Truncate(newSize); err != nil {
		return fmt.Errorf("mmap: grow %s to %d: %w", m.path, newSize, err)
	}
	m.size.Store(newSize)
	m.gen.Add(1)
	return nil
}

// View maps [offset, offset+size) of the file read-write.
func (m *File) View(offset, size int64) (*View, error) {
	if offset < 0 {
		return nil, ErrInvalidOffset
	}
	if size < 0 {
		return nil, ErrInvalidSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return nil, ErrClosed
	}
	if offset+size > m.size.Load() {
		return nil, ErrOutOfBounds
	}

	v := &View{offset: offset, size: int(size), gen: m.gen.Load()}
	if size == 0 {
		return v, nil
	}

	aligned := offset - offset%int64(granularity)
	delta := int(offset - aligned)

	data, unmap, err := osMap(m.f.Fd(), aligned, delta+int(size), true)
	if err != nil {
		return nil, fmt.Errorf("mmap: view %s [%d,%d): %w", m.path, offset, offset+size, err)
	}

	v.data = data
	v.delta = delta
	v.unmap = unmap
	return v, nil
}

// Sync flushes file metadata and contents to stable storage.
func (m *File) Sync() error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.f.Sync()
}

// Close closes the underlying file. It is idempotent. Views must be
// released by their holders before Close.
func (m *File) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Swap(true) {
		return nil
	}
	return m.f.Close()
}

// View is one mapped window of a File.
type View struct {
	data   []byte
	delta  int
	offset int64
	size   int
	gen    uint64
	unmap  func() error

	released atomic.Bool
}

// Bytes returns the window contents starting at Offset.
// Warning: The slice is valid only until Release is called.
func (v *View) Bytes() []byte {
	if v.released.Load() || v.data == nil {
		return nil
	}
	return v.data[v.delta : v.delta+v.size]
}

// Offset returns the absolute file offset of Bytes()[0].
func (v *View) Offset() int64 { return v.offset }

// Len returns the window length.
func (v *View) Len() int64 { return int64(v.size) }

// Generation returns the file generation the view was created in.
func (v *View) Generation() uint64 { return v.gen }

// Flush writes dirty pages of the view back to the file.
func (v *View) Flush() error {
	if v.released.Load() {
		return ErrClosed
	}
	if v.data == nil {
		return nil
	}
	return osFlush(v.data)
}

// Advise provides hints to the kernel about how the window will be accessed.
func (v *View) Advise(pattern AccessPattern) error {
	if v.released.Load() {
		return ErrClosed
	}
	if v.data == nil {
		return nil
	}
	return osAdvise(v.data, pattern)
}

// Release unmaps the view. It is idempotent.
func (v *View) Release() error {
	if v.released.Swap(true) {
		return nil
	}
	if v.unmap == nil {
		return nil
	}
	return v.unmap()
}
