package pager

import (
	"errors"
	"fmt"

	"github.com/hupe1980/flatdb/internal/fs"
	"github.com/hupe1980/flatdb/internal/mmap"
)

var (
	// ErrOutOfRange is returned when an offset lies beyond the file and growth was not requested.
	ErrOutOfRange = errors.New("pager: offset out of range")
	// ErrNotOwner is returned when growth is requested on a borrowed file.
	ErrNotOwner = errors.New("pager: cannot grow a borrowed file")
	// ErrBusy is returned when the accessor is re-entered from a View or Update callback.
	ErrBusy = errors.New("pager: accessor re-entered from callback")
	// ErrClosed is returned when the accessor has been closed.
	ErrClosed = errors.New("pager: accessor closed")
	// ErrInvalidPageSize is returned for a non-positive page size.
	ErrInvalidPageSize = errors.New("pager: invalid page size")
)

// Accessor maps one page window of a file at a time.
type Accessor struct {
	file     *mmap.File
	owns     bool
	pageSize int64

	// Growth keeps (size-growthBase) a multiple of growthUnit.
	growthBase int64
	growthUnit int64
	pattern    mmap.AccessPattern

	view       *mmap.View
	pageOffset int64
	pageLen    int64

	busy   bool
	closed bool
}

// Option configures an Accessor.
type Option func(*Accessor)

// WithGrowthUnit rounds every growth of the file up so that the bytes past
// base are a whole number of units. A store passes its header size and
// record size, so a file that grew but was never truncated still holds
// whole records.
func WithGrowthUnit(base, unit int64) Option {
	return func(a *Accessor) {
		a.growthBase = base
		a.growthUnit = unit
	}
}

// WithAccessPattern sets the hint applied to every mapped window.
func WithAccessPattern(p mmap.AccessPattern) Option {
	return func(a *Accessor) {
		a.pattern = p
	}
}

// Open opens path and returns an Accessor that owns the mapping.
func Open(fsys fs.FileSystem, path string, minSize, pageSize int64, opts ...Option) (*Accessor, error) {
	if pageSize <= 0 {
		return nil, ErrInvalidPageSize
	}
	f, err := mmap.OpenFile(fsys, path, minSize)
	if err != nil {
		return nil, err
	}
	return newAccessor(f, true, pageSize, opts), nil
}

// Borrow returns an Accessor over a file owned by someone else.
func Borrow(f *mmap.File, pageSize int64, opts ...Option) (*Accessor, error) {
	if pageSize <= 0 {
		return nil, ErrInvalidPageSize
	}
	return newAccessor(f, false, pageSize, opts), nil
}

func newAccessor(f *mmap.File, owns bool, pageSize int64, opts []Option) *Accessor {
	a := &Accessor{file: f, owns: owns, pageSize: pageSize}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// File returns the underlying mapped file.
func (a *Accessor) File() *mmap.File { return a.file }

// Size returns the current file size.
func (a *Accessor) Size() int64 { return a.file.Size() }

// window returns the active window bytes from off to the window end,
// swapping pages as needed.
func (a *Accessor) window(off int64, extend bool) ([]byte, error) {
	if off < 0 {
		return nil, fmt.Errorf("%w: offset %d", ErrOutOfRange, off)
	}

	if a.view != nil && a.view.Generation() != a.file.Generation() {
		// The file grew underneath us; the window is stale.
		if err := a.release(); err != nil {
			return nil, err
		}
	}

	if a.view != nil && off >= a.pageOffset && off < a.pageOffset+a.pageLen {
		return a.view.Bytes()[off-a.pageOffset:], nil
	}

	if err := a.release(); err != nil {
		return nil, err
	}

	pageOffset := (off / a.pageSize) * a.pageSize
	pageLen := a.pageSize
	fileSize := a.file.Size()

	if fileSize-pageOffset < a.pageSize {
		switch {
		case extend:
			if !a.owns {
				return nil, ErrNotOwner
			}
			if err := a.file.Grow(a.growth(fileSize, pageOffset+a.pageSize)); err != nil {
				return nil, err
			}
		default:
			pageLen = fileSize - pageOffset
			if pageLen <= 0 || off >= fileSize {
				return nil, fmt.Errorf("%w: offset %d, file size %d", ErrOutOfRange, off, fileSize)
			}
		}
	}

	v, err := a.file.View(pageOffset, pageLen)
	if err != nil {
		return nil, err
	}
	if a.pattern != mmap.AccessDefault {
		// Advisory only.
		_ = v.Advise(a.pattern)
	}

	a.view = v
	a.pageOffset = pageOffset
	a.pageLen = pageLen
	return v.Bytes()[off-pageOffset:], nil
}

// growth returns how many bytes to add to a file of fileSize so that it
// reaches at least need and is grown by no less than one page.
func (a *Accessor) growth(fileSize, need int64) int64 {
	target := max(fileSize+a.pageSize, need)
	if a.growthUnit > 0 && target > a.growthBase {
		if rem := (target - a.growthBase) % a.growthUnit; rem != 0 {
			target += a.growthUnit - rem
		}
	}
	return target - fileSize
}

func (a *Accessor) release() error {
	if a.view == nil {
		return nil
	}
	v := a.view
	a.view = nil
	a.pageLen = 0
	return v.Release()
}

func (a *Accessor) enter() error {
	if a.closed {
		return ErrClosed
	}
	if a.busy {
		return ErrBusy
	}
	a.busy = true
	return nil
}

func (a *Accessor) leave() { a.busy = false }

// View calls fn with the n bytes at off. The slice must not be retained or
// modified.
func (a *Accessor) View(off, n int64, fn func(b []byte) error) error {
	if err := a.enter(); err != nil {
		return err
	}
	defer a.leave()

	if n == 0 {
		return fn(nil)
	}

	w, err := a.window(off, false)
	if err != nil {
		return err
	}
	if int64(len(w)) >= n {
		return fn(w[:n:n])
	}

	buf := make([]byte, n)
	if err := a.copyOut(off, buf, false); err != nil {
		return err
	}
	return fn(buf)
}

// Update calls fn with the n bytes at off for in-place modification. With
// extend set, the file is grown when the range lies past its end.
func (a *Accessor) Update(off, n int64, extend bool, fn func(b []byte) error) error {
	if err := a.enter(); err != nil {
		return err
	}
	defer a.leave()

	if n == 0 {
		return fn(nil)
	}

	w, err := a.window(off, extend)
	if err != nil {
		return err
	}
	if int64(len(w)) >= n {
		return fn(w[:n:n])
	}

	buf := make([]byte, n)
	if err := a.copyOut(off, buf, extend); err != nil {
		return err
	}
	if err := fn(buf); err != nil {
		return err
	}
	return a.copyIn(off, buf, extend)
}

// Read copies len(dst) bytes at off into dst.
func (a *Accessor) Read(off int64, dst []byte) error {
	return a.View(off, int64(len(dst)), func(b []byte) error {
		copy(dst, b)
		return nil
	})
}

// Write copies src to off, growing the file if extend is set.
func (a *Accessor) Write(off int64, src []byte, extend bool) error {
	if err := a.enter(); err != nil {
		return err
	}
	defer a.leave()
	return a.copyIn(off, src, extend)
}

// Zero clears n bytes at off.
func (a *Accessor) Zero(off, n int64) error {
	return a.Update(off, n, false, func(b []byte) error {
		clear(b)
		return nil
	})
}

func (a *Accessor) copyOut(off int64, dst []byte, extend bool) error {
	for done := 0; done < len(dst); {
		w, err := a.window(off+int64(done), extend)
		if err != nil {
			return err
		}
		done += copy(dst[done:], w)
	}
	return nil
}

func (a *Accessor) copyIn(off int64, src []byte, extend bool) error {
	for done := 0; done < len(src); {
		w, err := a.window(off+int64(done), extend)
		if err != nil {
			return err
		}
		done += copy(w, src[done:])
	}
	return nil
}

// Flush writes the active window back to the file.
func (a *Accessor) Flush() error {
	if a.closed {
		return ErrClosed
	}
	if a.view == nil {
		return nil
	}
	return a.view.Flush()
}

// Advise sets the access hint for the active window and every window mapped
// after it.
func (a *Accessor) Advise(pattern mmap.AccessPattern) error {
	a.pattern = pattern
	if a.view == nil {
		return nil
	}
	return a.view.Advise(pattern)
}

// Pattern returns the current access hint.
func (a *Accessor) Pattern() mmap.AccessPattern { return a.pattern }

// Close releases the window and, for an owning accessor, closes the file.
func (a *Accessor) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	err := a.release()
	if a.owns {
		if cerr := a.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
