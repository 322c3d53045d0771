package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrDirSync reports that Replace renamed the file but could not sync the
// parent directory. The new file is in place; only its durability is unknown.
var ErrDirSync = errors.New("fs: directory sync failed")

// File is the subset of *os.File used by the store, the mappings and the
// local blob store. Fd is needed for mmap.
type File interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.WriterAt
	Sync() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Fd() uintptr
	Name() string
}

// FileSystem is where record files, temporary compaction files and local
// backups live. FaultyFS wraps it to inject I/O errors in tests.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error
	Stat(name string) (os.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
	Truncate(name string, size int64) error
}

// LocalFS is the operating system file system.
type LocalFS struct{}

func (LocalFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(name, flag, perm)
}

func (LocalFS) Remove(name string) error              { return os.Remove(name) }
func (LocalFS) Rename(oldpath, newpath string) error  { return os.Rename(oldpath, newpath) }
func (LocalFS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
func (LocalFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
func (LocalFS) Truncate(name string, size int64) error { return os.Truncate(name, size) }

// Default is used wherever no FileSystem is configured.
var Default FileSystem = LocalFS{}

// Replace renames tmp over path and syncs the parent directory. When the
// rename fails tmp is removed and the rename error is returned as is.
func Replace(fsys FileSystem, tmp, path string) error {
	if err := fsys.Rename(tmp, path); err != nil {
		_ = fsys.Remove(tmp)
		return err
	}
	if err := SyncDir(fsys, filepath.Dir(path)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDirSync, path, err)
	}
	return nil
}

// SyncDir makes a rename inside dir durable.
func SyncDir(fsys FileSystem, dir string) error {
	f, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return f.Sync()
}
