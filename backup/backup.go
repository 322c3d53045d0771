package backup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hupe1980/flatdb/blobstore"
	"github.com/hupe1980/flatdb/internal/fs"
	"github.com/hupe1980/flatdb/internal/hash"
	"github.com/hupe1980/flatdb/internal/progress"
	"github.com/hupe1980/flatdb/resource"
)

var (
	// ErrNoBackup is returned when the requested backup, or any backup at
	// all, does not exist.
	ErrNoBackup = errors.New("backup: not found")
	// ErrInvalidManifest is returned for unreadable or inconsistent manifests.
	ErrInvalidManifest = errors.New("backup: invalid manifest")
	// ErrChecksumMismatch is returned when restored data does not match
	// the manifest.
	ErrChecksumMismatch = errors.New("backup: checksum mismatch")
	// ErrInvalidName is returned for names that are empty or contain a
	// path separator.
	ErrInvalidName = errors.New("backup: invalid name")
)

// Source is a record file that can be backed up. *flatdb.Store implements it.
type Source interface {
	RecordSize() int
	HeaderOffset() int64
	Len() int
	// Extent returns the number of meaningful bytes from the file start.
	Extent() int64
	ReadAt(p []byte, off int64) (int, error)
}

func checkName(name string) error {
	if name == "" || name == blobstore.CurrentName || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Write streams src into store as the backup name and points CURRENT at
// it. An existing backup with the same name is never replaced.
func Write(ctx context.Context, src Source, store blobstore.BlobStore, name string, optFns ...Option) (*Manifest, error) {
	o := applyOptions(optFns)
	if err := checkName(name); err != nil {
		return nil, err
	}
	if o.blockSize <= 0 || o.blockSize > maxBlockSize {
		return nil, fmt.Errorf("%w: block size %d", ErrInvalidManifest, o.blockSize)
	}
	if _, err := o.compression.MarshalText(); err != nil {
		return nil, err
	}

	if _, err := ReadManifest(ctx, store, name, optFns...); err == nil {
		return nil, fmt.Errorf("%w: %s", blobstore.ErrExists, name)
	} else if !errors.Is(err, ErrNoBackup) {
		return nil, err
	}

	if err := o.resources.AcquireJob(ctx); err != nil {
		return nil, err
	}
	defer o.resources.ReleaseJob()

	start := time.Now()
	m := &Manifest{
		Version:      FormatVersion,
		Name:         name,
		CreatedAt:    start.UTC(),
		RecordSize:   src.RecordSize(),
		HeaderOffset: src.HeaderOffset(),
		Records:      src.Len(),
		RawSize:      src.Extent(),
		Compression:  o.compression,
		BlockSize:    o.blockSize,
	}

	stored, crc, err := writeData(ctx, src, store, name+dataSuffix, m.RawSize, o)
	if err != nil {
		return nil, err
	}
	m.StoredSize = stored
	m.CRC32C = crc

	if err := m.Validate(); err != nil {
		_ = store.Delete(ctx, name+dataSuffix)
		return nil, err
	}

	data, err := encodeManifest(o.codec, m)
	if err != nil {
		_ = store.Delete(ctx, name+dataSuffix)
		return nil, err
	}
	if ep, ok := store.(blobstore.ExclusivePutter); ok {
		err = ep.PutIfNotExists(ctx, name+manifestSuffix, data)
	} else {
		err = store.Put(ctx, name+manifestSuffix, data)
	}
	if err != nil {
		if !errors.Is(err, blobstore.ErrExists) {
			_ = store.Delete(ctx, name+dataSuffix)
		}
		return nil, err
	}

	if err := store.Put(ctx, blobstore.CurrentName, []byte(name)); err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "backup written",
		"name", name,
		"records", m.Records,
		"raw_size", m.RawSize,
		"stored_size", m.StoredSize,
		"compression", m.Compression.String(),
		"elapsed", time.Since(start),
	)
	return m, nil
}

func writeData(ctx context.Context, src Source, store blobstore.BlobStore, blobName string, size int64, o options) (int64, uint32, error) {
	w, err := store.Create(ctx, blobName)
	if err != nil {
		return 0, 0, err
	}

	fail := func(err error) (int64, uint32, error) {
		if a, ok := w.(blobstore.Aborter); ok {
			_ = a.Abort()
		} else {
			_ = w.Close()
		}
		_ = store.Delete(ctx, blobName)
		return 0, 0, err
	}

	bw := &blockWriter{
		w:           resource.NewRateLimitedWriter(ctx, w, o.resources),
		compression: o.compression,
	}

	rep := progress.New(o.logger, 0)
	rep.Start(ctx, "writing backup", size)
	defer rep.Stop(ctx, "")

	buf := make([]byte, o.blockSize)
	var crc uint32
	for off := int64(0); off < size; {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		n := min(int64(len(buf)), size-off)
		read, err := src.ReadAt(buf[:n], off)
		if err != nil && !(errors.Is(err, io.EOF) && int64(read) == n) {
			return fail(err)
		}
		if read == 0 {
			return fail(io.ErrUnexpectedEOF)
		}
		crc = hash.UpdateCRC32C(crc, buf[:read])
		if err := bw.WriteBlock(buf[:read]); err != nil {
			return fail(err)
		}
		off += int64(read)
		rep.Add(int64(read))
	}

	if err := w.Sync(); err != nil {
		return fail(err)
	}
	if err := w.Close(); err != nil {
		_ = store.Delete(ctx, blobName)
		return 0, 0, err
	}
	return bw.written, crc, nil
}

// Restore rebuilds the store file of the named backup at path. The file
// is written next to path and renamed into place once its checksum
// matches, so an existing file is replaced only by a verified copy.
func Restore(ctx context.Context, store blobstore.BlobStore, name, path string, optFns ...Option) (*Manifest, error) {
	o := applyOptions(optFns)
	if err := checkName(name); err != nil {
		return nil, err
	}

	m, err := ReadManifest(ctx, store, name, optFns...)
	if err != nil {
		return nil, err
	}

	if err := o.resources.AcquireJob(ctx); err != nil {
		return nil, err
	}
	defer o.resources.ReleaseJob()

	start := time.Now()
	tmp := path + ".restore"
	if err := restoreData(ctx, store, m, tmp, o); err != nil {
		_ = o.fsys.Remove(tmp)
		return nil, err
	}
	if err := fs.Replace(o.fsys, tmp, path); err != nil {
		if !errors.Is(err, fs.ErrDirSync) {
			return nil, err
		}
		o.logger.WarnContext(ctx, "sync directory after restore", "path", path, "error", err)
	}

	o.logger.InfoContext(ctx, "backup restored",
		"name", name,
		"path", path,
		"records", m.Records,
		"raw_size", m.RawSize,
		"elapsed", time.Since(start),
	)
	return m, nil
}

func restoreData(ctx context.Context, store blobstore.BlobStore, m *Manifest, tmp string, o options) (err error) {
	f, err := o.fsys.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	blob, err := store.Open(ctx, m.Name+dataSuffix)
	if err != nil {
		return err
	}
	defer func() { _ = blob.Close() }()

	if blob.Size() != m.StoredSize {
		return fmt.Errorf("%w: data blob is %d bytes, manifest says %d", ErrChecksumMismatch, blob.Size(), m.StoredSize)
	}

	var (
		crc     uint32
		written int64
	)
	if m.StoredSize > 0 {
		rc, err := blob.ReadRange(ctx, 0, m.StoredSize)
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()

		br := &blockReader{
			r:           bufio.NewReader(resource.NewRateLimitedReader(ctx, rc, o.resources)),
			compression: m.Compression,
			maxBlock:    m.BlockSize,
		}

		rep := progress.New(o.logger, 0)
		rep.Start(ctx, "restoring backup", m.RawSize)
		defer rep.Stop(ctx, "")

		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			block, err := br.ReadBlock()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("%w: %w", ErrChecksumMismatch, err)
			}
			if written+int64(len(block)) > m.RawSize {
				return fmt.Errorf("%w: data exceeds %d bytes", ErrChecksumMismatch, m.RawSize)
			}
			crc = hash.UpdateCRC32C(crc, block)
			if _, err := f.Write(block); err != nil {
				return err
			}
			written += int64(len(block))
			rep.Add(int64(len(block)))
		}
	}

	if written != m.RawSize {
		return fmt.Errorf("%w: restored %d bytes, want %d", ErrChecksumMismatch, written, m.RawSize)
	}
	if crc != m.CRC32C {
		return fmt.Errorf("%w: crc32c %08x, want %08x", ErrChecksumMismatch, crc, m.CRC32C)
	}
	return f.Sync()
}

// Latest returns the name of the backup CURRENT points at.
func Latest(ctx context.Context, store blobstore.BlobStore) (string, error) {
	data, err := blobstore.ReadAll(ctx, store, blobstore.CurrentName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return "", fmt.Errorf("%w: no %s", ErrNoBackup, blobstore.CurrentName)
		}
		return "", err
	}
	name := strings.TrimSpace(string(data))
	if err := checkName(name); err != nil {
		return "", err
	}
	return name, nil
}

// List returns the sorted names of all backups with a manifest.
func List(ctx context.Context, store blobstore.BlobStore) ([]string, error) {
	blobs, err := store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, b := range blobs {
		if name, ok := strings.CutSuffix(b, manifestSuffix); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// Delete removes the named backup. The backup CURRENT points at can not be
// deleted.
func Delete(ctx context.Context, store blobstore.BlobStore, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if latest, err := Latest(ctx, store); err == nil && latest == name {
		return fmt.Errorf("%w: %s is the current backup", ErrInvalidName, name)
	}
	if err := store.Delete(ctx, name+manifestSuffix); err != nil {
		return err
	}
	return store.Delete(ctx, name+dataSuffix)
}
