package flatdb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/flatdb/internal/fs"
	"github.com/hupe1980/flatdb/internal/mmap"
	"github.com/hupe1980/flatdb/internal/pager"
	"github.com/hupe1980/flatdb/internal/progress"
)

type indexEntry[K comparable] struct {
	key K
	off int64
}

// Optimize compacts the store: live records are copied in ascending key
// order into a temporary file sized for exactly Len records, which then
// replaces the original. Tombstones and unused slots disappear and the
// append cursor ends right after the last record.
//
// Until the final rename the original file is untouched, so a failure
// leaves the store as it was. A store opened with WithSortable(false) is
// left unchanged.
func (s *Store[K]) Optimize(ctx context.Context) (err error) {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.sortable {
		s.logger.InfoContext(ctx, "optimize skipped, store is not sortable")
		return nil
	}

	start := time.Now()
	before := s.acc.Size()
	defer func() {
		var after int64
		if s.acc != nil {
			after = s.acc.Size()
		}
		s.metrics.RecordOptimize(len(s.index), time.Since(start), err)
		s.logger.LogOptimize(ctx, before, after, len(s.index), err)
	}()

	if err := s.resources.AcquireJob(ctx); err != nil {
		return err
	}
	defer s.resources.ReleaseJob()

	reserve := int64(len(s.index)) * int64(unsafe.Sizeof(indexEntry[K]{}))
	if err := s.resources.ReserveMemory(reserve); err != nil {
		return fmt.Errorf("flatdb: optimize: %w", err)
	}
	defer s.resources.ReleaseMemory(reserve)

	entries := make([]indexEntry[K], 0, len(s.index))
	for k, off := range s.index {
		entries = append(entries, indexEntry[K]{key: k, off: off})
	}
	slices.SortFunc(entries, func(a, b indexEntry[K]) int {
		return s.schema.Compare(a.key, b.key)
	})

	tmpPath := s.path + ".tmp"
	_ = s.fsys.Remove(tmpPath)

	size := s.offsetOf(int64(len(entries)))
	index, err := s.writeCompacted(ctx, tmpPath, size, entries)
	if err != nil {
		_ = s.fsys.Remove(tmpPath)
		return err
	}

	if err := s.replaceFile(ctx, tmpPath); err != nil {
		return err
	}

	live := roaring64.New()
	live.AddRange(0, uint64(len(entries)))
	s.index = index
	s.live = live
	s.appendOffset = size
	return nil
}

func (s *Store[K]) writeCompacted(ctx context.Context, path string, size int64, entries []indexEntry[K]) (index map[K]int64, err error) {
	dst, err := pager.Open(s.fsys, path, size, s.pageSize,
		pager.WithGrowthUnit(s.headerOffset, s.recordSize),
		pager.WithAccessPattern(mmap.AccessSequential))
	if err != nil {
		return nil, translateError(err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = translateError(cerr)
		}
	}()

	if s.headerOffset > 0 {
		header := make([]byte, s.headerOffset)
		if err := s.acc.Read(0, header); err != nil {
			return nil, translateError(err)
		}
		if err := dst.Write(0, header, false); err != nil {
			return nil, translateError(err)
		}
	}

	rep := progress.New(s.logger.Logger, 0)
	rep.Start(ctx, "optimizing", int64(len(entries)))
	defer rep.Stop(ctx, "")

	index = make(map[K]int64, len(entries))
	record := make([]byte, s.recordSize)
	for i, e := range entries {
		if err := s.resources.WaitIO(ctx, int(s.recordSize)); err != nil {
			return nil, err
		}
		if err := s.acc.Read(e.off, record); err != nil {
			return nil, translateError(err)
		}

		off := s.offsetOf(int64(i))
		if err := dst.Write(off, record, false); err != nil {
			return nil, translateError(err)
		}
		index[s.schema.Decode(record, int64(i))] = off
		rep.Add(1)
	}

	if err := dst.Flush(); err != nil {
		return nil, translateError(err)
	}
	if err := dst.File().Sync(); err != nil {
		return nil, translateError(err)
	}
	return index, nil
}

// replaceFile renames path over the store file and reopens the accessor.
// When the rename fails the original file is reopened.
func (s *Store[K]) replaceFile(ctx context.Context, path string) error {
	if err := s.acc.Close(); err != nil {
		_ = s.fsys.Remove(path)
		return translateError(err)
	}
	s.acc = nil

	if err := fs.Replace(s.fsys, path, s.path); err != nil {
		if !errors.Is(err, fs.ErrDirSync) {
			rerr := translateError(err)
			if oerr := s.reopen(s.headerOffset); oerr != nil {
				return fmt.Errorf("%w (reopen: %w)", rerr, oerr)
			}
			return rerr
		}
		s.logger.WarnContext(ctx, "directory sync after optimize failed", "error", err)
	}
	return s.reopen(s.headerOffset)
}
