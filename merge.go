package flatdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/flatdb/internal/mmap"
	"github.com/hupe1980/flatdb/internal/pager"
	"github.com/hupe1980/flatdb/internal/progress"
	"github.com/hupe1980/flatdb/schema"
)

// MergePolicy decides what Merge does with a key present in both stores.
type MergePolicy int

const (
	// MergeError aborts the merge with a *KeyError wrapping ErrConflict.
	MergeError MergePolicy = iota
	// MergeSkip keeps the destination record.
	MergeSkip
	// MergeReplace overwrites the destination record with the source record.
	MergeReplace
	// MergeNext stores the source record under a fresh key.
	MergeNext
)

func (p MergePolicy) String() string {
	switch p {
	case MergeError:
		return "error"
	case MergeSkip:
		return "skip"
	case MergeReplace:
		return "replace"
	case MergeNext:
		return "next"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseMergePolicy parses the name returned by MergePolicy.String.
func ParseMergePolicy(name string) (MergePolicy, error) {
	switch strings.ToLower(name) {
	case "error":
		return MergeError, nil
	case "skip":
		return MergeSkip, nil
	case "replace":
		return MergeReplace, nil
	case "next":
		return MergeNext, nil
	}
	return 0, fmt.Errorf("%w: merge policy %q", ErrInvalidArgument, name)
}

// Merge copies every live record of src into s, in src slot order.
//
// Keys missing from s are added unchanged. Conflicting keys are resolved by
// policy. Under MergeNext the fresh keys are successors of the largest key
// of either store, determined once before copying starts, so they can not
// collide with source keys that are copied later. The returned map holds
// the old -> new key of every renamed record.
//
// Merge is not atomic: when it fails, records merged before the failure
// stay in s. Take a backup first when that matters.
func (s *Store[K]) Merge(ctx context.Context, src *Store[K], policy MergePolicy) (remap map[K]K, err error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if src == nil || src == s {
		return nil, fmt.Errorf("%w: merge source must be another store", ErrInvalidArgument)
	}
	if err := src.checkOpen(); err != nil {
		return nil, err
	}
	if src.recordSize != s.recordSize {
		return nil, fmt.Errorf("%w: source record size %d, destination %d", ErrInvalidArgument, src.recordSize, s.recordSize)
	}
	if policy < MergeError || policy > MergeNext {
		return nil, fmt.Errorf("%w: merge policy %d", ErrInvalidArgument, int(policy))
	}

	var next K
	if policy == MergeNext {
		if !schema.SupportsNext(s.schema) {
			return nil, fmt.Errorf("%w: %s keys have no successor", ErrUnsupportedKeyType, s.schema.Kind())
		}
		next = s.maxKey(src)
	}

	start := time.Now()
	var copied, conflicts int
	remap = make(map[K]K)
	defer func() {
		s.metrics.RecordMerge(copied, conflicts, time.Since(start), err)
		s.logger.LogMerge(ctx, src.path, policy, copied, conflicts, err)
	}()

	reader, err := pager.Borrow(src.acc.File(), src.pageSize, pager.WithAccessPattern(mmap.AccessSequential))
	if err != nil {
		return remap, translateError(err)
	}
	defer func() { _ = reader.Close() }()

	rep := progress.New(s.logger.Logger, 0)
	rep.Start(ctx, "merging", int64(src.Len()))
	defer rep.Stop(ctx, "")

	record := make([]byte, src.recordSize)
	it := src.live.Iterator()
	for it.HasNext() {
		if err := ctx.Err(); err != nil {
			return remap, err
		}

		slot := int64(it.Next())
		if err := reader.Read(src.offsetOf(slot), record); err != nil {
			return remap, translateError(err)
		}
		rep.Add(1)

		key := src.schema.Decode(record, slot)
		off, exists := s.index[key]
		if !exists {
			if err := s.Add(key, record); err != nil {
				return remap, err
			}
			copied++
			continue
		}

		conflicts++
		switch policy {
		case MergeError:
			return remap, &KeyError[K]{Op: "merge", Key: key, Offset: off, Err: ErrConflict}
		case MergeSkip:
			s.logger.LogConflict(ctx, key, policy)
		case MergeReplace:
			if err := s.Update(key, record); err != nil {
				return remap, err
			}
			copied++
		case MergeNext:
			next, err = schema.Next(s.schema, next)
			if err != nil {
				return remap, translateError(err)
			}
			if err := s.Add(next, record); err != nil {
				return remap, err
			}
			remap[key] = next
			copied++
		}
	}
	return remap, nil
}

// maxKey returns the largest key held by s or src, or the zero key when
// both are empty.
func (s *Store[K]) maxKey(src *Store[K]) K {
	var best K
	found := false
	for _, idx := range []map[K]int64{s.index, src.index} {
		for k := range idx {
			if !found || s.schema.Compare(k, best) > 0 {
				best = k
				found = true
			}
		}
	}
	return best
}
