// Package mmap provides memory-mapped file access for the record store.
//
// # Overview
//
// Two kinds of mapping are offered:
//
//   - [File] is a read-write, growable file from which short-lived page
//     [View]s are created. It is the mapped-file primitive underneath the
//     pager: the pager keeps exactly one View alive at a time.
//   - [Mapping] is a whole-file read-only mapping used for bulk reads
//     (blob stores, backup verification).
//
// # Usage
//
//	f, err := mmap.OpenFile(fs.Default, "records.db", 0)
//	if err != nil { ... }
//	defer f.Close()
//
//	v, err := f.View(4096, 65536)
//	if err != nil { ... }
//	copy(v.Bytes(), record)
//	_ = v.Release()
//
// # Growth
//
// [File.Grow] extends the underlying file and bumps the file's generation.
// Every View created before the grow is stale afterwards, even if the
// platform would keep the old mapping readable. Holders compare
// [View.Generation] against [File.Generation] and re-map when they differ.
//
// # Alignment
//
// Operating systems require mapping offsets to be aligned to the allocation
// granularity (the page size on Unix, 64 KiB on Windows). View hides this:
// it maps from the aligned-down offset and Bytes() starts at the requested
// offset.
//
// # Thread Safety
//
// OpenFile-time state, Grow and View are serialized by a mutex on File so
// that two pagers sharing one File never race on the native handle. The
// mutex does not protect the bytes of a View.
package mmap
