// Package flatdb provides a keyed store of fixed-size records kept in a
// single flat file.
//
// A flatdb file is an optional caller-owned header followed by a packed
// sequence of records, all of the same size. Each record carries its own
// key at a fixed offset, described by a [schema.Schema]. The file is
// accessed through a memory-mapped page window that slides over the file,
// so files much larger than the address space budget can be served.
//
// # Quick Start
//
//	ctx := context.Background()
//	s, _ := flatdb.Open(ctx, "orders.db", 16, schema.Scalar[uint32](0), flatdb.WithCreate(0))
//	defer s.Close()
//
//	_ = s.Add(42, record)        // key 42 is written into the record
//	rec, _ := s.Get(42)          // copy of the stored record
//	_ = s.Update(42, changed)    // key field is preserved
//	_ = s.Remove(42)             // zero-filled tombstone
//
// # Typed Records
//
// [Typed] stores Go values with a fixed binary layout:
//
//	type Order struct {
//	    ID    uint32
//	    Qty   uint32
//	    Price float64
//	}
//
//	orders, _ := flatdb.OpenTyped[uint32, Order](ctx, "orders.db", schema.Scalar[uint32](0))
//	_ = orders.Add(7, Order{Qty: 2, Price: 9.5})
//
// # Tombstones and Compaction
//
// Removing a record zero-fills its slot. The slot is skipped on the next
// load but stays in the file, and the append cursor never moves back.
// [Store.Optimize] rewrites the file in ascending key order without
// tombstones, through a temporary file that replaces the original only
// once it is complete. Close truncates the file after its last live slot.
//
// # Merging
//
// [Store.Merge] copies the records of another store. Keys present in both
// are resolved by a [MergePolicy]: fail, skip, replace, or store under a
// fresh successor key. Merge is not atomic; use [Store.Backup] first when
// the destination must be recoverable.
//
// # Backups
//
// [Store.Backup] streams the file into any [blobstore.BlobStore] (local
// directory, memory, S3, MinIO) with optional LZ4 or zstd compression and a
// CRC32C checksum. [backup.Restore] rebuilds the file from a backup.
//
// # Concurrency
//
// A Store is not safe for concurrent use. All calls, including iteration,
// must be serialized by the caller.
package flatdb
