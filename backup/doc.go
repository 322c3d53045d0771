// Package backup copies a record file into a blob store and restores it.
//
// A backup named N consists of two blobs:
//
//	N.data      the file bytes [0, extent) in framed blocks, optionally
//	            compressed with LZ4 or zstd
//	N.manifest  record geometry, sizes, CRC32C of the raw bytes and the
//	            compression, encoded with a codec
//
// After both are written the CURRENT blob is set to N. Restore verifies the
// size and checksum before it renames the rebuilt file into place.
//
// Any blobstore.BlobStore works as target: the local filesystem, memory,
// S3 (with an optional DynamoDB CURRENT pointer) or MinIO.
package backup
