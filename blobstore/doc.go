// Package blobstore provides the storage abstraction used for flatdb backups.
//
// A BlobStore holds immutable named blobs: compressed backup data, JSON
// manifests and the CURRENT pointer naming the latest backup.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local directory, mmap reads, atomic temp+rename writes
//   - MemoryStore: in-memory, for tests
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - s3.DDBCommitStore: S3 plus a DynamoDB conditional-write CURRENT pointer
//   - minio.Store: MinIO and other S3-compatible services
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Create(ctx, name) (WritableBlob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
