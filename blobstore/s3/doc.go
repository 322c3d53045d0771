// Package s3 stores flatdb backups in Amazon S3.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket", s3.WithPrefix("backups/orders/"))
//	manifest, err := db.Backup(ctx, store, "2024-06-01")
//
// Store is the plain S3 backend. ExpressStore targets S3 Express One Zone
// directory buckets and refuses to overwrite an existing backup.
// DDBCommitStore keeps the CURRENT pointer in DynamoDB so that concurrent
// writers cannot lose a commit.
package s3
