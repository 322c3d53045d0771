// Package minio stores flatdb backups in MinIO or any other S3-compatible
// object store (Ceph, Garage, SeaweedFS) through the MinIO client.
//
//	store, err := minio.New(minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "backups",
//	    Prefix:    "orders/",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	_, err = db.Backup(ctx, store, "orders-0001")
//
// Store implements blobstore.ExclusivePutter through If-None-Match, so a
// backup manifest is never overwritten on servers that honor conditional
// writes.
package minio
