// Package resource limits the background work of record stores.
//
// One Controller can be shared by many stores. It bounds:
//
//   - working memory reserved by compactions (fail-fast)
//   - the number of compactions and backups running at once
//   - the bytes per second they copy
//
// # Usage
//
//	rc := resource.NewController(resource.Config{
//	    MaxJobs:        2,
//	    BytesPerSecond: 64 << 20,
//	})
//	s, err := flatdb.Open(ctx, path, recordSize, schema.Scalar[uint64](0),
//	    flatdb.WithResourceController(rc))
//
// Readers and writers can be wrapped so that every byte passes the limiter:
//
//	w := resource.NewRateLimitedWriter(ctx, blob, rc)
//
// A nil *Controller is valid and imposes no limits.
package resource
