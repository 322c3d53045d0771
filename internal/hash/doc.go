// Package hash provides the CRC32-Castagnoli checksums used to verify
// backups and S3 uploads.
//
// One-shot:
//
//	sum := hash.CRC32C(data)
//
// Streaming over record blocks:
//
//	var sum uint32
//	for _, block := range blocks {
//		sum = hash.UpdateCRC32C(sum, block)
//	}
//
// The standard library selects the SSE4.2 or ARM CRC instructions when the
// CPU has them.
package hash
