package hash

import (
	"hash"
	"hash/crc32"
	"io"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C returns the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// UpdateCRC32C extends crc with data.
func UpdateCRC32C(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, castagnoli, data)
}

// NewCRC32C returns a streaming CRC32-Castagnoli hash.
func NewCRC32C() hash.Hash32 {
	return crc32.New(castagnoli)
}

// ReaderCRC32C checksums everything read from r and returns the number of
// bytes consumed.
func ReaderCRC32C(r io.Reader) (uint32, int64, error) {
	h := NewCRC32C()
	n, err := io.Copy(h, r)
	return h.Sum32(), n, err
}
