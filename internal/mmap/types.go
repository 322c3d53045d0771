package mmap

import "errors"

// AccessPattern is a read-ahead hint for a mapped range.
type AccessPattern int

const (
	// AccessDefault leaves read-ahead to the kernel.
	AccessDefault AccessPattern = iota
	// AccessSequential favors read-ahead for front-to-back scans such as
	// loading, compaction and backups.
	AccessSequential
	// AccessRandom disables read-ahead for point lookups by key.
	AccessRandom
)

var (
	ErrClosed        = errors.New("mmap: mapping is closed")
	ErrInvalidSize   = errors.New("mmap: invalid size")
	ErrOutOfBounds   = errors.New("mmap: range lies outside the file")
	ErrInvalidOffset = errors.New("mmap: negative offset")
)
