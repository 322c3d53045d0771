//go:build unix

package mmap

import (
	"golang.org/x/sys/unix"
)

var granularity = unix.Getpagesize()

func osMap(fd uintptr, offset int64, size int, writable bool) ([]byte, func() error, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}

	data, err := unix.Mmap(int(fd), offset, size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}

	return data, func() error { return unix.Munmap(data) }, nil
}

func osFlush(data []byte) error {
	return unix.Msync(data, unix.MS_SYNC)
}

func osAdvise(data []byte, pattern AccessPattern) error {
	if len(data) == 0 {
		return nil
	}

	var advice int
	switch pattern {
	case AccessSequential:
		advice = unix.MADV_SEQUENTIAL
	case AccessRandom:
		advice = unix.MADV_RANDOM
	default:
		advice = unix.MADV_NORMAL
	}

	// The hint is advisory; an alignment rejection is not worth surfacing.
	err := unix.Madvise(data, advice)
	if err == unix.EINVAL {
		return nil
	}
	return err
}
