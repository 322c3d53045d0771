//go:build windows

package mmap

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// MapViewOfFile offsets must be multiples of the allocation granularity.
var granularity = 64 * 1024

func osMap(fd uintptr, offset int64, size int, writable bool) ([]byte, func() error, error) {
	prot := uint32(windows.PAGE_READONLY)
	access := uint32(windows.FILE_MAP_READ)
	if writable {
		prot = windows.PAGE_READWRITE
		access = windows.FILE_MAP_WRITE
	}

	end := uint64(offset) + uint64(size)
	h, err := windows.CreateFileMapping(windows.Handle(fd), nil, prot, uint32(end>>32), uint32(end), nil)
	if err != nil {
		return nil, nil, err
	}
	// The view keeps its own reference to the mapping object.
	defer windows.CloseHandle(h)

	addr, err := windows.MapViewOfFile(h, access, uint32(uint64(offset)>>32), uint32(offset), uintptr(size))
	if err != nil {
		return nil, nil, err
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	return data, func() error { return windows.UnmapViewOfFile(addr) }, nil
}

func osFlush(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return windows.FlushViewOfFile(uintptr(unsafe.Pointer(&data[0])), uintptr(len(data)))
}

func osAdvise(data []byte, pattern AccessPattern) error {
	// No madvise equivalent worth wiring; the page cache copes.
	_ = data
	_ = pattern
	return nil
}
