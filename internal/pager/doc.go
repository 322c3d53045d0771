// Package pager presents a memory-mapped file as a sequence of page windows.
//
// An [Accessor] keeps at most one window of the underlying [mmap.File]
// mapped at a time. Given an absolute offset it swaps the active window
// transparently, growing the file by a page when asked to and when it owns
// the file.
//
// # Window lifetime
//
// Bytes of a window are only valid until the next swap. The Accessor
// therefore never returns a slice: callers pass a closure to [Accessor.View]
// or [Accessor.Update], and the slice handed to the closure must not escape
// it. Re-entering the Accessor from inside the closure fails with
// [ErrBusy]. Ranges that straddle a window boundary are staged through a
// scratch buffer so page boundaries are never observable.
//
// # Ownership
//
// An Accessor created with [Open] owns its file and may grow it. One created
// with [Borrow] shares another Accessor's file read-mostly: growth is
// refused with [ErrNotOwner], and a grow performed by the owner is detected
// through the file generation and causes a re-map on the next access.
package pager
