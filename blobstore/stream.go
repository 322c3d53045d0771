package blobstore

import (
	"context"
	"io"
	"sync/atomic"
)

// StreamingBlob is a WritableBlob for object stores without an append API.
// Writes flow through a pipe into an upload running in its own goroutine;
// the object is published when the upload returns.
type StreamingBlob struct {
	pw     *io.PipeWriter
	done   chan error
	closed atomic.Bool
}

var _ Aborter = (*StreamingBlob)(nil)

// NewStreamingBlob starts upload with the read side of the pipe.
func NewStreamingBlob(upload func(body io.Reader) error) *StreamingBlob {
	pr, pw := io.Pipe()
	b := &StreamingBlob{pw: pw, done: make(chan error, 1)}
	go func() {
		err := upload(pr)
		_ = pr.CloseWithError(err)
		b.done <- err
	}()
	return b
}

func (b *StreamingBlob) Write(p []byte) (int, error) {
	if b.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return b.pw.Write(p)
}

// Close ends the body and returns the result of the upload.
func (b *StreamingBlob) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return io.ErrClosedPipe
	}
	if err := b.pw.Close(); err != nil {
		return err
	}
	return <-b.done
}

// Abort fails the body with context.Canceled and waits for the upload to
// give up, so a partial backup never becomes visible.
func (b *StreamingBlob) Abort() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = b.pw.CloseWithError(context.Canceled)
	<-b.done
	return nil
}

// Sync does nothing. Object stores commit on Close.
func (b *StreamingBlob) Sync() error { return nil }

// ClampRange returns the inclusive last byte of a read of length bytes at
// off from a blob of size bytes. ok is false when off is at or past the end.
func ClampRange(off, length, size int64) (last int64, ok bool) {
	if off >= size || length <= 0 {
		return 0, false
	}
	return min(off+length, size) - 1, true
}
