package resource

import (
	"context"
	"io"
)

type throttledWriter struct {
	ctx context.Context
	w   io.Writer
	c   *Controller
}

// NewRateLimitedWriter returns a writer that waits for the copy budget of
// c before every write. A nil c returns w unchanged.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, c *Controller) io.Writer {
	if c == nil {
		return w
	}
	return &throttledWriter{ctx: ctx, w: w, c: c}
}

func (t *throttledWriter) Write(p []byte) (int, error) {
	if err := t.c.WaitIO(t.ctx, len(p)); err != nil {
		return 0, err
	}
	return t.w.Write(p)
}

type throttledReader struct {
	ctx context.Context
	r   io.Reader
	c   *Controller
}

// NewRateLimitedReader returns a reader that charges the copy budget of c
// for every byte read. A nil c returns r unchanged.
func NewRateLimitedReader(ctx context.Context, r io.Reader, c *Controller) io.Reader {
	if c == nil {
		return r
	}
	return &throttledReader{ctx: ctx, r: r, c: c}
}

func (t *throttledReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.c.WaitIO(t.ctx, n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}
