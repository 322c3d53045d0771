// Package progress reports the advance of long-running store operations.
//
// A Reporter runs one ticker goroutine between Start and Stop. The goroutine
// only reads an atomic counter and writes log records; it never touches the
// store it reports on.
package progress

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultInterval is the reporting period used when none is given.
const DefaultInterval = time.Second

// smoothing weights the latest speed sample against the running average.
const smoothing = 0.05

// Reporter logs percent complete and an ETA while an operation runs.
type Reporter struct {
	logger   *slog.Logger
	interval time.Duration

	caption string
	total   int64
	done    atomic.Int64

	cancel context.CancelFunc
	g      *errgroup.Group
}

// New creates a Reporter that logs to logger every interval.
func New(logger *slog.Logger, interval time.Duration) *Reporter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{logger: logger, interval: interval}
}

// Start begins reporting an operation of total steps. A total of zero
// means the size is unknown and only the step count is logged.
func (r *Reporter) Start(ctx context.Context, caption string, total int64) {
	r.Stop(ctx, "")

	r.caption = caption
	r.total = total
	r.done.Store(0)

	r.logger.InfoContext(ctx, caption, "total", total)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.g = &errgroup.Group{}
	r.g.Go(func() error {
		r.loop(loopCtx)
		return nil
	})
}

// Add records n completed steps. It is safe to call from any goroutine.
func (r *Reporter) Add(n int64) {
	r.done.Add(n)
}

// Done returns the number of completed steps.
func (r *Reporter) Done() int64 {
	return r.done.Load()
}

// Stop ends reporting and logs msg unless it is empty. Stop without a
// running operation is a no-op.
func (r *Reporter) Stop(ctx context.Context, msg string) {
	if r.cancel == nil {
		return
	}
	r.cancel()
	_ = r.g.Wait()
	r.cancel = nil
	r.g = nil

	if msg != "" {
		r.logger.InfoContext(ctx, msg, "caption", r.caption, "done", r.done.Load())
	}
}

func (r *Reporter) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	last := time.Now()
	var lastDone int64
	var avgSpeed float64

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			done := r.done.Load()
			if r.total <= 0 {
				r.logger.InfoContext(ctx, "progress", "caption", r.caption, "done", done)
				continue
			}
			if done == lastDone {
				continue
			}

			speed := float64(done-lastDone) / now.Sub(last).Seconds()
			if avgSpeed == 0 {
				avgSpeed = speed
			} else {
				avgSpeed = smoothing*speed + (1-smoothing)*avgSpeed
			}

			pct := 100 * float64(done) / float64(r.total)
			var eta time.Duration
			if avgSpeed > 0 {
				eta = time.Duration(float64(r.total-done) / avgSpeed * float64(time.Second))
			}

			r.logger.InfoContext(ctx, "progress",
				"caption", r.caption,
				"percent", float64(int(pct*100))/100,
				"eta", eta.Round(time.Second),
			)

			lastDone = done
			last = now
		}
	}
}
