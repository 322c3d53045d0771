package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryBudgetExceeded is returned when a reservation does not fit the
// memory budget.
var ErrMemoryBudgetExceeded = errors.New("resource: memory budget exceeded")

// Config holds the limits of a Controller. Zero values mean unlimited,
// except MaxJobs which defaults to 1.
type Config struct {
	// MemoryBudget caps the working memory reserved by compactions, in bytes.
	MemoryBudget int64
	// MaxJobs caps the number of compactions and backups running at once.
	MaxJobs int64
	// BytesPerSecond caps the copy throughput of compactions, backups and
	// restores together.
	BytesPerSecond int64
}

// Stats is a snapshot of a Controller.
type Stats struct {
	MemoryReserved int64
	JobsRunning    int64
	BytesCopied    int64
}

// Controller shares memory, job slots and copy bandwidth between stores.
// A nil *Controller imposes no limits.
type Controller struct {
	memory   *semaphore.Weighted
	jobs     *semaphore.Weighted
	limiter  *rate.Limiter
	maxChunk int

	reserved atomic.Int64
	running  atomic.Int64
	copied   atomic.Int64
}

// NewController creates a Controller enforcing cfg.
func NewController(cfg Config) *Controller {
	c := &Controller{jobs: semaphore.NewWeighted(max(cfg.MaxJobs, 1))}
	if cfg.MemoryBudget > 0 {
		c.memory = semaphore.NewWeighted(cfg.MemoryBudget)
	}
	if cfg.BytesPerSecond > 0 {
		// The burst is one second of budget; WaitN rejects anything larger.
		c.maxChunk = int(cfg.BytesPerSecond)
		c.limiter = rate.NewLimiter(rate.Limit(cfg.BytesPerSecond), c.maxChunk)
	}
	return c
}

// ReserveMemory reserves n bytes of the memory budget without blocking.
func (c *Controller) ReserveMemory(n int64) error {
	if c == nil || n <= 0 {
		return nil
	}
	if c.memory != nil && !c.memory.TryAcquire(n) {
		return ErrMemoryBudgetExceeded
	}
	c.reserved.Add(n)
	return nil
}

// ReleaseMemory returns n bytes reserved by ReserveMemory.
func (c *Controller) ReleaseMemory(n int64) {
	if c == nil || n <= 0 {
		return
	}
	if c.memory != nil {
		c.memory.Release(n)
	}
	c.reserved.Add(-n)
}

// AcquireJob blocks until a job slot is free or ctx is done.
func (c *Controller) AcquireJob(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.jobs.Acquire(ctx, 1); err != nil {
		return err
	}
	c.running.Add(1)
	return nil
}

// ReleaseJob frees a slot taken by AcquireJob.
func (c *Controller) ReleaseJob() {
	if c == nil {
		return
	}
	c.running.Add(-1)
	c.jobs.Release(1)
}

// WaitIO blocks until n bytes may be copied.
func (c *Controller) WaitIO(ctx context.Context, n int) error {
	if c == nil {
		return nil
	}
	c.copied.Add(int64(n))
	if c.limiter == nil {
		return nil
	}
	for n > 0 {
		chunk := min(n, c.maxChunk)
		if err := c.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Stats returns the current usage.
func (c *Controller) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		MemoryReserved: c.reserved.Load(),
		JobsRunning:    c.running.Load(),
		BytesCopied:    c.copied.Load(),
	}
}
