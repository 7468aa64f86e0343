package script

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Default coordinator limits.
const (
	DefaultMaxConcurrent = 8
	DefaultMaxQueue      = 64
)

// Limits bounds concurrent executions and the wait queue behind them.
type Limits struct {
	// MaxConcurrent is the number of executions that may hold a worker
	// unit at once. Zero means DefaultMaxConcurrent.
	MaxConcurrent int64

	// MaxQueue is the number of requests that may wait for a slot. Zero
	// means DefaultMaxQueue. Requests beyond MaxConcurrent+MaxQueue are
	// rejected with ErrCapacity.
	MaxQueue int64
}

func (l Limits) concurrent() int64 {
	if l.MaxConcurrent > 0 {
		return l.MaxConcurrent
	}
	return DefaultMaxConcurrent
}

func (l Limits) queue() int64 {
	if l.MaxQueue > 0 {
		return l.MaxQueue
	}
	return DefaultMaxQueue
}

// CoordinatorStats is a point-in-time snapshot of coordinator counters.
type CoordinatorStats struct {
	Running  int64
	Queued   int64
	Total    int64
	Rejected int64
}

// Coordinator admits executions under a concurrency bound. Requests
// beyond the bound wait in a FIFO queue of fixed depth; requests beyond
// the queue are rejected immediately. A waiting request leaves the
// queue when its context ends.
type Coordinator struct {
	sem      *semaphore.Weighted
	queueSem *semaphore.Weighted

	running  atomic.Int64
	queued   atomic.Int64
	total    atomic.Int64
	rejected atomic.Int64
}

// NewCoordinator builds a coordinator with the given limits.
func NewCoordinator(limits Limits) *Coordinator {
	total := limits.concurrent() + limits.queue()
	return &Coordinator{
		sem:      semaphore.NewWeighted(limits.concurrent()),
		queueSem: semaphore.NewWeighted(total),
	}
}

// Acquire admits one execution, blocking in the queue while all slots
// are busy. It returns ErrCapacity when the queue is full and the
// context's error when cancelled while waiting. Every successful
// Acquire must be paired with one Release.
func (c *Coordinator) Acquire(ctx context.Context) error {
	// The outer semaphore counts running plus queued; failing to take it
	// without blocking means the queue itself is full.
	if !c.queueSem.TryAcquire(1) {
		c.rejected.Add(1)
		return ErrCapacity
	}

	c.queued.Add(1)
	err := c.sem.Acquire(ctx, 1)
	c.queued.Add(-1)
	if err != nil {
		c.queueSem.Release(1)
		return err
	}

	c.running.Add(1)
	c.total.Add(1)
	return nil
}

// Release returns one execution slot.
func (c *Coordinator) Release() {
	c.running.Add(-1)
	c.sem.Release(1)
	c.queueSem.Release(1)
}

// Stats returns a snapshot of the coordinator's counters.
func (c *Coordinator) Stats() CoordinatorStats {
	return CoordinatorStats{
		Running:  c.running.Load(),
		Queued:   c.queued.Load(),
		Total:    c.total.Load(),
		Rejected: c.rejected.Load(),
	}
}
