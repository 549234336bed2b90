// Package workqueue is a bounded, single-consumer FIFO of closures.
//
// The container manager's mutating operations (startFromBundle, stop,
// pause, resume, hibernate, wakeup, exec) never run on the calling IPC
// goroutine: they're enqueued here and drained one at a time by the
// daemon's single work-queue consumer, so container state transitions
// never race each other. Read-only queries (list, stateOf, statsOf,
// ociConfigOf) bypass the queue and read directly under the container
// table's own lock.
package workqueue

import (
	"fmt"
	"time"
)

// DefaultCapacity is the bounded queue depth; a caller enqueuing past
// this returns an error rather than blocking the IPC dispatcher forever.
const DefaultCapacity = 64

// Job is a unit of work the consumer goroutine runs in submission order.
type Job func()

// Queue is a bounded single-consumer FIFO.
type Queue struct {
	jobs chan Job
}

// New returns a Queue with the given capacity; capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{jobs: make(chan Job, capacity)}
}

// Enqueue submits job for later execution by a consumer's Poll call. It
// never blocks: a full queue returns an error immediately.
func (q *Queue) Enqueue(job Job) error {
	select {
	case q.jobs <- job:
		return nil
	default:
		return fmt.Errorf("work queue is full (capacity %d)", cap(q.jobs))
	}
}

// Poll drains and runs at most one queued job, waiting up to timeout for
// one to arrive. It returns true if a job ran. The daemon's top-level run
// loop calls Poll(500ms) in a loop, alternating with its SIGTERM check.
func (q *Queue) Poll(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case job := <-q.jobs:
		job()
		return true
	case <-timer.C:
		return false
	}
}

// Len reports how many jobs are currently queued, for diagnostics.
func (q *Queue) Len() int {
	return len(q.jobs)
}
