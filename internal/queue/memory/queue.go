// Package memory provides the in-process archival job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/steveclarke/link-radar-sub004/internal/archive"
)

// Queue is a bounded in-memory queue with context-aware operations. Jobs
// enqueue on bookmark creation in the same process, so a channel is all the
// durability this queue needs; the archive row itself is the durable record.
type Queue struct {
	ch      chan archive.Job
	closeMu sync.Mutex
	closed  bool
}

// New constructs a queue with the provided capacity.
func New(capacity int) *Queue {
	return &Queue{
		ch: make(chan archive.Job, capacity),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, job archive.Job) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (archive.Job, error) {
	select {
	case <-ctx.Done():
		return archive.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return archive.Job{}, archive.ErrQueueClosed
		}
		return job, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
