// Package queue is the FIFO of media download jobs consumed by the worker.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/devsync/internal/data"
	"github.com/tinoosan/devsync/internal/downloader"
)

// Job is one requested download. It is not modified once enqueued.
type Job struct {
	ID       string
	Record   data.MediaRecord
	Observer downloader.Observer
	Enqueued time.Time
}

// NewJob snapshots rec for a job. A nil observer is replaced by one that
// ignores every call.
func NewJob(rec data.MediaRecord, obs downloader.Observer) *Job {
	if obs == nil {
		obs = downloader.ObserverFuncs{}
	}
	rec.Thumbnail = nil
	return &Job{ID: uuid.NewString(), Record: rec, Observer: obs, Enqueued: time.Now()}
}

// Queue is an unbounded FIFO with a single blocking consumer.
type Queue struct {
	mu   sync.Mutex
	jobs []*Job
	wake chan struct{}
}

func New() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Add appends job and wakes the consumer.
func (q *Queue) Add(job *Job) error {
	if job == nil {
		return data.ErrBadParameter
	}
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
	q.Wake()
	return nil
}

// Wake unblocks a waiting Pop even when nothing was added.
func (q *Queue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop returns the oldest job, waiting for one if the queue is empty. It
// returns nil, nil when woken with nothing to hand out.
func (q *Queue) Pop(ctx context.Context) (*Job, error) {
	if j := q.take(); j != nil {
		return j, nil
	}
	select {
	case <-q.wake:
		return q.take(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: wait for job: %w", data.ErrSystem, ctx.Err())
	}
}

func (q *Queue) take() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil
	}
	j := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return j
}

// RemoveAll discards every pending job and returns how many there were.
// Discarded jobs get no callback.
func (q *Queue) RemoveAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.jobs)
	q.jobs = nil
	return n
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Reset drops pending jobs and any stale wake-up.
func (q *Queue) Reset() {
	q.RemoveAll()
	select {
	case <-q.wake:
	default:
	}
}
