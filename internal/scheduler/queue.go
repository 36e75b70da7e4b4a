package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ranktrack/internal/scanner"
)

// JobTarget is one target inside a scheduled scan job.
type JobTarget struct {
	TargetID    uint
	ProductID   string
	EffectiveID string
}

// Job is one pending batch scan for a keyword. Jobs are transient: they
// live only in the queue and the active-job table, and their outcome
// persists as Observations.
type Job struct {
	ID        uuid.UUID
	KeywordID uint
	Query     string
	Targets   []JobTarget
	RunAt     time.Time
	Attempts  int

	seq uint64 // insertion order, FIFO tie-breaker for equal RunAt
}

func (j *Job) scanTargets() []scanner.Target {
	targets := make([]scanner.Target, len(j.Targets))
	for i, t := range j.Targets {
		targets[i] = scanner.Target{ProductID: t.ProductID, EffectiveID: t.EffectiveID}
	}
	return targets
}

type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].RunAt.Equal(h[j].RunAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].RunAt.Before(h[j].RunAt)
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(*Job)) }

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}

// jobQueue is a priority queue ordered by scheduled time with an
// insertion-sequence tie-breaker. The sequence counter is owned by the
// queue instance, so independent schedulers never interfere.
type jobQueue struct {
	mu   sync.Mutex
	jobs jobHeap
	seq  uint64
	wake chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{wake: make(chan struct{}, 1)}
}

// Push enqueues a job for execution at its RunAt time.
func (q *jobQueue) Push(job *Job) {
	q.mu.Lock()
	q.seq++
	job.seq = q.seq
	heap.Push(&q.jobs, job)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop blocks until a job becomes due, the wait window elapses, or ctx is
// cancelled. The bounded wait lets worker loops periodically re-check
// pause/stop signals without busy-spinning.
func (q *jobQueue) Pop(ctx context.Context, maxWait time.Duration) *Job {
	deadline := time.Now().Add(maxWait)

	for {
		q.mu.Lock()
		var wait time.Duration
		if len(q.jobs) > 0 {
			head := q.jobs[0]
			now := time.Now()
			if !head.RunAt.After(now) {
				job := heap.Pop(&q.jobs).(*Job)
				q.mu.Unlock()
				return job
			}
			wait = head.RunAt.Sub(now)
		} else {
			wait = time.Until(deadline)
		}
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if wait <= 0 || wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Len returns the number of queued jobs.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
