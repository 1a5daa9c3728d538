// Package queue implements the in-memory task queue that distributes
// reference numbers to workers and the watchdog that recovers entries a
// worker abandoned without completing or failing them.
package queue

import (
	"sync"
	"time"

	"github.com/Pbein/JDPBookout/internal/models"
)

// TaskQueue is the single arbiter of which worker processes which
// reference. All five collections it owns are guarded by one mutex so
// the §4.1 conservation invariant (every reference is in exactly one of
// pending/inProgress/completed/terminallyFailed) holds at every release.
type TaskQueue struct {
	mu sync.Mutex

	pending        []string
	inProgress     map[string]models.InProgressEntry
	completed      map[string]struct{}
	terminalFailed map[string]struct{}
	retries        map[string]int

	initialCount int
}

// NewTaskQueue seeds the queue with the given references, which must be
// unique; duplicates would violate the conservation invariant.
func NewTaskQueue(references []string) *TaskQueue {
	q := &TaskQueue{
		pending:        append([]string(nil), references...),
		inProgress:     make(map[string]models.InProgressEntry),
		completed:      make(map[string]struct{}),
		terminalFailed: make(map[string]struct{}),
		retries:        make(map[string]int),
		initialCount:   len(references),
	}
	return q
}

// Get pops the head of pending for workerID. ok is false if pending is
// currently empty; the caller must consult Stats to distinguish "empty
// but work outstanding elsewhere" from "drained".
func (q *TaskQueue) Get(workerID int) (ref string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return "", false
	}

	ref = q.pending[0]
	q.pending = q.pending[1:]
	q.inProgress[ref] = models.InProgressEntry{
		WorkerID:      workerID,
		StartedAt:     time.Now(),
		AttemptNumber: q.retries[ref] + 1,
	}
	return ref, true
}

// Complete records ref as a terminal success.
func (q *TaskQueue) Complete(ref string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inProgress, ref)
	q.completed[ref] = struct{}{}
	delete(q.retries, ref)
}

// Fail records a failed attempt at ref. If the reference has not
// exhausted maxRetries it is requeued and terminal is false; otherwise it
// is recorded as a terminal failure (never requeued, never added to
// completed) and terminal is true.
func (q *TaskQueue) Fail(ref string, maxRetries int) (terminal bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inProgress, ref)
	q.retries[ref]++

	if q.retries[ref] <= maxRetries {
		q.pending = append(q.pending, ref)
		return false
	}

	delete(q.retries, ref)
	q.terminalFailed[ref] = struct{}{}
	return true
}

// Stuck returns every in-progress reference whose age exceeds threshold.
func (q *TaskQueue) Stuck(threshold time.Duration) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var stuck []string
	for ref, entry := range q.inProgress {
		if now.Sub(entry.StartedAt) > threshold {
			stuck = append(stuck, ref)
		}
	}
	return stuck
}

// Recover removes ref from in-progress and re-appends it to the head of
// pending, biasing recovered work to run sooner than freshly-queued work.
// It is a no-op if ref is no longer in-progress (the worker may have
// completed or failed it between the watchdog's snapshot and this call).
func (q *TaskQueue) Recover(ref string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inProgress[ref]; !ok {
		return false
	}
	delete(q.inProgress, ref)
	q.pending = append([]string{ref}, q.pending...)
	return true
}

// Stats returns a point-in-time snapshot of the queue's four
// collections.
func (q *TaskQueue) Stats() models.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return models.QueueStats{
		Pending:          len(q.pending),
		InProgress:       len(q.inProgress),
		Completed:        len(q.completed),
		TerminallyFailed: len(q.terminalFailed),
	}
}

// InitialCount returns the number of references the queue was seeded
// with, for the §4.1 conservation check.
func (q *TaskQueue) InitialCount() int { return q.initialCount }

// Drained reports whether both pending and in-progress are empty.
func (q *TaskQueue) Drained() bool {
	return q.Stats().Drained()
}
