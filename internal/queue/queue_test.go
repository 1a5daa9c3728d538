package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueue_GetCompleteDrains(t *testing.T) {
	q := NewTaskQueue([]string{"A", "B", "C"})

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		ref, ok := q.Get(0)
		require.True(t, ok)
		seen[ref] = true
		q.Complete(ref)
	}

	assert.ElementsMatch(t, []string{"A", "B", "C"}, keys(seen))
	_, ok := q.Get(0)
	assert.False(t, ok)
	assert.True(t, q.Drained())

	stats := q.Stats()
	assert.Equal(t, 3, stats.Completed)
	assert.Equal(t, q.InitialCount(), stats.Completed+stats.Pending+stats.InProgress+stats.TerminallyFailed)
}

func TestTaskQueue_FailRequeuesUntilMaxRetries(t *testing.T) {
	q := NewTaskQueue([]string{"A"})

	ref, ok := q.Get(0)
	require.True(t, ok)

	// maxRetries = 2: first two failures requeue, the third is terminal.
	terminal := q.Fail(ref, 2)
	assert.False(t, terminal)

	ref, ok = q.Get(0)
	require.True(t, ok)
	terminal = q.Fail(ref, 2)
	assert.False(t, terminal)

	ref, ok = q.Get(0)
	require.True(t, ok)
	terminal = q.Fail(ref, 2)
	assert.True(t, terminal)

	stats := q.Stats()
	assert.Equal(t, 1, stats.TerminallyFailed)
	assert.Equal(t, 0, stats.Completed)
	assert.True(t, q.Drained())
}

func TestTaskQueue_StuckAndRecover(t *testing.T) {
	q := NewTaskQueue([]string{"A"})
	ref, ok := q.Get(0)
	require.True(t, ok)

	assert.Empty(t, q.Stuck(time.Hour))
	assert.Len(t, q.Stuck(-time.Second), 1)

	assert.True(t, q.Recover(ref))
	assert.False(t, q.Recover(ref), "recovering a non-in-progress reference is a no-op")

	_, ok = q.Get(0)
	assert.True(t, ok, "recovered reference must be available to any worker")
}

func TestTaskQueue_ConservationUnderConcurrency(t *testing.T) {
	const n = 200
	refs := make([]string, n)
	for i := range refs {
		refs[i] = string(rune('a' + i%26))
	}
	q := NewTaskQueue(dedupe(refs, n))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				ref, ok := q.Get(workerID)
				if !ok {
					if q.Drained() {
						return
					}
					time.Sleep(time.Millisecond)
					continue
				}
				q.Complete(ref)
			}
		}(w)
	}
	wg.Wait()

	stats := q.Stats()
	assert.Equal(t, q.InitialCount(), stats.Completed+stats.Pending+stats.InProgress+stats.TerminallyFailed)
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func dedupe(refs []string, n int) []string {
	seen := map[string]bool{}
	out := make([]string, 0, n)
	for i, r := range refs {
		key := r + string(rune(i))
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}
