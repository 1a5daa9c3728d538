package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/Pbein/JDPBookout/internal/models"
)

func TestWatchdog_RecoversStuckEntriesAndReportsStats(t *testing.T) {
	q := NewTaskQueue([]string{"A", "B"})
	_, ok := q.Get(0)
	require.True(t, ok)

	w := NewWatchdog(q, 10*time.Millisecond, 1*time.Millisecond, arbor.NewLogger())

	var gotStats []models.QueueStats
	w.OnTick = func(stats models.QueueStats) {
		gotStats = append(gotStats, stats)
	}

	time.Sleep(2 * time.Millisecond)
	w.tick()

	require.Len(t, gotStats, 1)
	require.Equal(t, 2, gotStats[0].Pending)
	require.Equal(t, 0, gotStats[0].InProgress)

	_, ok = q.Get(0)
	require.True(t, ok)
}

func TestWatchdog_RunStopsWhenQueueDrains(t *testing.T) {
	q := NewTaskQueue([]string{"A"})
	ref, ok := q.Get(0)
	require.True(t, ok)
	q.Complete(ref)

	w := NewWatchdog(q, 5*time.Millisecond, time.Hour, arbor.NewLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("watchdog did not stop after queue drained")
	}
}

func TestWatchdog_RunStopsOnContextCancel(t *testing.T) {
	q := NewTaskQueue([]string{"A"})
	w := NewWatchdog(q, time.Hour, time.Hour, arbor.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("watchdog did not stop after context cancellation")
	}
}
