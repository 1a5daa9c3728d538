package queue

import (
	"context"
	"time"

	"github.com/Pbein/JDPBookout/internal/models"
	"github.com/ternarybob/arbor"
)

// Watchdog is the backstop recovery loop described in §4.5: on a fixed
// period it recovers any in-progress reference older than the stuck
// threshold, regardless of whether the owning worker's own per-task
// timeout ever fires.
type Watchdog struct {
	queue          *TaskQueue
	interval       time.Duration
	stuckThreshold time.Duration
	logger         arbor.ILogger

	// OnTick, if set, is called with the queue's stats after every
	// recovery pass, letting a caller (the progress broadcaster) stream
	// snapshots without the queue depending on it directly.
	OnTick func(models.QueueStats)
}

// NewWatchdog constructs a watchdog over queue, ticking every interval
// and considering an in-progress entry stuck once it exceeds
// stuckThreshold.
func NewWatchdog(queue *TaskQueue, interval, stuckThreshold time.Duration, logger arbor.ILogger) *Watchdog {
	return &Watchdog{
		queue:          queue,
		interval:       interval,
		stuckThreshold: stuckThreshold,
		logger:         logger,
	}
}

// Run blocks until ctx is cancelled or the queue drains, recovering
// stuck references on every tick.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug().Msg("watchdog stopping: context cancelled")
			return
		case <-ticker.C:
			w.tick()
			if w.queue.Drained() {
				w.logger.Info().Msg("watchdog stopping: queue drained")
				return
			}
		}
	}
}

func (w *Watchdog) tick() {
	stuck := w.queue.Stuck(w.stuckThreshold)
	for _, ref := range stuck {
		if w.queue.Recover(ref) {
			w.logger.Warn().
				Str("reference", ref).
				Dur("threshold", w.stuckThreshold).
				Msg("recovered stuck reference")
		}
	}

	stats := w.queue.Stats()
	w.logger.Info().
		Int("pending", stats.Pending).
		Int("inProgress", stats.InProgress).
		Int("completed", stats.Completed).
		Int("terminallyFailed", stats.TerminallyFailed).
		Msg("queue progress")

	if w.OnTick != nil {
		w.OnTick(stats)
	}
}
