// Package schedule runs the orchestrator repeatedly on a cron schedule,
// so an inventory too large for one practical browser session can be
// drained across several unattended passes.
package schedule

import (
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/Pbein/JDPBookout/internal/orchestrator"
)

// RunFunc performs one full orchestrator pass and returns its report
// (or an error, which may be an *orchestrator.FatalSetupError).
type RunFunc func() (*orchestrator.Report, error)

// Runner drives RunFunc on a cron schedule and stops itself after two
// consecutive fatal setup failures, since a setup failure that repeats
// immediately is unlikely to be transient.
type Runner struct {
	cron   *cron.Cron
	run    RunFunc
	logger arbor.ILogger

	mu               sync.Mutex
	running          bool
	consecutiveFatal int
	stopped          chan struct{}
}

// New creates a scheduled runner for the given cron expression (standard
// five-field syntax).
func New(cronExpr string, run RunFunc, logger arbor.ILogger) (*Runner, error) {
	c := cron.New()
	r := &Runner{
		cron:    c,
		run:     run,
		logger:  logger,
		stopped: make(chan struct{}),
	}

	if _, err := c.AddFunc(cronExpr, r.tick); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return r, nil
}

// Start begins the schedule. It returns immediately; ticks fire in cron's
// own goroutine.
func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info().Msg("schedule runner started")
}

// Stop halts future ticks and waits for any in-flight tick to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info().Msg("schedule runner stopped")
}

// Stopped returns a channel that is closed once the runner has disabled
// itself after repeated fatal setup failures.
func (r *Runner) Stopped() <-chan struct{} {
	return r.stopped
}

func (r *Runner) tick() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("panic", fmt.Sprintf("%v", rec)).
				Msg("recovered from panic in scheduled orchestrator run")
		}
	}()

	r.mu.Lock()
	if r.running {
		r.logger.Warn().Msg("previous scheduled run still in progress, skipping this tick")
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	report, err := r.run()

	var fatal *orchestrator.FatalSetupError
	isFatal := err != nil && errors.As(err, &fatal)

	r.mu.Lock()
	if isFatal {
		r.consecutiveFatal++
		r.logger.Error().
			Err(err).
			Int("consecutiveFatal", r.consecutiveFatal).
			Msg("scheduled run failed with a fatal setup error")
	} else {
		r.consecutiveFatal = 0
		if err != nil {
			r.logger.Error().Err(err).Msg("scheduled run failed")
		} else if report != nil {
			r.logger.Info().
				Str("runDir", report.RunDir).
				Int("terminalFailures", len(report.TerminalFailures)).
				Bool("stuck", report.Stuck).
				Msg("scheduled run completed")
		}
	}
	stop := r.consecutiveFatal >= 2
	r.mu.Unlock()

	if stop {
		r.logger.Error().Msg("two consecutive fatal setup failures, disabling schedule")
		go r.Stop()
		select {
		case <-r.stopped:
		default:
			close(r.stopped)
		}
	}
}
