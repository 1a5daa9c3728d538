// Package worker implements the per-reference processing loop (§4.3):
// pull a reference from the queue, drive the browser through filter,
// open, and PDF-critical-section download, persist the bytes, and
// report the outcome back to the queue, tracking store, and
// checkpoint.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Pbein/JDPBookout/internal/browser"
	"github.com/Pbein/JDPBookout/internal/models"
	"github.com/Pbein/JDPBookout/internal/queue"
	"github.com/Pbein/JDPBookout/internal/store"
	"github.com/ternarybob/arbor"
)

// Config bundles the per-run settings a worker needs.
type Config struct {
	WorkerID     int
	TaskTimeout  time.Duration
	MaxRetries   int
	InventoryURL string
	RunDir       string
}

// Deps bundles the shared collaborators a worker reads from and writes
// to on every iteration.
type Deps struct {
	Queue      *queue.TaskQueue
	Pool       *browser.Pool
	PageCtx    context.Context
	Tracking   *store.TrackingStore
	Checkpoint *store.CheckpointStore
	Metrics    *store.Metrics
	Downloader *browser.Downloader
	Logger     arbor.ILogger

	// OnOutcome, if set, is called with every terminal outcome (success
	// or exhausted retries), letting a caller (the progress broadcaster)
	// stream outcomes without the worker depending on it directly.
	OnOutcome func(models.Outcome)

	// RefreshSession, if set, re-authenticates on P0 when this worker
	// detects the shared session was lost mid-run (§7). Required for
	// session-loss recovery; its absence degrades a session loss into
	// an ordinary per-reference failure.
	RefreshSession func(ctx context.Context) error

	// OnFatal, if set, is called once when RefreshSession itself fails,
	// letting the orchestrator escalate to a run-ending fatal error
	// instead of letting every remaining reference drain one at a time
	// into terminal failures against a session that can't come back.
	OnFatal func(error)
}

// fatalSessionError marks a re-authentication failure that must abort
// the run rather than participate in ordinary per-reference
// retry/failure bookkeeping: the reference is left exactly as it was
// (not marked failed), since the tracking store already treats it as
// pending and the next run will pick it up the normal way.
type fatalSessionError struct{ err error }

func (e *fatalSessionError) Error() string { return e.err.Error() }
func (e *fatalSessionError) Unwrap() error { return e.err }

// Run drains the queue from this worker's page until the queue reports
// drained or ctx is cancelled. It never returns an error: per-reference
// failures are recorded and the loop continues, matching §4.3's
// "on procedure failure... continue" contract.
func Run(ctx context.Context, cfg Config, deps Deps) {
	logger := deps.Logger
	for {
		if ctx.Err() != nil {
			logger.Info().Int("worker", cfg.WorkerID).Msg("worker stopping: context cancelled")
			return
		}

		ref, ok := deps.Queue.Get(cfg.WorkerID)
		if !ok {
			if deps.Queue.Drained() {
				logger.Info().Int("worker", cfg.WorkerID).Msg("worker exiting: queue drained")
				return
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}

		processOne(ctx, cfg, deps, ref)
	}
}

func processOne(ctx context.Context, cfg Config, deps Deps, ref string) {
	logger := deps.Logger
	deps.Metrics.StartReference(ref)
	startedAt := time.Now()

	taskCtx, cancel := context.WithTimeout(ctx, cfg.TaskTimeout)
	defer cancel()

	// Page actions run on a child of this worker's page context bounded by
	// the same deadline, so the per-task timeout (and run cancellation)
	// also stops an in-flight browser action.
	taskPageCtx, cancelPage := context.WithTimeout(deps.PageCtx, cfg.TaskTimeout)
	defer cancelPage()
	stopPageCancel := context.AfterFunc(ctx, cancelPage)
	defer stopPageCancel()
	taskDeps := deps
	taskDeps.PageCtx = taskPageCtx

	err := processReference(taskCtx, cfg, taskDeps, ref)

	var sessionFatal *fatalSessionError
	if errors.As(err, &sessionFatal) {
		logger.Error().Int("worker", cfg.WorkerID).Str("reference", ref).Err(err).
			Msg("aborting worker after fatal session re-authentication failure")
		deps.Metrics.EndReference(ref, "aborted", err.Error())
		return
	}

	if err == nil {
		deps.Queue.Complete(ref)
		if trackErr := deps.Tracking.MarkDownloaded(ref); trackErr != nil {
			logger.Error().Err(trackErr).Str("reference", ref).Msg("failed to persist tracking update")
		}
		if cpErr := deps.Checkpoint.RecordSuccess(ref); cpErr != nil {
			logger.Error().Err(cpErr).Str("reference", ref).Msg("failed to persist checkpoint update")
		}
		deps.Metrics.EndReference(ref, "downloaded", "")
		logger.Info().Int("worker", cfg.WorkerID).Str("reference", ref).Msg("downloaded")
		if deps.OnOutcome != nil {
			deps.OnOutcome(models.Outcome{
				Reference:   ref,
				Status:      models.StatusDownloaded,
				DurationSec: time.Since(startedAt).Seconds(),
				CompletedAt: time.Now(),
			})
		}
		return
	}

	logger.Warn().Int("worker", cfg.WorkerID).Str("reference", ref).Err(err).Msg("processing attempt failed")

	terminal := deps.Queue.Fail(ref, cfg.MaxRetries)
	if terminal {
		if trackErr := deps.Tracking.MarkFailed(ref); trackErr != nil {
			logger.Error().Err(trackErr).Str("reference", ref).Msg("failed to persist tracking update")
		}
		if cpErr := deps.Checkpoint.RecordFailure(ref); cpErr != nil {
			logger.Error().Err(cpErr).Str("reference", ref).Msg("failed to persist checkpoint update")
		}
		deps.Metrics.EndReference(ref, "failed", err.Error())
		logger.Error().Int("worker", cfg.WorkerID).Str("reference", ref).Err(err).Msg("terminal failure")
		if deps.OnOutcome != nil {
			deps.OnOutcome(models.Outcome{
				Reference:   ref,
				Status:      models.StatusFailed,
				DurationSec: time.Since(startedAt).Seconds(),
				Error:       err.Error(),
				CompletedAt: time.Now(),
			})
		}
	} else {
		deps.Metrics.EndReference(ref, "retrying", err.Error())
	}

	if recoverErr := recoverWorkerPage(deps, cfg.InventoryURL); recoverErr != nil {
		logger.Warn().Int("worker", cfg.WorkerID).Err(recoverErr).Msg("failed to recover worker page after error")
	}
}

// processReference is the single-attempt processing procedure of
// §4.3: filter to ref, open the detail view, enter the PDF critical
// section, persist the bytes, and return the page to the grid. On a
// detected session loss it re-authenticates and resumes against the
// same reference rather than treating the loss as an ordinary failure.
func processReference(ctx context.Context, cfg Config, deps Deps, ref string) error {
	if lost, err := browser.SessionLost(deps.PageCtx); err == nil && lost {
		if err := recoverFromSessionLoss(ctx, cfg, deps, ref); err != nil {
			return err
		}
		if err := browser.NavigateToInventory(deps.PageCtx, cfg.InventoryURL); err != nil {
			return fmt.Errorf("return to inventory after session refresh: %w", err)
		}
	}

	if err := browser.FilterToReference(deps.PageCtx, ref); err != nil {
		return fmt.Errorf("filter to reference: %w", err)
	}

	result, err := browser.DownloadVehiclePDF(ctx, deps.Pool, deps.PageCtx, deps.Downloader, deps.Logger)
	if err != nil {
		return fmt.Errorf("download pdf: %w", err)
	}

	artifact := models.DownloadArtifact{
		Reference: ref,
		Filename:  ref + ".pdf",
		Bytes:     result.Bytes,
	}
	if err := store.WriteArtifact(cfg.RunDir, artifact); err != nil {
		return fmt.Errorf("write pdf file: %w", err)
	}

	return browser.NavigateToInventory(deps.PageCtx, cfg.InventoryURL)
}

// recoverFromSessionLoss requests a session refresh on P0 (§7,
// "Session lost / logged out mid-run"). Success lets the caller resume
// processing the same reference; failure is escalated via OnFatal and
// returned as a fatalSessionError, which processOne routes around the
// ordinary retry/failure bookkeeping.
func recoverFromSessionLoss(ctx context.Context, cfg Config, deps Deps, ref string) error {
	deps.Logger.Warn().Int("worker", cfg.WorkerID).Str("reference", ref).Msg("session lost, requesting refresh")

	if deps.RefreshSession == nil {
		return fmt.Errorf("session lost while processing %s, no refresh configured", ref)
	}

	if err := deps.RefreshSession(ctx); err != nil {
		fatalErr := fmt.Errorf("re-authentication failed after session loss: %w", err)
		if deps.OnFatal != nil {
			deps.OnFatal(fatalErr)
		}
		return &fatalSessionError{err: fatalErr}
	}

	deps.Logger.Info().Int("worker", cfg.WorkerID).Msg("session refreshed, resuming")
	return nil
}

func recoverWorkerPage(deps Deps, inventoryURL string) error {
	return browser.NavigateToInventory(deps.PageCtx, inventoryURL)
}
