// Package orchestrator is the composition root (§4.7): it performs
// session bring-up, spawns the workers and watchdog, waits for drain,
// tears everything down, and produces the final report.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Pbein/JDPBookout/internal/browser"
	"github.com/Pbein/JDPBookout/internal/common"
	"github.com/Pbein/JDPBookout/internal/inventory"
	"github.com/Pbein/JDPBookout/internal/models"
	"github.com/Pbein/JDPBookout/internal/progress"
	"github.com/Pbein/JDPBookout/internal/queue"
	"github.com/Pbein/JDPBookout/internal/store"
	"github.com/Pbein/JDPBookout/internal/validator"
	"github.com/Pbein/JDPBookout/internal/worker"
	"github.com/ternarybob/arbor"
)

// FatalSetupError distinguishes an unrecoverable bring-up failure
// (login rejected, export failed, browser crash before any work
// dispatched) from ordinary per-reference failures, so the caller can
// map it to a non-zero exit code without string matching (§7).
type FatalSetupError struct {
	Stage string
	Err   error
}

func (e *FatalSetupError) Error() string {
	return fmt.Sprintf("fatal setup failure during %s: %v", e.Stage, e.Err)
}

func (e *FatalSetupError) Unwrap() error { return e.Err }

// Config holds the resolved, validated run configuration (§6).
type Config struct {
	Username                    string
	Password                    string
	Headless                    bool
	BlockResources              bool
	MaxDownloads                int
	ConcurrentContexts          int
	TaskTimeout                 time.Duration
	StuckThreshold              time.Duration
	WatchdogInterval            time.Duration
	MaxRetries                  int
	DownloadRoot                string
	ReferenceColumn             string
	DownloadRateLimitPerSecond  float64
	ConsecutiveFailureThreshold int
	LoginURL                    string
	InventoryURL                string

	// Progress, if set, receives queue snapshots on every watchdog tick
	// and every worker terminal outcome. Optional; the orchestrator
	// works identically with it nil.
	Progress *progress.Broadcaster
}

// Report is the orchestrator's final summary (§4.7).
type Report struct {
	RunDir             string            `json:"runDir"`
	Summary            *store.RunSummary `json:"summary"`
	TerminalFailures   []string          `json:"terminalFailures"`
	AverageSuccessSecs float64           `json:"averageSuccessSeconds"`
	ValidationReport   *validator.Report `json:"validationReport,omitempty"`

	// Stuck reports whether the checkpoint's consecutive-failure counter
	// reached Config.ConsecutiveFailureThreshold by the end of the run —
	// a signal that something systemic (not just unlucky individual
	// references) is wrong, surfaced for the operator rather than acted
	// on automatically.
	Stuck bool `json:"stuck"`
}

// Run executes one full orchestrator pass: bring-up, drain, report. All
// logging for the run, including every worker's, goes through a child
// logger carrying this run's ID as its correlation ID (§1a), so
// interleaved output from concurrent workers can be attributed back to
// a single invocation.
func Run(ctx context.Context, cfg Config, baseLogger arbor.ILogger) (*Report, error) {
	runID := common.NewRunID()
	logger := baseLogger.WithCorrelationId(runID)
	logger.Info().Str("runID", runID).Msg("starting run")

	runDir, err := store.ResolveRunDir(cfg.DownloadRoot, time.Now())
	if err != nil {
		return nil, &FatalSetupError{Stage: "resolve run directory", Err: err}
	}
	logger.Info().Str("runDir", runDir).Msg("resolved run directory")

	metrics := store.NewMetrics(runDir)
	metrics.AddMetadata("concurrentContexts", fmt.Sprintf("%d", cfg.ConcurrentContexts))
	metrics.AddMetadata("headless", fmt.Sprintf("%t", cfg.Headless))

	pool, err := browser.NewPool(browser.PoolConfig{
		Headless:       cfg.Headless,
		BlockResources: cfg.BlockResources,
	}, logger)
	if err != nil {
		return nil, &FatalSetupError{Stage: "launch browser", Err: err}
	}
	defer pool.Close()

	loginIdx, primaryPageCtx, err := pool.NewPage(ctx)
	if err != nil {
		return nil, &FatalSetupError{Stage: "open primary page", Err: err}
	}
	_ = loginIdx

	if err := metrics.TrackStep("login", func() error {
		return browser.Login(ctx, primaryPageCtx, browser.Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
		}, browser.Endpoints{LoginURL: cfg.LoginURL, InventoryURL: cfg.InventoryURL}, logger)
	}); err != nil {
		return nil, &FatalSetupError{Stage: "login", Err: err}
	}

	csvPath, err := exportInventory(primaryPageCtx, runDir, metrics)
	if err != nil {
		return nil, &FatalSetupError{Stage: "export inventory", Err: err}
	}

	records, err := inventory.ReadReferences(csvPath, cfg.ReferenceColumn)
	if err != nil {
		return nil, &FatalSetupError{Stage: "read inventory csv", Err: err}
	}
	logger.Info().Int("count", len(records)).Msg("read inventory references")

	tracking, err := store.LoadTrackingStore(runDir)
	if err != nil {
		return nil, &FatalSetupError{Stage: "load tracking store", Err: err}
	}
	for _, ref := range records {
		tracking.EnsurePending(ref)
	}
	if err := tracking.Flush(); err != nil {
		return nil, &FatalSetupError{Stage: "persist tracking store", Err: err}
	}

	checkpoint, err := store.LoadCheckpointStore(runDir)
	if err != nil {
		return nil, &FatalSetupError{Stage: "load checkpoint store", Err: err}
	}

	pending := tracking.PendingReferences(runDir, records)
	if cfg.MaxDownloads > 0 && len(pending) > cfg.MaxDownloads {
		pending = pending[:cfg.MaxDownloads]
	}
	logger.Info().Int("pending", len(pending)).Msg("references pending this run")

	taskQueue := queue.NewTaskQueue(pending)

	if len(pending) > 0 {
		if err := metrics.TrackStep("bring_up", func() error {
			return bringUpWorkerPages(ctx, pool, cfg, logger)
		}); err != nil {
			return nil, &FatalSetupError{Stage: "bring up worker pages", Err: err}
		}

		downloader, err := browser.NewDownloader(cfg.DownloadRateLimitPerSecond)
		if err != nil {
			return nil, &FatalSetupError{Stage: "build pdf downloader", Err: err}
		}

		if err := metrics.TrackStep("drain", func() error {
			return runWorkers(ctx, cfg, pool, taskQueue, tracking, checkpoint, metrics, downloader, runDir, logger)
		}); err != nil {
			return nil, &FatalSetupError{Stage: "session re-authentication", Err: err}
		}
	}

	stats := taskQueue.Stats()
	metrics.Finalize(len(records), len(pending), stats.Completed, stats.TerminallyFailed, stats.Pending+stats.InProgress)
	if _, err := metrics.Save(); err != nil {
		logger.Warn().Err(err).Msg("failed to save metrics")
	}

	report := &Report{
		RunDir:             runDir,
		Summary:            metrics.Summary(),
		AverageSuccessSecs: metrics.AverageSuccessDuration(),
		Stuck:              checkpoint.IsStuck(cfg.ConsecutiveFailureThreshold),
	}
	if report.Stuck {
		logger.Warn().Int("consecutiveFailures", checkpoint.Snapshot().ConsecutiveFailures).
			Msg("run ended with consecutive failures at or above the stuck threshold")
	}
	snapshot := tracking.Snapshot()
	for ref, status := range snapshot {
		if status != nil && *status == models.StatusFailed {
			report.TerminalFailures = append(report.TerminalFailures, ref)
		}
	}

	if validation, err := validator.Run(runDir); err != nil {
		logger.Warn().Err(err).Msg("post-run validation failed, continuing")
	} else {
		report.ValidationReport = validation
	}

	return report, nil
}

// exportInventory drives the export action and polls the run's
// run_data directory for the resulting CSV to appear, since the site
// serves the export as a browser download rather than a readable
// response body.
func exportInventory(pageCtx context.Context, runDir string, metrics *store.Metrics) (string, error) {
	dataDir := store.DataDir(runDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create run_data directory: %w", err)
	}

	var csvPath string
	err := metrics.TrackStep("export_inventory", func() error {
		if err := browser.ConfigureDownloads(pageCtx, dataDir); err != nil {
			return fmt.Errorf("configure download directory: %w", err)
		}
		if err := browser.ExportInventoryCSV(pageCtx); err != nil {
			return fmt.Errorf("trigger export: %w", err)
		}

		path, err := waitForCSV(dataDir, 30*time.Second)
		if err != nil {
			return err
		}
		csvPath = path
		return nil
	})
	return csvPath, err
}

func waitForCSV(dir string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		entries, err := os.ReadDir(dir)
		if err == nil {
			for _, e := range entries {
				if !e.IsDir() && filepath.Ext(e.Name()) == ".csv" {
					return filepath.Join(dir, e.Name()), nil
				}
			}
		}
		time.Sleep(250 * time.Millisecond)
	}
	return "", fmt.Errorf("timed out waiting for exported csv in %s", dir)
}

// bringUpWorkerPages creates the remaining N-1 worker pages (the first
// is already open and logged in) and navigates each to the inventory
// view (§4.2 step 5).
func bringUpWorkerPages(ctx context.Context, pool *browser.Pool, cfg Config, logger arbor.ILogger) error {
	for i := 1; i < cfg.ConcurrentContexts; i++ {
		_, pageCtx, err := pool.NewPage(ctx)
		if err != nil {
			return fmt.Errorf("create worker page %d: %w", i, err)
		}
		if err := browser.NavigateToInventory(pageCtx, cfg.InventoryURL); err != nil {
			return fmt.Errorf("navigate worker page %d to inventory: %w", i, err)
		}
	}
	logger.Info().Int("pages", pool.PageCount()).Msg("worker pages ready")
	return nil
}

// runWorkers spawns the watchdog and one goroutine per worker page, and
// blocks until every worker has drained the queue or the run has been
// aborted. It returns a non-nil error only when re-authentication after
// a mid-run session loss itself fails (§7) — every other per-reference
// failure is handled inside the worker loop and never surfaces here.
func runWorkers(ctx context.Context, cfg Config, pool *browser.Pool, taskQueue *queue.TaskQueue,
	tracking *store.TrackingStore, checkpoint *store.CheckpointStore, metrics *store.Metrics,
	downloader *browser.Downloader, runDir string, logger arbor.ILogger) error {

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	watchdog := queue.NewWatchdog(taskQueue, cfg.WatchdogInterval, cfg.StuckThreshold, logger)
	if cfg.Progress != nil {
		watchdog.OnTick = func(stats models.QueueStats) {
			cfg.Progress.Push(progress.Snapshot{Stats: stats, Timestamp: time.Now()})
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	common.SafeGo(logger, "watchdog", func() {
		defer wg.Done()
		watchdog.Run(runCtx)
	})

	var onOutcome func(models.Outcome)
	if cfg.Progress != nil {
		onOutcome = func(outcome models.Outcome) {
			cfg.Progress.Push(progress.Snapshot{
				Stats:       taskQueue.Stats(),
				LastOutcome: &outcome,
				Timestamp:   time.Now(),
			})
		}
	}

	// P0 (pool.Page(0)) is the only page ever used to authenticate —
	// the site rejects concurrent logins from a second context — so
	// re-authentication after a session loss always re-runs Login
	// there, under the PDF mutex, regardless of which worker's page
	// detected the loss.
	refreshSession := func(refreshCtx context.Context) error {
		return browser.RefreshSession(refreshCtx, pool.Page(0), browser.Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
		}, browser.Endpoints{LoginURL: cfg.LoginURL, InventoryURL: cfg.InventoryURL}, logger)
	}

	var fatalMu sync.Mutex
	var fatalErr error
	onFatal := func(err error) {
		fatalMu.Lock()
		defer fatalMu.Unlock()
		if fatalErr == nil {
			fatalErr = err
			logger.Error().Err(err).Msg("fatal session re-authentication failure, stopping all workers")
		}
		cancelRun()
	}

	for i := 0; i < pool.PageCount(); i++ {
		workerID := i
		wg.Add(1)
		common.SafeGo(logger, fmt.Sprintf("worker-%d", workerID), func() {
			defer wg.Done()
			worker.Run(runCtx, worker.Config{
				WorkerID:     workerID,
				TaskTimeout:  cfg.TaskTimeout,
				MaxRetries:   cfg.MaxRetries,
				InventoryURL: cfg.InventoryURL,
				RunDir:       runDir,
			}, worker.Deps{
				Queue:          taskQueue,
				Pool:           pool,
				PageCtx:        pool.Page(workerID),
				Tracking:       tracking,
				Checkpoint:     checkpoint,
				Metrics:        metrics,
				Downloader:     downloader,
				Logger:         logger,
				OnOutcome:      onOutcome,
				RefreshSession: refreshSession,
				OnFatal:        onFatal,
			})
		})
	}

	wg.Wait()
	cancelRun()

	fatalMu.Lock()
	defer fatalMu.Unlock()
	return fatalErr
}
