package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Pbein/JDPBookout/internal/common"
	"github.com/Pbein/JDPBookout/internal/orchestrator"
	"github.com/Pbein/JDPBookout/internal/progress"
	"github.com/Pbein/JDPBookout/internal/report"
	"github.com/Pbein/JDPBookout/internal/schedule"
)

// configPaths allows -config to be specified multiple times; later
// files override earlier ones.
type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }
func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
	headlessFlag = flag.Bool("headless", true, "Run the browser headless (overrides config)")
	maxDownloads = flag.Int("max-downloads", -1, "Cap the number of references processed this run, -1 to use config (overrides config)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Println(common.GetFullVersion())
		os.Exit(0)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("jdpbookout.toml"); err == nil {
			configFiles = append(configFiles, "jdpbookout.toml")
		}
	}

	config, err := common.LoadFromFiles([]string(configFiles)...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	if !*headlessFlag {
		config.Headless = false
	}
	if *maxDownloads >= 0 {
		config.MaxDownloads = *maxDownloads
	}

	if err := config.Validate(); err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.InstallCrashHandler(config.Logging.Dir)
	defer common.RecoverWithCrashFile()

	common.PrintBanner(common.GetFullVersion())

	logger.Info().
		Strs("configFiles", configFiles).
		Int("concurrentContexts", config.ConcurrentContexts).
		Bool("headless", config.Headless).
		Msg("jdpbookout starting")

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	common.SafeGo(logger, "signal-watcher", func() {
		<-sigChan
		logger.Info().Msg("interrupt received, cancelling in-flight run")
		cancel()
	})

	var broadcaster *progress.Broadcaster
	if config.ProgressAddr != "" {
		broadcaster = progress.New(config.ProgressAddr, logger)
		common.SafeGo(logger, "progress-broadcaster", func() {
			if err := broadcaster.Start(); err != nil {
				logger.Error().Err(err).Msg("progress broadcaster exited")
			}
		})
		defer broadcaster.Stop()
	}

	runOnce := func() (*orchestrator.Report, error) {
		return runPass(rootCtx, config, logger, broadcaster)
	}

	if config.CronSchedule != "" {
		runner, err := schedule.New(config.CronSchedule, runOnce, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build schedule runner")
			os.Exit(1)
		}
		runner.Start()

		select {
		case <-rootCtx.Done():
			runner.Stop()
		case <-runner.Stopped():
		}
		return
	}

	rpt, err := runOnce()
	if err != nil {
		var fatal *orchestrator.FatalSetupError
		if errors.As(err, &fatal) {
			logger.Fatal().Err(err).Str("stage", fatal.Stage).Msg("fatal setup failure")
			os.Exit(1)
		}
		logger.Fatal().Err(err).Msg("run failed")
		os.Exit(1)
	}

	logger.Info().
		Str("runDir", rpt.RunDir).
		Int("terminalFailures", len(rpt.TerminalFailures)).
		Bool("stuck", rpt.Stuck).
		Msg("run complete")
}

func runPass(ctx context.Context, config *common.Config, logger arbor.ILogger, broadcaster *progress.Broadcaster) (*orchestrator.Report, error) {
	cfg := orchestrator.Config{
		Username:                    config.Username,
		Password:                    config.Password,
		Headless:                    config.Headless,
		BlockResources:              config.BlockResources,
		MaxDownloads:                config.MaxDownloads,
		ConcurrentContexts:          config.ConcurrentContexts,
		TaskTimeout:                 config.TaskTimeout(),
		StuckThreshold:              config.StuckThreshold(),
		WatchdogInterval:            config.WatchdogInterval(),
		MaxRetries:                  config.MaxRetries,
		DownloadRoot:                config.DownloadRoot,
		ReferenceColumn:             config.ReferenceColumn,
		DownloadRateLimitPerSecond:  config.DownloadRateLimitPerSecond,
		ConsecutiveFailureThreshold: config.ConsecutiveFailureThreshold,
		LoginURL:                    config.LoginURL,
		InventoryURL:                config.InventoryURL,
		Progress:                    broadcaster,
	}

	start := time.Now()
	rpt, err := orchestrator.Run(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Dur("totalRuntime", time.Since(start)).
		Int("succeeded", rpt.Summary.Succeeded).
		Int("failed", rpt.Summary.Failed).
		Msg("orchestrator pass finished")

	reportPath, err := report.Render(report.Data{
		RunDir:             rpt.RunDir,
		Summary:            rpt.Summary,
		AverageSuccessSecs: rpt.AverageSuccessSecs,
		TerminalFailures:   rpt.TerminalFailures,
		Stuck:              rpt.Stuck,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to render report.pdf")
	} else {
		logger.Info().Str("path", reportPath).Msg("report.pdf written")
	}

	return rpt, nil
}
