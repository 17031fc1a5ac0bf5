package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Azure/sap-automation-qa/internal/config"
	"github.com/Azure/sap-automation-qa/internal/controller"
	"github.com/Azure/sap-automation-qa/internal/controller/handlers"
	"github.com/Azure/sap-automation-qa/internal/jobmanager"
	"github.com/Azure/sap-automation-qa/internal/observability"
	"github.com/Azure/sap-automation-qa/internal/runner"
	"github.com/Azure/sap-automation-qa/internal/scheduler"
	"github.com/Azure/sap-automation-qa/internal/store/sqlite"
	"github.com/Azure/sap-automation-qa/internal/workspace"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and the schedule loop",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func newRuntime(cfg *config.Config) (runner.Runtime, error) {
	switch cfg.Runner {
	case config.RunnerDocker:
		rt, err := runner.NewDockerRuntime()
		if err != nil {
			return nil, err
		}
		return rt, nil
	default:
		return runner.NewExecRuntime(cfg.RunnerWorkDir), nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing is optional; spans are no-ops without a collector.
	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
			ServiceName:    "sap-qa-scheduler",
			ServiceVersion: handlers.Version,
			CollectorAddr:  cfg.OTELEndpoint,
			SampleRatio:    cfg.OTELSampleRatio,
		})
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Error("failed to shutdown metrics", "error", err)
		}
	}()

	st, err := sqlite.New(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := sqlite.Migrate(st.DB()); err != nil {
		return err
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return fmt.Errorf("failed to create %s runtime: %w", cfg.Runner, err)
	}

	osFs := afero.NewOsFs()
	resolver := workspace.NewResolver(osFs, cfg.WorkspacesBase, log)
	builder := &runner.AnsibleBuilder{
		FS:            osFs,
		PlaybookDir:   cfg.PlaybookDir,
		AnsibleConfig: cfg.AnsibleConfig,
		Image:         cfg.RunnerImage,
	}

	manager := jobmanager.New(st, resolver, rt, builder, jobmanager.Config{
		LogDir:      cfg.LogDir,
		GracePeriod: cfg.CancelGracePeriod,
		JobTimeout:  cfg.JobTimeout,
	}, log)
	if err := manager.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	if err := observability.RegisterJobGauges(st.CountActiveJobs, func() int {
		return len(manager.RunningJobIDs())
	}, log); err != nil {
		log.Warn("failed to register job gauges", "error", err)
	}

	sched := scheduler.New(st, manager, scheduler.Config{PollInterval: cfg.SchedulerPollInterval}, log)

	h := handlers.New(manager, sched, resolver, st, log)
	srv := controller.New(controller.Options{
		Addr:           cfg.Addr(),
		APIToken:       cfg.APIToken,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		Metrics:        metricsHandler,
		Logger:         log,
	}, h)

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("scheduler stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		log.Info("scheduler API starting", "addr", cfg.Addr(), "runner", cfg.Runner, "workspaces", cfg.WorkspacesBase)
		if err := srv.Run(ctx); err != nil {
			serverErr <- err
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	case runErr = <-serverErr:
		log.Error("server stopped", "error", runErr)
	}

	// Stops the HTTP server and the schedule loop.
	cancel()
	wg.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.CancelGracePeriod+5*time.Second)
	defer cancelShutdown()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error("runners did not stop in time", "error", err)
	}

	log.Info("scheduler exited")
	return runErr
}
