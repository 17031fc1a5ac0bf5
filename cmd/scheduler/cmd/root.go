// Package cmd holds the commands of the scheduler binary.
package cmd

import (
	"log/slog"

	"github.com/Azure/sap-automation-qa/internal/config"
	"github.com/Azure/sap-automation-qa/internal/logger"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sap-qa-scheduler",
	Short: "Schedules and runs SAP high availability validation suites",
	Long: `sap-qa-scheduler runs the SAP HA validation playbooks against the systems
found under the workspaces directory and exposes their lifecycle over a REST API.

At most one job runs per workspace at a time. Jobs are started on demand through
POST /api/v1/jobs or by cron schedules managed under /api/v1/schedules.

Configuration is read from --config, or scheduler.yaml in the working directory,
and environment variables such as PORT, DATA_DIR, WORKSPACES_BASE and RUNNER.

Running without a subcommand starts the server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./scheduler.yaml when present)")
}

// loadConfig reads the configuration for a command.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logger.New(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
}
