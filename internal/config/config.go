// Package config loads the server settings from an optional YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

const (
	RunnerExec   = "exec"
	RunnerDocker = "docker"
)

// Config holds all configuration values for the application.
type Config struct {
	HTTPPort int `mapstructure:"http_port"`

	// DataDir holds the database and job logs unless they are set explicitly.
	DataDir      string `mapstructure:"data_dir"`
	DatabasePath string `mapstructure:"database_path"`
	LogDir       string `mapstructure:"log_dir"`

	// WorkspacesBase is the directory holding one sub-directory per SAP system.
	WorkspacesBase string `mapstructure:"workspaces_base"`
	PlaybookDir    string `mapstructure:"playbook_dir"`
	AnsibleConfig  string `mapstructure:"ansible_config"`

	// Runner backend, "exec" or "docker".
	Runner        string `mapstructure:"runner"`
	RunnerImage   string `mapstructure:"runner_image"`
	RunnerWorkDir string `mapstructure:"runner_workdir"`

	SchedulerPollInterval time.Duration `mapstructure:"scheduler_poll_interval"`
	CancelGracePeriod     time.Duration `mapstructure:"cancel_grace_period"`
	JobTimeout            time.Duration `mapstructure:"job_timeout"`

	// OTELEndpoint enables trace export when set (host:port of an OTLP gRPC collector).
	OTELEndpoint    string  `mapstructure:"otel_endpoint"`
	OTELSampleRatio float64 `mapstructure:"otel_sample_ratio"`

	// APIToken, when set, is required as a bearer token on every /api/v1 call.
	APIToken       string  `mapstructure:"api_token"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

var envBindings = map[string]string{
	"http_port":               "PORT",
	"data_dir":                "DATA_DIR",
	"database_path":           "DATABASE_PATH",
	"log_dir":                 "LOG_DIR",
	"workspaces_base":         "WORKSPACES_BASE",
	"playbook_dir":            "PLAYBOOK_DIR",
	"ansible_config":          "ANSIBLE_CONFIG",
	"runner":                  "RUNNER",
	"runner_image":            "RUNNER_IMAGE",
	"runner_workdir":          "RUNNER_WORKDIR",
	"scheduler_poll_interval": "SCHEDULER_POLL_INTERVAL",
	"cancel_grace_period":     "CANCEL_GRACE_PERIOD",
	"job_timeout":             "JOB_TIMEOUT",
	"otel_endpoint":           "OTEL_EXPORTER_OTLP_ENDPOINT",
	"otel_sample_ratio":       "OTEL_TRACES_SAMPLER_ARG",
	"api_token":               "API_TOKEN",
	"rate_limit":              "RATE_LIMIT",
	"rate_limit_burst":        "RATE_LIMIT_BURST",
	"log_level":               "LOG_LEVEL",
	"log_format":              "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 8000)
	v.SetDefault("data_dir", "data")
	v.SetDefault("workspaces_base", filepath.Join("WORKSPACES", "SYSTEM"))
	v.SetDefault("playbook_dir", "src")
	v.SetDefault("runner", RunnerExec)
	v.SetDefault("runner_image", "sap-automation-qa:latest")
	v.SetDefault("scheduler_poll_interval", "15s")
	v.SetDefault("cancel_grace_period", "10s")
	v.SetDefault("job_timeout", "1h")
	v.SetDefault("rate_limit", 50)
	v.SetDefault("rate_limit_burst", 100)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// Load reads configuration from path, or from scheduler.yaml in the working
// directory when path is empty and the file exists. Environment variables
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("scheduler")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "scheduler.db")
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.DataDir, "logs", "jobs")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.HTTPPort, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.DataDir, validation.Required),
		validation.Field(&c.WorkspacesBase, validation.Required),
		validation.Field(&c.PlaybookDir, validation.Required),
		validation.Field(&c.Runner, validation.Required, validation.In(RunnerExec, RunnerDocker)),
		validation.Field(&c.RunnerImage, validation.When(c.Runner == RunnerDocker, validation.Required)),
		validation.Field(&c.SchedulerPollInterval,
			validation.Required,
			validation.Min(time.Millisecond),
			validation.Max(time.Minute).Exclusive(),
		),
		validation.Field(&c.CancelGracePeriod, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.JobTimeout, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.OTELSampleRatio, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.RateLimit, validation.Min(0.0)),
		validation.Field(&c.RateLimitBurst, validation.Min(0)),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.LogFormat, validation.In("json", "text")),
	)
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
