// Package runner starts and supervises the automation subprocess of a job.
package runner

import (
	"context"
	"fmt"
	"io"
)

// Runtime defines the interface for executing jobs.
// Implementations include raw process execution and Docker.
type Runtime interface {
	// Start begins execution and returns a handle. A returned error means
	// nothing was left running.
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions contains the parameters for starting a job.
type StartOptions struct {
	// Name identifies the run, typically the job id.
	Name    string
	Image   string
	Command []string
	Env     map[string]string

	// Mounts lists host paths the run must be able to read. Process runtimes
	// ignore it.
	Mounts []string
}

// ExitResult describes how the subprocess ended.
type ExitResult struct {
	ExitCode int
	// Signal is set when the process was terminated by a signal.
	Signal string
	Error  error
}

// Handle represents a running job execution.
type Handle interface {
	// Wait blocks until the job exits. If ctx ends first it returns exit
	// code -1 and ctx.Err().
	Wait(ctx context.Context) (ExitResult, error)

	// Stop asks the job to terminate and escalates to a forced kill when ctx
	// expires.
	Stop(ctx context.Context) error

	// StreamLogs returns the combined stdout and stderr of the job. The
	// reader reaches EOF once the job has exited.
	StreamLogs(ctx context.Context) (io.ReadCloser, error)
}

// Describe renders an exit result for job records and logs.
func Describe(res ExitResult) string {
	switch {
	case res.Signal == "SIGKILL":
		return "Process killed by SIGKILL (likely OOM-killed or forced termination)"
	case res.Signal != "":
		return fmt.Sprintf("Process terminated by %s", res.Signal)
	case res.ExitCode == 137:
		return "Process exited with code 137 (killed, likely OOM or forced termination)"
	case res.Error != nil && res.ExitCode < 0:
		return fmt.Sprintf("Process did not exit cleanly: %v", res.Error)
	default:
		return fmt.Sprintf("Process exited with code %d", res.ExitCode)
	}
}
