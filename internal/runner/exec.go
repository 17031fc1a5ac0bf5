package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// killWait bounds how long Stop waits for the process after a forced kill.
const killWait = 5 * time.Second

// ExecRuntime implements the Runtime interface using raw OS processes.
type ExecRuntime struct {
	// WorkDir is the parent of the per-run working directories.
	WorkDir string
}

// NewExecRuntime creates a new process-based runtime.
func NewExecRuntime(workDir string) *ExecRuntime {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "sap-qa", "runner")
	}
	return &ExecRuntime{WorkDir: workDir}
}

// ExecHandle is a process started by ExecRuntime.
type ExecHandle struct {
	cmd    *exec.Cmd
	output *os.File
	// workDir is removed once the process exits; empty for the shared WorkDir.
	workDir string

	done   chan struct{}
	result ExitResult

	streamOnce sync.Once
}

// Start implements Runtime.Start using os/exec. The process runs in its own
// process group so that Stop reaches every child it forks.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("command is required")
	}

	dir, runDir := e.WorkDir, ""
	if opts.Name != "" {
		dir = filepath.Join(e.WorkDir, opts.Name)
		runDir = dir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	cleanup := func() {
		if runDir != "" {
			os.RemoveAll(runDir)
		}
	}

	// The process outlives the request that started it, so it is not bound to ctx.
	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	setProcAttr(cmd)

	// Both streams share one pipe so the log keeps their relative order.
	pr, pw, err := os.Pipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		cleanup()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}
	// The child holds its own copy of the write end.
	pw.Close()

	h := &ExecHandle{
		cmd:     cmd,
		output:  pr,
		workDir: runDir,
		done:    make(chan struct{}),
	}
	go h.wait()
	return h, nil
}

func (h *ExecHandle) wait() {
	err := h.cmd.Wait()
	res := ExitResult{ExitCode: h.cmd.ProcessState.ExitCode()}
	if sig, ok := exitSignal(h.cmd.ProcessState); ok {
		res.Signal = sig
	} else if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			res.Error = err
		}
	}
	if h.workDir != "" {
		os.RemoveAll(h.workDir)
	}
	h.result = res
	close(h.done)
}

func (h *ExecHandle) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

// Stop sends SIGTERM to the process group and SIGKILL once ctx is done.
func (h *ExecHandle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := terminate(h.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to signal process: %w", err)
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
	}

	if err := kill(h.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process: %w", err)
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(killWait):
		return errors.New("process did not exit after kill")
	}
}

// StreamLogs returns the output pipe. It can be taken only once.
func (h *ExecHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	var rc io.ReadCloser
	h.streamOnce.Do(func() { rc = h.output })
	if rc == nil {
		return nil, errors.New("log stream already taken")
	}
	return rc, nil
}
