package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// DockerRuntime implements the Runtime interface using the Docker SDK. The
// playbook and workspace directories are bind-mounted read-only at their host
// paths, so a command built for the exec runtime works unchanged.
type DockerRuntime struct {
	client *client.Client
}

// DockerHandle represents a running container.
type DockerHandle struct {
	client      *client.Client
	containerID string
}

func mapToEnvList(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)
	return env
}

func readOnlyBinds(paths []string) []string {
	binds := make([]string, 0, len(paths))
	for _, p := range paths {
		binds = append(binds, p+":"+p+":ro")
	}
	return binds
}

// NewDockerRuntime creates a new Docker-based runtime.
func NewDockerRuntime() (*DockerRuntime, error) {
	// Initializes client from standard environment variables (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerRuntime{client: cli}, nil
}

// Start implements Runtime.Start using Docker containers.
func (d *DockerRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if opts.Image == "" {
		return nil, errors.New("image is required")
	}
	if len(opts.Command) == 0 {
		return nil, errors.New("command is required")
	}

	// Check if it exists locally first to save time.
	if _, _, err := d.client.ImageInspectWithRaw(ctx, opts.Image); err != nil {
		reader, err := d.client.ImagePull(ctx, opts.Image, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", opts.Image, err)
		}
		defer reader.Close()
		io.Copy(io.Discard, reader)
	}

	containerConfig := &container.Config{
		Image: opts.Image,
		Cmd:   opts.Command,
		Env:   mapToEnvList(opts.Env),
		// A TTY merges stdout and stderr into one unframed stream.
		Tty: true,
	}
	hostConfig := &container.HostConfig{
		Binds: readOnlyBinds(opts.Mounts),
	}

	name := ""
	if opts.Name != "" {
		name = "sap-qa-" + opts.Name
	}
	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.client.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	return &DockerHandle{
		client:      d.client,
		containerID: resp.ID,
	}, nil
}

func (h *DockerHandle) Wait(ctx context.Context) (ExitResult, error) {
	statusCh, errCh := h.client.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return ExitResult{ExitCode: -1, Error: err}, err
	case status := <-statusCh:
		res := ExitResult{ExitCode: int(status.StatusCode)}
		if status.Error != nil {
			res.Error = errors.New(status.Error.Message)
		}
		// 128+n is how the container runtime reports death by signal n.
		switch status.StatusCode {
		case 137:
			res.Signal = "SIGKILL"
		case 143:
			res.Signal = "SIGTERM"
		}
		return res, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

// Stop lets the daemon send SIGTERM and SIGKILL after the time left on ctx.
func (h *DockerHandle) Stop(ctx context.Context) error {
	timeout := 10
	if deadline, ok := ctx.Deadline(); ok {
		timeout = int(math.Max(0, math.Ceil(time.Until(deadline).Seconds())))
	}
	// The daemon enforces the timeout itself; ctx only bounds the API call.
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second+killWait)
	defer cancel()
	return h.client.ContainerStop(stopCtx, h.containerID, container.StopOptions{Timeout: &timeout})
}

func (h *DockerHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return h.client.ContainerLogs(ctx, h.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
}
