// Package containerctl drives instance lifecycle (stop/start) for the
// failover orchestrator: a containerd-native path (SIGTERM via
// task.Kill, wait, SIGKILL on timeout, task.Delete) and an os/exec
// docker-CLI fallback for environments without a containerd socket.
package containerctl

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"

	"github.com/cuemby/quorum/pkg/log"
)

// Namespace is the containerd namespace instance containers run in.
const Namespace = "quorum"

// DefaultSocketPath is the default containerd socket.
const DefaultSocketPath = "/run/containerd/containerd.sock"

// Controller stops and starts an instance's container, preferring a
// containerd socket and falling back to the docker CLI.
type Controller interface {
	Stop(ctx context.Context, containerID string, timeout time.Duration) error
	Start(ctx context.Context, containerID string) error
	IsRunning(ctx context.Context, containerID string) (bool, error)
}

// Containerd drives instances directly through containerd.
type Containerd struct {
	client *containerd.Client
}

// NewContainerd connects to the containerd socket.
func NewContainerd(socketPath string) (*Containerd, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("containerctl: connect to containerd: %w", err)
	}
	return &Containerd{client: client}, nil
}

// Close releases the containerd client.
func (c *Containerd) Close() error { return c.client.Close() }

// Stop sends SIGTERM, waits up to timeout, then SIGKILLs and deletes the
// task, mirroring the runtime package's StopContainer.
func (c *Containerd) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	container, err := c.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("containerctl: load container %s: %w", containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil // not running
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("containerctl: sigterm %s: %w", containerID, err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("containerctl: wait %s: %w", containerID, err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		log.WithComponent("containerctl").Warn().Str("container", containerID).Msg("graceful stop timed out, sending SIGKILL")
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("containerctl: sigkill %s: %w", containerID, err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("containerctl: delete task %s: %w", containerID, err)
	}
	return nil
}

// Start creates and starts a task for an already-loaded container,
// mirroring the runtime package's StartContainer.
func (c *Containerd) Start(ctx context.Context, containerID string) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	container, err := c.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("containerctl: load container %s: %w", containerID, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("containerctl: create task %s: %w", containerID, err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("containerctl: start task %s: %w", containerID, err)
	}
	return nil
}

// IsRunning reports whether containerID currently has a running task.
func (c *Containerd) IsRunning(ctx context.Context, containerID string) (bool, error) {
	ctx = namespaces.WithNamespace(ctx, Namespace)
	container, err := c.client.LoadContainer(ctx, containerID)
	if err != nil {
		return false, fmt.Errorf("containerctl: load container %s: %w", containerID, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return false, nil
	}
	status, err := task.Status(ctx)
	if err != nil {
		return false, fmt.Errorf("containerctl: status %s: %w", containerID, err)
	}
	return status.Status == containerd.Running, nil
}

// DockerCLI drives instances through the docker CLI binary, for
// environments without a containerd socket exposed to the coordinator.
type DockerCLI struct {
	Binary string // defaults to "docker"
}

// NewDockerCLI builds a docker-CLI controller.
func NewDockerCLI() *DockerCLI {
	return &DockerCLI{Binary: "docker"}
}

func (d *DockerCLI) binary() string {
	if d.Binary == "" {
		return "docker"
	}
	return d.Binary
}

// Stop runs `docker stop -t <timeout-seconds> <containerID>`.
func (d *DockerCLI) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	return d.run(ctx, "stop", "-t", fmt.Sprintf("%d", int(timeout.Seconds())), containerID)
}

// Start runs `docker start <containerID>`.
func (d *DockerCLI) Start(ctx context.Context, containerID string) error {
	return d.run(ctx, "start", containerID)
}

// IsRunning runs `docker inspect -f {{.State.Running}} <containerID>`.
func (d *DockerCLI) IsRunning(ctx context.Context, containerID string) (bool, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.binary(), "inspect", "-f", "{{.State.Running}}", containerID)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("containerctl: docker inspect %s: %w (%s)", containerID, err, stderr.String())
	}
	return bytes.Contains(stdout.Bytes(), []byte("true")), nil
}

func (d *DockerCLI) run(ctx context.Context, args ...string) error {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.binary(), args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("containerctl: docker %v: %w (%s)", args, err, stderr.String())
	}
	return nil
}
