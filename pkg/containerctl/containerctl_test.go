package containerctl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBinary writes a tiny shell script standing in for `docker` so the
// DockerCLI path can be exercised without a real daemon.
func fakeBinary(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "docker")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestDockerCLIStop(t *testing.T) {
	bin := fakeBinary(t, `echo "$@" > "$(dirname "$0")/args.txt"; exit 0`)
	d := &DockerCLI{Binary: bin}
	err := d.Stop(context.Background(), "instance-1", 5*time.Second)
	assert.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(filepath.Dir(bin), "args.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(got), "stop -t 5 instance-1")
}

func TestDockerCLIStart(t *testing.T) {
	bin := fakeBinary(t, `exit 0`)
	d := &DockerCLI{Binary: bin}
	err := d.Start(context.Background(), "instance-1")
	assert.NoError(t, err)
}

func TestDockerCLIStartFailurePropagatesStderr(t *testing.T) {
	bin := fakeBinary(t, `echo "no such container" >&2; exit 1`)
	d := &DockerCLI{Binary: bin}
	err := d.Start(context.Background(), "missing")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no such container")
}

func TestDockerCLIIsRunningTrue(t *testing.T) {
	bin := fakeBinary(t, `echo "true"`)
	d := &DockerCLI{Binary: bin}
	running, err := d.IsRunning(context.Background(), "instance-1")
	assert.NoError(t, err)
	assert.True(t, running)
}

func TestDockerCLIIsRunningFalse(t *testing.T) {
	bin := fakeBinary(t, `echo "false"`)
	d := &DockerCLI{Binary: bin}
	running, err := d.IsRunning(context.Background(), "instance-1")
	assert.NoError(t, err)
	assert.False(t, running)
}

func TestNewDockerCLIDefaultsBinary(t *testing.T) {
	d := NewDockerCLI()
	assert.Equal(t, "docker", d.binary())
}
