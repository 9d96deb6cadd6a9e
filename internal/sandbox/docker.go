package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	dockerImage     = "vibe-sandbox:latest"
	dockerUser      = "1000"
	dockerWorkDir   = "/workspace"
	dockerStopSecs  = 5
	memoryLimit     = 512 * 1024 * 1024 // 512MB
	cpuQuota        = 50000             // 0.5 CPU
	pidsLimit int64 = 256
)

// DockerRunner executes each command in a throwaway container with the
// sandbox directory bind-mounted at /workspace and networking disabled.
type DockerRunner struct {
	cli    *client.Client
	logger *slog.Logger
}

var _ Runner = (*DockerRunner)(nil)

// NewDockerRunner creates a docker-backed runner.
func NewDockerRunner(logger *slog.Logger) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	logger.Info("docker sandbox runner initialized", "image", dockerImage)
	return &DockerRunner{cli: cli, logger: logger}, nil
}

// Run executes one command in a fresh container and waits for it to exit.
func (r *DockerRunner) Run(ctx context.Context, spec RunSpec) (*RunOutput, error) {
	env := make([]string, 0, len(spec.Env))
	for _, e := range spec.Env {
		// HOME and PYTHONPATH refer to host paths; remap to the mount.
		if strings.HasPrefix(e, "HOME=") {
			e = "HOME=" + dockerWorkDir
		}
		if strings.HasPrefix(e, "PYTHONPATH=") {
			e = "PYTHONPATH=" + dockerWorkDir
		}
		env = append(env, e)
	}

	cfg := &container.Config{
		Image:      dockerImage,
		User:       dockerUser,
		WorkingDir: dockerWorkDir,
		Cmd:        spec.Args,
		Env:        env,
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.Dir,
			Target: dockerWorkDir,
		}},
		Resources: container.Resources{
			Memory:    memoryLimit,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(pidsLimit),
		},
	}

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create sandbox container: %w", err)
	}
	defer r.remove(resp.ID)

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start sandbox container: %w", err)
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case <-ctx.Done():
		timeout := dockerStopSecs
		_ = r.cli.ContainerStop(context.Background(), resp.ID, container.StopOptions{Timeout: &timeout})
		return nil, ctx.Err()
	case err := <-errCh:
		return nil, fmt.Errorf("wait for sandbox container: %w", err)
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	stdout, stderr, err := r.collectLogs(ctx, resp.ID)
	if err != nil {
		return nil, err
	}
	return &RunOutput{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

func (r *DockerRunner) collectLogs(ctx context.Context, id string) ([]byte, []byte, error) {
	logs, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, nil, fmt.Errorf("read sandbox container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr strings.Builder
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("demux sandbox container logs: %w", err)
	}
	return []byte(stdout.String()), []byte(stderr.String()), nil
}

func (r *DockerRunner) remove(id string) {
	err := r.cli.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		r.logger.Warn("failed to remove sandbox container", "container_id", id, "error", err)
	}
}

func ptr[T any](v T) *T { return &v }
