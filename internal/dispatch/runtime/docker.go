package runtime

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerConfig holds resource limits applied to every task container.
type DockerConfig struct {
	MemoryBytes int64
	NanoCPUs    int64
}

// DockerRuntime implements the Runtime interface using the Docker SDK.
type DockerRuntime struct {
	client *client.Client
	config DockerConfig
}

// DockerHandle represents a running container.
type DockerHandle struct {
	client      *client.Client
	containerID string
}

// NewDockerRuntime creates a new Docker-based runtime.
// Zero limits default to 4 GiB of memory and 2 CPUs.
func NewDockerRuntime(cfg DockerConfig) (*DockerRuntime, error) {
	// Initializes client from standard environment variables (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if cfg.MemoryBytes == 0 {
		cfg.MemoryBytes = 4 << 30
	}
	if cfg.NanoCPUs == 0 {
		cfg.NanoCPUs = 2e9
	}
	return &DockerRuntime{client: cli, config: cfg}, nil
}

// Start implements Runtime.Start using Docker containers.
func (d *DockerRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	// Pull only when the image is missing locally.
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
		Env:   EnvList(opts.Env),
	}
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:   d.config.MemoryBytes,
			NanoCPUs: d.config.NanoCPUs,
		},
	}
	created, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, opts.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	return &DockerHandle{client: d.client, containerID: created.ID}, nil
}

// Wait blocks until the container exits and then removes it.
func (h *DockerHandle) Wait(ctx context.Context) (ExitResult, error) {
	statusCh, errCh := h.client.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return ExitResult{ExitCode: -1, Error: err}, err
	case status := <-statusCh:
		h.remove(context.WithoutCancel(ctx))
		if status.Error != nil {
			return ExitResult{
				ExitCode: int(status.StatusCode),
				Error:    fmt.Errorf("%s", status.Error.Message),
			}, nil
		}
		return ExitResult{ExitCode: int(status.StatusCode)}, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

func (h *DockerHandle) Stop(ctx context.Context) error {
	timeout := 5
	if err := h.client.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return err
	}
	h.remove(ctx)
	return nil
}

func (h *DockerHandle) remove(ctx context.Context) {
	err := h.client.ContainerRemove(ctx, h.containerID, container.RemoveOptions{RemoveVolumes: true, Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		log.Printf("Failed to remove container %s: %v", h.containerID, err)
	}
}

// StreamLogs follows the container's output. Without a TTY the daemon
// multiplexes stdout and stderr into framed chunks, which are unwrapped here.
func (h *DockerHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	rc, err := h.client.ContainerLogs(ctx, h.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, err
	}
	return demux(rc), nil
}

type demuxedLogs struct {
	*io.PipeReader
	src io.Closer
}

func (d *demuxedLogs) Close() error {
	d.src.Close()
	return d.PipeReader.Close()
}

// demux strips the stdcopy frame headers from a multiplexed log stream and
// merges stdout and stderr into one reader.
func demux(src io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, src)
		pw.CloseWithError(err)
	}()
	return &demuxedLogs{PipeReader: pr, src: src}
}
