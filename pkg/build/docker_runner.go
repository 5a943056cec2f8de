package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"
)

// DefaultDockerImage is the toolchain image used when none is configured
const DefaultDockerImage = "node:20-alpine"

const containerWorkDir = "/workspace"

// DockerConfig configures containerised builds
type DockerConfig struct {
	Image       string
	MemoryLimit int64   // bytes, 0 for unlimited
	CPULimit    float64 // CPUs, 0 for unlimited
	Stdout      io.Writer
	Stderr      io.Writer
}

// DockerRunner runs toolchain commands inside a Node.js container with the
// project directory bind-mounted at /workspace
type DockerRunner struct {
	client *client.Client
	config DockerConfig
	logger *logrus.Logger

	mu     sync.Mutex
	pulled map[string]bool
}

// NewDockerRunner connects to the Docker daemon from the environment
func NewDockerRunner(cfg DockerConfig, logger *logrus.Logger) (*DockerRunner, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Image == "" {
		cfg.Image = DefaultDockerImage
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDockerNotAvailable, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("%w: %v", ErrDockerNotAvailable, err)
	}

	return &DockerRunner{
		client: cli,
		config: cfg,
		logger: logger,
		pulled: make(map[string]bool),
	}, nil
}

// Start creates and starts a container running cmd
func (r *DockerRunner) Start(ctx context.Context, cmd *Command) (Process, error) {
	if len(cmd.Args) == 0 {
		return nil, errors.New("empty command")
	}
	if err := r.PullImage(ctx, r.config.Image); err != nil {
		return nil, err
	}

	projectDir, err := filepath.Abs(cmd.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}

	config, hostConfig := containerSpec(r.config, cmd, projectDir)
	resp, err := r.client.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		r.remove(resp.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"container_id": shortID(resp.ID),
		"image":        r.config.Image,
		"command":      cmd.String(),
	}).Debug("Started build container")

	return &containerProcess{ctx: ctx, runner: r, id: resp.ID}, nil
}

// PullImage ensures the image is available locally
func (r *DockerRunner) PullImage(ctx context.Context, imageRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pulled[imageRef] {
		return nil
	}

	if _, err := r.client.ImageInspect(ctx, imageRef); err == nil {
		r.pulled[imageRef] = true
		return nil
	}

	pullCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	reader, err := r.client.ImagePull(pullCtx, imageRef, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	defer reader.Close()

	// The pull only completes once its progress stream is drained
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}

	r.pulled[imageRef] = true
	return nil
}

// Close releases the Docker client
func (r *DockerRunner) Close() error {
	return r.client.Close()
}

func (r *DockerRunner) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.client.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	}); err != nil {
		r.logger.WithError(err).WithField("container_id", shortID(id)).Warn("Failed to remove build container")
	}
}

type containerProcess struct {
	ctx    context.Context
	runner *DockerRunner
	id     string
}

// Wait streams the container's output until it stops, then removes it
func (p *containerProcess) Wait() (int, error) {
	r := p.runner
	defer r.remove(p.id)

	logsDone := make(chan struct{})
	logs, err := r.client.ContainerLogs(p.ctx, p.id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		close(logsDone)
		r.logger.WithError(err).Warn("Failed to attach to build container logs")
	} else {
		go func() {
			defer close(logsDone)
			defer logs.Close()
			stdcopy.StdCopy(r.config.Stdout, r.config.Stderr, logs)
		}()
	}

	statusCh, errCh := r.client.ContainerWait(p.ctx, p.id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if ctxErr := p.ctx.Err(); ctxErr != nil {
			return -1, ctxErr
		}
		return -1, fmt.Errorf("container wait failed: %w", err)
	case status := <-statusCh:
		<-logsDone
		if status.Error != nil {
			return -1, fmt.Errorf("container wait failed: %s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	case <-p.ctx.Done():
		return -1, p.ctx.Err()
	}
}

// containerSpec builds the container and host configuration for cmd
func containerSpec(cfg DockerConfig, cmd *Command, projectDir string) (*container.Config, *container.HostConfig) {
	config := &container.Config{
		Image:        cfg.Image,
		Cmd:          cmd.Args,
		Env:          cmd.Env,
		WorkingDir:   containerWorkDir,
		AttachStdout: true,
		AttachStderr: true,
	}

	hostConfig := &container.HostConfig{
		Binds: []string{
			fmt.Sprintf("%s:%s", projectDir, containerWorkDir),
		},
		Resources: container.Resources{
			Memory:   cfg.MemoryLimit,
			NanoCPUs: int64(cfg.CPULimit * 1e9),
		},
	}
	return config, hostConfig
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
