package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/aescanero/scaleout/pkg/domain"
)

// Payload is the job payload understood by the container executor
type Payload struct {
	Image   string   `json:"image,omitempty"`
	Command []string `json:"command"`
	Env     []string `json:"env,omitempty"`
}

// Result is written to Job.Result after the container exits
type Result struct {
	ContainerID string `json:"container_id"`
	ExitCode    int64  `json:"exit_code"`
	Logs        string `json:"logs"`
}

// containerAPI is the subset of the Docker client the executor uses
type containerAPI interface {
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
}

// Config configures the executor
type Config struct {
	DefaultImage string
	APIVersion   string
	Pull         bool
}

// Executor runs job payloads as containers
type Executor struct {
	api    containerAPI
	cfg    Config
	logger *zap.Logger
}

// NewExecutor connects to the Docker daemon from the environment
func NewExecutor(cfg Config, logger *zap.Logger) (*Executor, error) {
	opts := []client.Opt{client.FromEnv}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	} else {
		opts = append(opts, client.WithAPIVersionNegotiation())
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("executor/docker: create client: %w", err)
	}
	return newExecutor(cli, cfg, logger), nil
}

func newExecutor(api containerAPI, cfg Config, logger *zap.Logger) *Executor {
	if cfg.DefaultImage == "" {
		cfg.DefaultImage = "alpine:latest"
	}
	return &Executor{api: api, cfg: cfg, logger: logger}
}

// Perform runs the job's command and waits for it. A non-zero exit code
// is an error; the logs are kept in job.Result either way.
func (e *Executor) Perform(ctx context.Context, job *domain.Job) error {
	var p Payload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("executor/docker: decode payload: %w", err)
	}
	if len(p.Command) == 0 {
		return fmt.Errorf("executor/docker: payload has no command")
	}
	image := p.Image
	if image == "" {
		image = e.cfg.DefaultImage
	}

	if e.cfg.Pull {
		if err := e.pull(ctx, image); err != nil {
			return err
		}
	}

	resp, err := e.api.ContainerCreate(ctx, &container.Config{
		Image: image,
		Cmd:   p.Command,
		Env:   p.Env,
		Tty:   false,
	}, nil, nil, nil, "")
	if err != nil {
		return fmt.Errorf("executor/docker: create container: %w", err)
	}
	containerID := resp.ID

	defer func() {
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := e.api.ContainerRemove(rmCtx, containerID, types.ContainerRemoveOptions{Force: true}); err != nil {
			e.logger.Warn("failed to remove container", zap.String("container_id", containerID), zap.Error(err))
		}
	}()

	e.logger.Debug("container created",
		zap.String("container_id", shortID(containerID)),
		zap.String("image", image))

	if err := e.api.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("executor/docker: start container: %w", err)
	}

	var exitCode int64
	statusCh, errCh := e.api.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("executor/docker: wait container: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-ctx.Done():
		return ctx.Err()
	}

	logs, err := e.logs(ctx, containerID)
	if err != nil {
		return err
	}

	result, err := json.Marshal(Result{ContainerID: containerID, ExitCode: exitCode, Logs: logs})
	if err != nil {
		return fmt.Errorf("executor/docker: encode result: %w", err)
	}
	job.Result = result

	e.logger.Info("container finished",
		zap.String("container_id", shortID(containerID)),
		zap.Int64("exit_code", exitCode))

	if exitCode != 0 {
		return fmt.Errorf("executor/docker: container exited with code %d", exitCode)
	}
	return nil
}

func (e *Executor) pull(ctx context.Context, image string) error {
	reader, err := e.api.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("executor/docker: pull %s: %w", image, err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("executor/docker: pull %s: %w", image, err)
	}
	return nil
}

func (e *Executor) logs(ctx context.Context, containerID string) (string, error) {
	out, err := e.api.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Errorf("executor/docker: container logs: %w", err)
	}
	defer out.Close()

	// stdout and stderr are multiplexed on one stream
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, out); err != nil {
		return "", fmt.Errorf("executor/docker: read logs: %w", err)
	}
	return buf.String(), nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
