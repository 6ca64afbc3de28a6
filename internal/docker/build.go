package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/splax/pagesdeploy/internal/executil"
)

// BuildMountPath is where the source directory is mounted inside the build container.
const BuildMountPath = "/srv/jekyll"

const removeTimeout = 10 * time.Second

// BuildRunner runs commands inside a throwaway container with the command's
// working directory bind-mounted at BuildMountPath.
type BuildRunner struct {
	client *Client
	image  string
	logger *slog.Logger
}

var _ executil.Runner = (*BuildRunner)(nil)

// NewBuildRunner returns a runner using the given image for every command.
func NewBuildRunner(cli *Client, imageRef string, logger *slog.Logger) *BuildRunner {
	return &BuildRunner{client: cli, image: imageRef, logger: logger}
}

// Run creates the container, waits for it and collects its output. The
// container is force-removed afterwards, which also stops it on timeout.
func (r *BuildRunner) Run(ctx context.Context, c executil.Command) (executil.Result, error) {
	if r.client == nil || r.client.inner == nil {
		return executil.Result{}, ErrNotInitialized
	}
	if strings.TrimSpace(c.Name) == "" {
		return executil.Result{}, errors.New("an empty command specified")
	}
	if strings.TrimSpace(c.Dir) == "" {
		return executil.Result{}, errors.New("build directory cannot be empty")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	start := time.Now()
	if err := r.ensureImage(ctx); err != nil {
		return r.finish(ctx, c, executil.Result{Duration: time.Since(start)}, err)
	}

	cfg := &container.Config{
		Image:      r.image,
		Cmd:        append([]string{c.Name}, c.Args...),
		Env:        c.Env,
		WorkingDir: BuildMountPath,
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: c.Dir,
			Target: BuildMountPath,
		}},
	}
	name := "pagesdeploy-build-" + uuid.NewString()[:8]
	created, err := r.client.inner.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return r.finish(ctx, c, executil.Result{Duration: time.Since(start)}, fmt.Errorf("container create: %w", err))
	}
	defer r.remove(created.ID)

	if err := r.client.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return r.finish(ctx, c, executil.Result{Duration: time.Since(start)}, fmt.Errorf("container start: %w", err))
	}

	exitCode, err := r.wait(ctx, created.ID)
	result := executil.Result{ExitCode: int(exitCode)}
	if err != nil {
		result.Duration = time.Since(start)
		return r.finish(ctx, c, result, err)
	}

	stdout, stderr, err := r.logs(ctx, created.ID)
	result.Stdout = stdout
	result.Stderr = stderr
	result.Duration = time.Since(start)
	if err != nil {
		return r.finish(ctx, c, result, err)
	}
	if r.logger != nil {
		r.logger.Debug("build container finished", "container", name, "image", r.image, "exit_code", exitCode, "duration_ms", result.Duration.Milliseconds())
	}
	return result, nil
}

func (r *BuildRunner) ensureImage(ctx context.Context) error {
	if _, _, err := r.client.inner.ImageInspectWithRaw(ctx, r.image); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspect image: %w", err)
	}
	if r.logger != nil {
		r.logger.Info("pulling build image", "image", r.image)
	}
	rc, err := r.client.inner.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image: %w", err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("read pull progress: %w", err)
	}
	return nil
}

func (r *BuildRunner) wait(ctx context.Context, containerID string) (int64, error) {
	statusCh, errCh := r.client.inner.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err == nil {
			return 0, errors.New("container wait ended without status")
		}
		return 0, fmt.Errorf("wait for container: %w", err)
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return status.StatusCode, fmt.Errorf("wait for container: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (r *BuildRunner) logs(ctx context.Context, containerID string) (string, string, error) {
	rc, err := r.client.inner.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("container logs: %w", err)
	}
	defer rc.Close()
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("demultiplex container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

func (r *BuildRunner) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()
	err := r.client.inner.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) && r.logger != nil {
		r.logger.Warn("remove build container failed", "container_id", containerID, "error", err)
	}
}

// finish converts a deadline into executil.ErrTimeout so callers see the same
// error regardless of which runner executed the command.
func (r *BuildRunner) finish(ctx context.Context, c executil.Command, result executil.Result, err error) (executil.Result, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		return result, fmt.Errorf("%s: %w after %s", c.Name, executil.ErrTimeout, c.Timeout)
	}
	return result, err
}
