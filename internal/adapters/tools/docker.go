package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// DockerRunner executes a tool as a one-shot container: create, start, wait
// for exit, collect output, remove. Containers run without network access
// unless the tool needs to reach its target, so the default here keeps the
// bridge network for scan tooling.
type DockerRunner struct {
	cli *client.Client
}

func NewDockerRunner() (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerRunner{cli: cli}, nil
}

// Run starts the image with the command template rendered against args and
// returns combined stdout. Template tokens of the form {key} are replaced by
// the string form of args[key].
func (r *DockerRunner) Run(ctx context.Context, img string, command []string, args map[string]any) (string, error) {
	cmd := renderCommand(command, args)

	cfg := &container.Config{
		Image: img,
		Cmd:   cmd,
		Tty:   false,
		Labels: map[string]string{
			"hexstrike.managed": "true",
		},
	}
	hostCfg := &container.HostConfig{
		AutoRemove: false,
		Resources:  container.Resources{},
	}
	netCfg := &network.NetworkingConfig{}

	name := "hexstrike-tool-" + uuid.New().String()[:8]
	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if client.IsErrNotFound(err) {
		reader, pullErr := r.cli.ImagePull(ctx, img, image.PullOptions{})
		if pullErr != nil {
			return "", fmt.Errorf("pull image %s: %w", img, pullErr)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
		resp, err = r.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	}
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	defer func() {
		_ = r.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("wait for container: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-ctx.Done():
		return "", ctx.Err()
	}

	logs, err := r.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("read container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", fmt.Errorf("demux container logs: %w", err)
	}

	if exitCode != 0 {
		return "", fmt.Errorf("tool exited with code %d: %s", exitCode, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func renderCommand(command []string, args map[string]any) []string {
	rendered := make([]string, 0, len(command))
	for _, part := range command {
		for key, val := range args {
			part = strings.ReplaceAll(part, "{"+key+"}", fmt.Sprint(val))
		}
		rendered = append(rendered, part)
	}
	return rendered
}
