package launcher

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// DockerLauncher starts worker processes as containers, grounded on the
// Mike-Gemutly-ArmorClaw/bridge pack member's own use of
// github.com/docker/docker's client for its container lifecycle.
type DockerLauncher struct {
	cli   *client.Client
	image string
}

// NewDockerLauncher connects to the local Docker daemon using the
// environment's configuration (DOCKER_HOST et al.).
func NewDockerLauncher(image string) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerLauncher{cli: cli, image: image}, nil
}

func (d *DockerLauncher) StartWorker(ctx context.Context) (string, error) {
	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image: d.image,
	}, nil, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("create worker container: %w", err)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start worker container: %w", err)
	}
	return resp.ID, nil
}

func (d *DockerLauncher) StopWorker(ctx context.Context, containerID string) error {
	if containerID == "" {
		return nil
	}
	if err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		return fmt.Errorf("stop worker container: %w", err)
	}
	return d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

func (d *DockerLauncher) Ping(ctx context.Context, containerID string) (bool, error) {
	if containerID == "" {
		return false, nil
	}
	info, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return false, fmt.Errorf("inspect worker container: %w", err)
	}
	return info.State != nil && info.State.Running, nil
}
