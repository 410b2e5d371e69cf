package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"

	"github.com/t77yq/metricwatch/internal/model"
)

// DockerPinger is the part of the Docker client used by the probe
type DockerPinger interface {
	Ping(ctx context.Context) (types.Ping, error)
}

// Docker checks that the Docker daemon answers
type Docker struct {
	client DockerPinger
}

// NewDockerClient creates a client from the environment with API version negotiation
func NewDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

// NewDocker creates a Docker daemon probe
func NewDocker(cli DockerPinger) *Docker {
	return &Docker{client: cli}
}

// Check pings the daemon
func (p *Docker) Check(ctx context.Context) (model.ServiceHealth, error) {
	start := time.Now()
	ping, err := p.client.Ping(ctx)
	if err != nil {
		return result("docker", start, fmt.Errorf("docker daemon unreachable: %w", err), nil)
	}
	return result("docker", start, nil, map[string]string{
		"api_version": ping.APIVersion,
		"os_type":     ping.OSType,
	})
}
