package bootstrap

import (
	"chorddht/internal/config"
	"chorddht/internal/domain"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// DockerBootstrap discovers peers by asking the local Docker engine for
// containers carrying Label on Network. It is meant for single-host
// compose/swarm deployments where every node container is reachable by
// name on a shared network.
type DockerBootstrap struct {
	label   string
	network string
	port    int
}

// NewDockerBootstrap creates a Docker-based bootstrapper from cfg.
func NewDockerBootstrap(cfg config.DockerConfig) *DockerBootstrap {
	return &DockerBootstrap{
		label:   strings.TrimSpace(cfg.Label),
		network: strings.TrimSpace(cfg.Network),
		port:    cfg.Port,
	}
}

// Discover returns "name:port" for every running container that carries
// the configured label and is attached to the configured network.
func (d *DockerBootstrap) Discover(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "docker", "ps", "--filter", "label="+d.label, "--format", "{{.Names}}")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("docker ps failed: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	var addrs []string

	for _, name := range lines {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		inspect := exec.CommandContext(ctx, "docker", "inspect", name)
		raw, err := inspect.Output()
		if err != nil {
			continue
		}

		var data []struct {
			NetworkSettings struct {
				Networks map[string]struct {
					IPAddress string `json:"IPAddress"`
				} `json:"Networks"`
			} `json:"NetworkSettings"`
		}
		if err := json.Unmarshal(raw, &data); err != nil || len(data) == 0 {
			continue
		}

		netInfo, ok := data[0].NetworkSettings.Networks[d.network]
		if !ok || netInfo.IPAddress == "" {
			continue
		}

		addrs = append(addrs, fmt.Sprintf("%s:%d", name, d.port)) // name resolves via the Docker embedded DNS
	}

	return addrs, nil
}

// Register and Deregister are no-ops: container membership on the
// network is itself the discovery mechanism.
func (d *DockerBootstrap) Register(ctx context.Context, node *domain.Node) error   { return nil }
func (d *DockerBootstrap) Deregister(ctx context.Context, node *domain.Node) error { return nil }
