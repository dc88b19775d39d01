package launcher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"

	"github.com/ahmadhassan44/prime-sieve/pkg/config"
)

// ContainerPort is where every rank's HTTP link listens inside its container
const ContainerPort = 9000

// PeerHost resolves to the Docker host from inside a container
const PeerHost = "host.docker.internal"

// RankSpec is everything needed to create one rank's container
type RankSpec struct {
	Rank     int
	Name     string
	HostPort int
	Config   *container.Config
	Host     *container.HostConfig
}

// BuildSpecs describes one container per rank. Ranks reach each other
// through the host port each container publishes.
func BuildSpecs(cfg *config.Config, n int, runID string) []RankSpec {
	peers := make([]string, cfg.Size)
	for rank := range peers {
		peers[rank] = fmt.Sprintf("http://%s:%d", PeerHost, cfg.Launcher.BasePort+rank)
	}

	port := nat.Port(fmt.Sprintf("%d/tcp", ContainerPort))
	specs := make([]RankSpec, cfg.Size)
	for rank := range specs {
		hostPort := cfg.Launcher.BasePort + rank

		env := []string{
			fmt.Sprintf("RANK=%d", rank),
			fmt.Sprintf("SIZE=%d", cfg.Size),
			"PEERS=" + strings.Join(peers, ","),
			"RUN_ID=" + runID,
			fmt.Sprintf("LISTEN_PORT=%d", ContainerPort),
			"TOPOLOGY=" + cfg.Topology,
			"DISTRIBUTION=" + cfg.Distribution,
			fmt.Sprintf("INBOX_DEPTH=%d", cfg.InboxDepth),
			fmt.Sprintf("PEER_WAIT_S=%d", cfg.PeerWaitS),
			fmt.Sprintf("MAX_MASK_BYTES=%d", cfg.MaxMaskBytes),
		}
		// Only the root reports
		if rank == 0 {
			env = append(env, "PRINT_PRIMES="+strconv.FormatBool(cfg.PrintPrimes))
			if cfg.MQTT.Broker != "" {
				env = append(env, "MQTT_BROKER="+cfg.MQTT.Broker, "MQTT_TOPIC="+cfg.MQTT.Topic)
			}
		}

		hostConfig := &container.HostConfig{
			PortBindings: nat.PortMap{
				port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(hostPort)}},
			},
			ExtraHosts: []string{PeerHost + ":host-gateway"},
		}
		if cpuset := cpusetFor(cfg.Launcher.Cpusets, rank); cpuset != "" {
			hostConfig.Resources.CpusetCpus = cpuset
		}

		specs[rank] = RankSpec{
			Rank:     rank,
			Name:     fmt.Sprintf("sieve-%s-rank-%d", shortID(runID), rank),
			HostPort: hostPort,
			Config: &container.Config{
				Image:        cfg.Launcher.Image,
				Env:          env,
				Cmd:          []string{strconv.Itoa(n)},
				ExposedPorts: nat.PortSet{port: struct{}{}},
				Labels: map[string]string{
					"prime-sieve.run":  runID,
					"prime-sieve.rank": strconv.Itoa(rank),
				},
			},
			Host: hostConfig,
		}
	}
	return specs
}

// cpusetFor cycles the configured cpusets over the ranks
func cpusetFor(cpusets []string, rank int) string {
	if len(cpusets) == 0 {
		return ""
	}
	return cpusets[rank%len(cpusets)]
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
