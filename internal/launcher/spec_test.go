package launcher

import (
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/docker/go-connections/nat"

	"github.com/ahmadhassan44/prime-sieve/pkg/config"
)

func envMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}

func TestBuildSpecs(t *testing.T) {
	cfg := config.Default()
	cfg.Size = 3
	cfg.Topology = "chain"
	cfg.PrintPrimes = true
	cfg.MQTT.Broker = "broker:1883"
	cfg.Launcher.BasePort = 9100
	cfg.Launcher.Cpusets = []string{"1,5", "2,6"}

	runID := "0f8c2d4e-1111-2222-3333-444455556666"
	specs := BuildSpecs(cfg, 1000, runID)
	if len(specs) != 3 {
		t.Fatalf("Expected 3 specs, got %d", len(specs))
	}

	wantPeers := "http://host.docker.internal:9100,http://host.docker.internal:9101,http://host.docker.internal:9102"
	wantCpusets := []string{"1,5", "2,6", "1,5"}

	for rank, spec := range specs {
		env := envMap(spec.Config.Env)
		if env["RANK"] != strconv.Itoa(rank) || env["SIZE"] != "3" {
			t.Errorf("rank %d: RANK=%s SIZE=%s", rank, env["RANK"], env["SIZE"])
		}
		if env["PEERS"] != wantPeers {
			t.Errorf("rank %d: PEERS=%s", rank, env["PEERS"])
		}
		if env["RUN_ID"] != runID || env["TOPOLOGY"] != "chain" || env["LISTEN_PORT"] != "9000" {
			t.Errorf("rank %d: unexpected env %v", rank, env)
		}
		_, hasBroker := env["MQTT_BROKER"]
		if hasBroker != (rank == 0) {
			t.Errorf("rank %d: MQTT_BROKER present=%v", rank, hasBroker)
		}

		if !slices.Equal([]string(spec.Config.Cmd), []string{"1000"}) {
			t.Errorf("rank %d: Cmd=%v", rank, spec.Config.Cmd)
		}
		if spec.Host.Resources.CpusetCpus != wantCpusets[rank] {
			t.Errorf("rank %d: cpuset %q, want %q", rank, spec.Host.Resources.CpusetCpus, wantCpusets[rank])
		}

		bindings := spec.Host.PortBindings[nat.Port("9000/tcp")]
		if len(bindings) != 1 || bindings[0].HostPort != strconv.Itoa(9100+rank) {
			t.Errorf("rank %d: port bindings %v", rank, bindings)
		}
		if _, ok := spec.Config.ExposedPorts[nat.Port("9000/tcp")]; !ok {
			t.Errorf("rank %d: container port not exposed", rank)
		}
		if spec.Name != "sieve-0f8c2d4e-rank-"+env["RANK"] {
			t.Errorf("rank %d: name %q", rank, spec.Name)
		}
	}
}

func TestBuildSpecsWithoutCpusets(t *testing.T) {
	cfg := config.Default()
	cfg.Size = 2
	for _, spec := range BuildSpecs(cfg, 50, "run") {
		if spec.Host.Resources.CpusetCpus != "" {
			t.Errorf("rank %d: Expected no pinning, got %q", spec.Rank, spec.Host.Resources.CpusetCpus)
		}
		if spec.Name != "sieve-run-rank-"+envMap(spec.Config.Env)["RANK"] {
			t.Errorf("Unexpected name %q", spec.Name)
		}
	}
}
