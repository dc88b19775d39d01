package config

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Candidate propagation: "fanout" or "chain"
	Topology string `yaml:"topology"`

	// Initial mask placement: "local" or "scatter"
	Distribution string `yaml:"distribution"`

	// Number of ranks in the run
	Size int `yaml:"size"`

	// This process's rank; -1 runs every rank in-process
	Rank int `yaml:"rank"`

	// Base URLs of every rank, indexed by rank (http://host:port)
	Peers []string `yaml:"peers"`

	// Port the rank's HTTP link listens on
	ListenPort int `yaml:"listen_port"`

	// Shared run identifier; generated when empty
	RunID string `yaml:"run_id"`

	// Per-sender inbox depth
	InboxDepth int `yaml:"inbox_depth"`

	// Seconds to wait for every peer's /health before starting
	PeerWaitS int `yaml:"peer_wait_s"`

	// Mask budget per rank in bytes, 0 leaves only the hard per-rank ceiling
	MaxMaskBytes int64 `yaml:"max_mask_bytes"`

	// Print every prime after the timing line
	PrintPrimes bool `yaml:"print_primes"`

	MQTT     MQTTConfig     `yaml:"mqtt"`
	Launcher LauncherConfig `yaml:"launcher"`
}

// MQTTConfig enables summary publication when Broker is set
type MQTTConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

type LauncherConfig struct {
	// Image every rank container runs
	Image string `yaml:"image"`

	// Rank r is published on host port BasePort+r
	BasePort int `yaml:"base_port"`

	// Optional cpuset per rank, cycled when shorter than Size
	Cpusets []string `yaml:"cpusets"`
}

// LoadConfig layers defaults, the YAML file named by SIEVE_CONFIG and
// environment variables, then validates the result
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("SIEVE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Topology:     "fanout",
		Distribution: "local",
		Size:         4,
		Rank:         -1,
		ListenPort:   9000,
		InboxDepth:   64,
		PeerWaitS:    30,
		MaxMaskBytes: defaultMaskBudget(),
		MQTT: MQTTConfig{
			Topic: "sieve/results",
		},
		Launcher: LauncherConfig{
			Image:    "prime-sieve:latest",
			BasePort: 9100,
		},
	}
}

// defaultMaskBudget is 1 GiB per rank, lowered to the runtime memory limit
// when GOMEMLIMIT is smaller
func defaultMaskBudget() int64 {
	budget := int64(1 << 30)
	if limit := debug.SetMemoryLimit(-1); limit < budget {
		budget = limit
	}
	return budget
}

func (c *Config) applyEnv() {
	c.Topology = getEnvAsString("TOPOLOGY", c.Topology)
	c.Distribution = getEnvAsString("DISTRIBUTION", c.Distribution)
	c.Size = getEnvAsInt("SIZE", c.Size)
	c.Rank = getEnvAsInt("RANK", c.Rank)
	c.Peers = getEnvAsList("PEERS", c.Peers)
	c.ListenPort = getEnvAsInt("LISTEN_PORT", c.ListenPort)
	c.RunID = getEnvAsString("RUN_ID", c.RunID)
	c.InboxDepth = getEnvAsInt("INBOX_DEPTH", c.InboxDepth)
	c.PeerWaitS = getEnvAsInt("PEER_WAIT_S", c.PeerWaitS)
	c.MaxMaskBytes = getEnvAsInt64("MAX_MASK_BYTES", c.MaxMaskBytes)
	c.PrintPrimes = getEnvAsBool("PRINT_PRIMES", c.PrintPrimes)
	c.MQTT.Broker = getEnvAsString("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Topic = getEnvAsString("MQTT_TOPIC", c.MQTT.Topic)
	c.Launcher.Image = getEnvAsString("LAUNCHER_IMAGE", c.Launcher.Image)
	c.Launcher.BasePort = getEnvAsInt("LAUNCHER_BASE_PORT", c.Launcher.BasePort)
	c.Launcher.Cpusets = getEnvAsList("LAUNCHER_CPUSETS", c.Launcher.Cpusets)
}

// Distributed reports whether this process runs a single rank over HTTP
func (c *Config) Distributed() bool {
	return c.Rank >= 0
}

// Validate rejects values no run can start with
func (c *Config) Validate() error {
	if c.Topology != "fanout" && c.Topology != "chain" {
		return fmt.Errorf("topology must be fanout or chain, got %q", c.Topology)
	}
	if c.Distribution != "local" && c.Distribution != "scatter" {
		return fmt.Errorf("distribution must be local or scatter, got %q", c.Distribution)
	}
	if c.Size < 1 {
		return fmt.Errorf("size must be at least 1, got %d", c.Size)
	}
	if c.Rank < -1 {
		return fmt.Errorf("rank must be -1 (in-process) or at least 0, got %d", c.Rank)
	}
	if c.Rank >= c.Size {
		return fmt.Errorf("rank %d out of range for size %d", c.Rank, c.Size)
	}
	if c.Distributed() && len(c.Peers) != c.Size {
		return fmt.Errorf("%d peers configured for size %d", len(c.Peers), c.Size)
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port %d out of range", c.ListenPort)
	}
	if c.InboxDepth < 1 {
		return errors.New("inbox_depth must be positive")
	}
	if c.MaxMaskBytes < 0 {
		return errors.New("max_mask_bytes must not be negative")
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return errors.New("mqtt.topic is required when mqtt.broker is set")
	}
	return nil
}

func getEnvAsString(key string, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma-separated value, dropping blank items
func getEnvAsList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var items []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
