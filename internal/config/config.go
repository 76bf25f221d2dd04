// Package config loads the YAML configuration shared by the coordinator and
// worker binaries. Precedence, lowest first: built-in defaults, the YAML file,
// SORTMESH_* environment variables, command-line flags (applied by cmd/).
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/sortmesh/internal/logger"
	"github.com/dreamware/sortmesh/internal/wire"
)

// Partial result policies for a job in which some workers failed.
const (
	PolicyAbort   = "abort"   // discard everything, return an empty result
	PolicyPartial = "partial" // merge the chunks that did come back
)

// Config is the root of the YAML document.
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Worker      WorkerConfig      `yaml:"worker"`
	Log         logger.Config     `yaml:"log"`
}

// CoordinatorConfig configures the coordinator process.
type CoordinatorConfig struct {
	// ControlAddr is where workers connect (TCP).
	ControlAddr string `yaml:"control_addr"`

	// HTTPAddr serves the control API and /metrics.
	HTTPAddr string `yaml:"http_addr"`

	// ProbePort is dialed on each worker's host by the liveness probe.
	ProbePort int `yaml:"probe_port"`

	// ProbeTimeout bounds a single liveness probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// ProbeInterval is the period of the background probe monitor; 0 disables it.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// PoolSize caps concurrent dispatch tasks; 0 means unbounded.
	PoolSize int `yaml:"pool_size"`

	// PartialPolicy is PolicyAbort or PolicyPartial.
	PartialPolicy string `yaml:"partial_policy"`

	// MaxFrameSize bounds a single wire frame body in bytes.
	MaxFrameSize int `yaml:"max_frame_size"`
}

// WorkerConfig configures a worker process.
type WorkerConfig struct {
	CoordinatorAddr string        `yaml:"coordinator_addr"`
	ProbeAddr       string        `yaml:"probe_addr"` // liveness listener; empty disables it
	ConnectRetries  int           `yaml:"connect_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	MaxFrameSize    int           `yaml:"max_frame_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			ControlAddr:   ":5000",
			HTTPAddr:      ":8080",
			ProbePort:     5001,
			ProbeTimeout:  2 * time.Second,
			ProbeInterval: 10 * time.Second,
			PoolSize:      0,
			PartialPolicy: PolicyAbort,
			MaxFrameSize:  wire.DefaultMaxFrameSize,
		},
		Worker: WorkerConfig{
			CoordinatorAddr: "127.0.0.1:5000",
			ProbeAddr:       ":5001",
			ConnectRetries:  10,
			RetryDelay:      400 * time.Millisecond,
			MaxFrameSize:    wire.DefaultMaxFrameSize,
		},
		Log: logger.DefaultConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SORTMESH_CONTROL_ADDR"); ok && v != "" {
		c.Coordinator.ControlAddr = v
	}
	if v, ok := lookup("SORTMESH_HTTP_ADDR"); ok && v != "" {
		c.Coordinator.HTTPAddr = v
	}
	if v, ok := lookup("SORTMESH_COORDINATOR_ADDR"); ok && v != "" {
		c.Worker.CoordinatorAddr = v
	}
	if v, ok := lookup("SORTMESH_PROBE_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SORTMESH_PROBE_PORT: %w", err)
		}
		c.Coordinator.ProbePort = port
	}
	if v, ok := lookup("SORTMESH_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate rejects configurations the binaries cannot run with.
func (c *Config) Validate() error {
	co := c.Coordinator
	if co.ControlAddr == "" {
		return fmt.Errorf("coordinator.control_addr is required")
	}
	if co.ProbePort <= 0 || co.ProbePort > 65535 {
		return fmt.Errorf("coordinator.probe_port %d out of range", co.ProbePort)
	}
	if _, port, err := net.SplitHostPort(co.ControlAddr); err != nil {
		return fmt.Errorf("coordinator.control_addr: %w", err)
	} else if port == strconv.Itoa(co.ProbePort) {
		return fmt.Errorf("coordinator.probe_port %d must differ from the control_addr port", co.ProbePort)
	}
	if co.ProbeTimeout <= 0 {
		return fmt.Errorf("coordinator.probe_timeout must be positive, got %v", co.ProbeTimeout)
	}
	if co.ProbeInterval < 0 {
		return fmt.Errorf("coordinator.probe_interval must not be negative, got %v", co.ProbeInterval)
	}
	if co.PoolSize < 0 {
		return fmt.Errorf("coordinator.pool_size must not be negative, got %d", co.PoolSize)
	}
	if co.PartialPolicy != PolicyAbort && co.PartialPolicy != PolicyPartial {
		return fmt.Errorf("coordinator.partial_policy must be %q or %q, got %q", PolicyAbort, PolicyPartial, co.PartialPolicy)
	}
	if co.MaxFrameSize <= 0 || c.Worker.MaxFrameSize <= 0 {
		return fmt.Errorf("max_frame_size must be positive")
	}

	w := c.Worker
	if w.CoordinatorAddr == "" {
		return fmt.Errorf("worker.coordinator_addr is required")
	}
	if w.ConnectRetries < 1 {
		return fmt.Errorf("worker.connect_retries must be at least 1, got %d", w.ConnectRetries)
	}
	if w.RetryDelay < 0 {
		return fmt.Errorf("worker.retry_delay must not be negative, got %v", w.RetryDelay)
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
