package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the havoc configuration file
type Config struct {
	NodeID      string           `yaml:"nodeId"`
	DataDir     string           `yaml:"dataDir"`
	MetricsAddr string           `yaml:"metricsAddr"`
	Log         LogConfig        `yaml:"log"`
	Executor    ExecutorConfig   `yaml:"executor"`
	Reconciler  ReconcilerConfig `yaml:"reconciler"`
	Scheduler   SchedulerConfig  `yaml:"scheduler"`
	Containerd  ContainerdConfig `yaml:"containerd"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ExecutorConfig struct {
	ChildPollInterval time.Duration `yaml:"childPollInterval"`
	ChildWaitTimeout  time.Duration `yaml:"childWaitTimeout"`
}

type ReconcilerConfig struct {
	Interval       time.Duration `yaml:"interval"`
	RecoveryWindow time.Duration `yaml:"recoveryWindow"`
}

type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ContainerdConfig enables docker endpoints through containerd
type ContainerdConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Socket    string `yaml:"socket"`
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "havoc-node"
	}
	return &Config{
		NodeID:      hostname,
		DataDir:     "./havoc-data",
		MetricsAddr: "127.0.0.1:9090",
		Log: LogConfig{
			Level: "info",
		},
		Executor: ExecutorConfig{
			ChildPollInterval: time.Second,
			ChildWaitTimeout:  6 * time.Minute,
		},
		Reconciler: ReconcilerConfig{
			Interval:       20 * time.Second,
			RecoveryWindow: 120 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval: 5 * time.Second,
		},
		Containerd: ContainerdConfig{
			Socket:    "/run/containerd/containerd.sock",
			Namespace: "moby",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values that have no usable zero value
func (c *Config) Validate() error {
	switch {
	case c.NodeID == "":
		return fmt.Errorf("nodeId is required")
	case c.DataDir == "":
		return fmt.Errorf("dataDir is required")
	case c.Reconciler.Interval <= 0:
		return fmt.Errorf("reconciler.interval must be positive")
	case c.Reconciler.RecoveryWindow < 0:
		return fmt.Errorf("reconciler.recoveryWindow must not be negative")
	case c.Executor.ChildPollInterval <= 0:
		return fmt.Errorf("executor.childPollInterval must be positive")
	case c.Executor.ChildWaitTimeout <= 0:
		return fmt.Errorf("executor.childWaitTimeout must be positive")
	case c.Scheduler.Interval <= 0:
		return fmt.Errorf("scheduler.interval must be positive")
	}
	return nil
}
