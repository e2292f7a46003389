// Package daemon manages the orchestrator daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	API          APIConfig          `toml:"api"`
	DurableStore DurableStoreConfig `toml:"durable_store"`
	CoordStore   CoordStoreConfig   `toml:"coord_store"`
	Planner      PlannerConfig      `toml:"planner"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Worker       WorkerConfig       `toml:"worker"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr joins host and port for net listeners.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DurableStoreConfig selects and parameterizes the record store.
type DurableStoreConfig struct {
	Driver  string `toml:"driver"` // "sqlite" | "postgres"
	Path    string `toml:"path"`   // sqlite directory
	URL     string `toml:"url"`    // postgres DSN
	PoolMin int    `toml:"pool_min"`
	PoolMax int    `toml:"pool_max"`
}

// CoordStoreConfig selects the queue and registry backend.
type CoordStoreConfig struct {
	Driver          string `toml:"driver"` // "memory" | "redis"
	URL             string `toml:"url"`
	StateTTLSeconds int    `toml:"state_ttl_seconds"`
}

// PlannerConfig controls task decomposition.
type PlannerConfig struct {
	Provider       string `toml:"provider"` // "anthropic" | "fallback"
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UseBedrock     bool   `toml:"use_bedrock"`
	AWSRegion      string `toml:"aws_region"`
	AWSProfile     string `toml:"aws_profile"`
}

// OrchestratorConfig tunes the dispatch and result loops.
type OrchestratorConfig struct {
	DispatcherConcurrency      int    `toml:"dispatcher_concurrency"`
	ResultProcessorConcurrency int    `toml:"result_processor_concurrency"`
	DispatchTimeoutSeconds     int    `toml:"dispatch_timeout_seconds"`
	DequeueTimeoutSeconds      int    `toml:"dequeue_timeout_seconds"`
	SelectionPolicy            string `toml:"selection_policy"` // "intersects" | "covers"
	LivenessWindowSeconds      int    `toml:"liveness_window_seconds"`
	BackoffInitialMS           int    `toml:"backoff_initial_ms"`
	BackoffMaxMS               int    `toml:"backoff_max_ms"`
}

// WorkerConfig seeds workers started from this config.
type WorkerConfig struct {
	HeartbeatIntervalSeconds int    `toml:"heartbeat_interval_seconds"`
	Executor                 string `toml:"executor"` // "local" | "llm"
}

// DefaultConfig returns the single-machine defaults: sqlite on disk,
// in-memory coordination, anthropic planning.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		DurableStore: DurableStoreConfig{
			Driver:  "sqlite",
			Path:    filepath.Join(multiagentHome(), "db"),
			PoolMin: 2,
			PoolMax: 20,
		},
		CoordStore: CoordStoreConfig{
			Driver:          "memory",
			URL:             "redis://localhost:6379/0",
			StateTTLSeconds: 3600,
		},
		Planner: PlannerConfig{
			Provider:       "anthropic",
			Model:          "claude-sonnet-4-5",
			TimeoutSeconds: 30,
		},
		Orchestrator: OrchestratorConfig{
			DispatcherConcurrency:      2,
			ResultProcessorConcurrency: 2,
			DispatchTimeoutSeconds:     5,
			DequeueTimeoutSeconds:      1,
			SelectionPolicy:            "intersects",
			LivenessWindowSeconds:      60,
			BackoffInitialMS:           100,
			BackoffMaxMS:               2000,
		},
		Worker: WorkerConfig{
			HeartbeatIntervalSeconds: 10,
			Executor:                 "local",
		},
	}
}

// LoadConfig reads ~/.multiagent/config.toml, falling back to defaults,
// then applies environment overrides. API keys are never part of the
// file; the planner reads ANTHROPIC_API_KEY from the environment itself.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(multiagentHome(), "config.toml")

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	if env := os.Getenv("MULTIAGENT_HOST"); env != "" {
		cfg.API.Host = env
	}
	if env := os.Getenv("MULTIAGENT_PORT"); env != "" {
		port, err := strconv.Atoi(env)
		if err != nil {
			return cfg, fmt.Errorf("parse MULTIAGENT_PORT %q: %w", env, err)
		}
		cfg.API.Port = port
	}
	// A connection URL in the environment also selects the driver, so a
	// containerized deploy needs nothing beyond the two URLs.
	if env := os.Getenv("DATABASE_URL"); env != "" {
		cfg.DurableStore.Driver = "postgres"
		cfg.DurableStore.URL = env
	}
	if env := os.Getenv("REDIS_URL"); env != "" {
		cfg.CoordStore.Driver = "redis"
		cfg.CoordStore.URL = env
	}

	if cfg.Orchestrator.DispatcherConcurrency < 1 {
		cfg.Orchestrator.DispatcherConcurrency = 1
	}
	if cfg.Orchestrator.ResultProcessorConcurrency < 1 {
		cfg.Orchestrator.ResultProcessorConcurrency = 1
	}

	return cfg, nil
}

// SaveConfig writes the config to ~/.multiagent/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(multiagentHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// multiagentHome returns the data directory.
func multiagentHome() string {
	if env := os.Getenv("MULTIAGENT_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".multiagent")
}

// Home is exported for use by other packages.
func Home() string {
	return multiagentHome()
}
