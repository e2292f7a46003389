package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("MULTIAGENT_HOME", t.TempDir())
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8080)
	}
	if cfg.DurableStore.Driver != "sqlite" {
		t.Errorf("DurableStore.Driver = %q, want sqlite", cfg.DurableStore.Driver)
	}
	if filepath.Base(cfg.DurableStore.Path) != "db" {
		t.Errorf("DurableStore.Path = %q, want .../db", cfg.DurableStore.Path)
	}
	if cfg.CoordStore.Driver != "memory" {
		t.Errorf("CoordStore.Driver = %q, want memory", cfg.CoordStore.Driver)
	}
	if cfg.CoordStore.StateTTLSeconds != 3600 {
		t.Errorf("StateTTLSeconds = %d, want 3600", cfg.CoordStore.StateTTLSeconds)
	}
	if cfg.Planner.Provider != "anthropic" {
		t.Errorf("Planner.Provider = %q, want anthropic", cfg.Planner.Provider)
	}
	if cfg.Planner.Model != "claude-sonnet-4-5" {
		t.Errorf("Planner.Model = %q", cfg.Planner.Model)
	}
	if cfg.Orchestrator.DispatcherConcurrency != 2 {
		t.Errorf("DispatcherConcurrency = %d, want 2", cfg.Orchestrator.DispatcherConcurrency)
	}
	if cfg.Orchestrator.SelectionPolicy != "intersects" {
		t.Errorf("SelectionPolicy = %q, want intersects", cfg.Orchestrator.SelectionPolicy)
	}
	if cfg.Orchestrator.BackoffMaxMS != 2000 {
		t.Errorf("BackoffMaxMS = %d, want 2000", cfg.Orchestrator.BackoffMaxMS)
	}
	if cfg.Worker.HeartbeatIntervalSeconds != 10 {
		t.Errorf("HeartbeatIntervalSeconds = %d, want 10", cfg.Worker.HeartbeatIntervalSeconds)
	}
	if cfg.Worker.Executor != "local" {
		t.Errorf("Worker.Executor = %q, want local", cfg.Worker.Executor)
	}
}

func TestLoadConfig_NoFileUsesDefaults(t *testing.T) {
	t.Setenv("MULTIAGENT_HOME", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.API.Port)
	}
}

func TestLoadConfig_ReadsFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MULTIAGENT_HOME", home)

	body := `
[api]
host = "0.0.0.0"
port = 9090

[orchestrator]
dispatcher_concurrency = 4
selection_policy = "covers"
`
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.Host != "0.0.0.0" || cfg.API.Port != 9090 {
		t.Errorf("api = %s:%d, want 0.0.0.0:9090", cfg.API.Host, cfg.API.Port)
	}
	if cfg.Orchestrator.DispatcherConcurrency != 4 {
		t.Errorf("DispatcherConcurrency = %d, want 4", cfg.Orchestrator.DispatcherConcurrency)
	}
	if cfg.Orchestrator.SelectionPolicy != "covers" {
		t.Errorf("SelectionPolicy = %q, want covers", cfg.Orchestrator.SelectionPolicy)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Planner.Model != "claude-sonnet-4-5" {
		t.Errorf("Planner.Model = %q, want default", cfg.Planner.Model)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("MULTIAGENT_HOME", t.TempDir())
	t.Setenv("MULTIAGENT_HOST", "10.1.2.3")
	t.Setenv("MULTIAGENT_PORT", "8181")
	t.Setenv("DATABASE_URL", "postgres://orc:secret@db:5432/tasks")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.Host != "10.1.2.3" || cfg.API.Port != 8181 {
		t.Errorf("api = %s:%d", cfg.API.Host, cfg.API.Port)
	}
	if cfg.DurableStore.Driver != "postgres" {
		t.Errorf("Driver = %q, want postgres after DATABASE_URL", cfg.DurableStore.Driver)
	}
	if cfg.DurableStore.URL != "postgres://orc:secret@db:5432/tasks" {
		t.Errorf("URL = %q", cfg.DurableStore.URL)
	}
	if cfg.CoordStore.Driver != "redis" {
		t.Errorf("coord Driver = %q, want redis after REDIS_URL", cfg.CoordStore.Driver)
	}
}

func TestLoadConfig_BadPort(t *testing.T) {
	t.Setenv("MULTIAGENT_HOME", t.TempDir())
	t.Setenv("MULTIAGENT_PORT", "eight thousand")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for unparseable MULTIAGENT_PORT")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	t.Setenv("MULTIAGENT_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.API.Port = 8443
	cfg.CoordStore.Driver = "redis"

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.API.Port != 8443 {
		t.Errorf("Port = %d, want 8443", got.API.Port)
	}
	// REDIS_URL is unset, so the saved driver survives the reload.
	if got.CoordStore.Driver != "redis" {
		t.Errorf("coord Driver = %q, want redis", got.CoordStore.Driver)
	}
}

func TestLoadConfig_ConcurrencyFloor(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MULTIAGENT_HOME", home)

	body := `
[orchestrator]
dispatcher_concurrency = 0
result_processor_concurrency = -3
`
	if err := os.WriteFile(filepath.Join(home, "config.toml"), []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Orchestrator.DispatcherConcurrency != 1 {
		t.Errorf("DispatcherConcurrency = %d, want floor 1", cfg.Orchestrator.DispatcherConcurrency)
	}
	if cfg.Orchestrator.ResultProcessorConcurrency != 1 {
		t.Errorf("ResultProcessorConcurrency = %d, want floor 1", cfg.Orchestrator.ResultProcessorConcurrency)
	}
}
