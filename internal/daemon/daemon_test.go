package daemon

import (
	"testing"
)

// testConfig wires everything onto throwaway backends: sqlite in a temp
// dir, in-memory coordination, deterministic planner.
func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DurableStore.Path = t.TempDir()
	cfg.CoordStore.Driver = "memory"
	cfg.Planner.Provider = "fallback"
	return cfg
}

func TestNewWithConfig(t *testing.T) {
	d, err := NewWithConfig(testConfig(t))
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer d.Close()

	if d.Core == nil || d.Store == nil || d.Coord == nil || d.Health == nil {
		t.Fatal("daemon wired with nil components")
	}
}

func TestNewWithConfig_UnknownDrivers(t *testing.T) {
	cfg := testConfig(t)
	cfg.DurableStore.Driver = "oracle"
	if _, err := NewWithConfig(cfg); err == nil {
		t.Error("expected error for unknown durable driver")
	}

	cfg = testConfig(t)
	cfg.CoordStore.Driver = "zookeeper"
	if _, err := NewWithConfig(cfg); err == nil {
		t.Error("expected error for unknown coord driver")
	}

	cfg = testConfig(t)
	cfg.Planner.Provider = "crystal_ball"
	if _, err := NewWithConfig(cfg); err == nil {
		t.Error("expected error for unknown planner provider")
	}
}

func TestNewWithConfig_PostgresNeedsURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.DurableStore.Driver = "postgres"
	cfg.DurableStore.URL = ""
	if _, err := NewWithConfig(cfg); err == nil {
		t.Error("expected error for postgres without a url")
	}
}
