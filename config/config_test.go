package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("Driver = %q, want %q", cfg.Store.Driver, "sqlite")
	}
	if cfg.Inventory.MaxTotalWidth != 1300 {
		t.Errorf("MaxTotalWidth = %d, want 1300", cfg.Inventory.MaxTotalWidth)
	}
	if !cfg.Store.VerifyWrites {
		t.Error("VerifyWrites should default to true")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rolltrack.yaml")
	data := []byte(`
store:
  driver: redis
  redis:
    address: "10.0.0.5:6379"
inventory:
  max_total_width: 1600
messaging:
  enabled: true
  backend: kafka
  outbox_drain_interval: 2s
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != "redis" {
		t.Errorf("Driver = %q, want %q", cfg.Store.Driver, "redis")
	}
	if cfg.Store.Redis.Address != "10.0.0.5:6379" {
		t.Errorf("Redis.Address = %q", cfg.Store.Redis.Address)
	}
	// untouched nested fields keep their defaults
	if cfg.Store.Redis.Prefix != "rolltrack" {
		t.Errorf("Redis.Prefix = %q, want %q", cfg.Store.Redis.Prefix, "rolltrack")
	}
	if cfg.Inventory.MaxTotalWidth != 1600 {
		t.Errorf("MaxTotalWidth = %d, want 1600", cfg.Inventory.MaxTotalWidth)
	}
	if cfg.Messaging.OutboxDrainInterval != 2*time.Second {
		t.Errorf("OutboxDrainInterval = %v, want 2s", cfg.Messaging.OutboxDrainInterval)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Defaults()
	cfg.Web.Port = 9999
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Web.Port != 9999 {
		t.Errorf("Web.Port = %d, want 9999", got.Web.Port)
	}
	if len(got.Inventory.PresetWidths) != 3 {
		t.Errorf("PresetWidths = %v", got.Inventory.PresetWidths)
	}
}
