package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if cfg.Daemon.ReconcileInterval != 5*time.Minute {
		t.Errorf("reconcile interval = %s, want 5m", cfg.Daemon.ReconcileInterval)
	}
	if cfg.Dashboard.Port != 8377 {
		t.Errorf("dashboard port = %d, want 8377", cfg.Dashboard.Port)
	}
	if !cfg.Display.Colors {
		t.Error("colors should default on")
	}
	if strings.HasPrefix(cfg.Storage.Path, "~") {
		t.Errorf("storage path not expanded: %s", cfg.Storage.Path)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  path: /tmp/test-prodcal.db
daemon:
  reconcile_interval: 30s
dashboard:
  enabled: true
  port: 9000
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Path != "/tmp/test-prodcal.db" {
		t.Errorf("storage path = %s", cfg.Storage.Path)
	}
	if cfg.Daemon.ReconcileInterval != 30*time.Second {
		t.Errorf("reconcile interval = %s, want 30s", cfg.Daemon.ReconcileInterval)
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.Port != 9000 {
		t.Errorf("dashboard = %+v", cfg.Dashboard)
	}
	// Unset values keep their defaults.
	if cfg.Daemon.LogMaxSizeMB != 10 {
		t.Errorf("log max size = %d, want default 10", cfg.Daemon.LogMaxSizeMB)
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load written default: %v", err)
	}
	def := Default()
	if cfg.Daemon.ReconcileInterval != def.Daemon.ReconcileInterval {
		t.Errorf("round trip changed reconcile interval: %s", cfg.Daemon.ReconcileInterval)
	}
	if cfg.Storage.Path != def.Storage.Path {
		t.Errorf("round trip changed storage path: %s vs %s", cfg.Storage.Path, def.Storage.Path)
	}

	if err := WriteDefault(path); err == nil {
		t.Error("WriteDefault overwrote an existing file")
	}
}
