package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testConfigJSON = `{
	"cache_path": "/data/cache",
	"output_path": "/data/output",
	"primary_uid": "12345",
	"auto_subtitle": true,
	"auto_generate": {"enabled": true, "encode_danmu": true},
	"status_check_interval": "30s",
	"webhook_url": "https://example.com/hook"
}`

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	if err := os.WriteFile(configPath, []byte(testConfigJSON), 0o644); err != nil {
		t.Fatalf("failed to write temp config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.CachePath != "/data/cache" {
		t.Errorf("expected CachePath '/data/cache', got %q", cfg.CachePath)
	}
	if cfg.PrimaryUID != "12345" {
		t.Errorf("expected PrimaryUID '12345', got %q", cfg.PrimaryUID)
	}
	if !cfg.AutoSubtitle {
		t.Errorf("expected AutoSubtitle true")
	}
	if !cfg.AutoGenerate.Enabled || !cfg.AutoGenerate.EncodeDanmu {
		t.Errorf("expected AutoGenerate fully enabled, got %+v", cfg.AutoGenerate)
	}
	if cfg.StatusCheckInterval.AsTime() != 30*time.Second {
		t.Errorf("expected StatusCheckInterval 30s, got %v", cfg.StatusCheckInterval.AsTime())
	}
	// DataPath was absent in the JSON, so it should keep the default.
	if cfg.DataPath != Default().DataPath {
		t.Errorf("expected default DataPath, got %q", cfg.DataPath)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("expected no error for a missing config file, got %v", err)
	}
	if cfg.ListenAddr != Default().ListenAddr {
		t.Errorf("expected default listen addr, got %q", cfg.ListenAddr)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.PrimaryUID = "99"
	cfg.StatusCheckInterval = Duration(5 * time.Second)

	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save failed: %v", err)
	}
	if reloaded.PrimaryUID != "99" {
		t.Errorf("expected PrimaryUID '99' after round trip, got %q", reloaded.PrimaryUID)
	}
	if reloaded.StatusCheckInterval.AsTime() != 5*time.Second {
		t.Errorf("expected 5s interval after round trip, got %v", reloaded.StatusCheckInterval.AsTime())
	}
}
