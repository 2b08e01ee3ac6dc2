// Package config_test provides tests for configuration loading.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("Unexpected server defaults: %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("Unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Backtest.DefaultCapital != 10000 {
		t.Errorf("Unexpected default capital: %f", cfg.Backtest.DefaultCapital)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Unexpected log level: %s", cfg.LogLevel)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BACKTEST_SERVER_PORT", "9999")
	t.Setenv("BACKTEST_LOG_LEVEL", "debug")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Expected env port 9999, got %d", cfg.Server.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected env log level debug, got %s", cfg.LogLevel)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("server:\n  port: 9001\ndata_dir: /tmp/bars\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9001 {
		t.Errorf("Expected file port 9001, got %d", cfg.Server.Port)
	}
	if cfg.DataDir != "/tmp/bars" {
		t.Errorf("Expected data dir from file, got %s", cfg.DataDir)
	}
	// Untouched keys keep their defaults.
	if cfg.Server.Host != "localhost" {
		t.Errorf("Expected default host, got %s", cfg.Server.Host)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected defaults for missing file, got port %d", cfg.Server.Port)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("BACKTEST_SERVER_PORT", "-1")
	if _, err := config.Load(""); err == nil {
		t.Error("Expected error for invalid port")
	}
}
