package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got %v", err)
	}
	if cfg.Display.WindowCenter != 0.5 || cfg.Display.WindowWidth != 0.5 {
		t.Errorf("Expected window 0.5/0.5, got %.2f/%.2f", cfg.Display.WindowCenter, cfg.Display.WindowWidth)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Expected default addr, got %s", cfg.Server.Addr)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "oaiviewer.yaml")

	cfg := DefaultConfig()
	cfg.Data.Root = "/media/study"
	cfg.Cache.MaxVolumes = 3
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if loaded.Data.Root != "/media/study" {
		t.Errorf("Expected root /media/study, got %s", loaded.Data.Root)
	}
	if loaded.Cache.MaxVolumes != 3 {
		t.Errorf("Expected 3 cached volumes, got %d", loaded.Cache.MaxVolumes)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	data := "display:\n  windowCenter: 2.0\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "windowCenter") {
		t.Errorf("Expected windowCenter error, got %v", err)
	}
}

func TestInitLoggerToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewer.log")
	logger, closer, err := InitLogger(LogConfig{Level: "debug", Format: "json", File: path, MaxSize: 1})
	if err != nil {
		t.Fatalf("Failed to init logger: %v", err)
	}
	logger.Info("volume loaded", "subject", 9003126)
	if err := closer.Close(); err != nil {
		t.Fatalf("Failed to close log file: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"subject":9003126`) {
		t.Errorf("Expected subject attribute in log, got %s", data)
	}

	if _, _, err := InitLogger(LogConfig{Level: "loud"}); err == nil {
		t.Error("Expected error for unknown level")
	}
}
