// Package config provides configuration loading and management for oaiviewer.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Data location
	Data struct {
		// Root is the study folder holding DATA/ and IMAGE/
		Root string `yaml:"root"`
	} `yaml:"data"`

	// HTTP dashboard parameters
	Server struct {
		// Addr is the listen address, e.g. ":8080"
		Addr string `yaml:"addr"`

		// Mode is the gin mode: debug, release or test
		Mode string `yaml:"mode"`

		// AllowedOrigins lists the CORS origins allowed to call the API
		AllowedOrigins []string `yaml:"allowedOrigins"`

		// MaxUploadMB caps the size of one upload request
		MaxUploadMB int64 `yaml:"maxUploadMB"`
	} `yaml:"server"`

	// Display defaults
	Display struct {
		// WindowCenter and WindowWidth are the initial slider positions
		WindowCenter float64 `yaml:"windowCenter"`
		WindowWidth  float64 `yaml:"windowWidth"`

		// SliceSize is the longest edge of a rendered 2D slice in pixels
		SliceSize int `yaml:"sliceSize"`

		// MeshWidth and MeshHeight size one rendered mesh panel
		MeshWidth  int `yaml:"meshWidth"`
		MeshHeight int `yaml:"meshHeight"`

		// ColormapBins is the number of colours in the scalar field colormap
		ColormapBins int `yaml:"colormapBins"`
	} `yaml:"display"`

	// Volume cache parameters
	Cache struct {
		// MaxVolumes is the number of decoded volumes kept in memory
		MaxVolumes int `yaml:"maxVolumes"`
	} `yaml:"cache"`

	// Logging parameters
	Logging LogConfig `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Addr = ":8080"
	cfg.Server.Mode = "release"
	cfg.Server.AllowedOrigins = []string{"http://localhost:8501"}
	cfg.Server.MaxUploadMB = 512

	// The page sliders start at center 0.5, width 0.5
	cfg.Display.WindowCenter = 0.5
	cfg.Display.WindowWidth = 0.5
	cfg.Display.SliceSize = 512
	cfg.Display.MeshWidth = 480
	cfg.Display.MeshHeight = 400
	cfg.Display.ColormapBins = 256

	cfg.Cache.MaxVolumes = 8

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Logging.MaxSize = 50
	cfg.Logging.MaxAge = 14

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Display.WindowCenter < 0 || c.Display.WindowCenter > 1 {
		return fmt.Errorf("display.windowCenter must lie in [0,1]")
	}
	if c.Display.WindowWidth < 0 || c.Display.WindowWidth > 1 {
		return fmt.Errorf("display.windowWidth must lie in [0,1]")
	}
	if c.Display.SliceSize <= 0 || c.Display.MeshWidth <= 0 || c.Display.MeshHeight <= 0 {
		return fmt.Errorf("display sizes must be positive")
	}
	if c.Display.ColormapBins < 2 {
		return fmt.Errorf("display.colormapBins must be at least 2")
	}
	if c.Cache.MaxVolumes <= 0 {
		return fmt.Errorf("cache.maxVolumes must be positive")
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.maxUploadMB must be positive")
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.mode must be debug, release or test, got %q", c.Server.Mode)
	}
	return c.Logging.validate()
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
