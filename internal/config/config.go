package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the msgvault configuration
type Config struct {
	Owner     OwnerConfig     `yaml:"owner"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// OwnerConfig identifies the archive owner
type OwnerConfig struct {
	DisplayName string   `yaml:"display_name"`
	Handles     []string `yaml:"handles"`
}

// EmbeddingConfig controls the embedding capability
type EmbeddingConfig struct {
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
}

// ArchiveConfig controls ingestion behavior
type ArchiveConfig struct {
	// Timezone is the IANA zone calendar fields are derived in.
	// Empty means the system's local zone.
	Timezone string `yaml:"timezone"`
	// MinChunkChars drops chunks whose transcript is shorter than this.
	MinChunkChars int `yaml:"min_chunk_chars"`
}

const (
	DefaultModel         = "text-embedding-3-small"
	DefaultDimensions    = 1536
	DefaultBatchSize     = 100
	DefaultMinChunkChars = 20
)

// GetConfigDir returns the XDG-compliant config directory
func GetConfigDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("MSGVAULT_CONFIG_DIR"); override != "" {
		return override, nil
	}

	var base string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "msgvault"), nil
}

// GetDataDir returns the platform-specific data directory
func GetDataDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("MSGVAULT_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Msgvault"), nil
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "msgvault"), nil
	}

	return filepath.Join(home, ".local", "share", "msgvault"), nil
}

// Load loads config from the config file
func Load() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, "config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Embedding.Model == "" {
		c.Embedding.Model = DefaultModel
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = DefaultDimensions
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = DefaultBatchSize
	}
	if c.Archive.MinChunkChars <= 0 {
		c.Archive.MinChunkChars = DefaultMinChunkChars
	}
}

// Location resolves the archive timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Archive.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Archive.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid archive timezone %q: %w", c.Archive.Timezone, err)
	}
	return loc, nil
}

// Save saves the config to the config file
func (c *Config) Save() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
