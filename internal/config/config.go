// Package config handles configuration loading and management for conductor.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/kestrelworks/conductor/internal/selector"
)

// Config holds all configuration for conductor.
type Config struct {
	Selection SelectionConfig `mapstructure:"selection"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
}

// SelectionConfig holds worker selection settings.
type SelectionConfig struct {
	Weights selector.Weights `mapstructure:"weights"`
}

// ExecutionConfig holds batch execution settings.
type ExecutionConfig struct {
	// MaxRetries is the per-assignment attempt budget.
	MaxRetries int `mapstructure:"max_retries"`
	// MaxInFlight bounds concurrent assignment dispatches per batch.
	MaxInFlight int `mapstructure:"max_in_flight"`
	// AssignmentTimeout bounds a single generate-and-validate attempt.
	AssignmentTimeout time.Duration `mapstructure:"assignment_timeout"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// DBPath is the SQLite database path. Empty means the default
	// XDG data path.
	DBPath string `mapstructure:"db_path"`
	// ReportRetention is how long finished reports are kept.
	ReportRetention time.Duration `mapstructure:"report_retention"`
}

// CatalogConfig holds worker catalog settings.
type CatalogConfig struct {
	// Path is the YAML worker catalog file.
	Path string `mapstructure:"path"`
	// Watch reloads the catalog when the file changes.
	Watch bool `mapstructure:"watch"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (CONDUCTOR_DB_PATH, CONDUCTOR_CATALOG)
// 2. Project config (.conductor.yaml in current directory or parent)
// 3. User config (~/.config/conductor/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Project config takes precedence
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("storage.db_path", "CONDUCTOR_DB_PATH")
	v.BindEnv("catalog.path", "CONDUCTOR_CATALOG")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Storage.DBPath = os.ExpandEnv(cfg.Storage.DBPath)
	cfg.Catalog.Path = os.ExpandEnv(cfg.Catalog.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("selection.weights.capability", cfg.Selection.Weights.Capability)
	v.Set("selection.weights.performance", cfg.Selection.Weights.Performance)
	v.Set("selection.weights.availability", cfg.Selection.Weights.Availability)
	v.Set("selection.weights.cost", cfg.Selection.Weights.Cost)
	v.Set("execution.max_retries", cfg.Execution.MaxRetries)
	v.Set("execution.max_in_flight", cfg.Execution.MaxInFlight)
	v.Set("execution.assignment_timeout", cfg.Execution.AssignmentTimeout.String())
	v.Set("storage.db_path", cfg.Storage.DBPath)
	v.Set("storage.report_retention", cfg.Storage.ReportRetention.String())
	v.Set("catalog.path", cfg.Catalog.Path)
	v.Set("catalog.watch", cfg.Catalog.Watch)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// Validate checks the configuration for values that would misbehave at
// runtime.
func (c *Config) Validate() error {
	w := c.Selection.Weights
	sum := w.Capability + w.Performance + w.Availability + w.Cost
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("selection weights must sum to 1.0, got %.3f", sum)
	}
	if w.Capability < 0 || w.Performance < 0 || w.Availability < 0 || w.Cost < 0 {
		return fmt.Errorf("selection weights must be non-negative")
	}
	if c.Execution.MaxRetries < 1 {
		return fmt.Errorf("execution.max_retries must be at least 1, got %d", c.Execution.MaxRetries)
	}
	if c.Execution.MaxInFlight < 1 {
		return fmt.Errorf("execution.max_in_flight must be at least 1, got %d", c.Execution.MaxInFlight)
	}
	return nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	defaults := selector.DefaultWeights()

	v.SetDefault("selection.weights.capability", defaults.Capability)
	v.SetDefault("selection.weights.performance", defaults.Performance)
	v.SetDefault("selection.weights.availability", defaults.Availability)
	v.SetDefault("selection.weights.cost", defaults.Cost)

	v.SetDefault("execution.max_retries", 3)
	v.SetDefault("execution.max_in_flight", 20)
	v.SetDefault("execution.assignment_timeout", "10m")

	v.SetDefault("storage.db_path", "")
	v.SetDefault("storage.report_retention", "720h")

	v.SetDefault("catalog.path", "")
	v.SetDefault("catalog.watch", false)
}

// getUserConfigDir returns the XDG config directory for conductor.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "conductor")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "conductor")
	}
	return filepath.Join(home, ".config", "conductor")
}

// findProjectConfig searches for .conductor.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".conductor.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Selection: SelectionConfig{
			Weights: selector.DefaultWeights(),
		},
		Execution: ExecutionConfig{
			MaxRetries:        3,
			MaxInFlight:       20,
			AssignmentTimeout: 10 * time.Minute,
		},
		Storage: StorageConfig{
			ReportRetention: 720 * time.Hour,
		},
	}
}
