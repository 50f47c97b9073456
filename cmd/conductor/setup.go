package main

import (
	"fmt"

	"github.com/kestrelworks/conductor/internal/config"
	"github.com/kestrelworks/conductor/internal/registry"
	"github.com/kestrelworks/conductor/internal/state"
)

var flagConfig string
var flagCatalog string

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default: XDG config path)")
	rootCmd.PersistentFlags().StringVar(&flagCatalog, "catalog", "", "Worker catalog YAML file (overrides config)")
}

// loadConfig loads configuration from the --config flag or the default
// search paths.
func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		return config.LoadFromPath(flagConfig)
	}
	return config.Load()
}

// openState opens and migrates the state database at the configured
// path.
func openState(cfg *config.Config) (*state.DB, error) {
	path := cfg.Storage.DBPath
	if path == "" {
		path = state.DefaultDBPath()
	}
	db, err := state.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// buildRegistry creates a registry from persisted workers plus the
// configured catalog. The catalog wins for workers present in both.
func buildRegistry(cfg *config.Config, db *state.DB) (*registry.Registry, error) {
	reg := registry.New()

	if db != nil {
		if _, err := db.RestoreRegistry(reg); err != nil {
			return nil, fmt.Errorf("restore workers: %w", err)
		}
	}

	if path := catalogPath(cfg); path != "" {
		if _, err := reg.RegisterCatalog(path); err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
	}

	if reg.Count() == 0 {
		return nil, fmt.Errorf("no workers registered; provide a catalog with --catalog or catalog.path")
	}
	return reg, nil
}

// catalogPath resolves the worker catalog path from the --catalog flag
// or the config.
func catalogPath(cfg *config.Config) string {
	if flagCatalog != "" {
		return flagCatalog
	}
	return cfg.Catalog.Path
}
