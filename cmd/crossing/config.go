package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/banshee-data/crossing.report/internal/config"
	"github.com/banshee-data/crossing.report/internal/db"
)

var errNoSourcesConfigured = errors.New("no sources configured; pass -config, -sources-from-db or -dev")

// resolveConfig picks the engine configuration: an explicit path, then the
// default path when it exists, then the synthetic dev config.
func resolveConfig(path string, dev bool) (*config.EngineConfig, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}
	if path != "" {
		cfg, err := config.LoadEngineConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
		return cfg, nil
	}
	if dev {
		return devConfig(), nil
	}
	return nil, errNoSourcesConfigured
}

// devConfig runs two synthetic scenes so the whole pipeline can be exercised
// without cameras.
func devConfig() *config.EngineConfig {
	return &config.EngineConfig{
		Sources: []config.SourceConfig{
			{
				ID:          "synthetic-1",
				Line:        [4]float64{150, 0, 150, 480},
				FrameSource: "synthetic://?objects=5&fps=10&line=150&seed=1",
			},
			{
				ID:          "synthetic-2",
				Line:        [4]float64{320, 0, 320, 480},
				FrameSource: "synthetic://?objects=8&fps=15&line=320&width=640&seed=2",
			},
		},
	}
}

// loadCatalogue replaces cfg.Sources with the database catalogue. Stored
// rows are checked like a configuration file.
func loadCatalogue(ctx context.Context, database *db.DB, cfg *config.EngineConfig) error {
	catalogue, err := database.ListSources(ctx)
	if err != nil {
		return err
	}
	cfg.Sources = catalogue
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid source catalogue: %w", err)
	}
	return nil
}
