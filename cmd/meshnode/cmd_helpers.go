package main

import (
	"fmt"

	"github.com/kons-9/shapechangeable-computer/internal/config"
)

// resolvedConfigPath returns the --config flag value or the default path.
func resolvedConfigPath() (string, error) {
	if globalConfigPath != "" {
		return globalConfigPath, nil
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file from the resolved path.
func loadConfig() (*config.Config, error) {
	path, err := resolvedConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading config (run 'meshnode init' first): %w", err)
	}
	return cfg, nil
}
