package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"signal_trader/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig loads envFile (when present) into the environment, then the YAML
// config, so ${VAR} references resolve against it
func LoadConfig(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}
	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	if cfg.Scoring.Enabled && !cfg.Scoring.APIKey.IsSet() {
		return fmt.Errorf("scoring.api_key is required when scoring is enabled")
	}

	if cfg.Storage.Driver == "sqlite" {
		if err := dirExists(cfg.Storage.SQLitePath); err != nil {
			return fmt.Errorf("storage.sqlite_path: %w", err)
		}
	}
	if cfg.System.LogFile != "" {
		if err := dirExists(cfg.System.LogFile); err != nil {
			return fmt.Errorf("system.log_file: %w", err)
		}
	}
	return nil
}

func dirExists(file string) error {
	dir := filepath.Dir(file)
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
