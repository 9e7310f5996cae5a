package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	userConfigDirName  = "opsdeck"
	userConfigFileName = "config.yaml"
	projectConfigName  = "opsdeck.yaml"
)

// Loader handles layered configuration loading
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with the following precedence (later overrides earlier):
//  1. Built-in defaults
//  2. User config (~/.config/opsdeck/config.yaml)
//  3. Project config (opsdeck.yaml, searched upward from the working directory)
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	userPath, err := UserConfigPath()
	if err != nil {
		l.logger.Debug("could not determine user config path", "error", err)
	} else if _, err := os.Stat(userPath); err == nil {
		userConfig, err := LoadFromFile(userPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
		config.Merge(userConfig)
		l.logger.Debug("loaded user config", "path", userPath)
	}

	projectPath, err := findProjectConfig()
	if err == nil && projectPath != "" {
		projectConfig, err := LoadFromFile(projectPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load project config: %w", err)
		}
		config.Merge(projectConfig)
		l.logger.Debug("loaded project config", "path", projectPath)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// EnsureUserConfig writes a default user config file if none exists and
// returns its path.
func (l *Loader) EnsureUserConfig() (string, error) {
	path, err := UserConfigPath()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := DefaultConfig().SaveToFile(path); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}
	l.logger.Info("created default config", "path", path)
	return path, nil
}

// UserConfigPath returns the path to the user configuration file
func UserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", userConfigDirName, userConfigFileName), nil
}

// DefaultCredentialPath returns the default location of the file credential store
func DefaultCredentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", userConfigDirName, "credentials.json"), nil
}

// findProjectConfig searches for a project config file starting from the
// current directory and walking upward.
func findProjectConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, projectConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
