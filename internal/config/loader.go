package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the config file looked up in the
	// working directory
	ProjectConfigFile = "chatsync.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/chatsync"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
	// EnvDBPath overrides store.path when set
	EnvDBPath = "CHATSYNC_DB"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger  *slog.Logger
	homeDir func() (string, error)
	workDir func() (string, error)
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, homeDir: os.UserHomeDir, workDir: os.Getwd}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/chatsync/config.yaml)
// 3. Project config (chatsync.yaml in the working directory), or the
// explicit path when one is given
// 4. CHATSYNC_DB environment variable
func (l *Loader) Load(explicitPath string) (*Config, error) {
	config := DefaultConfig()

	if userPath := l.userConfigPath(); userPath != "" {
		if userConfig, err := LoadFromFile(userPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userPath))
			config.Merge(userConfig)
		} else if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", userPath), slog.String("error", err.Error()))
		}
	}

	if explicitPath != "" {
		// An explicit file must exist and parse.
		fileConfig, err := LoadFromFile(explicitPath)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config", slog.String("path", explicitPath))
		config.Merge(fileConfig)
	} else if projectPath := l.projectConfigPath(); projectPath != "" {
		if projectConfig, err := LoadFromFile(projectPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectPath))
			config.Merge(projectConfig)
		} else if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("Failed to load project config", slog.String("path", projectPath), slog.String("error", err.Error()))
		}
	}

	if db := os.Getenv(EnvDBPath); db != "" {
		config.Store.Path = db
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) userConfigPath() string {
	home, err := l.homeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

func (l *Loader) projectConfigPath() string {
	cwd, err := l.workDir()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ProjectConfigFile)
}
