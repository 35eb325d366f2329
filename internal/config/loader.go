package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles engine configuration loading from file and environment.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  "MEMSTEWARD",
	}
}

// Load reads configuration from file and environment. Environment
// variables override file values using the MEMSTEWARD_ prefix, e.g.
// MEMSTEWARD_LOG_LEVEL=debug.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("storage.data_dir", defaults.Storage.DataDir)
	v.SetDefault("storage.config_file", defaults.Storage.ConfigFile)
	v.SetDefault("storage.lock_dir", defaults.Storage.LockDir)
	v.SetDefault("storage.snapshot_dir", defaults.Storage.SnapshotDir)
	v.SetDefault("storage.manifest_dir", defaults.Storage.ManifestDir)
	v.SetDefault("storage.audit_db", defaults.Storage.AuditDB)
	v.SetDefault("lock.global_timeout", defaults.Lock.GlobalTimeout)
	v.SetDefault("lock.project_timeout", defaults.Lock.ProjectTimeout)
	v.SetDefault("lock.stale_after", defaults.Lock.StaleAfter)
	v.SetDefault("lock.poll_interval", defaults.Lock.PollInterval)
	v.SetDefault("watcher.debounce", defaults.Watcher.Debounce)
	v.SetDefault("watcher.auto_rollback", defaults.Watcher.AutoRollback)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("log.file", defaults.Log.File)

	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.configPath, err)
		}
	} else {
		for _, path := range l.defaultPaths() {
			if _, err := os.Stat(path); err == nil {
				l.configPath = path
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return nil, fmt.Errorf("load config file %s: %w", path, err)
				}
				break
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// A relocated data dir moves dependent paths that were left at
	// their defaults.
	if cfg.Storage.DataDir != defaults.Storage.DataDir {
		rebase := func(current, def string) string {
			if current != def {
				return current
			}
			return filepath.Join(cfg.Storage.DataDir, filepath.Base(def))
		}
		cfg.Storage.ConfigFile = rebase(cfg.Storage.ConfigFile, defaults.Storage.ConfigFile)
		cfg.Storage.LockDir = rebase(cfg.Storage.LockDir, defaults.Storage.LockDir)
		cfg.Storage.SnapshotDir = rebase(cfg.Storage.SnapshotDir, defaults.Storage.SnapshotDir)
		cfg.Storage.ManifestDir = rebase(cfg.Storage.ManifestDir, defaults.Storage.ManifestDir)
		cfg.Storage.AuditDB = rebase(cfg.Storage.AuditDB, defaults.Storage.AuditDB)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ConfigPath returns the resolved config file path, if any.
func (l *Loader) ConfigPath() string {
	return l.configPath
}

// defaultPaths returns default config file locations.
func (l *Loader) defaultPaths() []string {
	paths := []string{
		"memsteward.json",
		".memsteward.json",
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", "memsteward", "config.json"),
			filepath.Join(homeDir, ".memsteward", "engine.json"),
		)
	}

	return paths
}
