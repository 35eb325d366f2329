package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all engine configuration.
type Config struct {
	// Storage paths
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Lock behavior
	Lock LockConfig `json:"lock" mapstructure:"lock"`

	// Watcher behavior
	Watcher WatcherConfig `json:"watcher" mapstructure:"watcher"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// StorageConfig for on-disk layout.
type StorageConfig struct {
	DataDir     string `json:"data_dir" mapstructure:"data_dir"`         // Base directory for all engine state
	ConfigFile  string `json:"config_file" mapstructure:"config_file"`   // Managed configuration document
	LockDir     string `json:"lock_dir" mapstructure:"lock_dir"`         // Lock marker files
	SnapshotDir string `json:"snapshot_dir" mapstructure:"snapshot_dir"` // Rollback snapshots
	ManifestDir string `json:"manifest_dir" mapstructure:"manifest_dir"` // Copy manifests
	AuditDB     string `json:"audit_db" mapstructure:"audit_db"`         // SQLite audit trail
}

// LockConfig for cross-process lock acquisition.
type LockConfig struct {
	GlobalTimeout  time.Duration `json:"global_timeout" mapstructure:"global_timeout"`   // Global lock deadline
	ProjectTimeout time.Duration `json:"project_timeout" mapstructure:"project_timeout"` // Per-project lock deadline
	StaleAfter     time.Duration `json:"stale_after" mapstructure:"stale_after"`         // Marker age before presumed abandoned
	PollInterval   time.Duration `json:"poll_interval" mapstructure:"poll_interval"`     // Initial contention backoff
}

// WatcherConfig for the configuration file watcher.
type WatcherConfig struct {
	Debounce     time.Duration `json:"debounce" mapstructure:"debounce"`           // Quiet period before reconfiguring
	AutoRollback bool          `json:"auto_rollback" mapstructure:"auto_rollback"` // Revert to baseline on validation failure
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // Log file path (empty = stdout)
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".memsteward"

	return &Config{
		Storage: StorageConfig{
			DataDir:     dataDir,
			ConfigFile:  filepath.Join(dataDir, "config.json"),
			LockDir:     filepath.Join(dataDir, "locks"),
			SnapshotDir: filepath.Join(dataDir, "snapshots"),
			ManifestDir: filepath.Join(dataDir, "manifests"),
			AuditDB:     filepath.Join(dataDir, "audit.db"),
		},
		Lock: LockConfig{
			GlobalTimeout:  60 * time.Second,
			ProjectTimeout: 30 * time.Second,
			StaleAfter:     10 * time.Minute,
			PollInterval:   50 * time.Millisecond,
		},
		Watcher: WatcherConfig{
			Debounce:     2 * time.Second,
			AutoRollback: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultConfigAt returns defaults with all storage paths rooted at
// an explicit data directory.
func DefaultConfigAt(dataDir string) *Config {
	cfg := DefaultConfig()
	cfg.Storage = StorageConfig{
		DataDir:     dataDir,
		ConfigFile:  filepath.Join(dataDir, "config.json"),
		LockDir:     filepath.Join(dataDir, "locks"),
		SnapshotDir: filepath.Join(dataDir, "snapshots"),
		ManifestDir: filepath.Join(dataDir, "manifests"),
		AuditDB:     filepath.Join(dataDir, "audit.db"),
	}
	return cfg
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Storage.ConfigFile == "" {
		return errors.New("storage.config_file is required")
	}

	if c.Lock.GlobalTimeout <= 0 {
		return errors.New("lock.global_timeout must be positive")
	}

	if c.Lock.ProjectTimeout <= 0 {
		return errors.New("lock.project_timeout must be positive")
	}

	if c.Lock.StaleAfter <= 0 {
		return errors.New("lock.stale_after must be positive")
	}

	if c.Watcher.Debounce <= 0 {
		return errors.New("watcher.debounce must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories with restrictive
// permissions.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		filepath.Dir(c.Storage.ConfigFile),
		c.Storage.LockDir,
		c.Storage.SnapshotDir,
		c.Storage.ManifestDir,
	}

	if c.Storage.AuditDB != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.AuditDB))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
