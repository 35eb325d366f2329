package client

import (
	"context"
	"fmt"

	"github.com/TheMichaelB/memsteward/internal/config"
	"github.com/TheMichaelB/memsteward/internal/diff"
	"github.com/TheMichaelB/memsteward/internal/events"
	"github.com/TheMichaelB/memsteward/internal/history"
	"github.com/TheMichaelB/memsteward/internal/lock"
	"github.com/TheMichaelB/memsteward/internal/manifest"
	"github.com/TheMichaelB/memsteward/internal/models"
	"github.com/TheMichaelB/memsteward/internal/rollback"
	"github.com/TheMichaelB/memsteward/internal/services/migrate"
	"github.com/TheMichaelB/memsteward/internal/watcher"
)

// Client provides the high-level API for memsteward operations.
type Client struct {
	Locks    *lock.Manager
	Rollback *rollback.Manager
	Ledger   *manifest.Ledger
	Migrate  *migrate.Service
	Watcher  *watcher.Watcher
	Audit    *history.Store

	config *config.Config
	logger *events.Logger
}

// New creates a memsteward client wired from the engine configuration.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	auditStore, err := history.NewStore(cfg.Storage.AuditDB, logger)
	if err != nil {
		return nil, err
	}

	lockManager, err := lock.NewManager(cfg.Storage.LockDir, cfg.Lock, logger)
	if err != nil {
		auditStore.Close()
		return nil, err
	}

	ledger, err := manifest.NewLedger(cfg.Storage.ManifestDir, logger)
	if err != nil {
		auditStore.Close()
		return nil, err
	}

	rollbackManager, err := rollback.NewManager(
		cfg.Storage.SnapshotDir, cfg.Storage.ConfigFile, nil, logger)
	if err != nil {
		auditStore.Close()
		return nil, err
	}

	// Seed the baseline from whatever document currently exists. A
	// missing or invalid document just means no baseline yet.
	var active *models.Config
	if doc, err := config.LoadDocument(cfg.Storage.ConfigFile); err == nil && doc.Validate() == nil {
		active = doc
	}
	if err := rollbackManager.Initialize(active); err != nil {
		auditStore.Close()
		return nil, err
	}

	migrateService := migrate.NewService(lockManager, ledger, auditStore, logger)

	configWatcher, err := watcher.New(cfg.Storage.ConfigFile, cfg.Watcher, rollbackManager, logger)
	if err != nil {
		auditStore.Close()
		return nil, err
	}

	return &Client{
		Locks:    lockManager,
		Rollback: rollbackManager,
		Ledger:   ledger,
		Migrate:  migrateService,
		Watcher:  configWatcher,
		Audit:    auditStore,
		config:   cfg,
		logger:   logger,
	}, nil
}

// Config returns the engine configuration.
func (c *Client) Config() *config.Config {
	return c.config
}

// LoadDocument reads the managed configuration document.
func (c *Client) LoadDocument() (*models.Config, error) {
	return config.LoadDocument(c.config.Storage.ConfigFile)
}

// SaveDocument validates, snapshots the previous content, and writes
// the managed configuration document atomically.
func (c *Client) SaveDocument(cfg *models.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if previous, err := c.LoadDocument(); err == nil {
		if _, err := c.Rollback.Snapshot(previous, "before save"); err != nil {
			return fmt.Errorf("snapshot previous document: %w", err)
		}
	}

	return config.SaveDocument(c.config.Storage.ConfigFile, cfg)
}

// MigrateProject moves one project's memory content between the
// locations resolved from the two documents. A project whose resolved
// location did not change is a no-op.
func (c *Client) MigrateProject(ctx context.Context, project string, previous, current *models.Config) (*models.CopyManifest, error) {
	if !diff.IsProjectAffected(previous, current, project) {
		return nil, nil
	}

	source, err := previous.MemoriesPath(project)
	if err != nil {
		return nil, err
	}
	target, err := current.MemoriesPath(project)
	if err != nil {
		return nil, err
	}

	return c.Migrate.Run(ctx, project, source, target)
}

// MigrateAffected migrates every project whose resolved location
// changed between the two documents. The global lock is held for the
// whole batch. Returns the projects migrated.
func (c *Client) MigrateAffected(ctx context.Context, previous, current *models.Config) ([]string, error) {
	affected := diff.AffectedProjects(previous, current)
	if len(affected) == 0 {
		return nil, nil
	}

	if err := c.Locks.AcquireGlobal(0); err != nil {
		return nil, err
	}
	defer func() { _ = c.Locks.ReleaseGlobal() }()

	var migrated []string
	for _, project := range affected {
		if _, err := c.MigrateProject(ctx, project, previous, current); err != nil {
			return migrated, fmt.Errorf("migrate project %s: %w", project, err)
		}
		migrated = append(migrated, project)
	}

	return migrated, nil
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	c.Watcher.Stop()
	return c.Audit.Close()
}
