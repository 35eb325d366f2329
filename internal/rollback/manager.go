// Package rollback maintains a bounded, checksummed history of
// configuration snapshots plus a distinguished last-known-good
// baseline, and restores them atomically.
package rollback

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/memsteward/internal/config"
	"github.com/TheMichaelB/memsteward/internal/events"
	"github.com/TheMichaelB/memsteward/internal/models"
	"github.com/TheMichaelB/memsteward/internal/storage"
)

// MaxHistory bounds the snapshot history; the oldest entry is evicted
// first once the bound is exceeded.
const MaxHistory = 10

const (
	historyFile  = "history.json"
	baselineFile = "last-known-good.json"
)

// Target selects what a rollback restores.
type Target string

const (
	// TargetLastKnownGood restores the distinguished baseline.
	TargetLastKnownGood Target = "lastKnownGood"

	// TargetPrevious restores the most recent history snapshot.
	TargetPrevious Target = "previous"
)

// SyncNotifier propagates a restored or reconfigured document to an
// external backend. Failures are reported but never re-open committed
// local state.
type SyncNotifier interface {
	SyncConfig(cfg *models.Config) error
}

// Result describes a completed rollback.
type Result struct {
	Target     Target         `json:"target"`
	SnapshotID string         `json:"snapshot_id"`
	Reason     string         `json:"reason"`
	Config     *models.Config `json:"-"`
	SyncErr    error          `json:"-"`
}

// Manager owns snapshot history and the last-known-good baseline.
type Manager struct {
	snapshotDir string
	configPath  string
	notifier    SyncNotifier
	logger      *events.Logger

	mu      sync.Mutex
	history []*models.Snapshot
	lkg     *models.Snapshot
	ready   bool
}

// NewManager creates a rollback manager persisting under snapshotDir
// and restoring into configPath. notifier may be nil.
func NewManager(snapshotDir, configPath string, notifier SyncNotifier, logger *events.Logger) (*Manager, error) {
	absDir, err := filepath.Abs(snapshotDir)
	if err != nil {
		return nil, fmt.Errorf("resolve snapshot directory: %w", err)
	}

	if err := os.MkdirAll(absDir, 0700); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	return &Manager{
		snapshotDir: absDir,
		configPath:  configPath,
		notifier:    notifier,
		logger:      logger.WithField("component", "rollback_manager"),
	}, nil
}

// Initialize loads persisted state and establishes a baseline. A
// persisted last-known-good whose checksum no longer matches is
// discarded and replaced with a fresh baseline captured from the
// currently active configuration.
func (m *Manager) Initialize(active *models.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ready {
		return nil
	}

	m.loadHistory()

	if snap, err := m.loadBaseline(); err == nil {
		if verifyErr := snap.Verify(); verifyErr == nil {
			m.lkg = snap
			m.ready = true
			m.logger.WithField("snapshot_id", snap.ID).Debug("Loaded last-known-good baseline")
			return nil
		}
		m.logger.WithField("snapshot_id", snap.ID).
			Warn("Discarding corrupted last-known-good baseline")
		_ = os.Remove(filepath.Join(m.snapshotDir, baselineFile))
	}

	if active != nil {
		snap, err := m.newSnapshot(active, "initial baseline")
		if err != nil {
			return err
		}
		if err := m.saveBaseline(snap); err != nil {
			return err
		}
		m.lkg = snap
		m.logger.WithField("snapshot_id", snap.ID).Info("Captured fresh baseline")
	}

	m.ready = true
	return nil
}

// Snapshot records a deep copy of the configuration in history.
func (m *Manager) Snapshot(cfg *models.Config, reason string) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.newSnapshot(cfg, reason)
	if err != nil {
		return nil, err
	}

	m.history = append(m.history, snap)
	for len(m.history) > MaxHistory {
		evicted := m.history[0]
		m.history = m.history[1:]
		m.logger.WithField("snapshot_id", evicted.ID).Debug("Evicted oldest snapshot")
	}

	if err := m.saveHistory(); err != nil {
		return nil, err
	}

	m.logger.WithFields(map[string]interface{}{
		"snapshot_id": snap.ID,
		"reason":      reason,
	}).Debug("Recorded snapshot")

	return snap, nil
}

// MarkAsGood replaces the last-known-good baseline.
func (m *Manager) MarkAsGood(cfg *models.Config, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.newSnapshot(cfg, reason)
	if err != nil {
		return err
	}

	if err := m.saveBaseline(snap); err != nil {
		return err
	}

	m.lkg = snap
	m.logger.WithFields(map[string]interface{}{
		"snapshot_id": snap.ID,
		"reason":      reason,
	}).Info("Marked configuration as last known good")

	return nil
}

// Rollback restores the selected snapshot. The snapshot's checksum is
// verified before the restore; the restored document is written
// atomically; the snapshot is left intact on save failure so the
// operation can be retried.
func (m *Manager) Rollback(target Target) (*Result, error) {
	m.mu.Lock()

	var snap *models.Snapshot
	switch target {
	case TargetLastKnownGood:
		if m.lkg == nil {
			m.mu.Unlock()
			return nil, models.ErrNoBaseline
		}
		snap = m.lkg
	case TargetPrevious:
		if len(m.history) == 0 {
			m.mu.Unlock()
			return nil, models.ErrNoSnapshot
		}
		snap = m.history[len(m.history)-1]
	default:
		m.mu.Unlock()
		return nil, fmt.Errorf("unknown rollback target %q", target)
	}
	m.mu.Unlock()

	if err := snap.Verify(); err != nil {
		return nil, fmt.Errorf("verify snapshot %s: %w", snap.ID, err)
	}

	restored := snap.Config.Clone()
	if err := config.SaveDocument(m.configPath, restored); err != nil {
		return nil, fmt.Errorf("restore configuration from %s: %w", snap.ID, err)
	}

	result := &Result{
		Target:     target,
		SnapshotID: snap.ID,
		Reason:     snap.Reason,
		Config:     restored,
	}

	if m.notifier != nil {
		if err := m.notifier.SyncConfig(restored); err != nil {
			m.logger.WithError(err).Warn("Downstream sync failed after rollback")
			result.SyncErr = err
		}
	}

	m.logger.WithFields(map[string]interface{}{
		"target":      string(target),
		"snapshot_id": snap.ID,
	}).Info("Rolled back configuration")

	return result, nil
}

// Revert restores the last-known-good baseline.
func (m *Manager) Revert() (*Result, error) {
	return m.Rollback(TargetLastKnownGood)
}

// History returns the snapshots oldest first.
func (m *Manager) History() []*models.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Snapshot, len(m.history))
	copy(out, m.history)
	return out
}

// LastSnapshot returns the most recent history snapshot, or nil.
func (m *Manager) LastSnapshot() *models.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return nil
	}
	return m.history[len(m.history)-1]
}

// LastKnownGood returns the baseline snapshot, or nil.
func (m *Manager) LastKnownGood() *models.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lkg
}

// ClearHistory drops all history snapshots. The last-known-good
// baseline is unaffected.
func (m *Manager) ClearHistory() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = nil
	return m.saveHistory()
}

// MatchesLastKnownGood reports whether a configuration checksums
// identically to the baseline.
func (m *Manager) MatchesLastKnownGood(cfg *models.Config) bool {
	m.mu.Lock()
	lkg := m.lkg
	m.mu.Unlock()

	if lkg == nil {
		return false
	}

	sum, err := models.ConfigChecksum(cfg)
	if err != nil {
		return false
	}

	return sum == lkg.Checksum
}

// newSnapshot deep-copies and checksums a configuration.
func (m *Manager) newSnapshot(cfg *models.Config, reason string) (*models.Snapshot, error) {
	clone := cfg.Clone()
	sum, err := models.ConfigChecksum(clone)
	if err != nil {
		return nil, fmt.Errorf("checksum config: %w", err)
	}

	return &models.Snapshot{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Reason:    reason,
		Checksum:  sum,
		Config:    clone,
	}, nil
}

// Persistence helpers. Snapshots that fail verification on load are
// discarded, never trusted.

func (m *Manager) loadHistory() {
	path := filepath.Join(m.snapshotDir, historyFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var snaps []*models.Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		m.logger.WithError(err).Warn("Discarding unreadable snapshot history")
		return
	}

	for _, snap := range snaps {
		if err := snap.Verify(); err != nil {
			m.logger.WithField("snapshot_id", snap.ID).
				Warn("Discarding corrupted history snapshot")
			continue
		}
		m.history = append(m.history, snap)
	}
}

func (m *Manager) saveHistory() error {
	data, err := json.MarshalIndent(m.history, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	path := filepath.Join(m.snapshotDir, historyFile)
	if err := storage.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("save history: %w", err)
	}

	return nil
}

func (m *Manager) loadBaseline() (*models.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(m.snapshotDir, baselineFile))
	if err != nil {
		return nil, err
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse baseline: %w", err)
	}

	return &snap, nil
}

func (m *Manager) saveBaseline(snap *models.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}

	path := filepath.Join(m.snapshotDir, baselineFile)
	if err := storage.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("save baseline: %w", err)
	}

	return nil
}
