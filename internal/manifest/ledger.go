// Package manifest persists per-migration copy ledgers so an
// interrupted content migration can be recovered or rolled back after
// a crash.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/memsteward/internal/events"
	"github.com/TheMichaelB/memsteward/internal/models"
	"github.com/TheMichaelB/memsteward/internal/storage"
)

const (
	manifestPrefix = "migration-"
	manifestExt    = ".json"
)

// Ledger manages copy manifests under a single directory. Every state
// transition is persisted before the ledger reports it, so the on-disk
// manifest never trails the work already done.
type Ledger struct {
	dir    string
	logger *events.Logger
}

// NewLedger creates a ledger persisting manifests under dir.
func NewLedger(dir string, logger *events.Logger) (*Ledger, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest directory: %w", err)
	}

	if err := os.MkdirAll(absDir, 0700); err != nil {
		return nil, fmt.Errorf("create manifest directory: %w", err)
	}

	return &Ledger{
		dir:    absDir,
		logger: logger.WithField("component", "manifest_ledger"),
	}, nil
}

// CreateManifest builds and persists a manifest for copying the given
// slash-relative files from sourceRoot to targetRoot. Source checksums
// are computed up front and the manifest is on disk before the first
// byte is copied.
func (l *Ledger) CreateManifest(project, sourceRoot, targetRoot string, files []string) (*models.CopyManifest, error) {
	m := &models.CopyManifest{
		ID:         uuid.NewString(),
		Project:    project,
		SourceRoot: sourceRoot,
		TargetRoot: targetRoot,
		StartedAt:  time.Now().UTC(),
		Entries:    make([]models.ManifestEntry, 0, len(files)),
	}

	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Strings(sorted)

	for _, rel := range sorted {
		sum, err := storage.FileChecksum(filepath.Join(sourceRoot, filepath.FromSlash(rel)))
		if err != nil {
			return nil, &models.MigrateError{
				Phase:       "plan",
				MigrationID: m.ID,
				Project:     project,
				Path:        rel,
				Err:         err,
			}
		}

		m.Entries = append(m.Entries, models.ManifestEntry{
			SourcePath:     rel,
			TargetPath:     rel,
			SourceChecksum: sum,
			Status:         models.EntryPending,
		})
	}

	if err := l.Save(m); err != nil {
		return nil, err
	}

	l.logger.WithFields(map[string]interface{}{
		"migration_id": m.ID,
		"project":      project,
		"files":        len(m.Entries),
	}).Info("Created copy manifest")

	return m, nil
}

// MarkEntryCopied advances an entry to copied and persists the change.
func (l *Ledger) MarkEntryCopied(m *models.CopyManifest, sourcePath string) error {
	entry, err := findEntry(m, sourcePath)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	entry.Status = models.EntryCopied
	entry.CopiedAt = &now
	entry.Error = ""

	return l.Save(m)
}

// MarkEntryFailed records a per-file failure and persists the change.
func (l *Ledger) MarkEntryFailed(m *models.CopyManifest, sourcePath string, cause error) error {
	entry, err := findEntry(m, sourcePath)
	if err != nil {
		return err
	}

	entry.Status = models.EntryFailed
	if cause != nil {
		entry.Error = cause.Error()
	}

	return l.Save(m)
}

// VerifyEntry checksums the copied target file against the recorded
// source checksum. On match the entry advances to verified; on
// mismatch it is marked failed and a ChecksumError is returned. Either
// way the manifest is persisted.
func (l *Ledger) VerifyEntry(m *models.CopyManifest, sourcePath string) error {
	entry, err := findEntry(m, sourcePath)
	if err != nil {
		return err
	}

	target := filepath.Join(m.TargetRoot, filepath.FromSlash(entry.TargetPath))
	sum, err := storage.FileChecksum(target)
	if err != nil {
		entry.Status = models.EntryFailed
		entry.Error = err.Error()
		if saveErr := l.Save(m); saveErr != nil {
			return saveErr
		}
		return fmt.Errorf("checksum target %s: %w", entry.TargetPath, err)
	}

	entry.TargetChecksum = sum
	if sum != entry.SourceChecksum {
		entry.Status = models.EntryFailed
		verifyErr := &models.ChecksumError{
			ID:       entry.TargetPath,
			Expected: entry.SourceChecksum,
			Actual:   sum,
		}
		entry.Error = verifyErr.Error()
		if saveErr := l.Save(m); saveErr != nil {
			return saveErr
		}
		return verifyErr
	}

	entry.Status = models.EntryVerified
	entry.Error = ""
	return l.Save(m)
}

// MarkCompleted stamps the completion time and persists the manifest.
func (l *Ledger) MarkCompleted(m *models.CopyManifest) error {
	now := time.Now().UTC()
	m.CompletedAt = &now

	if err := l.Save(m); err != nil {
		return err
	}

	verified, total := m.Progress()
	l.logger.WithFields(map[string]interface{}{
		"migration_id": m.ID,
		"verified":     verified,
		"total":        total,
	}).Info("Migration completed")

	return nil
}

// RollbackOutcome reports what a partial-copy rollback undid and which
// deletions it could not perform.
type RollbackOutcome struct {
	FilesRolledBack int
	Failures        []string
}

// RollbackPartialCopy deletes every target file the manifest records
// as copied or verified, removes the target root if the cleanup left
// it empty, and finally deletes the manifest itself. Entries never
// copied are left alone. Individual deletion failures are collected so
// one stubborn file does not strand the rest of the cleanup; they are
// reported in the outcome and as a migration error.
func (l *Ledger) RollbackPartialCopy(m *models.CopyManifest) (RollbackOutcome, error) {
	var out RollbackOutcome

	for i := range m.Entries {
		entry := &m.Entries[i]
		if entry.Status != models.EntryCopied && entry.Status != models.EntryVerified {
			continue
		}

		target := filepath.Join(m.TargetRoot, filepath.FromSlash(entry.TargetPath))
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			out.Failures = append(out.Failures, fmt.Sprintf("%s: %v", entry.TargetPath, err))
			continue
		}
		out.FilesRolledBack++
	}

	removeIfEmpty(m.TargetRoot)

	if err := l.Delete(m.ID); err != nil {
		out.Failures = append(out.Failures, fmt.Sprintf("manifest %s: %v", m.ID, err))
	}

	l.logger.WithFields(map[string]interface{}{
		"migration_id": m.ID,
		"project":      m.Project,
		"rolled_back":  out.FilesRolledBack,
	}).Info("Rolled back partial copy")

	if len(out.Failures) > 0 {
		return out, &models.MigrateError{
			Phase:       "rollback",
			MigrationID: m.ID,
			Project:     m.Project,
			Err:         fmt.Errorf("remove copied files: %s", strings.Join(out.Failures, "; ")),
		}
	}

	return out, nil
}

// RecoverIncompleteMigrations returns every persisted manifest that
// still needs recovery. Unreadable manifests are logged and skipped so
// one corrupt file does not block recovery of the rest.
func (l *Ledger) RecoverIncompleteMigrations() ([]*models.CopyManifest, error) {
	ids, err := l.List()
	if err != nil {
		return nil, err
	}

	var incomplete []*models.CopyManifest
	for _, id := range ids {
		m, err := l.Load(id)
		if err != nil {
			l.logger.WithError(err).WithField("migration_id", id).
				Warn("Skipping unreadable manifest")
			continue
		}
		if m.IsIncomplete() {
			incomplete = append(incomplete, m)
		}
	}

	return incomplete, nil
}

// List returns the IDs of all persisted manifests, sorted.
func (l *Ledger) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read manifest directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, manifestPrefix) || !strings.HasSuffix(name, manifestExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, manifestPrefix), manifestExt))
	}

	sort.Strings(ids)
	return ids, nil
}

// Load reads a manifest by ID.
func (l *Ledger) Load(id string) (*models.CopyManifest, error) {
	data, err := os.ReadFile(l.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.ErrManifestNotFound
		}
		return nil, fmt.Errorf("read manifest %s: %w", id, err)
	}

	var m models.CopyManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", id, err)
	}

	return &m, nil
}

// Save persists a manifest atomically.
func (l *Ledger) Save(m *models.CopyManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest %s: %w", m.ID, err)
	}

	if err := storage.WriteFileAtomic(l.path(m.ID), data, 0600); err != nil {
		return fmt.Errorf("save manifest %s: %w", m.ID, err)
	}

	return nil
}

// Delete removes a persisted manifest. Missing manifests are not an
// error.
func (l *Ledger) Delete(id string) error {
	if err := os.Remove(l.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete manifest %s: %w", id, err)
	}
	return nil
}

func (l *Ledger) path(id string) string {
	return filepath.Join(l.dir, manifestPrefix+id+manifestExt)
}

func findEntry(m *models.CopyManifest, sourcePath string) (*models.ManifestEntry, error) {
	for i := range m.Entries {
		if m.Entries[i].SourcePath == sourcePath {
			return &m.Entries[i], nil
		}
	}
	return nil, fmt.Errorf("manifest %s has no entry for %s", m.ID, sourcePath)
}

// removeIfEmpty prunes empty subdirectories under root bottom-up,
// then removes root itself if the cleanup left it empty. Directories
// still holding files are untouched.
func removeIfEmpty(root string) bool {
	entries, err := os.ReadDir(root)
	if err != nil {
		return false
	}

	empty := true
	for _, e := range entries {
		if e.IsDir() && removeIfEmpty(filepath.Join(root, e.Name())) {
			continue
		}
		empty = false
	}

	if !empty {
		return false
	}

	return os.Remove(root) == nil
}
