// Package migrate moves a project's memory content between resolved
// locations under a per-project lock, driven by a persisted copy
// manifest so an interrupted run can be resumed.
package migrate

import (
	"context"
	"fmt"
	"os"

	"github.com/TheMichaelB/memsteward/internal/events"
	"github.com/TheMichaelB/memsteward/internal/history"
	"github.com/TheMichaelB/memsteward/internal/lock"
	"github.com/TheMichaelB/memsteward/internal/manifest"
	"github.com/TheMichaelB/memsteward/internal/models"
	"github.com/TheMichaelB/memsteward/internal/pathsafe"
	"github.com/TheMichaelB/memsteward/internal/storage"
)

// Service orchestrates content migrations.
type Service struct {
	locks  *lock.Manager
	ledger *manifest.Ledger
	audit  *history.Store
	logger *events.Logger
}

// NewService creates a migration service. audit may be nil.
func NewService(locks *lock.Manager, ledger *manifest.Ledger, audit *history.Store, logger *events.Logger) *Service {
	return &Service{
		locks:  locks,
		ledger: ledger,
		audit:  audit,
		logger: logger.WithField("component", "migrate_service"),
	}
}

// Run moves the project's content from sourceRoot to targetRoot. The
// whole run holds the project lock. Every file is copied, checksummed
// against its source, and only after all entries verify is the source
// content removed. Any failure rolls back the partial copy, leaving
// the source untouched. A missing or empty source is a no-op.
func (s *Service) Run(ctx context.Context, project, sourceRoot, targetRoot string) (*models.CopyManifest, error) {
	source, err := pathsafe.Sanitize(sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("source root: %w", err)
	}
	target, err := pathsafe.Sanitize(targetRoot)
	if err != nil {
		return nil, fmt.Errorf("target root: %w", err)
	}

	logger := events.FromContext(ctx).WithField("project", project)

	if _, err := os.Stat(source); os.IsNotExist(err) {
		logger.WithField("source", source).Debug("No source content, nothing to migrate")
		return nil, nil
	}

	if err := s.locks.AcquireProject(project, 0); err != nil {
		return nil, err
	}
	defer func() { _ = s.locks.ReleaseProject(project) }()

	sourceStore, err := storage.NewLocalStore(source, logger)
	if err != nil {
		return nil, err
	}
	targetStore, err := storage.NewLocalStore(target, logger)
	if err != nil {
		return nil, err
	}

	files, err := sourceStore.ListRecursive()
	if err != nil {
		return nil, fmt.Errorf("list source content: %w", err)
	}
	if len(files) == 0 {
		logger.Debug("Source is empty, nothing to migrate")
		return nil, nil
	}

	m, err := s.ledger.CreateManifest(project, source, target, files)
	if err != nil {
		return nil, err
	}

	ctx = events.WithMigrationID(ctx, m.ID)
	logger = logger.WithField("migration_id", m.ID)
	logger.WithFields(map[string]interface{}{
		"source": source,
		"target": target,
		"files":  len(files),
	}).Info("Starting migration")

	if err := s.execute(ctx, logger, m, sourceStore, targetStore); err != nil {
		s.record(&history.Record{
			Kind:        history.KindMigration,
			Project:     project,
			MigrationID: m.ID,
			Detail:      err.Error(),
			Success:     false,
		})
		return m, err
	}

	verified, total := m.Progress()
	s.record(&history.Record{
		Kind:        history.KindMigration,
		Project:     project,
		MigrationID: m.ID,
		Detail:      fmt.Sprintf("moved %d/%d files from %s to %s", verified, total, source, target),
		Success:     true,
	})

	return m, nil
}

// Recover resolves every incomplete migration left behind by a crash
// by rolling its partial copy back, so the source stays authoritative.
// A migration whose copy had fully finished only gets its completion
// stamp restored. Each manifest is handled independently; a failure is
// logged and skipped so the rest still recover. Returns the IDs of
// resolved migrations.
func (s *Service) Recover(ctx context.Context) ([]string, error) {
	return s.recoverAll(ctx, false)
}

// Resume retries incomplete migrations instead of rolling them back:
// entries not yet verified are copied again from the surviving source.
// A migration whose source vanished is still rolled back.
func (s *Service) Resume(ctx context.Context) ([]string, error) {
	return s.recoverAll(ctx, true)
}

func (s *Service) recoverAll(ctx context.Context, resume bool) ([]string, error) {
	incomplete, err := s.ledger.RecoverIncompleteMigrations()
	if err != nil {
		return nil, err
	}

	var recovered []string
	for _, m := range incomplete {
		if err := s.recoverOne(ctx, m, resume); err != nil {
			s.logger.WithError(err).WithField("migration_id", m.ID).
				Warn("Failed to recover migration")
			continue
		}
		recovered = append(recovered, m.ID)
	}

	return recovered, nil
}

func (s *Service) recoverOne(ctx context.Context, m *models.CopyManifest, resume bool) error {
	logger := events.FromContext(ctx).WithFields(map[string]interface{}{
		"project":      m.Project,
		"migration_id": m.ID,
	})
	logger.Info("Recovering interrupted migration")

	if err := s.locks.AcquireProject(m.Project, 0); err != nil {
		return err
	}
	defer func() { _ = s.locks.ReleaseProject(m.Project) }()

	_, statErr := os.Stat(m.SourceRoot)
	sourceMissing := os.IsNotExist(statErr)

	// Source already gone with everything verified: the copy finished
	// but the completion stamp never landed. Rolling the targets back
	// here would destroy the only remaining copy.
	if sourceMissing {
		if verified, total := m.Progress(); verified == total {
			if err := s.ledger.MarkCompleted(m); err != nil {
				return err
			}
			s.record(&history.Record{
				Kind: history.KindRecovery, Project: m.Project, MigrationID: m.ID,
				Detail: "completion stamp restored", Success: true,
			})
			return nil
		}
	}

	if resume && !sourceMissing {
		return s.resumeOne(ctx, logger, m)
	}

	if _, err := s.ledger.RollbackPartialCopy(m); err != nil {
		s.record(&history.Record{
			Kind: history.KindRecovery, Project: m.Project, MigrationID: m.ID,
			Detail: err.Error(), Success: false,
		})
		return err
	}

	s.record(&history.Record{
		Kind: history.KindRecovery, Project: m.Project, MigrationID: m.ID,
		Detail: "partial copy rolled back", Success: true,
	})
	return nil
}

func (s *Service) resumeOne(ctx context.Context, logger *events.Logger, m *models.CopyManifest) error {
	sourceStore, err := storage.NewLocalStore(m.SourceRoot, logger)
	if err != nil {
		return err
	}
	targetStore, err := storage.NewLocalStore(m.TargetRoot, logger)
	if err != nil {
		return err
	}

	if err := s.execute(ctx, logger, m, sourceStore, targetStore); err != nil {
		s.record(&history.Record{
			Kind: history.KindRecovery, Project: m.Project, MigrationID: m.ID,
			Detail: err.Error(), Success: false,
		})
		return err
	}

	s.record(&history.Record{
		Kind: history.KindRecovery, Project: m.Project, MigrationID: m.ID,
		Detail: "resumed and completed", Success: true,
	})
	return nil
}

// execute drives the manifest to completion: copy and verify every
// entry not yet verified, stamp completion, then remove the source
// content. Any copy or verify failure rolls back the partial copy.
func (s *Service) execute(ctx context.Context, logger *events.Logger, m *models.CopyManifest, sourceStore, targetStore *storage.LocalStore) error {
	for i := range m.Entries {
		entry := &m.Entries[i]
		if entry.Status == models.EntryVerified {
			continue
		}

		if err := ctx.Err(); err != nil {
			return s.abort(m, entry, "copy", err)
		}

		if entry.Status != models.EntryCopied {
			data, err := sourceStore.Read(entry.SourcePath)
			if err != nil {
				return s.abort(m, entry, "copy", err)
			}
			if err := targetStore.Write(entry.TargetPath, data, 0644); err != nil {
				return s.abort(m, entry, "copy", err)
			}
			if err := s.ledger.MarkEntryCopied(m, entry.SourcePath); err != nil {
				return err
			}
		}

		if err := s.ledger.VerifyEntry(m, entry.SourcePath); err != nil {
			return s.abort(m, entry, "verify", err)
		}

		logger.WithField("path", entry.SourcePath).Debug("Copied and verified")
	}

	if err := s.ledger.MarkCompleted(m); err != nil {
		return err
	}

	// All content verified at the target; the source is now redundant.
	for i := range m.Entries {
		if err := sourceStore.Delete(m.Entries[i].SourcePath); err != nil && !os.IsNotExist(err) {
			logger.WithError(err).WithField("path", m.Entries[i].SourcePath).
				Warn("Could not remove migrated source file")
		}
	}
	if err := sourceStore.RemoveIfEmpty(); err != nil {
		logger.WithError(err).Debug("Source directory not removed")
	}

	return nil
}

// abort marks the failing entry, rolls back everything copied so far,
// and wraps the cause. The source content is never touched on failure.
func (s *Service) abort(m *models.CopyManifest, entry *models.ManifestEntry, phase string, cause error) error {
	if markErr := s.ledger.MarkEntryFailed(m, entry.SourcePath, cause); markErr != nil {
		s.logger.WithError(markErr).Warn("Could not persist entry failure")
	}

	if _, rbErr := s.ledger.RollbackPartialCopy(m); rbErr != nil {
		s.logger.WithError(rbErr).WithField("migration_id", m.ID).
			Error("Rollback of partial copy failed")
	}

	return &models.MigrateError{
		Phase:       phase,
		MigrationID: m.ID,
		Project:     m.Project,
		Path:        entry.SourcePath,
		Err:         cause,
	}
}

func (s *Service) record(rec *history.Record) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(rec); err != nil {
		s.logger.WithError(err).Warn("Could not append audit record")
	}
}
