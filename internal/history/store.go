// Package history keeps a durable audit trail of lifecycle actions:
// migrations, rollbacks, recoveries, and rejected configuration
// changes.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/memsteward/internal/events"
)

// Kind classifies an audit record.
type Kind string

const (
	KindMigration   Kind = "migration"
	KindRollback    Kind = "rollback"
	KindRecovery    Kind = "recovery"
	KindReconfigure Kind = "reconfigure"
	KindValidation  Kind = "validation_failure"
	KindLockCleanup Kind = "lock_cleanup"
)

// Record is one audit trail entry.
type Record struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        Kind      `json:"kind"`
	Project     string    `json:"project,omitempty"`
	MigrationID string    `json:"migration_id,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Success     bool      `json:"success"`
}

// Store persists audit records in SQLite.
type Store struct {
	db     *sql.DB
	logger *events.Logger
}

// NewStore opens (creating if needed) the audit database at dbPath.
func NewStore(dbPath string, logger *events.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	store := &Store{
		db:     db,
		logger: logger.WithField("component", "audit_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize audit database: %w", err)
	}

	return store, nil
}

func (s *Store) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS audit_records (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        kind TEXT NOT NULL,
        project TEXT NOT NULL DEFAULT '',
        migration_id TEXT NOT NULL DEFAULT '',
        detail TEXT NOT NULL DEFAULT '',
        success INTEGER NOT NULL DEFAULT 1
    );

    CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_records(kind);
    CREATE INDEX IF NOT EXISTS idx_audit_project ON audit_records(project);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Append stores a record, filling in its ID and timestamp.
func (s *Store) Append(rec *Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	result, err := s.db.Exec(`
        INSERT INTO audit_records (timestamp, kind, project, migration_id, detail, success)
        VALUES (?, ?, ?, ?, ?, ?)
    `, rec.Timestamp, string(rec.Kind), rec.Project, rec.MigrationID, rec.Detail, rec.Success)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		rec.ID = id
	}

	s.logger.WithFields(map[string]interface{}{
		"kind":    string(rec.Kind),
		"project": rec.Project,
		"success": rec.Success,
	}).Debug("Appended audit record")

	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	return s.query(`
        SELECT id, timestamp, kind, project, migration_id, detail, success
        FROM audit_records
        ORDER BY id DESC
        LIMIT ?
    `, limit)
}

// ForProject returns up to limit records for one project, newest first.
func (s *Store) ForProject(project string, limit int) ([]Record, error) {
	return s.query(`
        SELECT id, timestamp, kind, project, migration_id, detail, success
        FROM audit_records
        WHERE project = ?
        ORDER BY id DESC
        LIMIT ?
    `, project, limit)
}

func (s *Store) query(q string, args ...interface{}) ([]Record, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var kind string
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &kind, &rec.Project,
			&rec.MigrationID, &rec.Detail, &rec.Success); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Kind = Kind(kind)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
