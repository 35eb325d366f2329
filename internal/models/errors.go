package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeLock       = "LOCK_ERROR"
	ErrCodeChecksum   = "CHECKSUM_ERROR"
	ErrCodeRollback   = "ROLLBACK_ERROR"
	ErrCodeMigration  = "MIGRATION_ERROR"
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodePath       = "PATH_ERROR"
	ErrCodeStorage    = "STORAGE_ERROR"
)

// Sentinel errors
var (
	ErrLockTimeout         = errors.New("lock acquisition timed out")
	ErrLockNotHeld         = errors.New("lock not held")
	ErrChecksumMismatch    = errors.New("checksum mismatch")
	ErrNoBaseline          = errors.New("no last-known-good baseline exists")
	ErrNoSnapshot          = errors.New("no snapshot available")
	ErrValidationFailed    = errors.New("configuration validation failed")
	ErrPathRejected        = errors.New("path rejected")
	ErrManifestNotFound    = errors.New("manifest not found")
	ErrMigrationInProgress = errors.New("migration already in progress")
)

// ErrorCode classifies an error for structured output. Unrecognized
// errors fall through to the storage code, the catch-all for plain
// filesystem failures.
func ErrorCode(err error) string {
	var migrateErr *MigrateError
	switch {
	case errors.Is(err, ErrLockTimeout),
		errors.Is(err, ErrLockNotHeld):
		return ErrCodeLock
	case errors.Is(err, ErrChecksumMismatch):
		return ErrCodeChecksum
	case errors.Is(err, ErrNoBaseline),
		errors.Is(err, ErrNoSnapshot):
		return ErrCodeRollback
	case errors.Is(err, ErrValidationFailed):
		return ErrCodeValidation
	case errors.Is(err, ErrPathRejected):
		return ErrCodePath
	case errors.Is(err, ErrMigrationInProgress),
		errors.Is(err, ErrManifestNotFound),
		errors.As(err, &migrateErr):
		return ErrCodeMigration
	}
	return ErrCodeStorage
}

// LockError reports a failed lock acquisition.
type LockError struct {
	Scope   string
	Timeout string
	Err     error
}

func (e *LockError) Error() string {
	if e.Timeout != "" {
		return fmt.Sprintf("lock %s: timeout after %s: %v", e.Scope, e.Timeout, e.Err)
	}
	return fmt.Sprintf("lock %s: %v", e.Scope, e.Err)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// ChecksumError reports a corrupted snapshot or manifest entry.
type ChecksumError struct {
	ID       string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s",
		e.ID, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// MigrateError provides detailed migration failure information.
type MigrateError struct {
	Phase       string
	MigrationID string
	Project     string
	Path        string
	Err         error
}

func (e *MigrateError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("migrate %s [%s]: project %s: %s: %v",
			e.Phase, e.MigrationID, e.Project, e.Path, e.Err)
	}
	return fmt.Sprintf("migrate %s [%s]: project %s: %v",
		e.Phase, e.MigrationID, e.Project, e.Err)
}

func (e *MigrateError) Unwrap() error {
	return e.Err
}

// PathError reports a rejected untrusted path.
type PathError struct {
	Raw    string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path rejected %q: %s", e.Raw, e.Reason)
}

func (e *PathError) Unwrap() error {
	return ErrPathRejected
}
