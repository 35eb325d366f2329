package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/TheMichaelB/memsteward/internal/events"
)

// LocalStore performs file operations rooted at a base directory. All
// writes are atomic (temp file plus rename) so concurrent readers
// never observe partial content.
type LocalStore struct {
	baseDir string
	logger  *events.Logger
}

// NewLocalStore creates a store rooted at baseDir, creating it if
// needed.
func NewLocalStore(baseDir string, logger *events.Logger) (*LocalStore, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	if err := os.MkdirAll(absPath, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &LocalStore{
		baseDir: absPath,
		logger:  logger.WithField("component", "local_store"),
	}, nil
}

// BaseDir returns the absolute root of the store.
func (s *LocalStore) BaseDir() string {
	return s.baseDir
}

// Write saves data to a relative path atomically.
func (s *LocalStore) Write(path string, data []byte, mode os.FileMode) error {
	safePath, err := s.resolve(path)
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"path": path,
		"size": len(data),
	}).Debug("Writing file")

	if err := os.MkdirAll(filepath.Dir(safePath), 0700); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	return WriteFileAtomic(safePath, data, mode)
}

// Read retrieves file contents at a relative path.
func (s *LocalStore) Read(path string) ([]byte, error) {
	safePath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(safePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

// Delete removes a file and cleans up parent directories left empty.
func (s *LocalStore) Delete(path string) error {
	safePath, err := s.resolve(path)
	if err != nil {
		return err
	}

	s.logger.WithField("path", path).Debug("Deleting file")

	if err := os.Remove(safePath); err != nil {
		if os.IsNotExist(err) {
			return nil // Already deleted
		}
		return fmt.Errorf("delete file: %w", err)
	}

	s.cleanEmptyDirs(filepath.Dir(safePath))
	return nil
}

// Exists checks if a relative path exists.
func (s *LocalStore) Exists(path string) (bool, error) {
	safePath, err := s.resolve(path)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(safePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Checksum computes the sha256 hex digest of a file.
func (s *LocalStore) Checksum(path string) (string, error) {
	safePath, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	return FileChecksum(safePath)
}

// ListRecursive returns all regular files under the base directory as
// sorted relative paths. Symlinks are skipped.
func (s *LocalStore) ListRecursive() ([]string, error) {
	var files []string

	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.baseDir, err)
	}

	sort.Strings(files)
	return files, nil
}

// IsEmpty reports whether the base directory contains no entries.
func (s *LocalStore) IsEmpty() (bool, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("read base directory: %w", err)
	}
	return len(entries) == 0, nil
}

// RemoveIfEmpty deletes the base directory when it holds nothing.
func (s *LocalStore) RemoveIfEmpty() error {
	empty, err := s.IsEmpty()
	if err != nil || !empty {
		return err
	}
	if err := os.Remove(s.baseDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove base directory: %w", err)
	}
	return nil
}

// resolve validates a relative path and maps it under the base
// directory.
func (s *LocalStore) resolve(path string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(path))

	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid path %q: contains '..'", path)
	}
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("invalid path %q: contains null byte", path)
	}

	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))
	fullPath := filepath.Join(s.baseDir, cleaned)

	if fullPath != s.baseDir && !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes base directory", path)
	}

	return fullPath, nil
}

// cleanEmptyDirs removes empty parent directories up to the base.
func (s *LocalStore) cleanEmptyDirs(dirPath string) {
	for dirPath != s.baseDir && strings.HasPrefix(dirPath, s.baseDir) {
		entries, err := os.ReadDir(dirPath)
		if err != nil || len(entries) > 0 {
			break
		}

		if err := os.Remove(dirPath); err != nil {
			break
		}

		dirPath = filepath.Dir(dirPath)
	}
}

// WriteFileAtomic writes data to an absolute path via a temp file and
// rename, syncing to disk before the rename.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmpPath := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())

	if err := os.WriteFile(tmpPath, data, mode); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if file, err := os.Open(tmpPath); err == nil {
		_ = file.Sync()
		file.Close()
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// FileChecksum computes the sha256 hex digest of an absolute path
// without loading the whole file into memory.
func FileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
