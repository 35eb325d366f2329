// Package lock provides two-level advisory locks shared between
// independent processes. Exclusive marker-file creation is the sole
// mutual-exclusion primitive; a marker older than the staleness
// threshold is presumed abandoned by a crashed holder.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/memsteward/internal/config"
	"github.com/TheMichaelB/memsteward/internal/events"
	"github.com/TheMichaelB/memsteward/internal/models"
)

const (
	globalMarker  = "global.lock"
	projectPrefix = "project-"
	markerSuffix  = ".lock"
)

// ScopeGlobal names the global lock scope.
const ScopeGlobal = "global"

// ProjectScope names a project lock scope.
func ProjectScope(name string) string {
	return "project:" + name
}

// holderInfo is written into marker files. The file's existence and
// age are the protocol; the content is diagnostic.
type holderInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname,omitempty"`
	Scope      string    `json:"scope"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Manager acquires and releases global and per-project locks.
type Manager struct {
	lockDir        string
	globalTimeout  time.Duration
	projectTimeout time.Duration
	staleAfter     time.Duration
	pollInterval   time.Duration
	logger         *events.Logger

	mu         sync.Mutex
	heldGlobal bool
	// project name -> true when we own a marker file, false when the
	// hold is satisfied by our own global lock.
	heldProjects map[string]bool
}

// NewManager creates a lock manager over a marker directory.
func NewManager(lockDir string, cfg config.LockConfig, logger *events.Logger) (*Manager, error) {
	absDir, err := filepath.Abs(lockDir)
	if err != nil {
		return nil, fmt.Errorf("resolve lock directory: %w", err)
	}

	if err := os.MkdirAll(absDir, 0700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	return &Manager{
		lockDir:        absDir,
		globalTimeout:  cfg.GlobalTimeout,
		projectTimeout: cfg.ProjectTimeout,
		staleAfter:     cfg.StaleAfter,
		pollInterval:   cfg.PollInterval,
		logger:         logger.WithField("component", "lock_manager"),
		heldProjects:   make(map[string]bool),
	}, nil
}

// AcquireGlobal takes the global lock, polling until timeout. A
// non-positive timeout uses the configured default.
func (m *Manager) AcquireGlobal(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = m.globalTimeout
	}

	m.mu.Lock()
	if m.heldGlobal {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.acquireMarker(m.globalPath(), ScopeGlobal, timeout, nil); err != nil {
		return err
	}

	m.mu.Lock()
	m.heldGlobal = true
	m.mu.Unlock()

	m.logger.Debug("Acquired global lock")
	return nil
}

// ReleaseGlobal drops the global lock. Project holds that were
// satisfied by it are released with it.
func (m *Manager) ReleaseGlobal() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.heldGlobal {
		return models.ErrLockNotHeld
	}

	if err := os.Remove(m.globalPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove global marker: %w", err)
	}

	m.heldGlobal = false
	for name, ownMarker := range m.heldProjects {
		if !ownMarker {
			delete(m.heldProjects, name)
		}
	}

	m.logger.Debug("Released global lock")
	return nil
}

// AcquireProject takes a per-project lock. Holding the global lock in
// this process satisfies the request without touching the filesystem;
// a fresh global marker owned by another process blocks until it is
// released or goes stale.
func (m *Manager) AcquireProject(name string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = m.projectTimeout
	}

	m.mu.Lock()
	if _, held := m.heldProjects[name]; held {
		m.mu.Unlock()
		return nil
	}
	if m.heldGlobal {
		m.heldProjects[name] = false
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	scope := ProjectScope(name)
	if err := m.acquireMarker(m.projectPath(name), scope, timeout, m.foreignGlobalBlocks); err != nil {
		return err
	}

	m.mu.Lock()
	m.heldProjects[name] = true
	m.mu.Unlock()

	m.logger.WithField("project", name).Debug("Acquired project lock")
	return nil
}

// ReleaseProject drops a per-project lock.
func (m *Manager) ReleaseProject(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ownMarker, held := m.heldProjects[name]
	if !held {
		return models.ErrLockNotHeld
	}

	if ownMarker {
		if err := os.Remove(m.projectPath(name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove project marker: %w", err)
		}
	}

	delete(m.heldProjects, name)
	m.logger.WithField("project", name).Debug("Released project lock")
	return nil
}

// AcquireProjects takes several project locks in one global total
// order. Requested names are deduplicated and sorted before
// acquisition so overlapping requests from concurrent callers cannot
// deadlock in a circular wait. If any single acquisition fails, every
// lock taken during this attempt is released before the error is
// returned.
func (m *Manager) AcquireProjects(names []string, timeout time.Duration) error {
	ordered := NormalizeScopes(names)

	var acquired []string
	for _, name := range ordered {
		if err := m.AcquireProject(name, timeout); err != nil {
			for i := len(acquired) - 1; i >= 0; i-- {
				if relErr := m.ReleaseProject(acquired[i]); relErr != nil {
					m.logger.WithError(relErr).WithField("project", acquired[i]).
						Warn("Failed to release lock during multi-lock unwind")
				}
			}
			return fmt.Errorf("acquire %s: %w", ProjectScope(name), err)
		}
		acquired = append(acquired, name)
	}

	return nil
}

// ReleaseAll drops every lock held by this manager, best effort.
func (m *Manager) ReleaseAll() error {
	m.mu.Lock()
	names := make([]string, 0, len(m.heldProjects))
	for name := range m.heldProjects {
		names = append(names, name)
	}
	heldGlobal := m.heldGlobal
	m.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := m.ReleaseProject(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if heldGlobal {
		if err := m.ReleaseGlobal(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// IsGlobalLocked reports whether any process holds the global lock.
func (m *Manager) IsGlobalLocked() bool {
	m.mu.Lock()
	if m.heldGlobal {
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()

	return m.markerActive(m.globalPath())
}

// IsProjectLocked reports whether any process holds a project lock.
func (m *Manager) IsProjectLocked(name string) bool {
	m.mu.Lock()
	if _, held := m.heldProjects[name]; held {
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()

	return m.markerActive(m.projectPath(name))
}

// HeldProjectLocks returns the sorted names of project locks held by
// this manager.
func (m *Manager) HeldProjectLocks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.heldProjects))
	for name := range m.heldProjects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CleanupStale removes marker files older than the staleness
// threshold. Returns the number removed.
func (m *Manager) CleanupStale() (int, error) {
	entries, err := os.ReadDir(m.lockDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read lock directory: %w", err)
	}

	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), markerSuffix) {
			continue
		}

		path := filepath.Join(m.lockDir, entry.Name())
		if m.removeIfStale(path) {
			cleaned++
		}
	}

	return cleaned, nil
}

// NormalizeScopes deduplicates and sorts project names into the global
// acquisition order used by AcquireProjects.
func NormalizeScopes(names []string) []string {
	seen := make(map[string]bool, len(names))
	ordered := make([]string, 0, len(names))
	for _, name := range names {
		if !seen[name] {
			seen[name] = true
			ordered = append(ordered, name)
		}
	}
	sort.Strings(ordered)
	return ordered
}

// acquireMarker polls for exclusive creation of a marker file until
// the deadline. blocked, when non-nil, reports an external condition
// that must clear before creation is attempted.
func (m *Manager) acquireMarker(path, scope string, timeout time.Duration, blocked func() (string, bool)) error {
	deadline := time.Now().Add(timeout)
	delay := m.pollInterval
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}

	for {
		contended := false
		if blocked != nil {
			if contendedPath, isBlocked := blocked(); isBlocked {
				contended = true
				// The blocking marker itself may be stale.
				if m.removeIfStale(contendedPath) {
					continue
				}
			}
		}

		if !contended {
			err := m.tryCreate(path, scope)
			if err == nil {
				return nil
			}
			if !os.IsExist(err) {
				return fmt.Errorf("create marker %s: %w", path, err)
			}
			if m.removeIfStale(path) {
				continue
			}
		}

		if time.Now().After(deadline) {
			return &models.LockError{
				Scope:   scope,
				Timeout: timeout.String(),
				Err:     models.ErrLockTimeout,
			}
		}

		time.Sleep(delay)
		if delay < time.Second {
			delay *= 2
		}
	}
}

// tryCreate attempts exclusive creation of a marker file.
func (m *Manager) tryCreate(path, scope string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	hostname, _ := os.Hostname()
	info := holderInfo{
		PID:        os.Getpid(),
		Hostname:   hostname,
		Scope:      scope,
		AcquiredAt: time.Now(),
	}

	if data, err := json.Marshal(info); err == nil {
		_, _ = file.Write(data)
	}

	return nil
}

// removeIfStale deletes a marker older than the staleness threshold.
// Returns true when the marker is gone (removed here or already
// missing) and acquisition should be retried immediately.
func (m *Manager) removeIfStale(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return os.IsNotExist(err)
	}

	if time.Since(info.ModTime()) <= m.staleAfter {
		return false
	}

	m.logger.WithFields(map[string]interface{}{
		"marker": filepath.Base(path),
		"age":    time.Since(info.ModTime()).Round(time.Second).String(),
	}).Warn("Removing stale lock marker")

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.WithError(err).Warn("Failed to remove stale marker")
		return false
	}

	return true
}

// foreignGlobalBlocks reports whether another process's global lock
// blocks project acquisition.
func (m *Manager) foreignGlobalBlocks() (string, bool) {
	path := m.globalPath()
	if _, err := os.Stat(path); err != nil {
		return path, false
	}
	return path, true
}

// markerActive reports whether a fresh marker file exists.
func (m *Manager) markerActive(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) <= m.staleAfter
}

func (m *Manager) globalPath() string {
	return filepath.Join(m.lockDir, globalMarker)
}

var unsafeScopeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// projectPath derives a marker filename from a project name. The name
// is sanitized so configuration values cannot inject path components.
func (m *Manager) projectPath(name string) string {
	sanitized := unsafeScopeChars.ReplaceAllString(name, "_")
	return filepath.Join(m.lockDir, projectPrefix+sanitized+markerSuffix)
}
