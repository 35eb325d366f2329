package lock_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/memsteward/internal/config"
	"github.com/TheMichaelB/memsteward/internal/events"
	"github.com/TheMichaelB/memsteward/internal/lock"
	"github.com/TheMichaelB/memsteward/internal/models"
)

func testLockConfig() config.LockConfig {
	return config.LockConfig{
		GlobalTimeout:  300 * time.Millisecond,
		ProjectTimeout: 300 * time.Millisecond,
		StaleAfter:     time.Hour,
		PollInterval:   10 * time.Millisecond,
	}
}

func newTestManager(t *testing.T, dir string) *lock.Manager {
	t.Helper()
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	m, err := lock.NewManager(dir, testLockConfig(), logger)
	require.NoError(t, err)
	return m
}

// plantMarker simulates a lock held by another process.
func plantMarker(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(`{"pid":99999}`), 0600))
	if age > 0 {
		old := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(path, old, old))
	}
	return path
}

func TestGlobalLockLifecycle(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)

	assert.False(t, m.IsGlobalLocked())
	require.NoError(t, m.AcquireGlobal(0))
	assert.True(t, m.IsGlobalLocked())

	// Reacquiring from the same process is a no-op.
	require.NoError(t, m.AcquireGlobal(0))

	require.NoError(t, m.ReleaseGlobal())
	assert.False(t, m.IsGlobalLocked())

	assert.ErrorIs(t, m.ReleaseGlobal(), models.ErrLockNotHeld)
}

func TestGlobalContentionTimesOut(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)

	plantMarker(t, dir, "global.lock", 0)

	err := m.AcquireGlobal(150 * time.Millisecond)
	require.ErrorIs(t, err, models.ErrLockTimeout)

	var lockErr *models.LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, lock.ScopeGlobal, lockErr.Scope)
}

func TestStaleGlobalMarkerIsReclaimed(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)

	plantMarker(t, dir, "global.lock", 2*time.Hour)

	require.NoError(t, m.AcquireGlobal(0))
	assert.True(t, m.IsGlobalLocked())
}

func TestDistinctProjectLocksDoNotBlock(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)

	require.NoError(t, m.AcquireProject("alpha", 0))
	require.NoError(t, m.AcquireProject("bravo", 0))

	assert.True(t, m.IsProjectLocked("alpha"))
	assert.True(t, m.IsProjectLocked("bravo"))
	assert.Equal(t, []string{"alpha", "bravo"}, m.HeldProjectLocks())

	require.NoError(t, m.ReleaseProject("alpha"))
	assert.False(t, m.IsProjectLocked("alpha"))
	assert.True(t, m.IsProjectLocked("bravo"))
}

func TestForeignGlobalBlocksProjectAcquisition(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)

	plantMarker(t, dir, "global.lock", 0)

	err := m.AcquireProject("alpha", 150*time.Millisecond)
	assert.ErrorIs(t, err, models.ErrLockTimeout)
}

func TestOwnGlobalSatisfiesProjectRequests(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)

	require.NoError(t, m.AcquireGlobal(0))

	start := time.Now()
	require.NoError(t, m.AcquireProject("alpha", 0))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// No marker file is created for the piggybacked hold.
	_, err := os.Stat(filepath.Join(dir, "project-alpha.lock"))
	assert.True(t, os.IsNotExist(err))

	// Releasing the global lock releases the piggybacked hold too.
	require.NoError(t, m.ReleaseGlobal())
	assert.Empty(t, m.HeldProjectLocks())
}

func TestNormalizeScopes(t *testing.T) {
	ordered := lock.NormalizeScopes([]string{"charlie", "alpha", "bravo", "alpha"})
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, ordered)
}

func TestAcquireProjectsSortedOrder(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)

	require.NoError(t, m.AcquireProjects([]string{"charlie", "alpha", "bravo"}, 0))
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, m.HeldProjectLocks())
}

func TestAcquireProjectsReleasesOnFailure(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)

	// bravo is held by another process; alpha is acquired first in
	// sorted order and must be released when bravo times out.
	plantMarker(t, dir, "project-bravo.lock", 0)

	err := m.AcquireProjects([]string{"charlie", "bravo", "alpha"}, 150*time.Millisecond)
	require.ErrorIs(t, err, models.ErrLockTimeout)

	assert.Empty(t, m.HeldProjectLocks())
	_, statErr := os.Stat(filepath.Join(dir, "project-alpha.lock"))
	assert.True(t, os.IsNotExist(statErr), "alpha marker should be unwound")
	_, statErr = os.Stat(filepath.Join(dir, "project-charlie.lock"))
	assert.True(t, os.IsNotExist(statErr), "charlie should never be acquired")
}

func TestProjectNameSanitizedForMarker(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)

	require.NoError(t, m.AcquireProject("../evil/name", 0))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "project-___evil_name.lock", entries[0].Name())
}

func TestCleanupStale(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)

	plantMarker(t, dir, "project-old.lock", 2*time.Hour)
	plantMarker(t, dir, "project-fresh.lock", 0)

	cleaned, err := m.CleanupStale()
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	_, statErr := os.Stat(filepath.Join(dir, "project-fresh.lock"))
	assert.NoError(t, statErr)
}

func TestReleaseAll(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)

	require.NoError(t, m.AcquireProjects([]string{"alpha", "bravo"}, 0))
	require.NoError(t, m.AcquireGlobal(0))

	require.NoError(t, m.ReleaseAll())
	assert.Empty(t, m.HeldProjectLocks())
	assert.False(t, m.IsGlobalLocked())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
