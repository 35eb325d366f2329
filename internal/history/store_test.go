package history_test

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/memsteward/internal/events"
	"github.com/TheMichaelB/memsteward/internal/history"
)

func newStore(t *testing.T) *history.Store {
	t.Helper()

	store, err := history.NewStore(
		filepath.Join(t.TempDir(), "audit.db"),
		events.NewTestLogger(events.ErrorLevel, "text", io.Discard),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestAppendAndRecent(t *testing.T) {
	store := newStore(t)

	first := &history.Record{
		Kind:        history.KindMigration,
		Project:     "api",
		MigrationID: "mig-1",
		Detail:      "moved 12 files",
		Success:     true,
	}
	require.NoError(t, store.Append(first))
	assert.NotZero(t, first.ID)
	assert.False(t, first.Timestamp.IsZero())

	require.NoError(t, store.Append(&history.Record{
		Kind:    history.KindRollback,
		Detail:  "reverted to baseline",
		Success: true,
	}))

	records, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first.
	assert.Equal(t, history.KindRollback, records[0].Kind)
	assert.Equal(t, history.KindMigration, records[1].Kind)
	assert.Equal(t, "mig-1", records[1].MigrationID)
}

func TestRecentHonorsLimit(t *testing.T) {
	store := newStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(&history.Record{
			Kind:    history.KindReconfigure,
			Success: true,
		}))
	}

	records, err := store.Recent(3)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestForProject(t *testing.T) {
	store := newStore(t)

	require.NoError(t, store.Append(&history.Record{
		Kind: history.KindMigration, Project: "api", Success: true,
	}))
	require.NoError(t, store.Append(&history.Record{
		Kind: history.KindMigration, Project: "web", Success: false,
		Detail: "checksum mismatch",
	}))

	records, err := store.ForProject("web", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, "checksum mismatch", records[0].Detail)
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "audit.db")
	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)

	first, err := history.NewStore(dbPath, logger)
	require.NoError(t, err)
	require.NoError(t, first.Append(&history.Record{
		Kind: history.KindLockCleanup, Detail: "removed 2 stale markers", Success: true,
	}))
	require.NoError(t, first.Close())

	second, err := history.NewStore(dbPath, logger)
	require.NoError(t, err)
	defer second.Close()

	records, err := second.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, history.KindLockCleanup, records[0].Kind)
}
