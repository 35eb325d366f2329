package watcher_test

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/memsteward/internal/config"
	"github.com/TheMichaelB/memsteward/internal/events"
	"github.com/TheMichaelB/memsteward/internal/models"
	"github.com/TheMichaelB/memsteward/internal/rollback"
	"github.com/TheMichaelB/memsteward/internal/watcher"
)

const (
	testDebounce = 50 * time.Millisecond
	waitTimeout  = 3 * time.Second
)

func testLogger() *events.Logger {
	return events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
}

type stubReverter struct {
	path  string
	cfg   *models.Config
	calls int
}

func (r *stubReverter) Revert() (*rollback.Result, error) {
	r.calls++
	if err := config.SaveDocument(r.path, r.cfg); err != nil {
		return nil, err
	}
	return &rollback.Result{
		Target:     rollback.TargetLastKnownGood,
		SnapshotID: "stub",
		Config:     r.cfg.Clone(),
	}, nil
}

func startWatcher(t *testing.T, reverter watcher.Reverter, autoRollback bool) (*watcher.Watcher, string) {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, config.SaveDocument(configPath, models.NewConfig("/srv/memories")))

	w, err := watcher.New(configPath, config.WatcherConfig{
		Debounce:     testDebounce,
		AutoRollback: autoRollback,
	}, reverter, testLogger())
	require.NoError(t, err)

	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)

	// Consume the start notification so tests see only what they cause.
	ev := waitEvent(t, w)
	require.Equal(t, watcher.EventStarted, ev.Type)

	return w, configPath
}

func waitEvent(t *testing.T, w *watcher.Watcher) watcher.Event {
	t.Helper()

	select {
	case ev, ok := <-w.Events():
		require.True(t, ok, "event channel closed while waiting")
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for watcher event")
		return watcher.Event{}
	}
}

func waitEventOfType(t *testing.T, w *watcher.Watcher, want watcher.EventType) watcher.Event {
	t.Helper()

	deadline := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-w.Events():
			require.True(t, ok, "event channel closed while waiting for %s", want)
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestStartStopLifecycle(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, config.SaveDocument(configPath, models.NewConfig("/srv/memories")))

	w, err := watcher.New(configPath, config.WatcherConfig{Debounce: testDebounce}, nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, watcher.StateStopped, w.State())

	require.NoError(t, w.Start())
	assert.Equal(t, watcher.StateRunning, w.State())
	require.NoError(t, w.Start()) // idempotent

	ev := waitEvent(t, w)
	assert.Equal(t, watcher.EventStarted, ev.Type)
	require.NotNil(t, ev.Config)
	assert.Equal(t, "/srv/memories", ev.Config.DefaultMemories)

	w.Stop()
	assert.Equal(t, watcher.StateStopped, w.State())
	w.Stop() // idempotent

	// The stop notification is the last event before the channel closes.
	var last watcher.Event
	for ev := range w.Events() {
		last = ev
	}
	assert.Equal(t, watcher.EventStopped, last.Type)
}

func TestReconfigureOnValidChange(t *testing.T) {
	w, configPath := startWatcher(t, nil, false)

	updated := models.NewConfig("/srv/memories")
	updated.Projects["api"] = models.ProjectSettings{CodePath: "/src/api"}
	require.NoError(t, config.SaveDocument(configPath, updated))

	ev := waitEventOfType(t, w, watcher.EventReconfigure)
	require.NotNil(t, ev.Diff)
	assert.Equal(t, []string{"api"}, ev.Diff.AddedProjects)
	require.NotNil(t, ev.Previous)
	assert.Empty(t, ev.Previous.Projects)

	current := w.Current()
	require.NotNil(t, current)
	assert.Contains(t, current.Projects, "api")
}

func TestDebounceCollapsesBursts(t *testing.T) {
	w, configPath := startWatcher(t, nil, false)

	// A burst of rewrites within the debounce window yields one event
	// reflecting the final content.
	for i, memories := range []string{"/srv/a", "/srv/b", "/srv/final"} {
		cfg := models.NewConfig(memories)
		require.NoError(t, config.SaveDocument(configPath, cfg))
		if i < 2 {
			time.Sleep(5 * time.Millisecond)
		}
	}

	ev := waitEventOfType(t, w, watcher.EventReconfigure)
	assert.Equal(t, "/srv/final", ev.Config.DefaultMemories)

	select {
	case extra, ok := <-w.Events():
		if ok {
			t.Fatalf("unexpected extra event %s", extra.Type)
		}
	case <-time.After(4 * testDebounce):
	}
}

func TestRewriteWithoutChangesEmitsNothing(t *testing.T) {
	w, configPath := startWatcher(t, nil, false)

	require.NoError(t, config.SaveDocument(configPath, models.NewConfig("/srv/memories")))

	select {
	case ev, ok := <-w.Events():
		if ok {
			t.Fatalf("unexpected event %s for unchanged content", ev.Type)
		}
	case <-time.After(4 * testDebounce):
	}
}

func TestValidationErrorOnBrokenDocument(t *testing.T) {
	w, configPath := startWatcher(t, nil, false)

	require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0600))

	ev := waitEventOfType(t, w, watcher.EventValidationError)
	assert.Error(t, ev.Err)

	// The last valid configuration is retained.
	current := w.Current()
	require.NotNil(t, current)
	assert.Equal(t, "/srv/memories", current.DefaultMemories)
}

func TestInvalidDocumentTriggersAutoRollback(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	baseline := models.NewConfig("/srv/memories")
	require.NoError(t, config.SaveDocument(configPath, baseline))

	reverter := &stubReverter{path: configPath, cfg: baseline}
	w, err := watcher.New(configPath, config.WatcherConfig{
		Debounce:     testDebounce,
		AutoRollback: true,
	}, reverter, testLogger())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)
	waitEvent(t, w) // started

	// Structurally valid JSON that fails validation: empty default
	// memories location.
	data := []byte(`{"version":"1","default_memories_location":"","projects":{}}`)
	require.NoError(t, os.WriteFile(configPath, data, 0600))

	valEv := waitEventOfType(t, w, watcher.EventValidationError)
	assert.ErrorIs(t, valEv.Err, models.ErrValidationFailed)

	rbEv := waitEventOfType(t, w, watcher.EventRollback)
	require.NotNil(t, rbEv.Config)
	assert.Equal(t, "/srv/memories", rbEv.Config.DefaultMemories)
	assert.Equal(t, 1, reverter.calls)

	current := w.Current()
	require.NotNil(t, current)
	assert.Equal(t, "/srv/memories", current.DefaultMemories)
}

func TestMigrationHoldsAndReplaysChanges(t *testing.T) {
	w, configPath := startWatcher(t, nil, false)

	require.NoError(t, w.BeginMigration())

	// Two distinct edits arrive mid-migration.
	require.NoError(t, config.SaveDocument(configPath, models.NewConfig("/srv/during-1")))
	time.Sleep(3 * testDebounce)
	require.NoError(t, config.SaveDocument(configPath, models.NewConfig("/srv/during-2")))
	time.Sleep(3 * testDebounce)

	// Held: nothing emitted while the migration runs.
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event %s during migration", ev.Type)
	default:
	}

	w.EndMigration()

	// The held changes collapse into a single replay of final state.
	ev := waitEventOfType(t, w, watcher.EventReconfigure)
	assert.Equal(t, "/srv/during-2", ev.Config.DefaultMemories)

	select {
	case extra, ok := <-w.Events():
		if ok {
			t.Fatalf("unexpected extra event %s after replay", extra.Type)
		}
	case <-time.After(4 * testDebounce):
	}
}

func TestBeginMigrationRejectsSecondHold(t *testing.T) {
	w, _ := startWatcher(t, nil, false)

	require.NoError(t, w.BeginMigration())
	assert.ErrorIs(t, w.BeginMigration(), models.ErrMigrationInProgress)

	// Releasing the hold makes a new one possible.
	w.EndMigration()
	require.NoError(t, w.BeginMigration())
	w.EndMigration()
}

func TestConcurrentStopIsSafe(t *testing.T) {
	w, _ := startWatcher(t, nil, false)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Stop()
		}()
	}
	wg.Wait()

	assert.Equal(t, watcher.StateStopped, w.State())
}

func TestEndMigrationWithoutChangesIsQuiet(t *testing.T) {
	w, _ := startWatcher(t, nil, false)

	require.NoError(t, w.BeginMigration())
	w.EndMigration()

	select {
	case ev, ok := <-w.Events():
		if ok {
			t.Fatalf("unexpected event %s after empty migration", ev.Type)
		}
	case <-time.After(3 * testDebounce):
	}
}
