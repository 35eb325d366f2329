// Package watcher observes the managed configuration document for
// external edits, debounces bursts of filesystem events, and emits
// classified reconfiguration events.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/TheMichaelB/memsteward/internal/config"
	"github.com/TheMichaelB/memsteward/internal/diff"
	"github.com/TheMichaelB/memsteward/internal/events"
	"github.com/TheMichaelB/memsteward/internal/models"
	"github.com/TheMichaelB/memsteward/internal/rollback"
)

// State reports the watcher lifecycle.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StateError   State = "error"
)

// EventType classifies watcher notifications.
type EventType string

const (
	// EventStarted fires once when the watch loop begins.
	EventStarted EventType = "started"

	// EventStopped fires once when the watch loop ends.
	EventStopped EventType = "stopped"

	// EventReconfigure reports a valid, materially changed document.
	EventReconfigure EventType = "reconfigure"

	// EventValidationError reports an unreadable or invalid document.
	EventValidationError EventType = "validation_error"

	// EventRollback reports an automatic revert to the baseline after
	// a validation failure.
	EventRollback EventType = "rollback"
)

// Event is one watcher notification. Previous, Config, and Diff are
// set for EventReconfigure; Err is set for EventValidationError.
type Event struct {
	Type     EventType
	Previous *models.Config
	Config   *models.Config
	Diff     *models.ConfigDiff
	Err      error
}

// Reverter restores the last-known-good configuration document.
type Reverter interface {
	Revert() (*rollback.Result, error)
}

// Watcher debounces filesystem events on the configuration document
// and publishes classified changes. While a migration is in flight,
// incoming changes are held and collapsed into a single replay once
// the migration ends, so a half-migrated layout is never re-diffed.
type Watcher struct {
	configPath   string
	debounce     time.Duration
	autoRollback bool
	reverter     Reverter
	logger       *events.Logger

	mu        sync.Mutex
	state     State
	stopping  bool
	current   *models.Config
	migrating bool
	pending   bool

	fsw    *fsnotify.Watcher
	eventC chan Event
	replay chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

const eventBuffer = 16

// New creates a watcher for the configuration document at configPath.
// reverter may be nil, which disables automatic rollback regardless of
// cfg.AutoRollback.
func New(configPath string, cfg config.WatcherConfig, reverter Reverter, logger *events.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	return &Watcher{
		configPath:   abs,
		debounce:     cfg.Debounce,
		autoRollback: cfg.AutoRollback && reverter != nil,
		reverter:     reverter,
		logger:       logger.WithField("component", "config_watcher"),
		state:        StateStopped,
	}, nil
}

// Start begins watching. Calling Start on a running watcher is a
// no-op. The document's current content is loaded as the comparison
// baseline; a missing document is fine, the first write will be
// reported as a first load.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateRunning {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.state = StateError
		return fmt.Errorf("create filesystem watcher: %w", err)
	}

	// Watch the parent directory: editors and atomic writers replace
	// the file by rename, which drops a watch on the file itself.
	if err := fsw.Add(filepath.Dir(w.configPath)); err != nil {
		fsw.Close()
		w.state = StateError
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.configPath), err)
	}

	if current, err := config.LoadDocument(w.configPath); err == nil {
		w.current = current
	}

	w.fsw = fsw
	w.eventC = make(chan Event, eventBuffer)
	w.replay = make(chan struct{}, 1)
	w.done = make(chan struct{})
	w.state = StateRunning
	w.migrating = false
	w.pending = false

	w.emitLocked(Event{Type: EventStarted, Config: w.current})
	w.logger.WithField("path", w.configPath).Info("Watching configuration document")

	w.wg.Add(1)
	go w.run()

	return nil
}

// Stop ends the watch loop and closes the event channel. Calling Stop
// on a stopped watcher is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.state != StateRunning || w.stopping {
		w.mu.Unlock()
		return
	}
	// Claim the shutdown before releasing the mutex so a concurrent
	// Stop cannot close done a second time.
	w.stopping = true
	done := w.done
	w.mu.Unlock()

	close(done)
	w.wg.Wait()

	w.mu.Lock()
	w.fsw.Close()
	w.state = StateStopped
	w.stopping = false
	w.emitLocked(Event{Type: EventStopped})
	close(w.eventC)
	w.logger.Info("Stopped watching configuration document")
	w.mu.Unlock()
}

// Events returns the notification channel. It is closed by Stop.
func (w *Watcher) Events() <-chan Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.eventC
}

// State returns the watcher lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Current returns the last valid configuration the watcher has seen.
func (w *Watcher) Current() *models.Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// BeginMigration holds change processing while content is being
// moved. Fails if a migration hold is already active.
func (w *Watcher) BeginMigration() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.migrating {
		return models.ErrMigrationInProgress
	}
	w.migrating = true
	return nil
}

// EndMigration resumes change processing. Changes that arrived during
// the migration are collapsed into a single replay.
func (w *Watcher) EndMigration() {
	w.mu.Lock()
	replayNeeded := w.pending
	w.migrating = false
	w.pending = false
	w.mu.Unlock()

	if replayNeeded {
		select {
		case w.replay <- struct{}{}:
		default:
		}
	}
}

func (w *Watcher) run() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C

		case <-timerC:
			timer = nil
			timerC = nil
			w.handleChange()

		case <-w.replay:
			w.handleChange()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Filesystem watcher error")
		}
	}
}

// relevant filters directory events down to mutations of the watched
// document itself.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.configPath {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
}

func (w *Watcher) handleChange() {
	w.mu.Lock()
	if w.migrating {
		w.pending = true
		w.mu.Unlock()
		w.logger.Debug("Change held until migration completes")
		return
	}
	previous := w.current
	w.mu.Unlock()

	loaded, err := config.LoadDocument(w.configPath)
	if err != nil {
		w.handleInvalid(fmt.Errorf("load document: %w", err))
		return
	}

	if err := loaded.Validate(); err != nil {
		w.handleInvalid(err)
		return
	}

	d := diff.Detect(previous, loaded)
	if !d.HasChanges {
		w.logger.Debug("Document rewritten without material changes")
		return
	}

	w.mu.Lock()
	w.current = loaded
	w.emitLocked(Event{
		Type:     EventReconfigure,
		Previous: previous,
		Config:   loaded,
		Diff:     d,
	})
	w.mu.Unlock()

	w.logger.WithField("summary", diff.Summarize(d)).Info("Configuration changed")
}

func (w *Watcher) handleInvalid(cause error) {
	w.logger.WithError(cause).Warn("Rejected configuration change")

	w.mu.Lock()
	w.emitLocked(Event{Type: EventValidationError, Err: cause})
	w.mu.Unlock()

	if !w.autoRollback {
		return
	}

	result, err := w.reverter.Revert()
	if err != nil {
		w.logger.WithError(err).Error("Automatic rollback failed")
		return
	}

	w.mu.Lock()
	w.current = result.Config
	w.emitLocked(Event{Type: EventRollback, Config: result.Config})
	w.mu.Unlock()

	w.logger.WithField("snapshot_id", result.SnapshotID).
		Info("Automatically reverted to last known good configuration")
}

// emitLocked publishes without blocking; a full channel drops the
// event rather than stalling the watch loop. Callers hold w.mu.
func (w *Watcher) emitLocked(ev Event) {
	select {
	case w.eventC <- ev:
	default:
		w.logger.WithField("event", string(ev.Type)).Warn("Dropped watcher event")
	}
}
