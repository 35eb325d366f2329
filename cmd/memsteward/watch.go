package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/memsteward/internal/diff"
	"github.com/TheMichaelB/memsteward/internal/history"
	"github.com/TheMichaelB/memsteward/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the configuration document and apply changes",
	Long: `Watch observes the managed configuration document, debounces edit
bursts, and reacts to changes: valid edits that move memory content
trigger locked, checksummed migrations; invalid edits are rejected and,
when auto-rollback is enabled, reverted to the last known good state.`,
	Example: `  memsteward watch
  memsteward watch --json`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Roll back anything a previous crash left half-copied before
	// trusting the current layout.
	if recovered, err := stewardClient.Migrate.Recover(ctx); err != nil {
		printWarning("Recovery failed: %v", err)
	} else if len(recovered) > 0 {
		printInfo("Recovered %d interrupted migration(s)", len(recovered))
	}

	if err := stewardClient.Watcher.Start(); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		if !jsonOutput {
			printWarning("\nShutting down...")
		}
		stewardClient.Watcher.Stop()
	}()

	if !jsonOutput {
		printInfo("Watching %s (debounce %s)",
			cfg.Storage.ConfigFile, cfg.Watcher.Debounce)
	}

	for event := range stewardClient.Watcher.Events() {
		handleWatchEvent(ctx, event)
	}

	return nil
}

func handleWatchEvent(ctx context.Context, event watcher.Event) {
	switch event.Type {
	case watcher.EventStarted, watcher.EventStopped:
		if jsonOutput {
			printJSON(map[string]interface{}{"event": string(event.Type)})
		}

	case watcher.EventValidationError:
		if jsonOutput {
			printJSON(map[string]interface{}{
				"event": string(event.Type),
				"error": event.Err.Error(),
			})
		} else {
			printError("Rejected configuration change: %v", event.Err)
		}
		recordAudit(&history.Record{
			Kind:    history.KindValidation,
			Detail:  event.Err.Error(),
			Success: false,
		})

	case watcher.EventRollback:
		if jsonOutput {
			printJSON(map[string]interface{}{"event": string(event.Type)})
		} else {
			printWarning("Reverted to last known good configuration")
		}
		recordAudit(&history.Record{
			Kind:    history.KindRollback,
			Detail:  "automatic revert after rejected change",
			Success: true,
		})

	case watcher.EventReconfigure:
		handleReconfigure(ctx, event)
	}
}

func handleReconfigure(ctx context.Context, event watcher.Event) {
	summary := diff.Summarize(event.Diff)
	if jsonOutput {
		printJSON(map[string]interface{}{
			"event": string(event.Type),
			"diff":  event.Diff,
		})
	} else {
		printInfo("Configuration changed: %s", summary)
	}

	recordAudit(&history.Record{
		Kind:    history.KindReconfigure,
		Detail:  summary,
		Success: true,
	})

	if !event.Diff.RequiresMigration {
		markGood(event)
		return
	}

	// Snapshot the pre-change document so the move can be undone.
	if event.Previous != nil {
		if _, err := stewardClient.Rollback.Snapshot(event.Previous, "before migration"); err != nil {
			printWarning("Could not snapshot previous configuration: %v", err)
		}
	}

	// Hold further changes so a half-finished move never gets re-diffed.
	if err := stewardClient.Watcher.BeginMigration(); err != nil {
		printWarning("Migration skipped: %v", err)
		return
	}
	migrated, err := stewardClient.MigrateAffected(ctx, event.Previous, event.Config)
	stewardClient.Watcher.EndMigration()

	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"event":    "migration_failed",
				"migrated": migrated,
				"error":    err.Error(),
			})
		} else {
			printError("Migration failed: %v", err)
		}
		if cfg.Watcher.AutoRollback {
			if _, rbErr := stewardClient.Rollback.Revert(); rbErr != nil {
				printError("Rollback failed: %v", rbErr)
			} else if !jsonOutput {
				printWarning("Configuration reverted to last known good")
			}
		}
		return
	}

	if !jsonOutput && len(migrated) > 0 {
		printSuccess("Migrated %d project(s): %v", len(migrated), migrated)
	}
	markGood(event)
}

// markGood promotes the applied document to the rollback baseline.
func markGood(event watcher.Event) {
	if event.Config == nil {
		return
	}
	if err := stewardClient.Rollback.MarkAsGood(event.Config, "change applied"); err != nil {
		printWarning("Could not update last known good: %v", err)
	}
}

func recordAudit(rec *history.Record) {
	if err := stewardClient.Audit.Append(rec); err != nil {
		logger.WithError(err).Warn("Could not append audit record")
	}
}
