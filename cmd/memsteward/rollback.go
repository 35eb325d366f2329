package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/memsteward/internal/models"
	"github.com/TheMichaelB/memsteward/internal/rollback"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore a previous configuration",
	Long: `Rollback restores the configuration document from a verified
snapshot: either the last known good baseline or the most recent
history snapshot.`,
	Example: `  memsteward rollback
  memsteward rollback --target previous`,
	RunE: runRollback,
}

var rollbackTarget string

func init() {
	rootCmd.AddCommand(rollbackCmd)
	rollbackCmd.AddCommand(rollbackHistoryCmd)

	rollbackCmd.Flags().StringVarP(&rollbackTarget, "target", "t",
		string(rollback.TargetLastKnownGood),
		"What to restore: lastKnownGood or previous")
}

func runRollback(cmd *cobra.Command, args []string) error {
	result, err := stewardClient.Rollback.Rollback(rollback.Target(rollbackTarget))
	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
				"code":    models.ErrorCode(err),
			})
		} else {
			printError("Rollback failed: %v", err)
		}
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":     true,
			"target":      string(result.Target),
			"snapshot_id": result.SnapshotID,
		})
	} else {
		printSuccess("Restored configuration from snapshot %s", result.SnapshotID)
		if result.Reason != "" {
			fmt.Printf("   Captured: %s\n", result.Reason)
		}
	}

	return nil
}

var rollbackHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List available configuration snapshots",
	RunE:  runRollbackHistory,
}

func runRollbackHistory(cmd *cobra.Command, args []string) error {
	snapshots := stewardClient.Rollback.History()
	lkg := stewardClient.Rollback.LastKnownGood()

	if jsonOutput {
		printJSON(map[string]interface{}{
			"snapshots":       snapshots,
			"last_known_good": lkg,
		})
		return nil
	}

	if lkg != nil {
		printInfo("Last known good: %s (%s)",
			lkg.ID, lkg.CreatedAt.Format(time.RFC3339))
	} else {
		printWarning("No last known good baseline")
	}

	if len(snapshots) == 0 {
		printInfo("No history snapshots")
		return nil
	}

	fmt.Println("\nHistory (oldest first):")
	for _, snap := range snapshots {
		fmt.Printf("  %s  %s  %s\n",
			snap.ID, snap.CreatedAt.Format(time.RFC3339), snap.Reason)
	}

	return nil
}
