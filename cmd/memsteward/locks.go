package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/memsteward/internal/history"
	"github.com/TheMichaelB/memsteward/internal/models"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Inspect and clean up coordination locks",
	RunE:  runLocksStatus,
}

var locksCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale lock markers left by dead processes",
	RunE:  runLocksCleanup,
}

func init() {
	rootCmd.AddCommand(locksCmd)
	locksCmd.AddCommand(locksCleanupCmd)
}

func runLocksStatus(cmd *cobra.Command, args []string) error {
	globalHeld := stewardClient.Locks.IsGlobalLocked()
	projects := stewardClient.Locks.HeldProjectLocks()

	if jsonOutput {
		printJSON(map[string]interface{}{
			"global_locked": globalHeld,
			"project_locks": projects,
		})
		return nil
	}

	if globalHeld {
		printWarning("Global lock: held")
	} else {
		printInfo("Global lock: free")
	}

	if len(projects) == 0 {
		printInfo("Project locks: none held by this process")
	} else {
		fmt.Println("Project locks held by this process:")
		for _, name := range projects {
			fmt.Printf("  %s\n", name)
		}
	}

	return nil
}

func runLocksCleanup(cmd *cobra.Command, args []string) error {
	removed, err := stewardClient.Locks.CleanupStale()
	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
				"code":    models.ErrorCode(err),
			})
		} else {
			printError("Cleanup failed: %v", err)
		}
		return err
	}

	if removed > 0 {
		recordAudit(&history.Record{
			Kind:    history.KindLockCleanup,
			Detail:  fmt.Sprintf("removed %d stale marker(s)", removed),
			Success: true,
		})
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"removed": removed,
		})
	} else {
		printSuccess("Removed %d stale lock marker(s)", removed)
	}

	return nil
}
