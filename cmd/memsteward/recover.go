package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/memsteward/internal/models"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Resolve migrations interrupted by a crash",
	Long: `Recover scans the persisted copy manifests for migrations that never
finished and rolls each partial copy back so the source content stays
authoritative. A migration whose copy had fully finished only gets its
completion stamp restored. With --resume, interrupted copies are
finished instead: files already verified are kept and the rest are
re-copied and checksummed.`,
	RunE: runRecover,
}

var recoverResume bool

func init() {
	recoverCmd.Flags().BoolVar(&recoverResume, "resume", false,
		"Finish interrupted copies instead of rolling them back")
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
	run := stewardClient.Migrate.Recover
	if recoverResume {
		run = stewardClient.Migrate.Resume
	}

	recovered, err := run(context.Background())
	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
				"code":    models.ErrorCode(err),
			})
		} else {
			printError("Recovery failed: %v", err)
		}
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":   true,
			"recovered": recovered,
		})
		return nil
	}

	if len(recovered) == 0 {
		printInfo("No interrupted migrations found")
	} else {
		printSuccess("Recovered %d migration(s)", len(recovered))
		for _, id := range recovered {
			printInfo("  %s", id)
		}
	}

	return nil
}
