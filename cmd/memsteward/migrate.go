package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/memsteward/internal/models"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <project>",
	Short: "Move a project's memory content to a new location",
	Long: `Migrate copies a project's memory content to the given target
location under a project lock, verifies every file checksum, and only
then removes the source. A failure rolls the partial copy back.`,
	Example: `  memsteward migrate api --source /old/memories/api --target /new/memories/api`,
	Args:    cobra.ExactArgs(1),
	RunE:    runMigrate,
}

var (
	migrateSource string
	migrateTarget string
)

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().StringVarP(&migrateSource, "source", "s", "",
		"Source directory (required)")
	migrateCmd.Flags().StringVarP(&migrateTarget, "target", "t", "",
		"Target directory (required)")

	_ = migrateCmd.MarkFlagRequired("source")
	_ = migrateCmd.MarkFlagRequired("target")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	project := args[0]
	ctx := context.Background()

	m, err := stewardClient.Migrate.Run(ctx, project, migrateSource, migrateTarget)
	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"project": project,
				"error":   err.Error(),
				"code":    models.ErrorCode(err),
			})
		} else {
			printError("Migration failed: %v", err)
		}
		return err
	}

	if m == nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": true,
				"project": project,
				"moved":   0,
			})
		} else {
			printInfo("Nothing to migrate for %s", project)
		}
		return nil
	}

	verified, total := m.Progress()
	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":      true,
			"project":      project,
			"migration_id": m.ID,
			"moved":        verified,
			"total":        total,
		})
	} else {
		printSuccess("Migrated %s: %d/%d files moved to %s",
			project, verified, total, migrateTarget)
		fmt.Printf("   Migration ID: %s\n", m.ID)
	}

	return nil
}
