package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/memsteward/internal/history"
	"github.com/TheMichaelB/memsteward/internal/models"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the lifecycle audit trail",
	Example: `  memsteward audit
  memsteward audit --project api --limit 50`,
	RunE: runAudit,
}

var (
	auditProject string
	auditLimit   int
)

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().StringVarP(&auditProject, "project", "p", "",
		"Only show records for this project")
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20,
		"Maximum records to show")
}

func runAudit(cmd *cobra.Command, args []string) error {
	var records []history.Record
	var err error
	if auditProject != "" {
		records, err = stewardClient.Audit.ForProject(auditProject, auditLimit)
	} else {
		records, err = stewardClient.Audit.Recent(auditLimit)
	}
	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
				"code":    models.ErrorCode(err),
			})
		} else {
			printError("Could not read audit trail: %v", err)
		}
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"records": records,
		})
		return nil
	}

	if len(records) == 0 {
		printInfo("No audit records")
		return nil
	}

	for _, rec := range records {
		status := "ok"
		if !rec.Success {
			status = "FAILED"
		}
		line := fmt.Sprintf("%s  %-18s  %-7s",
			rec.Timestamp.Format(time.RFC3339), rec.Kind, status)
		if rec.Project != "" {
			line += "  project=" + rec.Project
		}
		if rec.Detail != "" {
			line += "  " + rec.Detail
		}
		fmt.Println(line)
	}

	return nil
}
