package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/memsteward/internal/config"
	"github.com/TheMichaelB/memsteward/internal/models"
	"github.com/TheMichaelB/memsteward/internal/pathsafe"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and manage the configuration document",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration document",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration document",
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init <default-memories-location>",
	Short: "Create a fresh configuration document",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	doc, err := stewardClient.LoadDocument()
	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
				"code":    models.ErrorCode(err),
			})
		} else {
			printError("Could not load document: %v", err)
		}
		return err
	}

	printJSON(doc)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	doc, err := stewardClient.LoadDocument()
	if err == nil {
		err = doc.Validate()
	}

	if err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"valid": false,
				"error": err.Error(),
				"code":  models.ErrorCode(err),
			})
		} else {
			printError("Invalid: %v", err)
		}
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"valid": true})
	} else {
		printSuccess("Configuration document is valid")
		fmt.Printf("   %d project(s) configured\n", len(doc.Projects))
	}

	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfg.Storage.ConfigFile); err == nil {
		err := fmt.Errorf("document already exists at %s", cfg.Storage.ConfigFile)
		printError("%v", err)
		return err
	}

	memories, err := pathsafe.Sanitize(args[0])
	if err != nil {
		printError("Invalid memories location: %v", err)
		return err
	}

	doc := models.NewConfig(memories)
	if err := config.SaveDocument(cfg.Storage.ConfigFile, doc); err != nil {
		printError("Could not write document: %v", err)
		return err
	}

	if err := stewardClient.Rollback.MarkAsGood(doc, "initial document"); err != nil {
		printWarning("Could not record baseline: %v", err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": true,
			"path":    cfg.Storage.ConfigFile,
		})
	} else {
		printSuccess("Created configuration document at %s", cfg.Storage.ConfigFile)
	}

	return nil
}
