package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/memsteward/internal/client"
	"github.com/TheMichaelB/memsteward/internal/config"
	"github.com/TheMichaelB/memsteward/internal/events"
)

var rootCmd = &cobra.Command{
	Use:   "memsteward",
	Short: "Coordinate memory placement for local knowledge projects",
	Long: `Memsteward manages where project memory content lives, watches the
shared configuration document for changes, and migrates content safely
between locations with locking, checksums, and rollback.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if stewardClient != nil {
			_ = stewardClient.Close()
		}
	},
}

var (
	cfg           *config.Config
	logger        *events.Logger
	stewardClient *client.Client

	configPath string
	jsonOutput bool
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Engine config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
}

func setup() error {
	loader := config.NewLoader(configPath)

	var err error
	cfg, err = loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if verbose {
		cfg.Log.Level = "debug"
	}
	if jsonOutput {
		cfg.Log.Format = "json"
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	stewardClient, err = client.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}

	return nil
}
