package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nhagar/dataset-db/internal/dbconfig"
)

var rootCmd = &cobra.Command{
	Use:   "datasetdb",
	Short: "Build and query the domain -> datasets -> URLs index",
	Long: `datasetdb builds a perfect-hash-indexed, versioned lookup structure over a
directory of append-only Parquet URL record files, and serves domain ->
dataset and dataset -> URL queries against it.`,
}

// Execute runs the root command, exiting the process on failure the way
// the teacher's app/cmd.Execute does.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// addConfigFlags attaches the --config/--base-path flags every subcommand
// needs to resolve its storage root, local rather than persistent on
// rootCmd so each newXCmd() factory remains independently testable.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to a TOML config file (optional; defaults and env vars apply otherwise)")
	cmd.Flags().String("base-path", "", "override storage.base_path from config")
}

func loadConfigFromFlags(cmd *cobra.Command) (dbconfig.Config, error) {
	var configPath, basePath string
	parseFlags(cmd, map[string]any{
		"config":    &configPath,
		"base-path": &basePath,
	})

	cfg, err := dbconfig.Load(configPath)
	if err != nil {
		return dbconfig.Config{}, err
	}
	if basePath != "" {
		cfg.Storage.BasePath = basePath
	}
	return cfg, nil
}
