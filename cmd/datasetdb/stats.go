package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhagar/dataset-db/internal/builder"
	"github.com/nhagar/dataset-db/internal/manifest"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [version]",
		Short: "Report artifact sizes for a built index version",
		Long:  `With no argument, stats reports on the manifest's current published version.`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStats,
	}
	addConfigFlags(cmd)
	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	m, err := manifest.Open(cfg.Storage.BasePath)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}

	version := ""
	if len(args) == 1 {
		version = args[0]
	} else if v, ok := m.CurrentVersion(); ok {
		version = v.Version
	} else {
		return fmt.Errorf("no published version and none specified")
	}

	if _, ok := m.GetVersion(version); !ok {
		return fmt.Errorf("unknown version %q", version)
	}

	b := builder.New(cfg.Storage.BasePath, cfg.Index.PostingsShards, cfg.Ingestion.CompressionLevel, nil)
	stats := b.Stats(version)

	stdout := cmd.OutOrStdout()
	fmt.Fprintf(stdout, "version:                %s\n", version)
	fmt.Fprintf(stdout, "domains:                %d\n", stats.NumDomains)
	fmt.Fprintf(stdout, "files:                  %d\n", stats.NumFiles)
	fmt.Fprintf(stdout, "domain-dataset pairs:   %d\n", stats.NumDomainDatasetPairs)
	fmt.Fprintf(stdout, "postings shards:        %d\n", stats.NumPostingsShards)
	return nil
}

var statsCmd = newStatsCmd()

func init() {
	rootCmd.AddCommand(statsCmd)
}
