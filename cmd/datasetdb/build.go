package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nhagar/dataset-db/internal/builder"
)

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a new index version from the record files under the storage base path",
		Long: `build scans every record file under the configured storage base path,
builds a fresh domain dictionary, perfect-hash table, membership index,
postings index, and cardinality sketch, and publishes the result as a new
manifest version.`,
		RunE: runBuild,
	}
	cmd.Flags().String("version", "", "version identifier to publish (default: current UTC timestamp)")
	cmd.Flags().String("incremental", "", "comma-separated dataset_ids to incrementally (re)build, instead of a full rebuild")
	addConfigFlags(cmd)
	return cmd
}

func runBuild(cmd *cobra.Command, _ []string) error {
	var version, incremental string
	parseFlags(cmd, map[string]any{
		"version":     &version,
		"incremental": &incremental,
	})

	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	b := builder.New(cfg.Storage.BasePath, cfg.Index.PostingsShards, cfg.Ingestion.CompressionLevel, cmd.OutOrStdout())

	var builtVersion string
	var stats builder.Stats

	if incremental != "" {
		datasetIDs, parseErr := parseDatasetIDs(incremental)
		if parseErr != nil {
			return fmt.Errorf("invalid --incremental value: %w", parseErr)
		}
		builtVersion, stats, err = b.BuildIncremental(datasetIDs)
	} else {
		builtVersion, stats, err = b.BuildAll(version)
	}
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "published version %s: %d domains, %d files, %d domain-dataset pairs, %d postings shards\n",
		builtVersion, stats.NumDomains, stats.NumFiles, stats.NumDomainDatasetPairs, stats.NumPostingsShards)
	return nil
}

func parseDatasetIDs(csv string) ([]uint32, error) {
	parts := strings.Split(csv, ",")
	ids := make([]uint32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("dataset id %q: %w", p, err)
		}
		ids = append(ids, uint32(n))
	}
	return ids, nil
}

var buildCmd = newBuildCmd()

func init() {
	rootCmd.AddCommand(buildCmd)
}
