package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhagar/dataset-db/internal/query"
)

func newDatasetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets <domain>",
		Short: "List the dataset_ids that contain a domain",
		Args:  cobra.ExactArgs(1),
		RunE:  runDatasets,
	}
	addConfigFlags(cmd)
	return cmd
}

func runDatasets(cmd *cobra.Command, args []string) error {
	domain := args[0]

	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	loader, err := query.Load(cfg.Storage.BasePath)
	if err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}

	result, err := query.DatasetsForDomain(loader, domain)
	if err != nil {
		return err
	}

	stdout := cmd.OutOrStdout()
	fmt.Fprintf(stdout, "%s (domain_id=%d) appears in %d dataset(s):\n", result.Domain, result.DomainID, len(result.Datasets))
	for _, datasetID := range result.Datasets {
		fmt.Fprintf(stdout, "  dataset_id=%d\n", datasetID)
	}
	return nil
}

var datasetsCmd = newDatasetsCmd()

func init() {
	rootCmd.AddCommand(datasetsCmd)
}
