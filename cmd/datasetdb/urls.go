package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nhagar/dataset-db/internal/query"
)

func newURLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "urls <domain> <dataset_id>",
		Short: "Page through the URLs recorded for a domain within one dataset",
		Args:  cobra.ExactArgs(2),
		RunE:  runURLs,
	}
	cmd.Flags().Int("offset", 0, "pagination offset")
	cmd.Flags().Int("limit", 100, "maximum number of URLs to return")
	addConfigFlags(cmd)
	return cmd
}

func runURLs(cmd *cobra.Command, args []string) error {
	domain := args[0]
	datasetID, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid dataset_id %q: %w", args[1], err)
	}

	var offset, limit int
	parseFlags(cmd, map[string]any{
		"offset": &offset,
		"limit":  &limit,
	})

	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	loader, err := query.Load(cfg.Storage.BasePath)
	if err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}

	page, err := query.URLsFor(loader, domain, uint32(datasetID), offset, limit)
	if err != nil {
		return err
	}

	stdout := cmd.OutOrStdout()
	if estimate, ok := query.EstimateURLCount(loader, domain, uint32(datasetID)); ok {
		fmt.Fprintf(stdout, "~%d distinct urls estimated for %s in dataset %d\n", estimate, domain, datasetID)
	}
	for _, item := range page.Items {
		fmt.Fprintf(stdout, "%d\t%s\n", item.URLID, item.URL)
	}
	if page.NextOffset != nil {
		fmt.Fprintf(stdout, "# next offset: %d\n", *page.NextOffset)
	}
	return nil
}

var urlsCmd = newURLsCmd()

func init() {
	rootCmd.AddCommand(urlsCmd)
}
