package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhagar/dataset-db/internal/manifest"
)

func newVersionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List published index versions, oldest first",
		Args:  cobra.NoArgs,
		RunE:  runVersions,
	}
	addConfigFlags(cmd)
	return cmd
}

func runVersions(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	m, err := manifest.Open(cfg.Storage.BasePath)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}

	current, hasCurrent := m.CurrentVersion()
	stdout := cmd.OutOrStdout()
	for _, v := range m.ListVersions() {
		marker := ""
		if hasCurrent && v == current.Version {
			marker = " (current)"
		}
		fmt.Fprintf(stdout, "%s%s\n", v, marker)
	}
	return nil
}

var versionsCmd = newVersionsCmd()

func init() {
	rootCmd.AddCommand(versionsCmd)
}
