package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		Long:  `Display indicator counts by risk level and category, plus mapping, analysis, and feed source totals.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStats(cmd *cobra.Command, jsonOutput bool) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	stats, err := app.store.Statistics(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	app.renderer.Statistics(stats)
	return nil
}
