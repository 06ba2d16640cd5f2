package cmd

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/secstack/threatvault/internal/curator"
	vaulterrors "github.com/secstack/threatvault/internal/errors"
)

func newDatasetCmd() *cobra.Command {
	var realOnly bool
	var minConfidence float64
	var outPath string

	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Generate a fine-tuning dataset from stored intelligence",
		Long: `Curate training examples from the indicator store and analysis history
under the configured data-quality policy, and write them as JSONL with
a trailing manifest line. Categories short of examples are reported
but do not fail the export.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDataset(cmd, realOnly, minConfidence, outPath)
		},
	}

	cmd.Flags().BoolVar(&realOnly, "real-only", false, "Exclude synthetic and demo-sourced rows")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", -1, "Override the confidence floor")
	cmd.Flags().StringVar(&outPath, "out", "", "Output path (default: data dir, policy-stamped name)")

	return cmd
}

func runDataset(cmd *cobra.Command, realOnly bool, minConfidence float64, outPath string) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	policy := curator.PolicyFromConfig(app.cfg.Curator)
	if realOnly {
		policy.UseRealDataOnly = true
	}
	if minConfidence >= 0 {
		policy.MinConfidence = minConfidence
	}

	c := curator.New(app.store, app.logger)
	ds, err := c.Generate(cmd.Context(), policy)
	if err != nil {
		if !vaulterrors.IsInsufficientData(err) {
			return err
		}
		app.logger.Warn("dataset generated with underfilled categories", "error", err)
	}

	if outPath == "" {
		outPath = filepath.Join(app.cfg.DataDir, "training_data",
			curator.DatasetFilename(policy, time.Now()))
	}
	if err := curator.WriteFile(outPath, ds); err != nil {
		return err
	}
	app.renderer.DatasetSummary(ds.Manifest, outPath)
	return nil
}
