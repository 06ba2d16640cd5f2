package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/secstack/threatvault/internal/classify"
	"github.com/secstack/threatvault/internal/embed"
	"github.com/secstack/threatvault/internal/feed"
	"github.com/secstack/threatvault/internal/search"
)

func newIngestCmd() *cobra.Command {
	var watch bool
	var maxConcurrency int
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Poll threat feeds and ingest indicators",
		Long: `Poll every due feed source, classify the extracted indicators, and
store them. With --watch the scheduler keeps polling on its tick
interval until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, watch, maxConcurrency, metricsAddr)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Keep polling until interrupted")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 0, "Override the concurrent source limit")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics at /metrics on this address (watch mode)")

	return cmd
}

func runIngest(cmd *cobra.Command, watch bool, maxConcurrency int, metricsAddr string) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feedsCfg := app.cfg.Feeds
	if maxConcurrency > 0 {
		feedsCfg.MaxConcurrency = maxConcurrency
	}
	if metricsAddr != "" {
		feedsCfg.MetricsAddr = metricsAddr
	}

	embedder := embed.New(ctx, app.cfg.Embeddings, app.logger)
	defer func() { _ = embedder.Close() }()
	searcher := search.NewSearcher(app.store, embedder, app.cfg.Search, app.logger)
	classifier := classify.New(app.cfg.Classifier, app.logger)

	scheduler := feed.NewScheduler(app.store, classifier, searcher, feedsCfg, app.logger)
	if feedsCfg.SeedDefaults {
		if err := scheduler.SeedDefaults(ctx); err != nil {
			return err
		}
	}

	if watch {
		if feedsCfg.MetricsAddr != "" {
			if _, merr := feed.ServeMetrics(ctx, feedsCfg.MetricsAddr, app.logger); merr != nil {
				return merr
			}
		}
		err := scheduler.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	report, err := scheduler.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		"polled %d sources: %d ingested (%d reused), %d skipped, %d failures, %d dropped\n",
		report.SourcesPolled, report.Ingested, report.Reused,
		report.Skipped, report.Failures, report.Dropped)
	return nil
}
