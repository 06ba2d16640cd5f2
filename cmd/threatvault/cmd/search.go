package cmd

import (
	"github.com/spf13/cobra"

	"github.com/secstack/threatvault/internal/embed"
	"github.com/secstack/threatvault/internal/search"
)

func newSearchCmd() *cobra.Command {
	var k int
	var minScore float64

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find indicators similar to a query",
		Long: `Rank stored indicators against the query. Semantic similarity is used
when the embedding backend is reachable, lexical trigram similarity
otherwise; each result is tagged with its provenance.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args[0], k, minScore)
		},
	}

	cmd.Flags().IntVarP(&k, "limit", "k", 10, "Maximum number of results")
	cmd.Flags().Float64Var(&minScore, "min-score", -1, "Minimum similarity score")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, k int, minScore float64) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	searchCfg := app.cfg.Search
	if minScore >= 0 {
		searchCfg.MinScore = minScore
	}
	// The flag wins over the configured result cap.
	if k > searchCfg.MaxResults {
		searchCfg.MaxResults = k
	}

	embedder := embed.New(cmd.Context(), app.cfg.Embeddings, app.logger)
	defer func() { _ = embedder.Close() }()
	searcher := search.NewSearcher(app.store, embedder, searchCfg, app.logger)

	results, err := searcher.SearchSimilar(cmd.Context(), query, k)
	if err != nil {
		return err
	}
	app.renderer.SearchResults(query, results)
	return nil
}
