package search

import (
	"context"
	"log/slog"
	"sort"

	"github.com/secstack/threatvault/internal/config"
	"github.com/secstack/threatvault/internal/embed"
	vaulterrors "github.com/secstack/threatvault/internal/errors"
	"github.com/secstack/threatvault/internal/store"
)

// Searcher answers similarity queries against the indicator store. The
// semantic path lazily backfills embeddings for indicators that do not have
// one yet, so an indicator ingested while the embedding backend was down
// becomes searchable once the backend returns.
type Searcher struct {
	store    store.IndicatorStore
	embedder embed.Embedder
	index    *VectorIndex
	cfg      config.SearchConfig
	logger   *slog.Logger
}

// NewSearcher creates a searcher over the store and embedder.
func NewSearcher(st store.IndicatorStore, embedder embed.Embedder, cfg config.SearchConfig, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	return &Searcher{store: st, embedder: embedder, cfg: cfg, logger: logger}
}

// SearchSimilar returns up to k indicators similar to query, best first.
// Results from one call share a single provenance: semantic when the
// embedding backend served the query, lexical otherwise. The lexical path
// is always available, so an unreachable embedding backend degrades the
// search rather than failing it.
func (s *Searcher) SearchSimilar(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		k = s.cfg.MaxResults
	} else if k > s.cfg.MaxResults {
		s.logger.Debug("result limit capped", "requested", k, "max", s.cfg.MaxResults)
		k = s.cfg.MaxResults
	}

	if s.embedder.Available(ctx) {
		results, err := s.semanticSearch(ctx, query, k)
		if err == nil {
			return results, nil
		}
		s.logger.Warn("semantic search failed, falling back to lexical", "error", err)
	}

	return s.lexicalSearch(ctx, query, k)
}

func (s *Searcher) semanticSearch(ctx context.Context, query string, k int) ([]Result, error) {
	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Search(queryVec, k)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		if hit.score < s.cfg.MinScore {
			continue
		}
		ind, gerr := s.store.GetIndicator(ctx, hit.id)
		if gerr != nil {
			// Row deleted after indexing; drop the stale hit.
			if vaulterrors.IsNotFound(gerr) {
				s.index.Remove(hit.id)
				continue
			}
			return nil, gerr
		}
		results = append(results, Result{Indicator: ind, Score: hit.score, Provenance: ProvenanceSemantic})
	}
	sortResults(results)
	return results, nil
}

// ensureIndex builds the vector index on first use and embeds indicators
// that have no cached vector for the current model.
func (s *Searcher) ensureIndex(ctx context.Context) error {
	if s.index == nil {
		s.index = NewVectorIndex(s.embedder.Dimensions())
		indicators, err := s.store.ListIndicators(ctx, store.IndicatorFilter{})
		if err != nil {
			return err
		}
		model := s.embedder.ModelName()
		for _, ind := range indicators {
			if len(ind.Embedding) == 0 || ind.EmbedModel != model {
				continue
			}
			if err := s.index.Add(ind.ID, ind.Embedding); err != nil {
				s.logger.Warn("skipping indexed vector", "id", ind.ID, "error", err)
			}
		}
	}
	return s.backfill(ctx)
}

func (s *Searcher) backfill(ctx context.Context) error {
	model := s.embedder.ModelName()
	missing, err := s.store.MissingEmbeddings(ctx, model, embed.MaxBatchSize)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	texts := make([]string, len(missing))
	for i, ind := range missing {
		texts[i] = ind.Value
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	for i, ind := range missing {
		if err := s.store.SaveEmbedding(ctx, ind.ID, vectors[i], model); err != nil {
			return err
		}
		if err := s.index.Add(ind.ID, vectors[i]); err != nil {
			return err
		}
	}
	s.logger.Debug("embeddings backfilled", "count", len(missing), "model", model)
	return nil
}

func (s *Searcher) lexicalSearch(ctx context.Context, query string, k int) ([]Result, error) {
	indicators, err := s.store.ListIndicators(ctx, store.IndicatorFilter{})
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeSearchFailed, "failed to load indicators", err)
	}

	queryGrams := trigrams(query)
	results := make([]Result, 0, len(indicators))
	for _, ind := range indicators {
		score := jaccard(queryGrams, trigrams(ind.Value))
		if score < s.cfg.MinScore || score == 0 {
			continue
		}
		results = append(results, Result{Indicator: ind, Score: score, Provenance: ProvenanceLexical})
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// sortResults orders by score descending, then most recently seen, then id
// ascending for a stable total order.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		a, b := results[i].Indicator, results[j].Indicator
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.ID < b.ID
	})
}

// BestMatch returns the single most similar indicator and its score, or nil
// when nothing clears the minimum score. Ingestion uses this to reuse a
// prior classification when a near-identical indicator is already known.
func (s *Searcher) BestMatch(ctx context.Context, query string) (*Result, error) {
	results, err := s.SearchSimilar(ctx, query, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}
