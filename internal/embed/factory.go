package embed

import (
	"context"
	"log/slog"
	"strings"

	"github.com/secstack/threatvault/internal/config"
)

// New builds the embedder selected by configuration. Provider "none"
// returns the disabled embedder; "ollama" tries the server and degrades to
// the disabled embedder when it is unreachable, so ingestion never blocks
// on a missing embedding backend.
func New(ctx context.Context, cfg config.EmbeddingsConfig, logger *slog.Logger) Embedder {
	if logger == nil {
		logger = slog.Default()
	}

	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return NewNoopEmbedder()
	case "ollama":
		e, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:    cfg.Host,
			Model:   cfg.Model,
			Timeout: config.Duration(cfg.Timeout, DefaultTimeout),
		})
		if err != nil {
			logger.Warn("embedding backend unavailable, similarity search degrades to lexical",
				"provider", "ollama", "error", err)
			return NewNoopEmbedder()
		}
		cached, cerr := NewCachedEmbedder(e, cfg.CacheSize)
		if cerr != nil {
			logger.Warn("embedding cache disabled", "error", cerr)
			return e
		}
		logger.Debug("embedder ready", "model", e.ModelName(), "dimensions", e.Dimensions())
		return cached
	default:
		logger.Warn("unknown embedding provider, embeddings disabled", "provider", cfg.Provider)
		return NewNoopEmbedder()
	}
}
