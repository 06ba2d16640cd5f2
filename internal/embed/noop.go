package embed

import (
	"context"

	vaulterrors "github.com/secstack/threatvault/internal/errors"
)

// NoopEmbedder is the always-unavailable backend used when embeddings are
// disabled or no server is reachable. Callers that check Available first
// never hit the error paths; search falls back to lexical similarity.
type NoopEmbedder struct{}

var _ Embedder = (*NoopEmbedder)(nil)

// NewNoopEmbedder returns the disabled embedder.
func NewNoopEmbedder() *NoopEmbedder {
	return &NoopEmbedder{}
}

func (n *NoopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, vaulterrors.DependencyUnavailable("embeddings disabled", nil)
}

func (n *NoopEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, vaulterrors.DependencyUnavailable("embeddings disabled", nil)
}

func (n *NoopEmbedder) Dimensions() int { return 0 }

func (n *NoopEmbedder) ModelName() string { return "none" }

func (n *NoopEmbedder) Available(ctx context.Context) bool { return false }

func (n *NoopEmbedder) Close() error { return nil }
