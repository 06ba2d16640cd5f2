// Package search finds indicators similar to a query value. When an
// embedding backend is available it searches cosine similarity over an HNSW
// index; otherwise it degrades to character-trigram Jaccard similarity.
// Every result is tagged with the strategy that produced it.
package search

import "github.com/secstack/threatvault/internal/ioc"

// Provenance identifies the strategy that produced a result set.
type Provenance string

const (
	// ProvenanceSemantic marks results from embedding cosine similarity.
	ProvenanceSemantic Provenance = "semantic"
	// ProvenanceLexical marks results from trigram Jaccard similarity.
	ProvenanceLexical Provenance = "lexical"
)

// Result is one similar indicator with its similarity score in [0,1].
type Result struct {
	Indicator  *ioc.Indicator
	Score      float64
	Provenance Provenance
}
