package classify

import (
	"log/slog"
	"strings"

	"github.com/secstack/threatvault/internal/config"
)

// New builds the classifier selected by configuration. Unknown providers
// and gateway construction failures fall back to the heuristic so ingestion
// always has a working classifier.
func New(cfg config.ClassifierConfig, logger *slog.Logger) Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(cfg.Provider) {
	case "gateway":
		g, err := NewGatewayClassifier(GatewayConfig{
			Endpoint:    cfg.Endpoint,
			Model:       cfg.Model,
			ItemTimeout: config.Duration(cfg.ItemTimeout, DefaultItemTimeout),
		}, logger)
		if err != nil {
			logger.Warn("gateway classifier misconfigured, using heuristic", "error", err)
			return NewHeuristicClassifier()
		}
		return g
	case "", "heuristic":
		return NewHeuristicClassifier()
	default:
		logger.Warn("unknown classifier provider, using heuristic", "provider", cfg.Provider)
		return NewHeuristicClassifier()
	}
}
