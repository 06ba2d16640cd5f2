// Package classify turns raw indicator values into validated risk
// classifications. Two backends exist: a rule-based heuristic that always
// answers, and an LLM gateway guarded by a circuit breaker that falls back
// to the heuristic when the service misbehaves.
package classify

import (
	"context"

	"github.com/secstack/threatvault/internal/ioc"
)

// Classifier assigns a risk classification to an indicator value.
type Classifier interface {
	// Classify returns a validated classification for the value. The type
	// is the detected or caller-asserted indicator type.
	Classify(ctx context.Context, value string, typ ioc.IndicatorType) (*ioc.Classification, error)

	// Name identifies the backend for audit records.
	Name() string
}
