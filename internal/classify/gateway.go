package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	vaulterrors "github.com/secstack/threatvault/internal/errors"
	"github.com/secstack/threatvault/internal/ioc"
)

// DefaultItemTimeout bounds a single gateway classification call. One slow
// response must not stall a whole feed batch.
const DefaultItemTimeout = 10 * time.Second

// GatewayConfig configures the LLM gateway classifier.
type GatewayConfig struct {
	Endpoint    string
	Model       string
	ItemTimeout time.Duration
}

// GatewayClassifier calls an LLM gateway over HTTP. Responses are parsed
// strictly into ioc.Classification; anything malformed is rejected, never
// stored. A circuit breaker trips after repeated failures and routes
// traffic to the heuristic fallback until the service recovers.
type GatewayClassifier struct {
	config   GatewayConfig
	client   *http.Client
	breaker  *vaulterrors.CircuitBreaker
	fallback Classifier
	logger   *slog.Logger
}

var _ Classifier = (*GatewayClassifier)(nil)

// NewGatewayClassifier creates a gateway classifier with a heuristic
// fallback.
func NewGatewayClassifier(cfg GatewayConfig, logger *slog.Logger) (*GatewayClassifier, error) {
	if cfg.Endpoint == "" {
		return nil, vaulterrors.New(vaulterrors.ErrCodeConfigInvalid, "gateway classifier needs an endpoint", nil)
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = DefaultItemTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayClassifier{
		config:   cfg,
		client:   &http.Client{},
		breaker:  vaulterrors.NewCircuitBreaker("classifier-gateway"),
		fallback: NewHeuristicClassifier(),
		logger:   logger,
	}, nil
}

func (g *GatewayClassifier) Name() string { return "gateway" }

type gatewayRequest struct {
	Model string `json:"model,omitempty"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

// Classify asks the gateway. Individual failures surface to the caller and
// count against the breaker; once it opens, calls route to the heuristic
// until the gateway recovers.
func (g *GatewayClassifier) Classify(ctx context.Context, value string, typ ioc.IndicatorType) (*ioc.Classification, error) {
	result, err := vaulterrors.ExecuteWithFallback(g.breaker,
		func() (*ioc.Classification, error) {
			return g.call(ctx, value, typ)
		},
		func() (*ioc.Classification, error) {
			g.logger.Debug("gateway unavailable, using heuristic fallback", "value", value)
			return g.fallback.Classify(ctx, value, typ)
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *GatewayClassifier) call(ctx context.Context, value string, typ ioc.IndicatorType) (*ioc.Classification, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.config.ItemTimeout)
	defer cancel()

	body, err := json.Marshal(gatewayRequest{Model: g.config.Model, Value: value, Type: string(typ)})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, g.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, vaulterrors.TransientFeed(vaulterrors.ErrCodeClassifyTimeout,
				fmt.Sprintf("classification of %q timed out", value), err)
		}
		return nil, vaulterrors.DependencyUnavailable("classifier gateway unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, vaulterrors.DependencyUnavailable(
			fmt.Sprintf("gateway returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var c ioc.Classification
	decoder := json.NewDecoder(resp.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&c); err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeInvalidIndicator,
			"gateway response is not a valid classification", err)
	}
	if err := c.Validate(); err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeInvalidIndicator,
			"gateway classification failed validation", err)
	}
	return &c, nil
}
