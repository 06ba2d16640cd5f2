package classify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secstack/threatvault/internal/ioc"
)

func TestHeuristic_BankingDomain(t *testing.T) {
	// Given a domain with banking keywords
	h := NewHeuristicClassifier()

	// When classified
	c, err := h.Classify(context.Background(), "secure-paypal-login.example.com", ioc.TypeDomain)

	// Then it is high-risk phishing infrastructure
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, ioc.RiskHigh, c.RiskLevel)
	assert.InDelta(t, 0.8, c.Confidence, 1e-9)
}

func TestHeuristic_SuspiciousTLDStacks(t *testing.T) {
	h := NewHeuristicClassifier()

	// A suspicious TLD alone raises risk
	c, err := h.Classify(context.Background(), "random-site.tk", ioc.TypeDomain)
	require.NoError(t, err)
	assert.Equal(t, ioc.RiskHigh, c.RiskLevel)
	assert.InDelta(t, 0.7, c.Confidence, 1e-9)

	// Stacked with banking keywords confidence caps at 0.9
	c, err = h.Classify(context.Background(), "bank-login.tk", ioc.TypeDomain)
	require.NoError(t, err)
	assert.Equal(t, ioc.RiskHigh, c.RiskLevel)
	assert.InDelta(t, 0.9, c.Confidence, 1e-9)
}

func TestHeuristic_GovImpersonation(t *testing.T) {
	h := NewHeuristicClassifier()

	// Impersonation outside .gov is flagged
	c, err := h.Classify(context.Background(), "irs-refund.example.com", ioc.TypeDomain)
	require.NoError(t, err)
	assert.Equal(t, ioc.RiskHigh, c.RiskLevel)
	assert.GreaterOrEqual(t, c.Confidence, 0.7)

	// A real .gov domain is not
	c, err = h.Classify(context.Background(), "irs.gov", ioc.TypeDomain)
	require.NoError(t, err)
	assert.NotEqual(t, ioc.RiskHigh, c.RiskLevel)
}

func TestHeuristic_IPAddresses(t *testing.T) {
	h := NewHeuristicClassifier()

	// Private addresses are near-noise
	c, err := h.Classify(context.Background(), "192.168.1.10", ioc.TypeIP)
	require.NoError(t, err)
	assert.Equal(t, ioc.RiskLow, c.RiskLevel)
	assert.InDelta(t, 0.1, c.Confidence, 1e-9)

	// Public addresses warrant a look
	c, err = h.Classify(context.Background(), "203.0.113.50", ioc.TypeIP)
	require.NoError(t, err)
	assert.Equal(t, ioc.RiskMedium, c.RiskLevel)
	assert.InDelta(t, 0.6, c.Confidence, 1e-9)
}

func TestHeuristic_AlwaysValid(t *testing.T) {
	// Every output must pass the store's validation, whatever the input
	h := NewHeuristicClassifier()
	inputs := []struct {
		value string
		typ   ioc.IndicatorType
	}{
		{"plain.example.org", ioc.TypeDomain},
		{"d41d8cd98f00b204e9800998ecf8427e", ioc.TypeHash},
		{"user@example.com", ioc.TypeEmail},
		{"https://cdn.example.net/payload", ioc.TypeURL},
	}
	for _, in := range inputs {
		c, err := h.Classify(context.Background(), in.value, in.typ)
		require.NoError(t, err)
		assert.NoError(t, c.Validate(), "input %q", in.value)
	}
}
