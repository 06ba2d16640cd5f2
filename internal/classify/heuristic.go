package classify

import (
	"context"
	"strings"

	"github.com/secstack/threatvault/internal/ioc"
)

// Pattern lists for the rule-based classifier. Substring matching is crude
// but catches the bulk of commodity phishing infrastructure.
var (
	bankingKeywords = []string{"bank", "banking", "login", "secure", "account", "paypal", "visa", "mastercard"}

	suspiciousTLDs = []string{".tk", ".ml", ".cf", ".ga", ".ru", ".cc"}

	govKeywords = []string{"gov", "government", "official", "rbi", "irs", "federal"}
)

// HeuristicClassifier classifies indicators with fixed rules. It has no
// external dependency, so it is both the default backend and the fallback
// when the gateway circuit opens.
type HeuristicClassifier struct{}

var _ Classifier = (*HeuristicClassifier)(nil)

// NewHeuristicClassifier returns the rule-based classifier.
func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{}
}

func (h *HeuristicClassifier) Name() string { return "heuristic" }

// Classify applies the rules for the given indicator type. It never fails:
// values no rule matches come back medium risk, low confidence.
func (h *HeuristicClassifier) Classify(ctx context.Context, value string, typ ioc.IndicatorType) (*ioc.Classification, error) {
	lower := strings.ToLower(strings.TrimSpace(value))

	c := &ioc.Classification{
		RiskLevel:  ioc.RiskMedium,
		Category:   "general-analysis",
		Confidence: 0.5,
		Reasoning:  "no rule matched",
	}

	switch typ {
	case ioc.TypeDomain, ioc.TypeURL, ioc.TypeEmail:
		h.classifyNamed(lower, c)
	case ioc.TypeIP:
		h.classifyIP(lower, c)
	case ioc.TypeHash:
		// A bare hash carries no lexical signal; it is interesting only
		// because a feed reported it.
		c.Category = "classification"
		c.Confidence = 0.6
		c.Reasoning = "file hash reported by feed"
	}

	return c, nil
}

func (h *HeuristicClassifier) classifyNamed(lower string, c *ioc.Classification) {
	var reasons []string

	if containsAny(lower, bankingKeywords) {
		c.RiskLevel = ioc.RiskHigh
		c.Category = "classification"
		c.Confidence = 0.8
		reasons = append(reasons, "contains banking/financial keywords commonly used in phishing")
	}

	for _, tld := range suspiciousTLDs {
		if strings.HasSuffix(lower, tld) {
			c.RiskLevel = ioc.RiskHigh
			c.Confidence = min(c.Confidence+0.2, 0.9)
			reasons = append(reasons, "suspicious TLD commonly used in malicious campaigns")
			break
		}
	}

	if containsAny(lower, govKeywords) && !strings.HasSuffix(lower, ".gov") {
		c.RiskLevel = ioc.EscalateRisk(c.RiskLevel, ioc.RiskHigh)
		c.Category = "classification"
		if c.Confidence < 0.7 {
			c.Confidence = 0.7
		}
		reasons = append(reasons, "government impersonation attempt")
	}

	if len(reasons) > 0 {
		c.Reasoning = strings.Join(reasons, "; ")
	}
}

func (h *HeuristicClassifier) classifyIP(lower string, c *ioc.Classification) {
	c.Category = "classification"
	if ioc.IsPrivateIPv4(lower) {
		c.RiskLevel = ioc.RiskLow
		c.Confidence = 0.1
		c.Reasoning = "private IP address range"
		return
	}
	c.RiskLevel = ioc.RiskMedium
	c.Confidence = 0.6
	c.Reasoning = "public IP address requires investigation"
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
