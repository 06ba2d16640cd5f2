// Package ioc defines the core threat-indicator domain types and the pure
// merge functions used by the store's upsert path.
package ioc

import (
	"fmt"
	"regexp"
	"time"
)

// IndicatorType classifies the kind of observable an indicator represents.
type IndicatorType string

const (
	TypeDomain IndicatorType = "domain"
	TypeIP     IndicatorType = "ip"
	TypeURL    IndicatorType = "url"
	TypeHash   IndicatorType = "hash"
	TypeEmail  IndicatorType = "email"
)

// ValidTypes returns all recognized indicator types.
func ValidTypes() []IndicatorType {
	return []IndicatorType{TypeDomain, TypeIP, TypeURL, TypeHash, TypeEmail}
}

// IsValid reports whether t is a recognized indicator type.
func (t IndicatorType) IsValid() bool {
	switch t {
	case TypeDomain, TypeIP, TypeURL, TypeHash, TypeEmail:
		return true
	}
	return false
}

// RiskLevel is the ordinal severity of an indicator.
// Ordering: low < medium < high < critical.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// riskRank maps risk levels onto their total order.
var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// IsValid reports whether r is a recognized risk level.
func (r RiskLevel) IsValid() bool {
	_, ok := riskRank[r]
	return ok
}

// Rank returns the position of r in the risk order (low=0 .. critical=3).
// Unknown levels rank below low.
func (r RiskLevel) Rank() int {
	if rank, ok := riskRank[r]; ok {
		return rank
	}
	return -1
}

// ParseRiskLevel converts a string to a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	r := RiskLevel(s)
	if !r.IsValid() {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return r, nil
}

// Indicator is a stored threat observable with its classification metadata.
// (Value, Type) is unique; rows are mutated in place on reobservation and
// never replaced.
type Indicator struct {
	ID         int64
	Value      string
	Type       IndicatorType
	RiskLevel  RiskLevel
	Category   string
	Confidence float64
	Source     string // most recent observer
	Metadata   map[string]string
	Embedding  []float32 // cached vector, may be nil
	EmbedModel string    // model that produced Embedding
	FirstSeen  time.Time
	LastSeen   time.Time
	TimesSeen  int
}

// techniqueIDPattern matches MITRE ATT&CK technique identifiers,
// e.g. T1566 or T1566.002.
var techniqueIDPattern = regexp.MustCompile(`^T\d{4}(\.\d{3})?$`)

// ValidTechniqueID reports whether id is a well-formed technique identifier.
func ValidTechniqueID(id string) bool {
	return techniqueIDPattern.MatchString(id)
}

// TTPMapping links an indicator to an ATT&CK technique. Append-only.
type TTPMapping struct {
	ID          int64
	IndicatorID int64
	TechniqueID string
	Confidence  float64
	Context     string
	CreatedAt   time.Time
}

// AnalysisType labels entries in the analysis audit trail.
type AnalysisType string

const (
	AnalysisClassification AnalysisType = "ioc_classification"
	AnalysisTTPMapping     AnalysisType = "ttp_mapping"
	AnalysisReporting      AnalysisType = "report_generation"
	AnalysisGeneral        AnalysisType = "threat_analysis"
	AnalysisFeedIngestion  AnalysisType = "feed_processing"
)

// AnalysisRecord is one append-only entry in the analysis history.
// Records are immutable after creation.
type AnalysisRecord struct {
	ID             int64
	SessionID      string
	AnalysisType   AnalysisType
	Input          string
	Output         string
	Confidence     float64
	ProcessingTime time.Duration
	CreatedAt      time.Time
}

// Classification is the validated result of classifying a raw indicator
// value. Free-form gateway responses are parsed into this fixed shape at the
// ingestion boundary; anything that fails Validate is rejected, never stored.
type Classification struct {
	RiskLevel  RiskLevel `json:"risk_level"`
	Category   string    `json:"category"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
}

// Validate checks the classification against the store's invariants.
func (c Classification) Validate() error {
	if !c.RiskLevel.IsValid() {
		return fmt.Errorf("invalid risk level %q", c.RiskLevel)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", c.Confidence)
	}
	if c.Category == "" {
		return fmt.Errorf("empty category")
	}
	return nil
}
