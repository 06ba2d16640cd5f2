// Package curator builds fine-tuning datasets from accumulated threat
// intelligence. Selection runs under a data-quality policy and is fully
// deterministic: the same store contents and policy always produce
// byte-identical output.
package curator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/secstack/threatvault/internal/config"
	vaulterrors "github.com/secstack/threatvault/internal/errors"
	"github.com/secstack/threatvault/internal/ioc"
	"github.com/secstack/threatvault/internal/store"
)

// Category names one kind of training example.
type Category string

const (
	CategoryClassification  Category = "classification"
	CategoryTTPMapping      Category = "ttp-mapping"
	CategoryReporting       Category = "reporting"
	CategoryGeneralAnalysis Category = "general-analysis"
)

// Categories lists every category in generation order.
var Categories = []Category{
	CategoryClassification,
	CategoryTTPMapping,
	CategoryReporting,
	CategoryGeneralAnalysis,
}

// Policy controls which rows qualify as training examples.
type Policy struct {
	UseRealDataOnly        bool     `json:"use_real_data_only"`
	MinConfidence          float64  `json:"min_confidence"`
	ExcludedSourceTokens   []string `json:"excluded_source_tokens"`
	MaxExamplesPerCategory int      `json:"max_examples_per_category"`
	MinExamplesPerCategory int      `json:"min_examples_per_category"`
}

// PolicyFromConfig translates the curator configuration section.
func PolicyFromConfig(cfg config.CuratorConfig) Policy {
	return Policy{
		UseRealDataOnly:        cfg.UseRealDataOnly,
		MinConfidence:          cfg.MinConfidence,
		ExcludedSourceTokens:   cfg.ExcludedSourceTokens,
		MaxExamplesPerCategory: cfg.MaxExamplesPerCategory,
		MinExamplesPerCategory: cfg.MinExamplesPerCategory,
	}
}

// excludes reports whether an attribution string carries any excluded
// token. Matching is case-insensitive substring, applied only when the
// policy demands real data.
func (p Policy) excludes(attribution string) bool {
	if !p.UseRealDataOnly {
		return false
	}
	lower := strings.ToLower(attribution)
	for _, token := range p.ExcludedSourceTokens {
		if token != "" && strings.Contains(lower, strings.ToLower(token)) {
			return true
		}
	}
	return false
}

func (p Policy) validate() error {
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return vaulterrors.New(vaulterrors.ErrCodeInvalidPolicy,
			fmt.Sprintf("min_confidence %.2f outside [0, 1]", p.MinConfidence), nil)
	}
	if p.MaxExamplesPerCategory < 0 || p.MinExamplesPerCategory < 0 {
		return vaulterrors.New(vaulterrors.ErrCodeInvalidPolicy,
			"example bounds must not be negative", nil)
	}
	return nil
}

// Record is one instruction-following training example.
type Record struct {
	Instruction       string `json:"instruction"`
	Input             string `json:"input"`
	Output            string `json:"output"`
	SourceAttribution string `json:"source_attribution"`
}

// Manifest documents what went into a dataset.
type Manifest struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Policy      Policy           `json:"policy"`
	Counts      map[Category]int `json:"counts"`
	Underfilled []Category       `json:"underfilled,omitempty"`
	Total       int              `json:"total"`
}

// Dataset is the generated records plus their manifest.
type Dataset struct {
	Records  []Record
	Manifest Manifest
}

// Curator reads the indicator store and emits training datasets.
type Curator struct {
	store  store.IndicatorStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates a curator over the given store.
func New(st store.IndicatorStore, logger *slog.Logger) *Curator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Curator{store: st, logger: logger, now: time.Now}
}

// Generate builds a dataset under the policy. Categories that fall short
// of the configured minimum are reported through a non-fatal
// InsufficientDataError returned alongside the partial dataset; only store
// faults fail the whole call.
func (c *Curator) Generate(ctx context.Context, policy Policy) (*Dataset, error) {
	if err := policy.validate(); err != nil {
		return nil, err
	}

	ds := &Dataset{Manifest: Manifest{
		GeneratedAt: c.now().UTC(),
		Policy:      policy,
		Counts:      make(map[Category]int, len(Categories)),
	}}

	for _, category := range Categories {
		var (
			records []Record
			err     error
		)
		switch category {
		case CategoryClassification:
			records, err = c.classificationExamples(ctx, policy)
		case CategoryTTPMapping:
			records, err = c.ttpMappingExamples(ctx, policy)
		case CategoryReporting:
			records, err = c.analysisExamples(ctx, policy, category, ioc.AnalysisReporting)
		case CategoryGeneralAnalysis:
			records, err = c.analysisExamples(ctx, policy, category, ioc.AnalysisGeneral, ioc.AnalysisFeedIngestion)
		}
		if err != nil {
			return nil, err
		}

		if policy.MaxExamplesPerCategory > 0 && len(records) > policy.MaxExamplesPerCategory {
			records = records[:policy.MaxExamplesPerCategory]
		}
		ds.Records = append(ds.Records, records...)
		ds.Manifest.Counts[category] = len(records)
		if len(records) < policy.MinExamplesPerCategory {
			ds.Manifest.Underfilled = append(ds.Manifest.Underfilled, category)
		}
		c.logger.Debug("dataset category curated", "category", string(category), "examples", len(records))
	}

	ds.Manifest.Total = len(ds.Records)
	if len(ds.Manifest.Underfilled) > 0 {
		names := make([]string, len(ds.Manifest.Underfilled))
		for i, cat := range ds.Manifest.Underfilled {
			names[i] = string(cat)
		}
		return ds, vaulterrors.InsufficientData(
			"categories below minimum example count: " + strings.Join(names, ", "))
	}
	return ds, nil
}

// classificationOutput is the structured answer an example teaches the
// model to produce. Field order here fixes the serialized byte layout.
type classificationOutput struct {
	IOC        string  `json:"ioc"`
	Type       string  `json:"type"`
	RiskLevel  string  `json:"risk_level"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (c *Curator) classificationExamples(ctx context.Context, policy Policy) ([]Record, error) {
	indicators, err := c.store.ListIndicators(ctx, store.IndicatorFilter{MinConfidence: policy.MinConfidence})
	if err != nil {
		return nil, err
	}

	eligible := indicators[:0]
	for _, ind := range indicators {
		if policy.excludes(ind.Source) {
			continue
		}
		eligible = append(eligible, ind)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.ID < b.ID
	})

	records := make([]Record, 0, len(eligible))
	for _, ind := range eligible {
		reasoning := ind.Metadata["reasoning"]
		if reasoning == "" {
			reasoning = fmt.Sprintf("Observed %s exhibits %s characteristics at %s risk.",
				ind.Type, ind.Category, ind.RiskLevel)
		}
		output, err := json.Marshal(classificationOutput{
			IOC:        ind.Value,
			Type:       string(ind.Type),
			RiskLevel:  string(ind.RiskLevel),
			Category:   ind.Category,
			Confidence: ind.Confidence,
			Reasoning:  reasoning,
		})
		if err != nil {
			return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to encode example", err)
		}
		records = append(records, Record{
			Instruction:       "Classify the following indicator of compromise (IOC): " + ind.Value,
			Input:             ind.Value,
			Output:            string(output),
			SourceAttribution: ind.Source,
		})
	}
	return records, nil
}

type ttpOutput struct {
	Indicator   string  `json:"indicator"`
	TechniqueID string  `json:"technique_id"`
	Confidence  float64 `json:"confidence"`
	Context     string  `json:"context"`
}

func (c *Curator) ttpMappingExamples(ctx context.Context, policy Policy) ([]Record, error) {
	mappings, err := c.store.ListTTPMappings(ctx, 0, 0)
	if err != nil {
		return nil, err
	}

	type pair struct {
		mapping   *ioc.TTPMapping
		indicator *ioc.Indicator
	}
	var eligible []pair
	for _, m := range mappings {
		if m.Confidence < policy.MinConfidence {
			continue
		}
		ind, err := c.store.GetIndicator(ctx, m.IndicatorID)
		if err != nil {
			if vaulterrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if policy.excludes(ind.Source) {
			continue
		}
		eligible = append(eligible, pair{mapping: m, indicator: ind})
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i].mapping, eligible[j].mapping
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	records := make([]Record, 0, len(eligible))
	for _, p := range eligible {
		output, err := json.Marshal(ttpOutput{
			Indicator:   p.indicator.Value,
			TechniqueID: p.mapping.TechniqueID,
			Confidence:  p.mapping.Confidence,
			Context:     p.mapping.Context,
		})
		if err != nil {
			return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to encode example", err)
		}
		records = append(records, Record{
			Instruction:       "Map the indicator to the MITRE ATT&CK technique it is associated with: " + p.indicator.Value,
			Input:             p.indicator.Value,
			Output:            string(output),
			SourceAttribution: p.indicator.Source,
		})
	}
	return records, nil
}

// analysisInstructions phrases the prompt per analysis category.
var analysisInstructions = map[Category]string{
	CategoryReporting:       "Generate a professional threat intelligence report from the provided analysis data.",
	CategoryGeneralAnalysis: "Analyze this indicator for potential security threats.",
}

func (c *Curator) analysisExamples(ctx context.Context, policy Policy, category Category, types ...ioc.AnalysisType) ([]Record, error) {
	var eligible []*ioc.AnalysisRecord
	for _, typ := range types {
		analyses, err := c.store.ListAnalyses(ctx, typ, 0)
		if err != nil {
			return nil, err
		}
		for _, rec := range analyses {
			if rec.Confidence < policy.MinConfidence {
				continue
			}
			if rec.Input == "" || rec.Output == "" {
				continue
			}
			if policy.excludes(rec.SessionID) {
				continue
			}
			eligible = append(eligible, rec)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	records := make([]Record, 0, len(eligible))
	for _, rec := range eligible {
		records = append(records, Record{
			Instruction:       analysisInstructions[category],
			Input:             rec.Input,
			Output:            rec.Output,
			SourceAttribution: string(rec.AnalysisType),
		})
	}
	return records, nil
}
