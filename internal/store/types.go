// Package store provides durable persistence for indicators, TTP mappings,
// analysis history, and feed sources (SQLite). Upserts apply the
// merge-on-reobservation rule under key-scoped serialization.
package store

import (
	"context"
	"time"

	"github.com/secstack/threatvault/internal/ioc"
)

// SourceState is the scheduler-owned lifecycle state of a feed source.
type SourceState string

const (
	// SourceActive means the source is polled on its normal cadence.
	SourceActive SourceState = "active"
	// SourceBackoff means the source is suspended after transient failures
	// until its backoff timer elapses and a probe succeeds.
	SourceBackoff SourceState = "backoff"
	// SourceDisabled means a permanent failure or operator action stopped
	// the source. Terminal until an explicit re-enable.
	SourceDisabled SourceState = "disabled"
)

// FeedFormat is the wire format of a feed payload.
type FeedFormat string

const (
	FormatJSON FeedFormat = "json"
	FormatXML  FeedFormat = "xml"
	FormatCSV  FeedFormat = "csv"
	FormatText FeedFormat = "text"
)

// IsValid reports whether f is a recognized feed format.
func (f FeedFormat) IsValid() bool {
	switch f {
	case FormatJSON, FormatXML, FormatCSV, FormatText:
		return true
	}
	return false
}

// FeedSource is the persisted registration of one external feed.
// Rows are owned and mutated only by the scheduler.
type FeedSource struct {
	Name         string
	Endpoint     string
	Format       FeedFormat
	PollInterval time.Duration
	Priority     int
	Headers      map[string]string
	State        SourceState
	LastPolled   time.Time
	BackoffUntil time.Time
	FailCount    int // consecutive failures, reset on success
	FailReason   string
	CreatedAt    time.Time
}

// SourceStatus is the mutable scheduler-owned slice of a FeedSource.
type SourceStatus struct {
	State        SourceState
	LastPolled   time.Time
	BackoffUntil time.Time
	FailCount    int
	FailReason   string
}

// UpsertRequest carries one observation into the store.
type UpsertRequest struct {
	Value      string
	Type       ioc.IndicatorType
	RiskLevel  ioc.RiskLevel
	Category   string
	Confidence float64
	Source     string
	Metadata   map[string]string
}

// IndicatorFilter narrows ListIndicators results. Zero values match all.
type IndicatorFilter struct {
	Type          ioc.IndicatorType
	RiskLevel     ioc.RiskLevel
	Category      string
	Source        string
	MinConfidence float64
	Limit         int
}

// Statistics aggregates store contents for observability.
type Statistics struct {
	TotalIndicators      int
	RiskDistribution     map[ioc.RiskLevel]int
	CategoryDistribution map[string]int
	TotalAnalyses        int
	AnalysisDistribution map[ioc.AnalysisType]int
	TotalMappings        int
	FeedSources          int
}

// RecentContext is a snapshot of recent activity (indicators, mappings,
// analyses) used for context-enriched prompts and the stats command.
type RecentContext struct {
	Indicators []*ioc.Indicator
	Mappings   []*ioc.TTPMapping
	Analyses   []*ioc.AnalysisRecord
}

// IndicatorStore is the durable keyed repository of threat indicators.
type IndicatorStore interface {
	// UpsertIndicator inserts a new (value, type) row or merges into the
	// existing one: confidence weighted-averaged, risk escalated (never
	// auto-downgraded), category replaced when provided, metadata
	// shallow-merged, source set to the new observer, times_seen
	// incremented. Returns the row id.
	UpsertIndicator(ctx context.Context, req UpsertRequest) (int64, error)

	// ForceSetRisk overrides the risk level, bypassing escalation.
	// This is the explicit manual-correction path, distinct from upsert.
	ForceSetRisk(ctx context.Context, id int64, risk ioc.RiskLevel) error

	// GetIndicator returns the indicator or a NotFound error.
	GetIndicator(ctx context.Context, id int64) (*ioc.Indicator, error)

	// FindIndicator looks up by the (value, type) unique key.
	FindIndicator(ctx context.Context, value string, typ ioc.IndicatorType) (*ioc.Indicator, error)

	// ListIndicators returns indicators matching the filter, most recently
	// seen first.
	ListIndicators(ctx context.Context, filter IndicatorFilter) ([]*ioc.Indicator, error)

	// Statistics returns aggregate counts by risk and category.
	Statistics(ctx context.Context) (*Statistics, error)

	// Recent returns the latest indicators, mappings, and analyses.
	Recent(ctx context.Context, limit int) (*RecentContext, error)

	// SaveEmbedding caches an indicator's embedding vector.
	SaveEmbedding(ctx context.Context, id int64, vector []float32, model string) error

	// MissingEmbeddings returns indicators lacking a cached embedding for
	// model. Vectors produced by a different model count as missing.
	MissingEmbeddings(ctx context.Context, model string, limit int) ([]*ioc.Indicator, error)

	// SaveTTPMapping appends a technique mapping for an indicator.
	SaveTTPMapping(ctx context.Context, m *ioc.TTPMapping) (int64, error)

	// ListTTPMappings returns mappings, newest first. indicatorID 0 matches
	// all indicators.
	ListTTPMappings(ctx context.Context, indicatorID int64, limit int) ([]*ioc.TTPMapping, error)

	// SaveAnalysis appends an audit record. Records are immutable.
	SaveAnalysis(ctx context.Context, rec *ioc.AnalysisRecord) (int64, error)

	// ListAnalyses returns analysis records, newest first. Empty type
	// matches all.
	ListAnalyses(ctx context.Context, typ ioc.AnalysisType, limit int) ([]*ioc.AnalysisRecord, error)

	// Feed source persistence, owned by the scheduler.
	SaveFeedSource(ctx context.Context, src *FeedSource) error
	GetFeedSource(ctx context.Context, name string) (*FeedSource, error)
	ListFeedSources(ctx context.Context) ([]*FeedSource, error)
	UpdateFeedSourceStatus(ctx context.Context, name string, status SourceStatus) error

	// Close releases the database and the data-directory lock.
	Close() error
}
