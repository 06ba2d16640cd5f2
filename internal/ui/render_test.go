package ui

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/secstack/threatvault/internal/curator"
	"github.com/secstack/threatvault/internal/ioc"
	"github.com/secstack/threatvault/internal/search"
	"github.com/secstack/threatvault/internal/store"
)

func TestRenderer_Statistics(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false)

	r.Statistics(&store.Statistics{
		TotalIndicators: 42,
		RiskDistribution: map[ioc.RiskLevel]int{
			ioc.RiskHigh: 10,
			ioc.RiskLow:  32,
		},
		CategoryDistribution: map[string]int{"phishing": 10, "malware": 5},
		FeedSources:          3,
	})

	out := buf.String()
	assert.Contains(t, out, "indicators: 42")
	assert.Contains(t, out, "high")
	assert.Contains(t, out, "phishing")
	assert.Contains(t, out, "feed sources: 3")
}

func TestRenderer_SearchResults(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false)

	r.SearchResults("paypal", []search.Result{{
		Indicator: &ioc.Indicator{
			Value: "paypal-login.bad.net", RiskLevel: ioc.RiskHigh, Category: "phishing",
		},
		Score:      0.91,
		Provenance: search.ProvenanceLexical,
	}})

	out := buf.String()
	assert.Contains(t, out, "paypal-login.bad.net")
	assert.Contains(t, out, "0.910")
	assert.Contains(t, out, "(lexical)")
}

func TestRenderer_SearchResults_Empty(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false)

	r.SearchResults("nothing", nil)

	assert.Contains(t, buf.String(), "no matches")
}

func TestRenderer_FeedSources(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false)

	r.FeedSources([]*store.FeedSource{
		{Name: "urlhaus", State: store.SourceActive, PollInterval: 30 * time.Minute},
		{Name: "flaky", State: store.SourceBackoff, PollInterval: time.Hour,
			LastPolled: time.Now(), FailReason: "connection refused"},
	})

	out := buf.String()
	assert.Contains(t, out, "urlhaus")
	assert.Contains(t, out, "never")
	assert.Contains(t, out, "backoff")
	assert.Contains(t, out, "connection refused")
}

func TestRenderer_DatasetSummary(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false)

	r.DatasetSummary(curator.Manifest{
		Counts: map[curator.Category]int{
			curator.CategoryClassification: 12,
		},
		Underfilled: []curator.Category{curator.CategoryReporting},
		Total:       12,
	}, "/tmp/out.jsonl")

	out := buf.String()
	assert.Contains(t, out, "/tmp/out.jsonl")
	assert.Contains(t, out, "classification")
	assert.Contains(t, out, "12")
}
