package curator

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vaulterrors "github.com/secstack/threatvault/internal/errors"
	"github.com/secstack/threatvault/internal/ioc"
	"github.com/secstack/threatvault/internal/store"
)

func newTestCurator(t *testing.T) (*Curator, store.IndicatorStore) {
	t.Helper()
	st, err := store.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c := New(st, nil)
	c.now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }
	return c, st
}

func seedIndicator(t *testing.T, st store.IndicatorStore, value, source string, confidence float64) int64 {
	t.Helper()
	id, err := st.UpsertIndicator(context.Background(), store.UpsertRequest{
		Value: value, Type: ioc.TypeDomain, RiskLevel: ioc.RiskHigh,
		Category: "phishing", Confidence: confidence, Source: source,
	})
	require.NoError(t, err)
	return id
}

func permissivePolicy() Policy {
	return Policy{
		UseRealDataOnly:        true,
		MinConfidence:          0.5,
		ExcludedSourceTokens:   []string{"synthetic", "demo", "generated"},
		MaxExamplesPerCategory: 100,
	}
}

func TestGenerate_FiltersByPolicy(t *testing.T) {
	// Given real, low-confidence, and synthetic-sourced indicators
	c, st := newTestCurator(t)
	seedIndicator(t, st, "real-threat.bad.net", "urlhaus", 0.9)
	seedIndicator(t, st, "weak-signal.bad.net", "urlhaus", 0.3)
	seedIndicator(t, st, "fabricated.bad.net", "synthetic-seed", 0.8)

	// When generating under a real-data-only policy
	ds, err := c.Generate(context.Background(), permissivePolicy())

	// Then only the confident, real-sourced indicator becomes an example
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Manifest.Counts[CategoryClassification])
	require.Len(t, ds.Records, 1)
	assert.Equal(t, "real-threat.bad.net", ds.Records[0].Input)
	assert.Equal(t, "urlhaus", ds.Records[0].SourceAttribution)
	assert.Contains(t, ds.Records[0].Output, `"risk_level":"high"`)
}

func TestGenerate_SyntheticAllowedWhenPolicyPermits(t *testing.T) {
	// Given a synthetic-sourced indicator
	c, st := newTestCurator(t)
	seedIndicator(t, st, "fabricated.bad.net", "synthetic-seed", 0.8)

	// When real-data-only is off
	policy := permissivePolicy()
	policy.UseRealDataOnly = false
	ds, err := c.Generate(context.Background(), policy)

	// Then the excluded-token filter does not apply
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Manifest.Counts[CategoryClassification])
}

func TestGenerate_OrdersByConfidenceThenTruncates(t *testing.T) {
	// Given indicators at mixed confidence levels
	c, st := newTestCurator(t)
	seedIndicator(t, st, "mid.bad.net", "urlhaus", 0.8)
	seedIndicator(t, st, "top.bad.net", "urlhaus", 0.95)
	seedIndicator(t, st, "low.bad.net", "urlhaus", 0.7)

	// When generating
	ds, err := c.Generate(context.Background(), permissivePolicy())

	// Then examples are ordered confidence-descending
	require.NoError(t, err)
	require.Equal(t, 3, ds.Manifest.Counts[CategoryClassification])
	assert.Equal(t, "top.bad.net", ds.Records[0].Input)
	assert.Equal(t, "mid.bad.net", ds.Records[1].Input)
	assert.Equal(t, "low.bad.net", ds.Records[2].Input)

	// And the per-category cap keeps only the strongest example
	policy := permissivePolicy()
	policy.MaxExamplesPerCategory = 1
	ds, err = c.Generate(context.Background(), policy)
	require.NoError(t, err)
	require.Equal(t, 1, ds.Manifest.Counts[CategoryClassification])
	assert.Equal(t, "top.bad.net", ds.Records[0].Input)
}

func TestGenerate_AllCategories(t *testing.T) {
	// Given indicators, a technique mapping, and analysis history
	c, st := newTestCurator(t)
	ctx := context.Background()
	id := seedIndicator(t, st, "phish-lure.bad.net", "urlhaus", 0.9)

	_, err := st.SaveTTPMapping(ctx, &ioc.TTPMapping{
		IndicatorID: id, TechniqueID: "T1566.002", Confidence: 0.85, Context: "spearphishing link",
	})
	require.NoError(t, err)

	_, err = st.SaveAnalysis(ctx, &ioc.AnalysisRecord{
		AnalysisType: ioc.AnalysisReporting, Input: "ioc batch alpha",
		Output: "# Threat Report\ntwo indicators blocked", Confidence: 0.9,
	})
	require.NoError(t, err)
	_, err = st.SaveAnalysis(ctx, &ioc.AnalysisRecord{
		AnalysisType: ioc.AnalysisGeneral, Input: "phish-lure.bad.net",
		Output: "high risk phishing domain", Confidence: 0.8,
	})
	require.NoError(t, err)

	// When generating with a minimum per category
	policy := permissivePolicy()
	policy.MinExamplesPerCategory = 1
	ds, err := c.Generate(context.Background(), policy)

	// Then every category is populated and nothing is underfilled
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Manifest.Counts[CategoryClassification])
	assert.Equal(t, 1, ds.Manifest.Counts[CategoryTTPMapping])
	assert.Equal(t, 1, ds.Manifest.Counts[CategoryReporting])
	assert.Equal(t, 1, ds.Manifest.Counts[CategoryGeneralAnalysis])
	assert.Equal(t, 4, ds.Manifest.Total)
	assert.Empty(t, ds.Manifest.Underfilled)
}

func TestGenerate_UnderflowIsNonFatal(t *testing.T) {
	// Given an empty store and a minimum example requirement
	c, _ := newTestCurator(t)
	policy := permissivePolicy()
	policy.MinExamplesPerCategory = 1

	// When generating
	ds, err := c.Generate(context.Background(), policy)

	// Then the partial dataset is returned with an insufficient-data signal
	require.Error(t, err)
	assert.True(t, vaulterrors.IsInsufficientData(err))
	require.NotNil(t, ds)
	assert.Equal(t, 0, ds.Manifest.Total)
	assert.Len(t, ds.Manifest.Underfilled, len(Categories))
}

func TestGenerate_RejectsInvalidPolicy(t *testing.T) {
	c, _ := newTestCurator(t)
	policy := permissivePolicy()
	policy.MinConfidence = 1.5

	_, err := c.Generate(context.Background(), policy)

	require.Error(t, err)
	assert.Equal(t, vaulterrors.ErrCodeInvalidPolicy, vaulterrors.GetCode(err))
}

func TestGenerate_ByteIdenticalAcrossRuns(t *testing.T) {
	// Given a populated store and a fixed policy
	c, st := newTestCurator(t)
	ctx := context.Background()
	id := seedIndicator(t, st, "alpha.bad.net", "urlhaus", 0.9)
	seedIndicator(t, st, "beta.bad.net", "misp", 0.8)
	_, err := st.SaveTTPMapping(ctx, &ioc.TTPMapping{
		IndicatorID: id, TechniqueID: "T1566", Confidence: 0.7, Context: "observed lure",
	})
	require.NoError(t, err)
	policy := permissivePolicy()

	// When generating and serializing twice with an unchanged store
	var first, second bytes.Buffer
	ds1, err := c.Generate(ctx, policy)
	require.NoError(t, err)
	require.NoError(t, WriteJSONL(&first, ds1))
	ds2, err := c.Generate(ctx, policy)
	require.NoError(t, err)
	require.NoError(t, WriteJSONL(&second, ds2))

	// Then the serialized datasets are byte-identical
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestWriteJSONL_RecordsThenManifest(t *testing.T) {
	// Given a generated dataset
	c, st := newTestCurator(t)
	seedIndicator(t, st, "alpha.bad.net", "urlhaus", 0.9)
	ds, err := c.Generate(context.Background(), permissivePolicy())
	require.NoError(t, err)

	// When serializing it
	var buf bytes.Buffer
	require.NoError(t, WriteJSONL(&buf, ds))

	// Then each record is one JSON line and the manifest closes the file
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, len(ds.Records)+1)

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "alpha.bad.net", rec.Input)

	var tail manifestLine
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &tail))
	assert.Equal(t, ds.Manifest.Total, tail.Manifest.Total)
	assert.True(t, tail.Manifest.Policy.UseRealDataOnly)
}

func TestDatasetFilename(t *testing.T) {
	ts := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	real := DatasetFilename(Policy{UseRealDataOnly: true}, ts)
	mixed := DatasetFilename(Policy{}, ts)

	assert.Equal(t, "threat_intelligence_dataset_real_data_20260830_120000.jsonl", real)
	assert.Equal(t, "threat_intelligence_dataset_mixed_data_20260830_120000.jsonl", mixed)
}
