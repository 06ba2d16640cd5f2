package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secstack/threatvault/internal/classify"
	"github.com/secstack/threatvault/internal/config"
	"github.com/secstack/threatvault/internal/embed"
	vaulterrors "github.com/secstack/threatvault/internal/errors"
	"github.com/secstack/threatvault/internal/ioc"
	"github.com/secstack/threatvault/internal/search"
	"github.com/secstack/threatvault/internal/store"
)

// stubClassifier returns a fixed verdict and counts invocations so tests
// can assert when classification was bypassed.
type stubClassifier struct {
	calls  atomic.Int64
	result ioc.Classification
	err    error
}

var _ classify.Classifier = (*stubClassifier)(nil)

func (c *stubClassifier) Name() string { return "stub" }

func (c *stubClassifier) Classify(ctx context.Context, value string, typ ioc.IndicatorType) (*ioc.Classification, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	r := c.result
	return &r, nil
}

func newStubClassifier() *stubClassifier {
	return &stubClassifier{result: ioc.Classification{
		RiskLevel: ioc.RiskMedium, Category: "general-analysis", Confidence: 0.6, Reasoning: "stub",
	}}
}

type harness struct {
	store      *store.SQLiteStore
	classifier *stubClassifier
	scheduler  *Scheduler
	clock      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &harness{
		store:      st,
		classifier: newStubClassifier(),
		clock:      time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
	h.scheduler = NewScheduler(st, h.classifier, nil,
		config.FeedsConfig{MaxConcurrency: 2, QueueCapacity: 64}, nil)
	h.scheduler.now = func() time.Time { return h.clock }
	// No in-cycle fetch retries unless a test opts in; keeps failure
	// tests instant.
	h.scheduler.retryCfg = vaulterrors.RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	return h
}

func (h *harness) registerSource(t *testing.T, name, endpoint string, format store.FeedFormat) {
	t.Helper()
	err := h.store.SaveFeedSource(context.Background(), &store.FeedSource{
		Name: name, Endpoint: endpoint, Format: format, PollInterval: 30 * time.Minute,
	})
	require.NoError(t, err)
}

func (h *harness) sourceStatus(t *testing.T, name string) *store.FeedSource {
	t.Helper()
	src, err := h.store.GetFeedSource(context.Background(), name)
	require.NoError(t, err)
	return src
}

func TestRunOnce_IngestsFromFeed(t *testing.T) {
	// Given a text feed serving two domains
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("bad-one.example.com\nbad-two.example.net\n"))
	}))
	defer server.Close()

	h := newHarness(t)
	h.registerSource(t, "testfeed", server.URL, store.FormatText)

	// When the scheduler runs one cycle
	report, err := h.scheduler.RunOnce(context.Background())

	// Then both indicators land in the store with feed provenance
	require.NoError(t, err)
	assert.Equal(t, 1, report.SourcesPolled)
	assert.Equal(t, 2, report.Ingested)
	assert.Equal(t, 0, report.Failures)

	ind, err := h.store.FindIndicator(context.Background(), "bad-one.example.com", ioc.TypeDomain)
	require.NoError(t, err)
	assert.Equal(t, "testfeed", ind.Source)
	assert.Equal(t, "testfeed", ind.Metadata["feed_source"])
	assert.Equal(t, "stub", ind.Metadata["classified_by"])
	assert.Equal(t, ioc.RiskMedium, ind.RiskLevel)

	src := h.sourceStatus(t, "testfeed")
	assert.Equal(t, store.SourceActive, src.State)
	assert.True(t, src.LastPolled.Equal(h.clock))
}

func TestRunOnce_RespectsPollInterval(t *testing.T) {
	// Given a source that was just polled successfully
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("fresh.example.com\n"))
	}))
	defer server.Close()

	h := newHarness(t)
	h.registerSource(t, "testfeed", server.URL, store.FormatText)
	_, err := h.scheduler.RunOnce(context.Background())
	require.NoError(t, err)

	// When another cycle runs before the poll interval elapses
	report, err := h.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.SourcesPolled)
	assert.Equal(t, int64(1), hits.Load())

	// Then advancing past the interval makes it due again
	h.clock = h.clock.Add(31 * time.Minute)
	report, err = h.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SourcesPolled)
	assert.Equal(t, int64(2), hits.Load())
}

func TestRunOnce_TransientFailureBacksOffExponentially(t *testing.T) {
	// Given a feed that keeps returning server errors
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	h := newHarness(t)
	h.registerSource(t, "flaky", server.URL, store.FormatText)

	// When the first cycle fails
	report, err := h.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failures)

	src := h.sourceStatus(t, "flaky")
	assert.Equal(t, store.SourceBackoff, src.State)
	assert.Equal(t, 1, src.FailCount)
	assert.True(t, src.BackoffUntil.Equal(h.clock.Add(5*time.Minute)))
	assert.NotEmpty(t, src.FailReason)

	// Then it is not polled again until the backoff expires
	report, err = h.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.SourcesPolled)

	// And the next failure doubles the delay
	h.clock = h.clock.Add(6 * time.Minute)
	_, err = h.scheduler.RunOnce(context.Background())
	require.NoError(t, err)

	src = h.sourceStatus(t, "flaky")
	assert.Equal(t, 2, src.FailCount)
	assert.True(t, src.BackoffUntil.Equal(h.clock.Add(10*time.Minute)))
}

func TestRunOnce_RetriesTransientFetchWithinCycle(t *testing.T) {
	// Given a feed that recovers on its second attempt
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("recovered.example.com\n"))
	}))
	defer server.Close()

	h := newHarness(t)
	h.scheduler.retryCfg.MaxRetries = 1
	h.registerSource(t, "blippy", server.URL, store.FormatText)

	// When the cycle runs
	report, err := h.scheduler.RunOnce(context.Background())

	// Then the in-cycle retry rescues the source without entering backoff
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
	assert.Equal(t, 1, report.Ingested)
	assert.Equal(t, 0, report.Failures)
	assert.Equal(t, store.SourceActive, h.sourceStatus(t, "blippy").State)
}

func TestRunOnce_AuthFailureDisablesSource(t *testing.T) {
	// Given a feed rejecting our credentials
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	h := newHarness(t)
	h.registerSource(t, "locked", server.URL, store.FormatText)

	// When a cycle hits the auth failure
	_, err := h.scheduler.RunOnce(context.Background())
	require.NoError(t, err)

	// Then the source is disabled and stays out of later cycles
	src := h.sourceStatus(t, "locked")
	assert.Equal(t, store.SourceDisabled, src.State)

	h.clock = h.clock.Add(24 * time.Hour)
	report, err := h.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.SourcesPolled)

	// And re-enabling it by hand brings it back
	require.NoError(t, h.scheduler.EnableSource(context.Background(), "locked"))
	src = h.sourceStatus(t, "locked")
	assert.Equal(t, store.SourceActive, src.State)
}

func TestRunOnce_InvalidItemsAreSkippedNotFatal(t *testing.T) {
	// Given a feed mixing a good domain with an undetectable value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("good.example.com\nno-dots-here\n"))
	}))
	defer server.Close()

	h := newHarness(t)
	h.registerSource(t, "mixed", server.URL, store.FormatText)

	// When the cycle runs
	report, err := h.scheduler.RunOnce(context.Background())

	// Then the good item is ingested and the bad one counted as skipped
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ingested)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failures)

	src := h.sourceStatus(t, "mixed")
	assert.Equal(t, store.SourceActive, src.State)
}

func TestRunOnce_ReusesKnownAssessment(t *testing.T) {
	// Given a stored high-risk indicator and a feed re-serving the same value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("phishy-login.example.com\n"))
	}))
	defer server.Close()

	h := newHarness(t)
	_, err := h.store.UpsertIndicator(context.Background(), store.UpsertRequest{
		Value: "phishy-login.example.com", Type: ioc.TypeDomain,
		RiskLevel: ioc.RiskHigh, Category: "phishing", Confidence: 0.85, Source: "analyst",
	})
	require.NoError(t, err)

	searcher := search.NewSearcher(h.store, embed.NewNoopEmbedder(),
		config.SearchConfig{MaxResults: 10, MinScore: 0.5}, nil)
	h.scheduler.searcher = searcher
	h.registerSource(t, "repeat", server.URL, store.FormatText)

	// When the cycle runs
	report, err := h.scheduler.RunOnce(context.Background())

	// Then the stored assessment is reused without calling the classifier
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ingested)
	assert.Equal(t, 1, report.Reused)
	assert.Equal(t, int64(0), h.classifier.calls.Load())

	ind, err := h.store.FindIndicator(context.Background(), "phishy-login.example.com", ioc.TypeDomain)
	require.NoError(t, err)
	assert.Equal(t, 2, ind.TimesSeen)
	assert.Equal(t, "memory", ind.Metadata["classified_by"])
	assert.Equal(t, ioc.RiskHigh, ind.RiskLevel)
}

func TestSeedDefaults_IsIdempotent(t *testing.T) {
	// Given the stock catalogue seeded once
	h := newHarness(t)
	require.NoError(t, h.scheduler.SeedDefaults(context.Background()))

	sources, err := h.store.ListFeedSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, len(DefaultSources()))

	// When a source was disabled and the catalogue is seeded again
	require.NoError(t, h.scheduler.DisableSource(context.Background(), "urlhaus"))
	require.NoError(t, h.scheduler.SeedDefaults(context.Background()))

	// Then the operator's state survives reseeding
	src := h.sourceStatus(t, "urlhaus")
	assert.Equal(t, store.SourceDisabled, src.State)
}

func TestDedupe_LastOccurrenceWins(t *testing.T) {
	items := []RawItem{
		{Value: "dup.example.com", Type: ioc.TypeDomain, Category: "stale"},
		{Value: "other.example.com", Type: ioc.TypeDomain},
		{Value: "dup.example.com", Type: ioc.TypeDomain, Category: "fresh"},
	}

	out := dedupe(items)

	require.Len(t, out, 2)
	assert.Equal(t, "fresh", out[0].Category)
	assert.Equal(t, "other.example.com", out[1].Value)
}

func TestDue_PerState(t *testing.T) {
	h := newHarness(t)
	now := h.clock

	cases := []struct {
		name string
		src  store.FeedSource
		want bool
	}{
		{"never polled", store.FeedSource{State: store.SourceActive, PollInterval: time.Hour}, true},
		{"interval elapsed", store.FeedSource{State: store.SourceActive, PollInterval: time.Hour, LastPolled: now.Add(-2 * time.Hour)}, true},
		{"interval pending", store.FeedSource{State: store.SourceActive, PollInterval: time.Hour, LastPolled: now.Add(-time.Minute)}, false},
		{"backoff pending", store.FeedSource{State: store.SourceBackoff, BackoffUntil: now.Add(time.Minute)}, false},
		{"backoff expired", store.FeedSource{State: store.SourceBackoff, BackoffUntil: now.Add(-time.Minute)}, true},
		{"disabled", store.FeedSource{State: store.SourceDisabled}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := tc.src
			assert.Equal(t, tc.want, h.scheduler.due(&src))
		})
	}
}

func TestRunOnce_MetadataKeepsEveryFeedObservation(t *testing.T) {
	// Given two feeds serving the same domain
	serve := func(body string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
	}
	feedA := serve("bad-bank-login.tk\n")
	defer feedA.Close()
	feedB := serve("bad-bank-login.tk\n")
	defer feedB.Close()

	h := newHarness(t)
	h.registerSource(t, "feed-a", feedA.URL, store.FormatText)
	_, err := h.scheduler.RunOnce(context.Background())
	require.NoError(t, err)

	// When a second feed re-observes it in a later cycle
	h.registerSource(t, "feed-b", feedB.URL, store.FormatText)
	_, err = h.scheduler.RunOnce(context.Background())
	require.NoError(t, err)

	// Then the merge keeps both feeds' observation records
	ind, err := h.store.FindIndicator(context.Background(), "bad-bank-login.tk", ioc.TypeDomain)
	require.NoError(t, err)
	assert.Equal(t, 2, ind.TimesSeen)
	assert.Equal(t, "feed-b", ind.Source)
	assert.Equal(t, "feed-b", ind.Metadata["feed_source"])
	assert.NotEmpty(t, ind.Metadata["observed:feed-a"])
	assert.NotEmpty(t, ind.Metadata["observed:feed-b"])
}

// pickyClassifier fails every value containing a marker substring.
type pickyClassifier struct {
	stubClassifier
	failOn string
}

func (c *pickyClassifier) Classify(ctx context.Context, value string, typ ioc.IndicatorType) (*ioc.Classification, error) {
	if strings.Contains(value, c.failOn) {
		c.calls.Add(1)
		return nil, vaulterrors.DependencyUnavailable("classifier offline for "+value, nil)
	}
	return c.stubClassifier.Classify(ctx, value, typ)
}

func TestRunOnce_FailingSourceDoesNotBlockHealthy(t *testing.T) {
	// Given one source whose every candidate fails classification
	sick := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("poison-one.example.com\npoison-two.example.com\n"))
	}))
	defer sick.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("clean.example.com\n"))
	}))
	defer healthy.Close()

	h := newHarness(t)
	picky := &pickyClassifier{failOn: "poison"}
	picky.result = newStubClassifier().result
	h.scheduler.classifier = picky
	h.registerSource(t, "sick", sick.URL, store.FormatText)
	h.registerSource(t, "healthy", healthy.URL, store.FormatText)

	// When one cycle polls both
	report, err := h.scheduler.RunOnce(context.Background())

	// Then the healthy source's indicator still lands
	require.NoError(t, err)
	assert.Equal(t, 2, report.SourcesPolled)
	assert.Equal(t, 1, report.Ingested)
	assert.Equal(t, 2, report.Failures)

	ind, err := h.store.FindIndicator(context.Background(), "clean.example.com", ioc.TypeDomain)
	require.NoError(t, err)
	assert.Equal(t, "healthy", ind.Source)

	// And item failures leave both sources active
	assert.Equal(t, store.SourceActive, h.sourceStatus(t, "sick").State)
	assert.Equal(t, store.SourceActive, h.sourceStatus(t, "healthy").State)
}

func TestRunOnce_CountsInBatchDuplicates(t *testing.T) {
	// Given a feed repeating the same value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("dup.example.com\ndup.example.com\nsolo.example.com\n"))
	}))
	defer server.Close()

	h := newHarness(t)
	h.registerSource(t, "echoey", server.URL, store.FormatText)

	// When the cycle runs
	report, err := h.scheduler.RunOnce(context.Background())

	// Then the collapsed duplicate is counted, not ingested twice
	require.NoError(t, err)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 2, report.Ingested)

	ind, err := h.store.FindIndicator(context.Background(), "dup.example.com", ioc.TypeDomain)
	require.NoError(t, err)
	assert.Equal(t, 1, ind.TimesSeen)
}
