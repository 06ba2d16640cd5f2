package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/secstack/threatvault/internal/classify"
	"github.com/secstack/threatvault/internal/config"
	vaulterrors "github.com/secstack/threatvault/internal/errors"
	"github.com/secstack/threatvault/internal/ioc"
	"github.com/secstack/threatvault/internal/search"
	"github.com/secstack/threatvault/internal/store"
)

const (
	// backoffBase is the first backoff delay after a transient failure;
	// each further failure doubles it up to backoffMax.
	backoffBase = 5 * time.Minute
	backoffMax  = 2 * time.Hour

	// reuseThreshold is the similarity above which a known indicator's
	// classification is reused instead of calling the classifier.
	reuseThreshold = 0.9

	// DefaultItemTimeout bounds one classification during ingestion.
	DefaultItemTimeout = 10 * time.Second

	// DefaultTickInterval is the cadence of the scheduler loop.
	DefaultTickInterval = time.Minute
)

// CycleReport summarizes one scheduler pass.
type CycleReport struct {
	SourcesPolled int
	Ingested      int
	Reused        int
	Skipped       int
	Failures      int
	Duplicates    int
	Dropped       int
}

// Scheduler polls due feed sources concurrently, pushes their indicators
// through classification, and stores the results. One failing source never
// stalls the others.
type Scheduler struct {
	store      store.IndicatorStore
	classifier classify.Classifier
	searcher   *search.Searcher
	fetcher    *Fetcher
	cfg        config.FeedsConfig
	logger     *slog.Logger

	itemTimeout  time.Duration
	tickInterval time.Duration
	retryCfg     vaulterrors.RetryConfig
	now          func() time.Time
}

// NewScheduler wires the scheduler from its collaborators.
func NewScheduler(st store.IndicatorStore, classifier classify.Classifier, searcher *search.Searcher, cfg config.FeedsConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	return &Scheduler{
		store:        st,
		classifier:   classifier,
		searcher:     searcher,
		fetcher:      NewFetcher(config.Duration(cfg.SourceTimeout, DefaultSourceTimeout)),
		cfg:          cfg,
		logger:       logger,
		itemTimeout:  DefaultItemTimeout,
		tickInterval: config.Duration(cfg.TickInterval, DefaultTickInterval),
		retryCfg: vaulterrors.RetryConfig{
			MaxRetries:   2,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		now: time.Now,
	}
}

// SeedDefaults registers the stock feed catalogue for sources not yet
// present. Existing registrations are left untouched.
func (s *Scheduler) SeedDefaults(ctx context.Context) error {
	for _, src := range DefaultSources() {
		if _, err := s.store.GetFeedSource(ctx, src.Name); err == nil {
			continue
		} else if !vaulterrors.IsNotFound(err) {
			return err
		}
		if err := s.store.SaveFeedSource(ctx, src); err != nil {
			return err
		}
		s.logger.Info("feed source registered", "source", src.Name, "format", src.Format)
	}
	return nil
}

// Run polls sources on the tick interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		report, err := s.RunOnce(ctx)
		if err != nil {
			return err
		}
		if report.SourcesPolled > 0 {
			s.logger.Info("feed cycle complete",
				"sources", report.SourcesPolled, "ingested", report.Ingested,
				"reused", report.Reused, "skipped", report.Skipped,
				"failures", report.Failures, "duplicates", report.Duplicates,
				"dropped", report.Dropped)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce polls every due source once and processes the extracted
// indicators. The returned error covers infrastructure faults only; source
// and item failures are isolated and counted in the report.
func (s *Scheduler) RunOnce(ctx context.Context) (*CycleReport, error) {
	sources, err := s.store.ListFeedSources(ctx)
	if err != nil {
		return nil, err
	}

	report := &CycleReport{}
	queue := newItemQueue(s.cfg.QueueCapacity)

	var due []*store.FeedSource
	for _, src := range sources {
		if s.due(src) {
			due = append(due, src)
		}
	}
	report.SourcesPolled = len(due)

	polls := make(chan pollOutcome, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for _, src := range due {
		g.Go(func() error {
			polls <- s.pollSource(gctx, src, queue)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(polls)
	for o := range polls {
		report.Failures += o.failures
		report.Skipped += o.skipped
		report.Duplicates += o.duplicates
	}

	s.processQueue(ctx, queue, report)

	report.Dropped = queue.Dropped()
	if report.Dropped > 0 {
		queueDropped.Add(float64(report.Dropped))
		s.logger.Warn("ingestion queue overflow", "dropped", report.Dropped)
	}
	return report, nil
}

// due reports whether a source should be polled now.
func (s *Scheduler) due(src *store.FeedSource) bool {
	now := s.now()
	switch src.State {
	case store.SourceActive:
		return src.LastPolled.IsZero() || now.Sub(src.LastPolled) >= src.PollInterval
	case store.SourceBackoff:
		return !now.Before(src.BackoffUntil)
	case store.SourceDisabled:
		return false
	}
	return false
}

// pollOutcome carries per-source counters back to the cycle report.
type pollOutcome struct {
	failures   int
	skipped    int
	duplicates int
}

// pollSource fetches and parses one source, enqueueing its indicators.
// Failures transition the source's state and are absorbed here.
func (s *Scheduler) pollSource(ctx context.Context, src *store.FeedSource, queue *itemQueue) pollOutcome {
	started := s.now()
	defer func() {
		cycleDuration.WithLabelValues(src.Name).Observe(time.Since(started).Seconds())
	}()

	// Transient fetch faults are retried in-cycle; only exhausted retries
	// push the source into backoff.
	payload, err := vaulterrors.RetryWithResult(ctx, s.retryCfg, func() ([]byte, error) {
		return s.fetcher.Fetch(ctx, src)
	})
	if err != nil {
		s.recordFailure(ctx, src, err)
		fetchesTotal.WithLabelValues(src.Name, "error").Inc()
		return pollOutcome{failures: 1}
	}

	items, skipped, err := Parse(src.Format, payload)
	if err != nil {
		s.recordFailure(ctx, src, err)
		fetchesTotal.WithLabelValues(src.Name, "error").Inc()
		return pollOutcome{failures: 1}
	}
	if skipped > 0 {
		itemsSkipped.WithLabelValues(src.Name, "malformed").Add(float64(skipped))
	}

	deduped := dedupe(items)
	duplicates := len(items) - len(deduped)
	if duplicates > 0 {
		duplicatesCollapsed.WithLabelValues(src.Name).Add(float64(duplicates))
	}
	for _, item := range deduped {
		queue.Push(queuedItem{item: item, source: src})
	}

	fetchesTotal.WithLabelValues(src.Name, "ok").Inc()
	status := store.SourceStatus{State: store.SourceActive, LastPolled: s.now()}
	if uerr := s.store.UpdateFeedSourceStatus(ctx, src.Name, status); uerr != nil {
		s.logger.Error("failed to persist source status", "source", src.Name, "error", uerr)
	}
	s.logger.Debug("source polled",
		"source", src.Name, "items", len(items), "skipped", skipped, "duplicates", duplicates)
	return pollOutcome{skipped: skipped, duplicates: duplicates}
}

// recordFailure applies the source state machine: permanent faults disable
// the source until an operator re-enables it, transient faults back it off
// exponentially.
func (s *Scheduler) recordFailure(ctx context.Context, src *store.FeedSource, cause error) {
	now := s.now()
	status := store.SourceStatus{LastPolled: now, FailReason: cause.Error()}

	if vaulterrors.IsPermanentFeed(cause) {
		status.State = store.SourceDisabled
		status.FailCount = src.FailCount + 1
		s.logger.Error("feed source disabled", "source", src.Name, "error", cause)
	} else {
		status.State = store.SourceBackoff
		status.FailCount = src.FailCount + 1
		delay := backoffBase << (status.FailCount - 1)
		if delay > backoffMax || delay <= 0 {
			delay = backoffMax
		}
		status.BackoffUntil = now.Add(delay)
		s.logger.Warn("feed source backing off",
			"source", src.Name, "failures", status.FailCount, "until", status.BackoffUntil, "error", cause)
	}

	if err := s.store.UpdateFeedSourceStatus(ctx, src.Name, status); err != nil {
		s.logger.Error("failed to persist source status", "source", src.Name, "error", err)
	}
}

// EnableSource resets a disabled or backing-off source to active.
func (s *Scheduler) EnableSource(ctx context.Context, name string) error {
	if _, err := s.store.GetFeedSource(ctx, name); err != nil {
		return err
	}
	return s.store.UpdateFeedSourceStatus(ctx, name, store.SourceStatus{State: store.SourceActive})
}

// DisableSource stops polling a source until it is re-enabled.
func (s *Scheduler) DisableSource(ctx context.Context, name string) error {
	if _, err := s.store.GetFeedSource(ctx, name); err != nil {
		return err
	}
	return s.store.UpdateFeedSourceStatus(ctx, name,
		store.SourceStatus{State: store.SourceDisabled, FailReason: "disabled by operator"})
}

// dedupe collapses duplicate (value, type) items within one batch,
// keeping the last occurrence.
func dedupe(items []RawItem) []RawItem {
	type key struct {
		value string
		typ   ioc.IndicatorType
	}
	index := make(map[key]int, len(items))
	var out []RawItem
	for _, item := range items {
		k := key{item.Value, item.Type}
		if i, seen := index[k]; seen {
			out[i] = item
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	return out
}

// processQueue classifies and stores queued items with a bounded worker
// pool. Item failures are counted, never fatal.
func (s *Scheduler) processQueue(ctx context.Context, queue *itemQueue, report *CycleReport) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)

	type outcome struct {
		ingested, reused, skipped, failed int
	}
	results := make(chan outcome, queue.Len()+1)

	for {
		qi, ok := queue.Pop()
		if !ok {
			break
		}
		g.Go(func() error {
			var o outcome
			reused, err := s.processItem(gctx, qi)
			switch {
			case err == nil && reused:
				o.ingested, o.reused = 1, 1
			case err == nil:
				o.ingested = 1
			case vaulterrors.GetCode(err) == vaulterrors.ErrCodeInvalidIndicator,
				vaulterrors.GetCode(err) == vaulterrors.ErrCodeInvalidType:
				o.skipped = 1
				itemsSkipped.WithLabelValues(qi.source.Name, "invalid").Inc()
			default:
				o.failed = 1
				s.logger.Warn("failed to ingest item",
					"source", qi.source.Name, "value", qi.item.Value, "error", err)
			}
			results <- o
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	for o := range results {
		report.Ingested += o.ingested
		report.Reused += o.reused
		report.Skipped += o.skipped
		report.Failures += o.failed
	}
}

// processItem classifies one indicator and stores it. A near-identical
// known indicator short-circuits classification and reuses the stored
// assessment; reused reports whether that happened.
func (s *Scheduler) processItem(ctx context.Context, qi queuedItem) (reused bool, err error) {
	value := qi.item.Value
	typ := qi.item.Type
	if typ == "" {
		detected, ok := ioc.DetectType(value)
		if !ok {
			return false, vaulterrors.New(vaulterrors.ErrCodeInvalidType,
				fmt.Sprintf("cannot detect indicator type of %q", value), nil)
		}
		typ = detected
	}
	normalized, err := ioc.Normalize(value, typ)
	if err != nil {
		return false, vaulterrors.New(vaulterrors.ErrCodeInvalidIndicator, err.Error(), err)
	}

	classification, reused, err := s.classifyOrReuse(ctx, normalized, typ)
	if err != nil {
		return false, err
	}

	// The store merges metadata shallowly on reobservation, so each feed
	// writes its observation under its own key. feed_source tracks the most
	// recent observer only.
	metadata := map[string]string{
		"feed_source":                qi.source.Name,
		"observed:" + qi.source.Name: s.now().UTC().Format(time.RFC3339),
	}
	for k, v := range qi.item.Metadata {
		metadata[k] = v
	}
	if reused {
		metadata["classified_by"] = "memory"
	} else {
		metadata["classified_by"] = s.classifier.Name()
	}

	category := classification.Category
	if qi.item.Category != "" {
		category = qi.item.Category
	}

	started := s.now()
	_, err = s.store.UpsertIndicator(ctx, store.UpsertRequest{
		Value:      normalized,
		Type:       typ,
		RiskLevel:  classification.RiskLevel,
		Category:   category,
		Confidence: classification.Confidence,
		Source:     qi.source.Name,
		Metadata:   metadata,
	})
	if err != nil {
		return false, err
	}
	indicatorsIngested.WithLabelValues(qi.source.Name).Inc()

	if _, aerr := s.store.SaveAnalysis(ctx, &ioc.AnalysisRecord{
		AnalysisType:   ioc.AnalysisFeedIngestion,
		Input:          fmt.Sprintf("%s:%s", typ, normalized),
		Output:         fmt.Sprintf("%s/%s", classification.RiskLevel, category),
		Confidence:     classification.Confidence,
		ProcessingTime: s.now().Sub(started),
	}); aerr != nil {
		s.logger.Warn("failed to record analysis", "value", normalized, "error", aerr)
	}
	return reused, nil
}

// classifyOrReuse returns a classification for the value, reusing the
// stored assessment of a near-identical indicator when one exists.
func (s *Scheduler) classifyOrReuse(ctx context.Context, value string, typ ioc.IndicatorType) (*ioc.Classification, bool, error) {
	if s.searcher != nil {
		if match, err := s.searcher.BestMatch(ctx, value); err == nil &&
			match != nil && match.Score >= reuseThreshold {
			ind := match.Indicator
			return &ioc.Classification{
				RiskLevel:  ind.RiskLevel,
				Category:   ind.Category,
				Confidence: ind.Confidence,
				Reasoning:  fmt.Sprintf("reused assessment of %s (similarity %.2f)", ind.Value, match.Score),
			}, true, nil
		}
	}

	itemCtx, cancel := context.WithTimeout(ctx, s.itemTimeout)
	defer cancel()
	classification, err := s.classifier.Classify(itemCtx, value, typ)
	if err != nil {
		if itemCtx.Err() == context.DeadlineExceeded {
			return nil, false, vaulterrors.TransientFeed(vaulterrors.ErrCodeClassifyTimeout,
				fmt.Sprintf("classification of %q timed out", value), err)
		}
		return nil, false, err
	}
	if verr := classification.Validate(); verr != nil {
		return nil, false, vaulterrors.New(vaulterrors.ErrCodeInvalidIndicator,
			"classifier returned invalid classification", verr)
	}
	return classification, false, nil
}
