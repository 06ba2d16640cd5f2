package feed

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tv_feed_fetches_total",
			Help: "Feed fetch attempts by source and result",
		},
		[]string{"source", "result"},
	)

	indicatorsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tv_feed_indicators_ingested_total",
			Help: "Indicators stored per source",
		},
		[]string{"source"},
	)

	itemsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tv_feed_items_skipped_total",
			Help: "Feed items dropped by source and reason",
		},
		[]string{"source", "reason"},
	)

	duplicatesCollapsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tv_feed_duplicates_total",
			Help: "In-batch duplicate items collapsed per source",
		},
		[]string{"source"},
	)

	cycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tv_feed_cycle_seconds",
			Help:    "Wall time of one poll of a source",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"source"},
	)

	queueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tv_feed_queue_dropped_total",
			Help: "Items evicted from the ingestion queue under backpressure",
		},
	)
)

// ServeMetrics exposes the prometheus registry at /metrics on addr until the
// context is cancelled. It returns the bound address, so callers may pass a
// ":0" addr and discover the port.
func ServeMetrics(ctx context.Context, addr string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if serr := srv.Serve(ln); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			logger.Error("metrics listener stopped", "error", serr)
		}
	}()

	logger.Info("metrics exposed", "addr", ln.Addr().String())
	return ln.Addr().String(), nil
}
