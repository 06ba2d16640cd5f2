package feed

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeMetrics_ExposesRegistry(t *testing.T) {
	// Given a metrics listener on an ephemeral port
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := ServeMetrics(ctx, "127.0.0.1:0", nil)
	require.NoError(t, err)

	// Touch a counter so the scrape has feed series to show.
	fetchesTotal.WithLabelValues("metrics-self-test", "ok").Inc()

	// When scraping /metrics
	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	// Then the feed counters are visible
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tv_feed_fetches_total")
}
