package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	vaulterrors "github.com/secstack/threatvault/internal/errors"
	"github.com/secstack/threatvault/internal/store"
)

// DefaultSourceTimeout bounds one feed download.
const DefaultSourceTimeout = 60 * time.Second

// maxPayloadBytes caps a feed download at 64 MiB.
const maxPayloadBytes = 64 << 20

// Fetcher downloads feed payloads over HTTP.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewFetcher creates a fetcher with the given per-source timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}
	return &Fetcher{client: &http.Client{}, timeout: timeout}
}

// Fetch downloads a source's payload. Authentication failures are
// permanent; network faults and server errors are transient.
func (f *Fetcher) Fetch(ctx context.Context, src *store.FeedSource) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, src.Endpoint, nil)
	if err != nil {
		return nil, vaulterrors.PermanentFeed(vaulterrors.ErrCodeFeedConfig,
			fmt.Sprintf("invalid endpoint %q", src.Endpoint), err)
	}
	for k, v := range src.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, vaulterrors.TransientFeed(vaulterrors.ErrCodeFeedFetch,
			fmt.Sprintf("failed to fetch %s", src.Name), err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, vaulterrors.PermanentFeed(vaulterrors.ErrCodeFeedAuth,
			fmt.Sprintf("feed %s rejected credentials (status %d)", src.Name, resp.StatusCode), nil)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, vaulterrors.PermanentFeed(vaulterrors.ErrCodeFeedConfig,
			fmt.Sprintf("feed %s returned status %d", src.Name, resp.StatusCode), nil)
	default:
		return nil, vaulterrors.TransientFeed(vaulterrors.ErrCodeFeedFetch,
			fmt.Sprintf("feed %s returned status %d", src.Name, resp.StatusCode), nil)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, vaulterrors.TransientFeed(vaulterrors.ErrCodeFeedFetch,
			fmt.Sprintf("failed to read %s payload", src.Name), err)
	}
	return payload, nil
}
