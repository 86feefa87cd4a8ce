package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// DefaultMaxTileBytes bounds the size of a fetched tile body.
const DefaultMaxTileBytes = 32 << 20

// Config holds fetcher configuration.
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxTileBytes int64
}

// HTTPFetcher retrieves online tiles over HTTP. Responses are served from
// and stored into an optional DiskCache.
type HTTPFetcher struct {
	client    *http.Client
	cache     *DiskCache
	userAgent string
	maxBytes  int64
	logger    *slog.Logger
}

// NewHTTPFetcher creates a fetcher. cache may be nil.
func NewHTTPFetcher(cfg Config, cache *DiskCache, logger *slog.Logger) *HTTPFetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTileBytes <= 0 {
		cfg.MaxTileBytes = DefaultMaxTileBytes
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		cache:     cache,
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxTileBytes,
		logger:    logger,
	}
}

// Fetch implements output.TileFetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, req output.FetchRequest) (*output.FetchResponse, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("empty tile url: %w", domain.ErrInvalidInput)
	}
	if f.cache != nil {
		if resp, ok := f.cache.Get(req.URL); ok {
			return resp, nil
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", req.URL, domain.ErrInvalidInput)
	}
	if req.Referrer != "" {
		httpReq.Header.Set("Referer", req.Referrer)
	}
	if f.userAgent != "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetching %s: %v: %w", req.URL, err, domain.ErrUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", req.URL, domain.ErrTileNotFound)
	case resp.StatusCode == http.StatusNoContent:
		return &output.FetchResponse{}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetching %s: HTTP %d: %w", req.URL, resp.StatusCode, domain.ErrUnavailable)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v: %w", req.URL, err, domain.ErrUnavailable)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("tile %s exceeds %d bytes: %w", req.URL, f.maxBytes, domain.ErrInvalidInput)
	}

	out := &output.FetchResponse{
		Data:         data,
		ContentType:  resp.Header.Get("Content-Type"),
		CacheControl: resp.Header.Get("Cache-Control"),
		Expires:      resp.Header.Get("Expires"),
	}
	if f.cache != nil {
		if err := f.cache.Put(req.URL, out); err != nil {
			f.logger.Warn("failed to cache response", "url", req.URL, "error", err)
		}
	}
	return out, nil
}
