package output

import "context"

// FetchRequest describes an online tile request.
type FetchRequest struct {
	URL      string
	Referrer string
}

// FetchResponse is the body and cache metadata of an online tile.
type FetchResponse struct {
	Data         []byte
	ContentType  string
	CacheControl string
	Expires      string
	Cached       bool
}

// TileFetcher defines the secondary port for online tile retrieval.
type TileFetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error)
}

// TrimResult reports the outcome of a cache trim.
type TrimResult struct {
	Removed    int   `json:"removed"`
	FreedBytes int64 `json:"freed_bytes"`
	SizeBytes  int64 `json:"size_bytes"`
}

// ResponseCache defines the secondary port for the on-disk response cache.
type ResponseCache interface {
	// EnforceSizeLimit removes the oldest entries until the cache is within limit bytes.
	EnforceSizeLimit(ctx context.Context, limit int64) (TrimResult, error)

	// Size returns the current cache size in bytes.
	Size() int64
}
