// Package fetch provides the online tile fetcher and its on-disk response cache.
package fetch

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

const entryExt = ".tile"

// entryHeader is stored as the first line of every cache file.
type entryHeader struct {
	URL          string    `json:"url"`
	ContentType  string    `json:"content_type,omitempty"`
	CacheControl string    `json:"cache_control,omitempty"`
	Expires      string    `json:"expires,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
	// FreshUntil is zero when the origin gave no freshness lifetime.
	FreshUntil time.Time `json:"fresh_until,omitempty"`
}

// DiskCache stores fetched responses as files below a directory.
// Structure: {dir}/{sha256(url)[:2]}/{sha256(url)}.tile
type DiskCache struct {
	mu  sync.RWMutex
	dir string
	now func() time.Time
}

// NewDiskCache creates the cache directory if needed.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &DiskCache{dir: dir, now: time.Now}, nil
}

func (c *DiskCache) path(url string) string {
	sum := sha256.Sum256([]byte(url))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(c.dir, name[:2], name+entryExt)
}

// Get returns a cached response for url. Expired entries are misses.
func (c *DiskCache) Get(url string) (*output.FetchResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.path(url))
	if err != nil {
		return nil, false
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReader(f)
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, false
	}
	var h entryHeader
	if err := json.Unmarshal(line, &h); err != nil || h.URL != url {
		return nil, false
	}
	if !h.FreshUntil.IsZero() && !h.FreshUntil.After(c.now()) {
		return nil, false
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false
	}
	return &output.FetchResponse{
		Data:         data,
		ContentType:  h.ContentType,
		CacheControl: h.CacheControl,
		Expires:      h.Expires,
		Cached:       true,
	}, true
}

// Put stores resp for url. The file is written to a temporary name and
// renamed into place. A response its headers forbid reusing is not stored
// and replaces any earlier entry.
func (c *DiskCache) Put(url string, resp *output.FetchResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.path(url)
	storedAt := c.now().UTC()
	freshUntil, ok := freshness(resp.CacheControl, resp.Expires, storedAt)
	if !ok {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	header, err := json.Marshal(entryHeader{
		URL:          url,
		ContentType:  resp.ContentType,
		CacheControl: resp.CacheControl,
		Expires:      resp.Expires,
		StoredAt:     storedAt,
		FreshUntil:   freshUntil,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	tmp := path + ".tmp"
	content := make([]byte, 0, len(header)+1+len(resp.Data))
	content = append(content, header...)
	content = append(content, '\n')
	content = append(content, resp.Data...)
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// freshness reports until when a response stored at storedAt may be reused.
// s-maxage takes precedence over max-age, which takes precedence over
// Expires. ok is false for no-store, no-cache and responses that are stale
// on arrival. A zero time with ok means the origin set no lifetime.
func freshness(cacheControl, expires string, storedAt time.Time) (until time.Time, ok bool) {
	maxAge, sharedMaxAge := -1, -1
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, _ := strings.Cut(strings.TrimSpace(directive), "=")
		switch strings.ToLower(name) {
		case "no-store", "no-cache":
			return time.Time{}, false
		case "max-age":
			maxAge = deltaSeconds(value)
		case "s-maxage":
			sharedMaxAge = deltaSeconds(value)
		}
	}

	age := maxAge
	if sharedMaxAge >= 0 {
		age = sharedMaxAge
	}
	if age >= 0 {
		if age == 0 {
			return time.Time{}, false
		}
		return storedAt.Add(time.Duration(age) * time.Second), true
	}

	if expires != "" {
		exp, err := http.ParseTime(expires)
		if err != nil || !exp.After(storedAt) {
			return time.Time{}, false
		}
		return exp.UTC(), true
	}
	return time.Time{}, true
}

// deltaSeconds parses a Cache-Control delta-seconds value. Malformed values
// count as zero.
func deltaSeconds(value string) int {
	n, err := strconv.Atoi(strings.Trim(value, `"`))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

type cacheFile struct {
	path    string
	size    int64
	modTime time.Time
}

func (c *DiskCache) files() ([]cacheFile, error) {
	var files []cacheFile
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != entryExt {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, cacheFile{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	return files, err
}

// Size returns the total size of cached responses in bytes.
func (c *DiskCache) Size() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	files, err := c.files()
	if err != nil {
		return 0
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	return total
}

// EnforceSizeLimit removes the oldest entries until the cache holds at most
// limit bytes.
func (c *DiskCache) EnforceSizeLimit(ctx context.Context, limit int64) (output.TrimResult, error) {
	if limit < 0 {
		return output.TrimResult{}, fmt.Errorf("negative cache limit %d: %w", limit, domain.ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	files, err := c.files()
	if err != nil {
		return output.TrimResult{}, &domain.StorageError{Operation: "trim", Key: c.dir, Err: err}
	}

	var total int64
	for _, f := range files {
		total += f.size
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	var result output.TrimResult
	for _, f := range files {
		if total <= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			result.SizeBytes = total
			return result, err
		}
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			continue
		}
		total -= f.size
		result.Removed++
		result.FreedBytes += f.size
	}
	result.SizeBytes = total
	return result, nil
}

// Clear removes every cached response.
func (c *DiskCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(c.dir); err != nil {
		return err
	}
	return os.MkdirAll(c.dir, 0o750)
}
