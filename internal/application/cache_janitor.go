// Package application contains the application services.
package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jobrunner/tilework/internal/ports/input"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// ErrRateLimited is returned when the trim API rate limit is exceeded.
var ErrRateLimited = errors.New("rate limit exceeded")

// DefaultTrimCooldown is the minimum time between two manual trims.
const DefaultTrimCooldown = 30 * time.Second

// CacheJanitor keeps the online response cache within its size limit.
type CacheJanitor struct {
	cache    output.ResponseCache
	limit    int64
	interval time.Duration
	cooldown time.Duration
	logger   *slog.Logger

	// Lifecycle management
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Rate limiting for API triggers
	lastAPITrim time.Time
	apiMutex    sync.Mutex

	// Prevents concurrent trims
	trimMutex sync.Mutex
}

// NewCacheJanitor creates a new cache janitor.
func NewCacheJanitor(cache output.ResponseCache, limit int64, interval time.Duration, logger *slog.Logger) *CacheJanitor {
	return &CacheJanitor{
		cache:    cache,
		limit:    limit,
		interval: interval,
		cooldown: DefaultTrimCooldown,
		logger:   logger,
		stopCh:   make(chan struct{}),
		// Initialize to past time to allow immediate first API call
		lastAPITrim: time.Now().Add(-DefaultTrimCooldown - time.Second),
	}
}

// Start begins the periodic trim scheduler. A non-positive interval disables it.
func (j *CacheJanitor) Start(ctx context.Context) {
	if j.interval <= 0 {
		j.logger.Info("cache janitor disabled")
		return
	}
	j.logger.Info("starting cache janitor", "interval", j.interval, "limit_bytes", j.limit)

	j.wg.Add(1)
	go j.run(ctx)
}

func (j *CacheJanitor) run(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("cache janitor stopped: context canceled")
			return
		case <-j.stopCh:
			j.logger.Info("cache janitor stopped")
			return
		case <-ticker.C:
			if _, err := j.trim(ctx); err != nil {
				j.logger.Error("scheduled cache trim failed", "error", err)
			}
		}
	}
}

// Stop gracefully stops the janitor.
func (j *CacheJanitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopCh)
	})
	j.wg.Wait()
}

// TriggerTrim trims the cache on demand. Returns ErrRateLimited if called
// again within the cooldown.
func (j *CacheJanitor) TriggerTrim(ctx context.Context) (input.TrimReport, error) {
	j.apiMutex.Lock()
	defer j.apiMutex.Unlock()

	if time.Since(j.lastAPITrim) < j.cooldown {
		return input.TrimReport{}, ErrRateLimited
	}
	j.lastAPITrim = time.Now()

	return j.trim(ctx)
}

func (j *CacheJanitor) trim(ctx context.Context) (input.TrimReport, error) {
	j.trimMutex.Lock()
	defer j.trimMutex.Unlock()

	res, err := j.cache.EnforceSizeLimit(ctx, j.limit)
	if err != nil {
		return input.TrimReport{}, err
	}
	if res.Removed > 0 {
		j.logger.Info("cache trimmed",
			"removed", res.Removed,
			"freed_bytes", res.FreedBytes,
			"size_bytes", res.SizeBytes,
		)
	}

	return input.TrimReport{
		Removed:    res.Removed,
		FreedBytes: res.FreedBytes,
		SizeBytes:  res.SizeBytes,
		LimitBytes: j.limit,
	}, nil
}

// Interval returns the trim interval.
func (j *CacheJanitor) Interval() time.Duration {
	return j.interval
}
