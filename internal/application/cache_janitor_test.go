package application

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCacheJanitor_RateLimiting(t *testing.T) {
	cache := &mockResponseCache{size: 300}
	janitor := NewCacheJanitor(cache, 100, time.Hour, testLogger())

	ctx := context.Background()

	report, err := janitor.TriggerTrim(ctx)
	if err != nil {
		t.Fatalf("first trim should succeed, got error: %v", err)
	}
	if report.FreedBytes != 200 || report.SizeBytes != 100 || report.LimitBytes != 100 {
		t.Errorf("report = %+v", report)
	}

	// Immediate second call should be rate limited
	if _, err := janitor.TriggerTrim(ctx); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	if len(cache.limits) != 1 {
		t.Errorf("EnforceSizeLimit calls = %d, want 1", len(cache.limits))
	}
}

func TestCacheJanitor_ScheduledTrim(t *testing.T) {
	cache := &mockResponseCache{size: 500}
	janitor := NewCacheJanitor(cache, 50, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	janitor.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	janitor.Stop()

	// The trim mutex orders the read after the last scheduled trim.
	janitor.trimMutex.Lock()
	defer janitor.trimMutex.Unlock()
	if cache.Size() != 50 {
		t.Errorf("Size() = %d, want 50", cache.Size())
	}
}

func TestCacheJanitor_StartStop(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
	}{
		{"periodic", 100 * time.Millisecond},
		{"disabled", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			janitor := NewCacheJanitor(&mockResponseCache{}, 1, tt.interval, testLogger())
			janitor.Start(context.Background())
			janitor.Stop()
			// Stopping twice must not panic.
			janitor.Stop()
		})
	}
}

func TestCacheJanitor_Interval(t *testing.T) {
	interval := 2 * time.Hour
	janitor := NewCacheJanitor(&mockResponseCache{}, 1, interval, testLogger())

	if janitor.Interval() != interval {
		t.Errorf("expected interval %v, got %v", interval, janitor.Interval())
	}
}
