package tilesource

import (
	"context"
	"sync"

	"github.com/jobrunner/tilework/internal/application"
	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// syncScheduler runs work inline.
type syncScheduler struct{}

func (syncScheduler) Go(ctx context.Context, work func(ctx context.Context) (any, error), done func(any, error)) {
	done(work(ctx))
}

// manualScheduler queues work until run is called.
type manualScheduler struct {
	tasks []func()
}

func (m *manualScheduler) Go(ctx context.Context, work func(ctx context.Context) (any, error), done func(any, error)) {
	m.tasks = append(m.tasks, func() { done(work(ctx)) })
}

func (m *manualScheduler) run() {
	tasks := m.tasks
	m.tasks = nil
	for _, task := range tasks {
		task()
	}
}

// mockLayers implements output.LayerReader.
type mockLayers struct {
	layers []domain.LayerSpec
}

func (m *mockLayers) Layers() []domain.LayerSpec { return m.layers }

func (m *mockLayers) BySource(source string) []domain.LayerSpec {
	var out []domain.LayerSpec
	for _, l := range m.layers {
		if l.Source == source {
			out = append(out, l)
		}
	}
	return out
}

// mockImages implements output.ImageReader.
type mockImages struct {
	names map[string]bool
}

func (m *mockImages) Images() []string {
	var out []string
	for n := range m.names {
		out = append(out, n)
	}
	return out
}

func (m *mockImages) HasImage(name string) bool { return m.names[name] }

// mockMapSender implements output.MapSender.
type mockMapSender struct {
	types []string
	data  []any
}

func (m *mockMapSender) Send(_ context.Context, msgType string, data any) error {
	m.types = append(m.types, msgType)
	m.data = append(m.data, data)
	return nil
}

// mockShaping implements output.ShapingState.
type mockShaping struct {
	parsed bool
}

func (m *mockShaping) Shape(text string) (string, bool) {
	if !m.parsed {
		return "", false
	}
	return "shaped:" + text, true
}

// mockStore implements output.TileStore.
type mockStore struct {
	mu    sync.Mutex
	tiles map[domain.TileID][]byte
	reads int
}

func (m *mockStore) ReadTile(_ context.Context, id domain.TileID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if data, ok := m.tiles[id]; ok {
		return data, nil
	}
	return nil, domain.ErrTileNotFound
}

func (m *mockStore) Metadata(context.Context) (map[string]string, error) { return nil, nil }

func (m *mockStore) Tileset() *domain.Tileset { return &domain.Tileset{Name: "region.db"} }

func (m *mockStore) Close() error { return nil }

func (m *mockStore) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// mockStores implements output.StoreResolver.
type mockStores struct {
	store *mockStore
	urls  []string
}

func (m *mockStores) Resolve(_ context.Context, sourceURL string) (output.TileStore, error) {
	m.urls = append(m.urls, sourceURL)
	return m.store, nil
}

// mockFetcher implements output.TileFetcher.
type mockFetcher struct {
	resp     *output.FetchResponse
	err      error
	requests []output.FetchRequest
}

func (m *mockFetcher) Fetch(_ context.Context, req output.FetchRequest) (*output.FetchResponse, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

// countingMetrics records cache events.
type countingMetrics struct {
	output.NoOpMetrics
	events map[string]int
}

func (m *countingMetrics) IncCacheEvent(event string) {
	if m.events == nil {
		m.events = make(map[string]int)
	}
	m.events[event]++
}

func offlineCache() output.PayloadCache {
	return application.NewOfflineCache[string, any](application.DefaultOfflineCacheCapacity)
}
