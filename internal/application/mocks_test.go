package application

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockTileSource implements output.TileSource for testing.
type mockTileSource struct {
	mu      sync.Mutex
	calls   []string
	result  any
	loadErr error
}

func (m *mockTileSource) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockTileSource) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockTileSource) LoadTile(_ context.Context, req domain.TileRequest, cb domain.Callback) {
	m.record("load:" + req.Key())
	if m.loadErr != nil {
		cb(nil, m.loadErr)
		return
	}
	cb(m.result, nil)
}

func (m *mockTileSource) ReloadTile(_ context.Context, req domain.TileRequest, cb domain.Callback) {
	m.record("reload:" + req.Key())
	cb(m.result, nil)
}

func (m *mockTileSource) AbortTile(_ context.Context, req domain.TileRequest, cb domain.Callback) {
	m.record("abort:" + req.Key())
	cb(nil, nil)
}

func (m *mockTileSource) RemoveTile(_ context.Context, req domain.TileRequest, cb domain.Callback) {
	m.record("remove:" + req.Key())
	cb(nil, nil)
}

// mockRemovableSource also implements output.SourceRemover.
type mockRemovableSource struct {
	mockTileSource
	removed int
}

func (m *mockRemovableSource) RemoveSource(_ context.Context, _ domain.SourceRequest, cb domain.Callback) {
	m.removed++
	cb(nil, nil)
}

// mockDataSource also implements output.DataLoader.
type mockDataSource struct {
	mockTileSource
	data []byte
}

func (m *mockDataSource) LoadData(_ context.Context, req domain.LoadDataRequest, cb domain.Callback) {
	m.data = req.Data
	cb(nil, nil)
}

// countingFactory returns a factory that counts constructions.
func countingFactory(build func() output.TileSource) (output.SourceFactory, *int) {
	n := 0
	return func(output.SourceDeps) output.TileSource {
		n++
		return build()
	}, &n
}

// mockElevationSource implements output.ElevationSource for testing.
type mockElevationSource struct {
	loaded  map[string]bool
	removed []string
}

func (m *mockElevationSource) LoadTile(_ context.Context, req domain.DEMRequest, cb domain.Callback) {
	if m.loaded == nil {
		m.loaded = make(map[string]bool)
	}
	m.loaded[req.Key()] = true
	cb(&domain.DEMResult{UID: req.UID, TileID: req.TileID}, nil)
}

func (m *mockElevationSource) RemoveTile(req domain.DEMRequest) {
	delete(m.loaded, req.Key())
	m.removed = append(m.removed, req.Key())
}

// mockShaper implements output.TextShaper for testing.
type mockShaper struct {
	name string
}

func (m *mockShaper) Name() string { return m.name }

func (m *mockShaper) Shape(text string) string { return m.name + ":" + text }

// syncScheduler implements output.Scheduler by running work inline.
type syncScheduler struct{}

func (syncScheduler) Go(ctx context.Context, work func(ctx context.Context) (any, error), done func(any, error)) {
	done(work(ctx))
}

// mockSender implements output.MessageSender for testing.
type mockSender struct {
	mu       sync.Mutex
	messages []domain.OutboundMessage
}

func (m *mockSender) Send(_ context.Context, mapID domain.MapInstanceID, msgType string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, domain.OutboundMessage{MapID: mapID, Type: msgType, Data: data})
	return nil
}

// mockImporter implements output.ScriptImporter for testing.
type mockImporter struct {
	imports  []string
	err      error
	onImport func(registry output.ExtensionRegistry) error
}

func (m *mockImporter) Import(_ context.Context, url string, registry output.ExtensionRegistry) error {
	m.imports = append(m.imports, url)
	if m.err != nil {
		return m.err
	}
	if m.onImport != nil {
		return m.onImport(registry)
	}
	return nil
}

// mockResponseCache implements output.ResponseCache for testing.
type mockResponseCache struct {
	size   int64
	limits []int64
}

func (m *mockResponseCache) EnforceSizeLimit(_ context.Context, limit int64) (output.TrimResult, error) {
	m.limits = append(m.limits, limit)
	freed := int64(0)
	if m.size > limit {
		freed = m.size - limit
		m.size = limit
	}
	return output.TrimResult{FreedBytes: freed, SizeBytes: m.size}, nil
}

func (m *mockResponseCache) Size() int64 { return m.size }

// mockStore implements output.TileStore for testing.
type mockStore struct {
	tileset *domain.Tileset
	tiles   map[domain.TileID][]byte
	closed  bool
}

func (m *mockStore) ReadTile(_ context.Context, id domain.TileID) ([]byte, error) {
	if data, ok := m.tiles[id]; ok {
		return data, nil
	}
	return nil, domain.ErrTileNotFound
}

func (m *mockStore) Metadata(_ context.Context) (map[string]string, error) {
	return m.tileset.Metadata, nil
}

func (m *mockStore) Tileset() *domain.Tileset { return m.tileset }

func (m *mockStore) Close() error {
	m.closed = true
	return nil
}

// mockEngine implements output.DatabaseEngine for testing.
type mockEngine struct {
	mu        sync.Mutex
	fileOpens []output.OpenOptions
	byteOpens []output.OpenOptions
	bytesRead int
	openErr   error
}

func (m *mockEngine) OpenFile(_ context.Context, opts output.OpenOptions) (output.TileStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.fileOpens = append(m.fileOpens, opts)
	return &mockStore{tileset: domain.NewTileset(opts.Name, opts.Location, opts.Path, map[string]string{"format": "pbf"})}, nil
}

func (m *mockEngine) OpenBytes(_ context.Context, opts output.OpenOptions, data []byte) (output.TileStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.byteOpens = append(m.byteOpens, opts)
	m.bytesRead += len(data)
	return &mockStore{tileset: domain.NewTileset(opts.Name, opts.Location, "", map[string]string{"format": "pbf"})}, nil
}

// mockPicker implements output.FilePicker for testing.
type mockPicker struct {
	content []byte
	size    int64
	picks   int
	err     error
}

func (m *mockPicker) Pick(_ context.Context, name string) (*output.PickedFile, error) {
	m.picks++
	if m.err != nil {
		return nil, m.err
	}
	size := m.size
	if size == 0 {
		size = int64(len(m.content))
	}
	return &output.PickedFile{
		Name:   name,
		Size:   size,
		Reader: io.NopCloser(bytes.NewReader(m.content)),
	}, nil
}

// mockStorage implements output.AssetStorage for testing.
type mockStorage struct {
	mu          sync.Mutex
	objects     []output.Asset
	content     []byte
	downloads   []string
	downloadErr error
	listErr     error

	// When set, Download signals started and waits for release.
	started chan struct{}
	release chan struct{}
}

func (m *mockStorage) List(_ context.Context) ([]output.Asset, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.objects, nil
}

func (m *mockStorage) Download(_ context.Context, key, dest string) error {
	m.mu.Lock()
	m.downloads = append(m.downloads, key)
	m.mu.Unlock()
	if m.release != nil {
		select {
		case m.started <- struct{}{}:
		default:
		}
		<-m.release
	}
	if m.downloadErr != nil {
		return m.downloadErr
	}
	return os.WriteFile(dest, m.content, 0o644)
}

func (m *mockStorage) GetReader(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.content)), nil
}

func (m *mockStorage) Exists(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (m *mockStorage) Downloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.downloads...)
}
