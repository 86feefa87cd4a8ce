package tilesource

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

var testTile = domain.TileID{Z: 1, X: 1, Y: 0}

// encodeTestTile builds a vector tile with two labelled places in layer "places".
func encodeTestTile(t *testing.T, gzipped bool) []byte {
	t.Helper()

	fc := geojson.NewFeatureCollection()
	for _, p := range []struct {
		name string
		icon string
		pt   orb.Point
	}{
		{"Berlin", "city", orb.Point{13.4, 52.5}},
		{"Hamburg", "harbor", orb.Point{10.0, 53.5}},
	} {
		f := geojson.NewFeature(p.pt)
		f.Properties["name"] = p.name
		f.Properties["icon"] = p.icon
		fc.Append(f)
	}

	layers := mvt.NewLayers(map[string]*geojson.FeatureCollection{"places": fc})
	layers.ProjectToTile(testTile.Tile())

	var (
		data []byte
		err  error
	)
	if gzipped {
		data, err = mvt.MarshalGzipped(layers)
	} else {
		data, err = mvt.Marshal(layers)
	}
	if err != nil {
		t.Fatal(err)
	}
	return data
}

type vectorFixture struct {
	deps    output.SourceDeps
	store   *mockStore
	stores  *mockStores
	fetcher *mockFetcher
	sender  *mockMapSender
	metrics *countingMetrics
}

func newVectorFixture(t *testing.T, online bool) *vectorFixture {
	t.Helper()

	f := &vectorFixture{
		store:   &mockStore{tiles: map[domain.TileID][]byte{testTile: encodeTestTile(t, false)}},
		sender:  &mockMapSender{},
		metrics: &countingMetrics{},
	}
	f.stores = &mockStores{store: f.store}
	f.fetcher = &mockFetcher{resp: &output.FetchResponse{
		Data:         encodeTestTile(t, true),
		CacheControl: "max-age=60",
	}}
	f.deps = output.SourceDeps{
		MapID:  "map-1",
		Type:   domain.SourceTypeVector,
		Source: "base",
		Sender: f.sender,
		Layers: &mockLayers{layers: []domain.LayerSpec{
			{ID: "labels", Type: "symbol", Source: "base", SourceLayer: "places",
				Layout: map[string]any{"text-field": "{name}", "icon-image": "{icon}"}},
			{ID: "roads", Type: "line", Source: "base", SourceLayer: "roads"},
			{ID: "hidden", Type: "fill", Source: "base", SourceLayer: "places", MinZoom: 5},
			{ID: "other", Type: "fill", Source: "other", SourceLayer: "places"},
		}},
		Images:    &mockImages{names: map[string]bool{"city": true}},
		Scheduler: syncScheduler{},
		Env: &output.SourceEnv{
			Stores:   f.stores,
			Fetcher:  f.fetcher,
			Online:   online,
			Referrer: func() string { return "https://app.example" },
			Shaping:  &mockShaping{parsed: true},
			NewCache: offlineCache,
			Metrics:  f.metrics,
		},
	}
	return f
}

func loadSync(t *testing.T, src output.TileSource, req domain.TileRequest) (*domain.TileResult, error) {
	t.Helper()
	var (
		data   any
		err    error
		called int
	)
	src.LoadTile(context.Background(), req, func(d any, e error) {
		data, err = d, e
		called++
	})
	if called != 1 {
		t.Fatalf("callback invoked %d times, want 1", called)
	}
	if data == nil {
		return nil, err
	}
	return data.(*domain.TileResult), err
}

func TestVectorSource_OfflineLoad(t *testing.T) {
	f := newVectorFixture(t, false)
	src := NewVectorSource(f.deps)

	req := domain.TileRequest{Type: domain.SourceTypeVector, Source: "base", UID: "1", TileID: testTile, URL: "mbtiles://tiles/region.db"}
	res, err := loadSync(t, src, req)
	if err != nil {
		t.Fatalf("LoadTile() error = %v", err)
	}

	if len(res.Layers) != 1 || res.Layers[0].Name != "places" || res.Layers[0].Features != 2 {
		t.Errorf("Layers = %+v", res.Layers)
	}
	if len(res.StyleLayers) != 2 {
		t.Fatalf("StyleLayers = %+v, want labels and roads", res.StyleLayers)
	}
	if res.StyleLayers[0].ID != "labels" || res.StyleLayers[0].Features != 2 {
		t.Errorf("labels = %+v", res.StyleLayers[0])
	}
	if res.StyleLayers[1].ID != "roads" || res.StyleLayers[1].Features != 0 {
		t.Errorf("roads = %+v", res.StyleLayers[1])
	}
	if len(res.Labels) != 2 || res.Labels[0][:7] != "shaped:" {
		t.Errorf("Labels = %v, want shaped labels", res.Labels)
	}
	if res.CacheControl != nil || res.Expires != nil {
		t.Error("offline tiles carry no cache headers")
	}
	if f.stores.urls[0] != "mbtiles://tiles/region.db" {
		t.Errorf("resolved %v", f.stores.urls)
	}

	if len(f.sender.types) != 1 || f.sender.types[0] != MsgGetImages {
		t.Fatalf("messages = %v, want one getImages", f.sender.types)
	}
	icons := f.sender.data[0].(map[string]any)["icons"].([]string)
	if len(icons) != 1 || icons[0] != "harbor" {
		t.Errorf("icons = %v, want [harbor]", icons)
	}

	// The second load is served from the offline cache.
	if _, err := loadSync(t, src, req); err != nil {
		t.Fatal(err)
	}
	if f.store.Reads() != 1 {
		t.Errorf("store reads = %d, want 1", f.store.Reads())
	}
	if f.metrics.events[output.CacheHit] != 1 || f.metrics.events[output.CacheMiss] != 1 {
		t.Errorf("cache events = %v", f.metrics.events)
	}
}

func TestVectorSource_OfflineCacheEvictsOldest(t *testing.T) {
	f := newVectorFixture(t, false)
	data := encodeTestTile(t, false)
	src := NewVectorSource(f.deps).(*VectorSource)

	for i := 0; i < 11; i++ {
		req := domain.TileRequest{UID: string(rune('a' + i)), TileID: testTile, Data: data}
		if _, err := loadSync(t, src, req); err != nil {
			t.Fatal(err)
		}
	}

	if src.Len() != 10 {
		t.Errorf("Len() = %d, want 10", src.Len())
	}
	if _, ok := src.loaded.Get("a"); ok {
		t.Error("oldest tile should have been evicted")
	}
	if _, ok := src.loaded.Get("k"); !ok {
		t.Error("newest tile should be cached")
	}
}

func TestVectorSource_Online(t *testing.T) {
	f := newVectorFixture(t, true)
	src := NewVectorSource(f.deps)

	req := domain.TileRequest{UID: "1", TileID: testTile, URL: "https://tiles.example/1/1/0.pbf"}
	res, err := loadSync(t, src, req)
	if err != nil {
		t.Fatalf("LoadTile() error = %v", err)
	}

	if len(f.fetcher.requests) != 1 || f.fetcher.requests[0].Referrer != "https://app.example" {
		t.Errorf("requests = %+v", f.fetcher.requests)
	}
	if res.CacheControl == nil || *res.CacheControl != "max-age=60" {
		t.Errorf("CacheControl = %v", res.CacheControl)
	}
	if len(res.Layers) != 1 {
		t.Errorf("gzipped tile should decode, Layers = %+v", res.Layers)
	}
	if f.store.Reads() != 0 {
		t.Error("online mode should not read the offline store")
	}
}

func TestOfflineTileStoreSource_IgnoresOnlineMode(t *testing.T) {
	f := newVectorFixture(t, true)
	src := NewOfflineTileStoreSource(f.deps)

	req := domain.TileRequest{UID: "1", TileID: testTile, URL: "mbtiles://region.db"}
	if _, err := loadSync(t, src, req); err != nil {
		t.Fatal(err)
	}
	if len(f.fetcher.requests) != 0 || f.store.Reads() != 1 {
		t.Errorf("fetches = %d, reads = %d", len(f.fetcher.requests), f.store.Reads())
	}
}

func TestVectorSource_Errors(t *testing.T) {
	tests := []struct {
		name    string
		req     domain.TileRequest
		online  bool
		fetch   error
		wantErr error
	}{
		{
			name:    "no data and no url",
			req:     domain.TileRequest{UID: "1", TileID: testTile},
			wantErr: domain.ErrInvalidInput,
		},
		{
			name:    "tile missing from store",
			req:     domain.TileRequest{UID: "1", TileID: domain.TileID{Z: 2}, URL: "mbtiles://region.db"},
			wantErr: domain.ErrTileNotFound,
		},
		{
			name:    "undecodable data",
			req:     domain.TileRequest{UID: "1", TileID: testTile, Data: []byte{0x1a, 0x05, 0x01}},
			wantErr: domain.ErrInvalidInput,
		},
		{
			name:    "fetch failure",
			req:     domain.TileRequest{UID: "1", TileID: testTile, URL: "https://tiles.example/x"},
			online:  true,
			fetch:   domain.ErrUnavailable,
			wantErr: domain.ErrUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newVectorFixture(t, tt.online)
			f.fetcher.err = tt.fetch
			_, err := loadSync(t, NewVectorSource(f.deps), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("LoadTile() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVectorSource_AbortTile(t *testing.T) {
	f := newVectorFixture(t, false)
	sched := &manualScheduler{}
	f.deps.Scheduler = sched
	src := NewVectorSource(f.deps).(*VectorSource)

	req := domain.TileRequest{UID: "1", TileID: testTile, URL: "mbtiles://region.db"}
	var (
		results []any
		errs    []error
	)
	src.LoadTile(context.Background(), req, func(d any, e error) {
		results = append(results, d)
		errs = append(errs, e)
	})

	aborted := false
	src.AbortTile(context.Background(), req, func(_ any, err error) { aborted = err == nil })
	if !aborted {
		t.Fatal("AbortTile should succeed")
	}

	sched.run()
	if len(results) != 1 || results[0] != nil || errs[0] != nil {
		t.Errorf("aborted load should complete empty, got %v %v", results, errs)
	}
	if src.Len() != 0 {
		t.Error("aborted tile must not be cached")
	}
}

func TestVectorSource_ReloadAndRemove(t *testing.T) {
	f := newVectorFixture(t, false)
	src := NewVectorSource(f.deps).(*VectorSource)
	ctx := context.Background()

	req := domain.TileRequest{UID: "1", TileID: testTile, URL: "mbtiles://region.db"}
	if _, err := loadSync(t, src, req); err != nil {
		t.Fatal(err)
	}

	// Reload re-parses without reading again.
	src.ReloadTile(ctx, req, func(d any, err error) {
		if err != nil || d == nil {
			t.Errorf("ReloadTile() = %v, %v", d, err)
		}
	})
	if f.store.Reads() != 1 {
		t.Errorf("reads after reload = %d, want 1", f.store.Reads())
	}

	src.RemoveTile(ctx, req, func(any, error) {})
	src.ReloadTile(ctx, req, func(any, error) {})
	if f.store.Reads() != 2 {
		t.Errorf("reload after remove should load again, reads = %d", f.store.Reads())
	}

	src.RemoveSource(ctx, domain.SourceRequest{Source: "base"}, func(any, error) {})
	if src.Len() != 0 {
		t.Errorf("Len() after RemoveSource = %d", src.Len())
	}
}

func TestResolveTokens(t *testing.T) {
	props := geojson.Properties{"name": "Köln", "ref": 7}

	tests := []struct {
		tmpl string
		want string
	}{
		{"{name}", "Köln"},
		{"{name} ({ref})", "Köln (7)"},
		{"literal", "literal"},
		{"{missing}", ""},
		{"{unterminated", "{unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			if got := resolveTokens(tt.tmpl, props); got != tt.want {
				t.Errorf("resolveTokens(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
		})
	}
}
