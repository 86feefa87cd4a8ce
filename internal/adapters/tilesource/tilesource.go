// Package tilesource provides the built-in tile-source handlers.
package tilesource

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// Catalog returns the linkable handler implementations by name.
func Catalog() map[string]output.SourceFactory {
	return map[string]output.SourceFactory{
		string(domain.SourceTypeVector):           NewVectorSource,
		string(domain.SourceTypeOfflineTileStore): NewOfflineTileStoreSource,
		string(domain.SourceTypeGeoJSON):          NewGeoJSONSource,
		string(domain.SourceTypeRasterOffline):    NewRasterSource,
	}
}

// Register adds the built-in handlers to the source type table.
func Register(reg output.ExtensionRegistry) error {
	for name, factory := range Catalog() {
		if err := reg.RegisterSourceType(domain.SourceType(name), factory); err != nil {
			return fmt.Errorf("registering %s: %w", name, err)
		}
	}
	return nil
}

// payload is the encoded body of a tile and its cache metadata.
type payload struct {
	data         []byte
	contentType  string
	cacheControl string
	expires      string
}

// fetchTile returns the encoded tile from the request body, the offline store
// named by req.URL, or the network.
func fetchTile(ctx context.Context, env *output.SourceEnv, req domain.TileRequest, offline bool, referrer string) (*payload, error) {
	if len(req.Data) > 0 {
		return &payload{data: req.Data}, nil
	}
	if req.URL == "" {
		return nil, fmt.Errorf("tile %s has neither data nor url: %w", req.TileID, domain.ErrInvalidInput)
	}

	if offline {
		if env.Stores == nil {
			return nil, fmt.Errorf("offline tile store: %w", domain.ErrCapabilityMissing)
		}
		store, err := env.Stores.Resolve(ctx, req.URL)
		if err != nil {
			return nil, err
		}
		data, err := store.ReadTile(ctx, req.TileID)
		if err != nil {
			return nil, err
		}
		return &payload{data: data}, nil
	}

	if env.Fetcher == nil {
		return nil, fmt.Errorf("online fetcher: %w", domain.ErrCapabilityMissing)
	}
	resp, err := env.Fetcher.Fetch(ctx, output.FetchRequest{URL: req.URL, Referrer: referrer})
	if err != nil {
		return nil, err
	}
	return &payload{
		data:         resp.Data,
		contentType:  resp.ContentType,
		cacheControl: resp.CacheControl,
		expires:      resp.Expires,
	}, nil
}

// sniff returns the content type of data, keeping a declared type when present.
func sniff(declared string, data []byte) string {
	if declared != "" {
		return declared
	}
	return http.DetectContentType(data)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// inflight tracks cancellable loads by tile key.
type inflight map[string]*load

type load struct {
	cancel context.CancelFunc
}

// start registers a load for key, cancelling an older one.
func (f inflight) start(ctx context.Context, key string) (context.Context, *load) {
	f.abort(key)
	ctx, cancel := context.WithCancel(ctx)
	l := &load{cancel: cancel}
	f[key] = l
	return ctx, l
}

// finish releases l if it is still the current load of key.
func (f inflight) finish(key string, l *load) {
	l.cancel()
	if f[key] == l {
		delete(f, key)
	}
}

func (f inflight) abort(key string) {
	if l, ok := f[key]; ok {
		l.cancel()
		delete(f, key)
	}
}

func (f inflight) cancelAll() {
	for key := range f {
		f.abort(key)
	}
}

// tileMap is an unbounded PayloadCache used by online handlers.
type tileMap map[string]any

func (m tileMap) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

func (m tileMap) Put(key string, v any) { m[key] = v }

func (m tileMap) Delete(key string) bool {
	_, ok := m[key]
	delete(m, key)
	return ok
}

func (m tileMap) Len() int { return len(m) }

func (m tileMap) Clear() {
	for k := range m {
		delete(m, k)
	}
}

// newTileCache returns the bounded offline cache, or an unbounded map online.
func newTileCache(env *output.SourceEnv, offline bool) output.PayloadCache {
	if offline && env.NewCache != nil {
		return env.NewCache()
	}
	return tileMap{}
}
