package tilesource

import (
	"context"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// RasterSource serves image tiles from the offline store.
type RasterSource struct {
	deps    output.SourceDeps
	loaded  output.PayloadCache
	pending inflight
}

// NewRasterSource creates a raster-offline handler.
func NewRasterSource(deps output.SourceDeps) output.TileSource {
	return &RasterSource{
		deps:    deps,
		loaded:  newTileCache(deps.Env, true),
		pending: inflight{},
	}
}

// LoadTile reads the image bytes of a tile.
func (s *RasterSource) LoadTile(ctx context.Context, req domain.TileRequest, cb domain.Callback) {
	key := req.Key()
	if v, ok := s.loaded.Get(key); ok && len(req.Data) == 0 {
		cacheEvent(s.deps.Env, output.CacheHit)
		cb(rasterResult(req, v.(*payload)), nil)
		return
	}
	cacheEvent(s.deps.Env, output.CacheMiss)

	loadCtx, l := s.pending.start(ctx, key)
	env := s.deps.Env
	s.deps.Scheduler.Go(loadCtx, func(ctx context.Context) (any, error) {
		raw, err := fetchTile(ctx, env, req, true, "")
		if err != nil {
			return nil, err
		}
		raw.contentType = sniff(raw.contentType, raw.data)
		return raw, nil
	}, func(data any, err error) {
		canceled := loadCtx.Err() != nil
		s.pending.finish(key, l)
		switch {
		case canceled:
			cb(nil, nil)
		case err != nil:
			cb(nil, err)
		default:
			raw := data.(*payload)
			s.loaded.Put(key, raw)
			cb(rasterResult(req, raw), nil)
		}
	})
}

// ReloadTile returns the cached image, loading it if needed.
func (s *RasterSource) ReloadTile(ctx context.Context, req domain.TileRequest, cb domain.Callback) {
	s.LoadTile(ctx, req, cb)
}

// AbortTile cancels an in-flight load.
func (s *RasterSource) AbortTile(_ context.Context, req domain.TileRequest, cb domain.Callback) {
	s.pending.abort(req.Key())
	cb(nil, nil)
}

// RemoveTile drops a cached image.
func (s *RasterSource) RemoveTile(_ context.Context, req domain.TileRequest, cb domain.Callback) {
	s.loaded.Delete(req.Key())
	cb(nil, nil)
}

// RemoveSource drops every image of the source.
func (s *RasterSource) RemoveSource(_ context.Context, _ domain.SourceRequest, cb domain.Callback) {
	s.pending.cancelAll()
	s.loaded.Clear()
	cb(nil, nil)
}

func rasterResult(req domain.TileRequest, raw *payload) *domain.TileResult {
	return &domain.TileResult{
		UID:         req.UID,
		TileID:      req.TileID,
		RawData:     raw.data,
		ContentType: raw.contentType,
	}
}
