package tilesource

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// GeoJSONLayerName is the tile layer that carries the features of a geojson source.
const GeoJSONLayerName = "_geojsonTileLayer"

// GeoJSONSource tiles an in-memory feature collection on demand.
type GeoJSONSource struct {
	deps    output.SourceDeps
	data    *geojson.FeatureCollection
	loaded  output.PayloadCache
	pending inflight
}

// NewGeoJSONSource creates a geojson handler.
func NewGeoJSONSource(deps output.SourceDeps) output.TileSource {
	return &GeoJSONSource{
		deps:    deps,
		loaded:  tileMap{},
		pending: inflight{},
	}
}

// LoadDataResult reports the features accepted by LoadData.
type LoadDataResult struct {
	Features int `json:"features"`
}

// LoadData replaces the source data with inline GeoJSON or the document at req.URL.
func (s *GeoJSONSource) LoadData(ctx context.Context, req domain.LoadDataRequest, cb domain.Callback) {
	if len(req.Data) == 0 && req.URL == "" {
		cb(nil, &domain.MalformedRequestError{Operation: string(domain.OpLoadData), Field: "data"})
		return
	}

	env := s.deps.Env
	referrer := ""
	if env.Referrer != nil {
		referrer = env.Referrer()
	}

	s.deps.Scheduler.Go(ctx, func(ctx context.Context) (any, error) {
		raw := []byte(req.Data)
		if len(raw) == 0 {
			if env.Fetcher == nil {
				return nil, fmt.Errorf("geojson url: %w", domain.ErrCapabilityMissing)
			}
			resp, err := env.Fetcher.Fetch(ctx, output.FetchRequest{URL: req.URL, Referrer: referrer})
			if err != nil {
				return nil, err
			}
			raw = resp.Data
		}
		return parseFeatureCollection(raw)
	}, func(data any, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		s.pending.cancelAll()
		s.loaded.Clear()
		s.data = data.(*geojson.FeatureCollection)
		cb(LoadDataResult{Features: len(s.data.Features)}, nil)
	})
}

// parseFeatureCollection accepts a FeatureCollection, a Feature or a bare geometry.
func parseFeatureCollection(raw []byte) (*geojson.FeatureCollection, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(raw); err == nil && len(fc.Features) > 0 {
		return fc, nil
	}
	if f, err := geojson.UnmarshalFeature(raw); err == nil && f.Geometry != nil {
		fc := geojson.NewFeatureCollection()
		fc.Append(f)
		return fc, nil
	}
	if g, err := geojson.UnmarshalGeometry(raw); err == nil && g.Coordinates != nil {
		fc := geojson.NewFeatureCollection()
		fc.Append(geojson.NewFeature(g.Geometry()))
		return fc, nil
	}

	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing geojson: %w: %w", err, domain.ErrInvalidInput)
	}
	return fc, nil
}

// LoadTile cuts the tile out of the loaded data. Without data the result is empty.
func (s *GeoJSONSource) LoadTile(ctx context.Context, req domain.TileRequest, cb domain.Callback) {
	if s.data == nil {
		cb(nil, nil)
		return
	}

	key := req.Key()
	fc := s.data
	loadCtx, l := s.pending.start(ctx, key)
	s.deps.Scheduler.Go(loadCtx, func(ctx context.Context) (any, error) {
		return cutTile(ctx, fc, req.TileID)
	}, func(data any, err error) {
		canceled := loadCtx.Err() != nil
		s.pending.finish(key, l)
		switch {
		case canceled:
			cb(nil, nil)
		case err != nil:
			cb(nil, err)
		default:
			tile := data.(*vectorTile)
			s.loaded.Put(key, tile)
			cb(s.parse(ctx, req, tile), nil)
		}
	})
}

// ReloadTile re-parses a cut tile, cutting it again if needed.
func (s *GeoJSONSource) ReloadTile(ctx context.Context, req domain.TileRequest, cb domain.Callback) {
	if v, ok := s.loaded.Get(req.Key()); ok {
		cb(s.parse(ctx, req, v.(*vectorTile)), nil)
		return
	}
	s.LoadTile(ctx, req, cb)
}

// AbortTile cancels an in-flight cut.
func (s *GeoJSONSource) AbortTile(_ context.Context, req domain.TileRequest, cb domain.Callback) {
	s.pending.abort(req.Key())
	cb(nil, nil)
}

// RemoveTile drops a cut tile.
func (s *GeoJSONSource) RemoveTile(_ context.Context, req domain.TileRequest, cb domain.Callback) {
	s.loaded.Delete(req.Key())
	cb(nil, nil)
}

// RemoveSource drops the data and every cut tile.
func (s *GeoJSONSource) RemoveSource(_ context.Context, _ domain.SourceRequest, cb domain.Callback) {
	s.pending.cancelAll()
	s.loaded.Clear()
	s.data = nil
	cb(nil, nil)
}

func (s *GeoJSONSource) parse(ctx context.Context, req domain.TileRequest, tile *vectorTile) *domain.TileResult {
	return parseTile(ctx, s.deps, req, tile, func(domain.LayerSpec) string { return GeoJSONLayerName })
}

// cutTile projects and clips the features that touch the tile and encodes them.
func cutTile(ctx context.Context, fc *geojson.FeatureCollection, id domain.TileID) (*vectorTile, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	tile := id.Tile()
	bound := tile.Bound(0.1)

	clipped := geojson.NewFeatureCollection()
	for _, f := range fc.Features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.Geometry == nil || !f.Geometry.Bound().Intersects(bound) {
			continue
		}
		c := geojson.NewFeature(orb.Clone(f.Geometry))
		c.ID = f.ID
		c.Properties = f.Properties.Clone()
		clipped.Append(c)
	}

	layers := mvt.NewLayers(map[string]*geojson.FeatureCollection{GeoJSONLayerName: clipped})
	layers.ProjectToTile(tile)
	layers.Clip(mvt.MapboxGLDefaultExtentBound)
	layers.RemoveEmpty(1.0, 1.0)

	data, err := mvt.Marshal(layers)
	if err != nil {
		return nil, fmt.Errorf("encoding tile %s: %w", id, err)
	}

	byLayer := make(map[string]*mvt.Layer, len(layers))
	for _, l := range layers {
		byLayer[l.Name] = l
	}
	return &vectorTile{raw: &payload{data: data}, layers: layers, byLayer: byLayer}, nil
}
