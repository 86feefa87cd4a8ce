package tilesource

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// MsgGetImages asks the map instance for icons missing from its image list.
const MsgGetImages = "getImages"

// vectorTile is a decoded vector tile kept for reloads.
type vectorTile struct {
	raw     *payload
	layers  mvt.Layers
	byLayer map[string]*mvt.Layer
}

// VectorSource serves Mapbox Vector Tiles. Offline it keeps decoded tiles in a
// bounded cache; online it fetches through the TileFetcher.
type VectorSource struct {
	deps    output.SourceDeps
	offline bool
	loaded  output.PayloadCache
	pending inflight
}

// NewVectorSource creates a vector handler that follows the worker's online mode.
func NewVectorSource(deps output.SourceDeps) output.TileSource {
	return newVectorSource(deps, !deps.Env.Online)
}

// NewOfflineTileStoreSource creates a vector handler that always reads the offline store.
func NewOfflineTileStoreSource(deps output.SourceDeps) output.TileSource {
	return newVectorSource(deps, true)
}

func newVectorSource(deps output.SourceDeps, offline bool) *VectorSource {
	return &VectorSource{
		deps:    deps,
		offline: offline,
		loaded:  newTileCache(deps.Env, offline),
		pending: inflight{},
	}
}

// LoadTile loads, decodes and parses a tile.
func (s *VectorSource) LoadTile(ctx context.Context, req domain.TileRequest, cb domain.Callback) {
	key := req.Key()

	if v, ok := s.loaded.Get(key); ok && s.offline && len(req.Data) == 0 {
		cacheEvent(s.deps.Env, output.CacheHit)
		cb(s.parse(ctx, req, v.(*vectorTile)), nil)
		return
	}
	if s.offline {
		cacheEvent(s.deps.Env, output.CacheMiss)
	}

	referrer := ""
	if s.deps.Env.Referrer != nil {
		referrer = s.deps.Env.Referrer()
	}
	loadCtx, l := s.pending.start(ctx, key)
	offline := s.offline
	env := s.deps.Env

	s.deps.Scheduler.Go(loadCtx, func(ctx context.Context) (any, error) {
		raw, err := fetchTile(ctx, env, req, offline, referrer)
		if err != nil {
			return nil, err
		}
		return decodeVectorTile(raw)
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

// ReloadTile re-parses a loaded tile against the current style, loading it if needed.
func (s *VectorSource) ReloadTile(ctx context.Context, req domain.TileRequest, cb domain.Callback) {
	if v, ok := s.loaded.Get(req.Key()); ok {
		cb(s.parse(ctx, req, v.(*vectorTile)), nil)
		return
	}
	s.LoadTile(ctx, req, cb)
}

// AbortTile cancels an in-flight load.
func (s *VectorSource) AbortTile(_ context.Context, req domain.TileRequest, cb domain.Callback) {
	s.pending.abort(req.Key())
	cb(nil, nil)
}

// RemoveTile drops a loaded tile.
func (s *VectorSource) RemoveTile(_ context.Context, req domain.TileRequest, cb domain.Callback) {
	s.loaded.Delete(req.Key())
	cb(nil, nil)
}

// RemoveSource cancels every load and drops every tile of the source.
func (s *VectorSource) RemoveSource(_ context.Context, _ domain.SourceRequest, cb domain.Callback) {
	s.pending.cancelAll()
	s.loaded.Clear()
	cb(nil, nil)
}

// Len returns the number of loaded tiles.
func (s *VectorSource) Len() int {
	return s.loaded.Len()
}

func decodeVectorTile(raw *payload) (*vectorTile, error) {
	var (
		layers mvt.Layers
		err    error
	)
	if isGzip(raw.data) {
		layers, err = mvt.UnmarshalGzipped(raw.data)
	} else {
		layers, err = mvt.Unmarshal(raw.data)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding vector tile: %w: %w", err, domain.ErrInvalidInput)
	}

	byLayer := make(map[string]*mvt.Layer, len(layers))
	for _, l := range layers {
		byLayer[l.Name] = l
	}
	return &vectorTile{raw: raw, layers: layers, byLayer: byLayer}, nil
}

func isGzip(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0x1f, 0x8b})
}

// parse evaluates the style layers of the source against a decoded tile.
func (s *VectorSource) parse(ctx context.Context, req domain.TileRequest, tile *vectorTile) *domain.TileResult {
	return parseTile(ctx, s.deps, req, tile, func(style domain.LayerSpec) string { return style.SourceLayer })
}

// parseTile builds the tile result. layerOf maps a style layer to the tile layer it draws.
func parseTile(ctx context.Context, deps output.SourceDeps, req domain.TileRequest, tile *vectorTile, layerOf func(domain.LayerSpec) string) *domain.TileResult {
	result := &domain.TileResult{
		UID:          req.UID,
		TileID:       req.TileID,
		RawData:      tile.raw.data,
		ContentType:  "application/x-protobuf",
		CacheControl: optional(tile.raw.cacheControl),
		Expires:      optional(tile.raw.expires),
	}
	for _, l := range tile.layers {
		result.Layers = append(result.Layers, domain.TileLayer{
			Name:     l.Name,
			Version:  l.Version,
			Extent:   l.Extent,
			Features: len(l.Features),
		})
	}

	if deps.Layers == nil {
		return result
	}

	zoom := req.EffectiveZoom()
	labels := newOrderedSet()
	missing := newOrderedSet()
	for _, style := range deps.Layers.BySource(deps.Source) {
		if !style.VisibleAt(zoom) {
			continue
		}
		layer := tile.byLayer[layerOf(style)]
		count := 0
		if layer != nil {
			count = len(layer.Features)
		}
		result.StyleLayers = append(result.StyleLayers, domain.StyleLayerResult{
			ID:          style.ID,
			SourceLayer: layerOf(style),
			Features:    count,
		})

		if style.Type != "symbol" || layer == nil {
			continue
		}
		text, hasText := style.TextField()
		icon, hasIcon := style.IconImage()
		for _, f := range layer.Features {
			if hasText {
				if label := resolveTokens(text, f.Properties); label != "" {
					labels.add(shape(deps.Env, label))
				}
			}
			if hasIcon {
				if name := resolveTokens(icon, f.Properties); name != "" && (deps.Images == nil || !deps.Images.HasImage(name)) {
					missing.add(name)
				}
			}
		}
	}
	result.Labels = labels.items

	if len(missing.items) > 0 && deps.Sender != nil {
		sort.Strings(missing.items)
		err := deps.Sender.Send(ctx, MsgGetImages, map[string]any{
			"icons":   missing.items,
			"source":  deps.Source,
			"tile_id": req.TileID,
		})
		if err != nil && deps.Env.Logger != nil {
			deps.Env.Logger.Warn("failed to request images", "source", deps.Source, "error", err)
		}
	}
	return result
}

func shape(env *output.SourceEnv, text string) string {
	if env.Shaping == nil {
		return text
	}
	if shaped, ok := env.Shaping.Shape(text); ok {
		return shaped
	}
	return text
}

// resolveTokens replaces {property} tokens with feature property values.
func resolveTokens(tmpl string, props geojson.Properties) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	var b strings.Builder
	for {
		open := strings.IndexByte(tmpl, '{')
		if open < 0 {
			b.WriteString(tmpl)
			break
		}
		end := strings.IndexByte(tmpl[open:], '}')
		if end < 0 {
			b.WriteString(tmpl)
			break
		}
		b.WriteString(tmpl[:open])
		if v, ok := props[tmpl[open+1:open+end]]; ok && v != nil {
			fmt.Fprint(&b, v)
		}
		tmpl = tmpl[open+end+1:]
	}
	return b.String()
}

func cacheEvent(env *output.SourceEnv, event string) {
	if env.Metrics != nil {
		env.Metrics.IncCacheEvent(event)
	}
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(v string) {
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}
