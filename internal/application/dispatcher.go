package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// Referrer holds the referrer string a map instance reports for online requests.
type Referrer struct {
	v atomic.Value
}

// Set stores the referrer.
func (r *Referrer) Set(s string) {
	r.v.Store(s)
}

// Get returns the referrer, or "" if none was set.
func (r *Referrer) Get() string {
	s, _ := r.v.Load().(string)
	return s
}

// Dispatcher routes inbound worker requests to the registries of one worker.
// It holds no state beyond references to them.
type Dispatcher struct {
	layers    *LayerIndexRegistry
	images    *AvailableImagesRegistry
	sources   *SourceInstanceRegistry
	elevation *ElevationSourceRegistry
	types     *SourceTypeTable
	shaping   *TextShaping
	importer  output.ScriptImporter
	cache     output.ResponseCache
	referrer  *Referrer
	scheduler output.Scheduler
	metrics   output.MetricsCollector
	logger    *slog.Logger
}

// DispatcherDeps groups the collaborators of a Dispatcher.
type DispatcherDeps struct {
	Layers    *LayerIndexRegistry
	Images    *AvailableImagesRegistry
	Sources   *SourceInstanceRegistry
	Elevation *ElevationSourceRegistry
	Types     *SourceTypeTable
	Shaping   *TextShaping
	Importer  output.ScriptImporter
	Cache     output.ResponseCache
	Referrer  *Referrer
	Scheduler output.Scheduler
	Metrics   output.MetricsCollector
	Logger    *slog.Logger
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	return &Dispatcher{
		layers:    deps.Layers,
		images:    deps.Images,
		sources:   deps.Sources,
		elevation: deps.Elevation,
		types:     deps.Types,
		shaping:   deps.Shaping,
		importer:  deps.Importer,
		cache:     deps.Cache,
		referrer:  deps.Referrer,
		scheduler: deps.Scheduler,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
}

// Handle decodes an envelope and invokes the matching operation.
// Every path reports through cb exactly once.
func (d *Dispatcher) Handle(ctx context.Context, env domain.Envelope, cb domain.Callback) {
	op := env.Operation
	mapID := env.MapID

	switch op {
	case domain.OpSetLayers:
		var layers []domain.LayerSpec
		if d.decode(env, &layers, cb) {
			d.SetLayers(mapID, layers, cb)
		}
	case domain.OpUpdateLayers:
		var req domain.UpdateLayersRequest
		if d.decode(env, &req, cb) {
			d.UpdateLayers(mapID, req, cb)
		}
	case domain.OpSetImages:
		var images []string
		if d.decode(env, &images, cb) {
			d.SetImages(mapID, images, cb)
		}
	case domain.OpSetReferrer:
		var referrer string
		if d.decode(env, &referrer, cb) {
			d.SetReferrer(mapID, referrer)
			cb(nil, nil)
		}
	case domain.OpLoadTile, domain.OpReloadTile, domain.OpAbortTile, domain.OpRemoveTile:
		var req domain.TileRequest
		if d.decode(env, &req, cb) {
			d.tileOp(ctx, op, mapID, req, cb)
		}
	case domain.OpRemoveSource:
		var req domain.SourceRequest
		if d.decode(env, &req, cb) {
			d.RemoveSource(ctx, mapID, req, cb)
		}
	case domain.OpLoadData:
		var req domain.LoadDataRequest
		if d.decode(env, &req, cb) {
			d.LoadData(ctx, mapID, req, cb)
		}
	case domain.OpLoadDEMTile:
		var req domain.DEMRequest
		if d.decode(env, &req, cb) {
			d.LoadDEMTile(ctx, mapID, req, cb)
		}
	case domain.OpRemoveDEMTile:
		var req domain.DEMRequest
		if d.decode(env, &req, cb) {
			d.RemoveDEMTile(mapID, req)
			cb(nil, nil)
		}
	case domain.OpLoadWorkerSource:
		var req domain.LoadWorkerSourceRequest
		if d.decode(env, &req, cb) {
			d.LoadWorkerSource(ctx, mapID, req, cb)
		}
	case domain.OpSyncRTLPluginState:
		var state domain.PluginState
		if d.decode(env, &state, cb) {
			d.SyncRTLPluginState(ctx, mapID, state, cb)
		}
	case domain.OpLoadRTLTextPlugin:
		var req domain.LoadWorkerSourceRequest
		if d.decode(env, &req, cb) {
			d.LoadRTLTextPlugin(ctx, mapID, req.URL, cb)
		}
	case domain.OpEnforceCacheSizeLimit:
		var limit int64
		if d.decode(env, &limit, cb) {
			d.EnforceCacheSizeLimit(ctx, mapID, limit, cb)
		}
	default:
		d.malformed(mapID, cb, &domain.MalformedRequestError{
			Operation: string(op),
			Field:     "operation",
			Reason:    "unknown operation",
		})
	}
}

// decode unmarshals the envelope params into v. It reports a malformed request
// through cb and returns false when the params cannot be decoded.
func (d *Dispatcher) decode(env domain.Envelope, v any, cb domain.Callback) bool {
	if len(env.Params) == 0 {
		return true
	}
	if err := json.Unmarshal(env.Params, v); err != nil {
		d.malformed(env.MapID, cb, &domain.MalformedRequestError{
			Operation: string(env.Operation),
			Field:     "params",
			Reason:    err.Error(),
		})
		return false
	}
	return true
}

// malformed reports a caller bug.
func (d *Dispatcher) malformed(mapID domain.MapInstanceID, cb domain.Callback, err *domain.MalformedRequestError) {
	d.logger.Error("malformed worker request", "map_id", mapID, "operation", err.Operation, "field", err.Field, "error", err)
	cb(nil, err)
}

// SetLayers replaces the style layers of a map instance.
func (d *Dispatcher) SetLayers(mapID domain.MapInstanceID, layers []domain.LayerSpec, cb domain.Callback) {
	d.layers.Replace(mapID, layers)
	cb(nil, nil)
}

// UpdateLayers applies an incremental style diff.
func (d *Dispatcher) UpdateLayers(mapID domain.MapInstanceID, req domain.UpdateLayersRequest, cb domain.Callback) {
	d.layers.Update(mapID, req.Layers, req.RemovedIDs)
	cb(nil, nil)
}

// SetImages replaces the available image names of a map instance.
func (d *Dispatcher) SetImages(mapID domain.MapInstanceID, images []string, cb domain.Callback) {
	d.images.Set(mapID, images)
	cb(nil, nil)
}

// SetReferrer records the referrer used for online requests.
func (d *Dispatcher) SetReferrer(_ domain.MapInstanceID, referrer string) {
	d.referrer.Set(referrer)
}

// LoadTile forwards to the handler of the request's source.
func (d *Dispatcher) LoadTile(ctx context.Context, mapID domain.MapInstanceID, req domain.TileRequest, cb domain.Callback) {
	d.tileOp(ctx, domain.OpLoadTile, mapID, req, cb)
}

// ReloadTile forwards to the handler of the request's source.
func (d *Dispatcher) ReloadTile(ctx context.Context, mapID domain.MapInstanceID, req domain.TileRequest, cb domain.Callback) {
	d.tileOp(ctx, domain.OpReloadTile, mapID, req, cb)
}

// AbortTile forwards to the handler of the request's source.
func (d *Dispatcher) AbortTile(ctx context.Context, mapID domain.MapInstanceID, req domain.TileRequest, cb domain.Callback) {
	d.tileOp(ctx, domain.OpAbortTile, mapID, req, cb)
}

// RemoveTile forwards to the handler of the request's source.
func (d *Dispatcher) RemoveTile(ctx context.Context, mapID domain.MapInstanceID, req domain.TileRequest, cb domain.Callback) {
	d.tileOp(ctx, domain.OpRemoveTile, mapID, req, cb)
}

func (d *Dispatcher) tileOp(ctx context.Context, op domain.Operation, mapID domain.MapInstanceID, req domain.TileRequest, cb domain.Callback) {
	key, ok := d.tileKey(op, mapID, req.Type, req.Source, cb)
	if !ok {
		return
	}

	// Abort and remove must not resurrect a handler that was already removed.
	if op == domain.OpAbortTile || op == domain.OpRemoveTile {
		if _, registered := d.types.LookupSourceType(key.Type); !registered {
			cb(nil, fmt.Errorf("%q: %w", key.Type, domain.ErrUnknownSourceType))
			return
		}
		h, live := d.sources.Get(key)
		if !live {
			cb(nil, nil)
			return
		}
		d.forward(ctx, op, h, req, d.observe(op, key.Type, cb))
		return
	}

	h, err := d.sources.GetOrCreate(key)
	if err != nil {
		d.metrics.IncTileOperation(string(op), string(key.Type), false)
		cb(nil, err)
		return
	}
	d.forward(ctx, op, h, req, d.observe(op, key.Type, cb))
}

func (d *Dispatcher) forward(ctx context.Context, op domain.Operation, h output.TileSource, req domain.TileRequest, cb domain.Callback) {
	switch op {
	case domain.OpLoadTile:
		h.LoadTile(ctx, req, cb)
	case domain.OpReloadTile:
		h.ReloadTile(ctx, req, cb)
	case domain.OpAbortTile:
		h.AbortTile(ctx, req, cb)
	case domain.OpRemoveTile:
		h.RemoveTile(ctx, req, cb)
	}
}

// tileKey validates the identifying fields of a request.
func (d *Dispatcher) tileKey(op domain.Operation, mapID domain.MapInstanceID, typ domain.SourceType, source string, cb domain.Callback) (domain.TileHandlerKey, bool) {
	if typ == "" {
		d.malformed(mapID, cb, &domain.MalformedRequestError{Operation: string(op), Field: "type"})
		return domain.TileHandlerKey{}, false
	}
	if source == "" {
		d.malformed(mapID, cb, &domain.MalformedRequestError{Operation: string(op), Field: "source"})
		return domain.TileHandlerKey{}, false
	}
	return domain.TileHandlerKey{MapID: mapID, Type: typ, Source: source}, true
}

// observe wraps cb with tile operation metrics.
func (d *Dispatcher) observe(op domain.Operation, typ domain.SourceType, cb domain.Callback) domain.Callback {
	start := time.Now()
	return func(data any, err error) {
		d.metrics.IncTileOperation(string(op), string(typ), err == nil)
		d.metrics.ObserveTileDuration(string(op), string(typ), time.Since(start))
		cb(data, err)
	}
}

// RemoveSource removes the handler of a source. Removing an absent handler succeeds.
func (d *Dispatcher) RemoveSource(ctx context.Context, mapID domain.MapInstanceID, req domain.SourceRequest, cb domain.Callback) {
	key, ok := d.tileKey(domain.OpRemoveSource, mapID, req.Type, req.Source, cb)
	if !ok {
		return
	}
	d.sources.Remove(ctx, key, cb)
}

// LoadData passes source data to a handler that accepts it.
func (d *Dispatcher) LoadData(ctx context.Context, mapID domain.MapInstanceID, req domain.LoadDataRequest, cb domain.Callback) {
	key, ok := d.tileKey(domain.OpLoadData, mapID, req.Type, req.Source, cb)
	if !ok {
		return
	}

	h, err := d.sources.GetOrCreate(key)
	if err != nil {
		cb(nil, err)
		return
	}
	loader, ok := h.(output.DataLoader)
	if !ok {
		cb(nil, fmt.Errorf("source type %q does not accept data: %w", key.Type, domain.ErrUnsupported))
		return
	}
	loader.LoadData(ctx, req, d.observe(domain.OpLoadData, key.Type, cb))
}

// LoadDEMTile forwards to the elevation handler of the request's source.
func (d *Dispatcher) LoadDEMTile(ctx context.Context, mapID domain.MapInstanceID, req domain.DEMRequest, cb domain.Callback) {
	if req.Source == "" {
		d.malformed(mapID, cb, &domain.MalformedRequestError{Operation: string(domain.OpLoadDEMTile), Field: "source"})
		return
	}

	h, err := d.elevation.GetOrCreate(domain.ElevationHandlerKey{MapID: mapID, Source: req.Source})
	if err != nil {
		cb(nil, err)
		return
	}
	h.LoadTile(ctx, req, d.observe(domain.OpLoadDEMTile, "dem", cb))
}

// RemoveDEMTile drops a decoded elevation tile. It never fails.
func (d *Dispatcher) RemoveDEMTile(mapID domain.MapInstanceID, req domain.DEMRequest) {
	if req.Source == "" {
		d.logger.Error("malformed worker request", "map_id", mapID, "operation", domain.OpRemoveDEMTile, "field", "source")
		return
	}
	if h, ok := d.elevation.Get(domain.ElevationHandlerKey{MapID: mapID, Source: req.Source}); ok {
		h.RemoveTile(req)
	}
}

// LoadWorkerSource imports an extension manifest into the process.
func (d *Dispatcher) LoadWorkerSource(ctx context.Context, mapID domain.MapInstanceID, req domain.LoadWorkerSourceRequest, cb domain.Callback) {
	if req.URL == "" {
		d.malformed(mapID, cb, &domain.MalformedRequestError{Operation: string(domain.OpLoadWorkerSource), Field: "url"})
		return
	}
	if d.importer == nil {
		cb(nil, fmt.Errorf("extension import: %w", domain.ErrCapabilityMissing))
		return
	}

	d.logger.Info("loading worker source", "map_id", mapID, "url", req.URL)
	d.scheduler.Go(ctx, func(ctx context.Context) (any, error) {
		return nil, d.importer.Import(ctx, req.URL, d.types)
	}, cb)
}

// SyncRTLPluginState records the plugin state of the map and imports the plugin
// when it is reported loaded but is not parsed yet. It answers whether the plugin
// is parsed.
func (d *Dispatcher) SyncRTLPluginState(ctx context.Context, mapID domain.MapInstanceID, state domain.PluginState, cb domain.Callback) {
	d.shaping.SetState(state)

	if state.Status != domain.PluginLoaded || d.shaping.IsParsed() || state.URL == "" {
		cb(d.shaping.IsParsed(), nil)
		return
	}
	d.importPlugin(ctx, mapID, state.URL, cb)
}

// LoadRTLTextPlugin imports the plugin at url unless one is already parsed.
func (d *Dispatcher) LoadRTLTextPlugin(ctx context.Context, mapID domain.MapInstanceID, url string, cb domain.Callback) {
	if d.shaping.IsParsed() {
		cb(true, nil)
		return
	}
	if url == "" {
		d.malformed(mapID, cb, &domain.MalformedRequestError{Operation: string(domain.OpLoadRTLTextPlugin), Field: "url"})
		return
	}
	d.importPlugin(ctx, mapID, url, cb)
}

func (d *Dispatcher) importPlugin(ctx context.Context, mapID domain.MapInstanceID, url string, cb domain.Callback) {
	if d.importer == nil {
		cb(false, fmt.Errorf("text shaping plugin: %w", domain.ErrCapabilityMissing))
		return
	}

	d.logger.Info("importing text shaping plugin", "map_id", mapID, "url", url)
	d.scheduler.Go(ctx, func(ctx context.Context) (any, error) {
		if err := d.importer.Import(ctx, url, d.types); err != nil {
			return false, err
		}
		if !d.shaping.IsParsed() {
			return false, &domain.ImportError{URL: url, Err: fmt.Errorf("failed to import scripts from url: %w", domain.ErrNotFound)}
		}
		return true, nil
	}, func(data any, err error) {
		if err != nil {
			d.shaping.SetState(domain.PluginState{Status: domain.PluginError, URL: url})
			d.logger.Warn("text shaping plugin import failed", "map_id", mapID, "url", url, "error", err)
		}
		cb(data, err)
	})
}

// EnforceCacheSizeLimit trims the online response cache to limit bytes.
func (d *Dispatcher) EnforceCacheSizeLimit(ctx context.Context, mapID domain.MapInstanceID, limit int64, cb domain.Callback) {
	if d.cache == nil {
		cb(output.TrimResult{}, nil)
		return
	}
	if limit < 0 {
		d.malformed(mapID, cb, &domain.MalformedRequestError{
			Operation: string(domain.OpEnforceCacheSizeLimit),
			Field:     "limit",
			Reason:    "must not be negative",
		})
		return
	}

	d.scheduler.Go(ctx, func(ctx context.Context) (any, error) {
		return d.cache.EnforceSizeLimit(ctx, limit)
	}, cb)
}

// Teardown removes every handler and index of a map instance.
func (d *Dispatcher) Teardown(ctx context.Context, mapID domain.MapInstanceID) {
	for _, key := range d.sources.Keys() {
		if key.MapID != mapID {
			continue
		}
		d.sources.Remove(ctx, key, func(_ any, err error) {
			if err != nil {
				d.logger.Warn("source teardown failed", "handler", key.String(), "error", err)
			}
		})
	}
	for _, key := range d.elevation.Keys() {
		if key.MapID == mapID {
			d.elevation.Remove(key)
		}
	}
	d.layers.Remove(mapID)
	d.images.Remove(mapID)
}
