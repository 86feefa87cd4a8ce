package output

import (
	"context"
	"log/slog"

	"github.com/jobrunner/tilework/internal/domain"
)

// TileSource defines the secondary port implemented by every tile-source handler.
// All methods are invoked from the owning worker's execution context and report
// their result through cb.
type TileSource interface {
	// LoadTile loads and parses a tile.
	LoadTile(ctx context.Context, req domain.TileRequest, cb domain.Callback)

	// ReloadTile re-parses a previously loaded tile.
	ReloadTile(ctx context.Context, req domain.TileRequest, cb domain.Callback)

	// AbortTile stops in-flight work for a tile if possible.
	AbortTile(ctx context.Context, req domain.TileRequest, cb domain.Callback)

	// RemoveTile releases the resources held for a tile.
	RemoveTile(ctx context.Context, req domain.TileRequest, cb domain.Callback)
}

// SourceRemover is implemented by handlers that need to release resources when
// their source is removed.
type SourceRemover interface {
	RemoveSource(ctx context.Context, req domain.SourceRequest, cb domain.Callback)
}

// DataLoader is implemented by handlers that accept source data (geojson).
type DataLoader interface {
	LoadData(ctx context.Context, req domain.LoadDataRequest, cb domain.Callback)
}

// ElevationSource defines the secondary port for terrain tile handlers.
type ElevationSource interface {
	// LoadTile decodes an elevation tile.
	LoadTile(ctx context.Context, req domain.DEMRequest, cb domain.Callback)

	// RemoveTile drops a decoded elevation tile. It never fails.
	RemoveTile(req domain.DEMRequest)
}

// MapSender sends messages to the map instance that owns a handler.
type MapSender interface {
	Send(ctx context.Context, msgType string, data any) error
}

// Scheduler runs long work outside the serialized execution context and delivers
// the result back into it.
type Scheduler interface {
	// Go runs work on its own goroutine. done is invoked on the execution context
	// with the result of work.
	Go(ctx context.Context, work func(ctx context.Context) (any, error), done func(data any, err error))
}

// LayerReader exposes the style layers of one map instance.
type LayerReader interface {
	// Layers returns all layers in style order.
	Layers() []domain.LayerSpec

	// BySource returns the layers that draw from the named source.
	BySource(source string) []domain.LayerSpec
}

// ImageReader exposes the available image names of one map instance.
type ImageReader interface {
	Images() []string
	HasImage(name string) bool
}

// TextShaper is a bidirectional text shaping plugin.
type TextShaper interface {
	// Name identifies the plugin.
	Name() string

	// Shape converts logical-order text to display order.
	Shape(text string) string
}

// ShapingState exposes the process-wide text shaping plugin to handlers.
type ShapingState interface {
	// Shape applies the plugin if it is parsed. ok is false otherwise.
	Shape(text string) (shaped string, ok bool)
}

// StoreResolver opens the tile store named by a source URL.
type StoreResolver interface {
	Resolve(ctx context.Context, sourceURL string) (TileStore, error)
}

// PayloadCache is a bounded store of decoded tile payloads owned by one handler.
type PayloadCache interface {
	Get(key string) (any, bool)
	Put(key string, payload any)
	Delete(key string) bool
	Len() int
	Clear()
}

// SourceEnv holds the collaborators shared by all handlers of one worker.
type SourceEnv struct {
	Stores   StoreResolver
	Fetcher  TileFetcher
	Online   bool
	Referrer func() string
	Shaping  ShapingState
	NewCache func() PayloadCache
	Metrics  MetricsCollector
	Logger   *slog.Logger
}

// SourceDeps is passed to a SourceFactory when a handler is created.
type SourceDeps struct {
	MapID     domain.MapInstanceID
	Type      domain.SourceType
	Source    string
	Sender    MapSender
	Layers    LayerReader
	Images    ImageReader
	Scheduler Scheduler
	Env       *SourceEnv
}

// SourceFactory constructs a tile-source handler.
type SourceFactory func(deps SourceDeps) TileSource

// ElevationDeps is passed to an ElevationFactory when a handler is created.
type ElevationDeps struct {
	MapID     domain.MapInstanceID
	Source    string
	Scheduler Scheduler
	Env       *SourceEnv
}

// ElevationFactory constructs an elevation handler.
type ElevationFactory func(deps ElevationDeps) ElevationSource
