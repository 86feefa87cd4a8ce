// Package domain contains the core entities and value objects of the tile worker.
package domain

import "fmt"

// MapInstanceID identifies one active map view. All per-instance worker state is keyed by it.
type MapInstanceID string

// SourceType selects the tile-source implementation that serves a source.
type SourceType string

// Built-in source types. Extension types are registered at runtime.
const (
	SourceTypeVector           SourceType = "vector"
	SourceTypeOfflineTileStore SourceType = "offline-tile-store"
	SourceTypeGeoJSON          SourceType = "geojson"
	SourceTypeRasterOffline    SourceType = "raster-offline"
)

// TileHandlerKey identifies one live tile-source handler.
type TileHandlerKey struct {
	MapID  MapInstanceID
	Type   SourceType
	Source string
}

// String returns a compact representation used in logs.
func (k TileHandlerKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.MapID, k.Type, k.Source)
}

// ElevationHandlerKey identifies one live elevation handler.
type ElevationHandlerKey struct {
	MapID  MapInstanceID
	Source string
}

// String returns a compact representation used in logs.
func (k ElevationHandlerKey) String() string {
	return fmt.Sprintf("%s/dem/%s", k.MapID, k.Source)
}
