package domain

import (
	"fmt"

	"github.com/paulmach/orb/maptile"
)

// MaxZoom is the highest zoom level accepted in tile requests.
const MaxZoom = 24

// TileID is a tile coordinate in the XYZ scheme.
type TileID struct {
	Z uint32 `json:"z"`
	X uint32 `json:"x"`
	Y uint32 `json:"y"`
}

// NewTileID converts an orb tile into a TileID.
func NewTileID(t maptile.Tile) TileID {
	return TileID{Z: uint32(t.Z), X: t.X, Y: t.Y}
}

// Tile returns the orb representation of the tile.
func (t TileID) Tile() maptile.Tile {
	return maptile.New(t.X, t.Y, maptile.Zoom(t.Z))
}

// String returns the tile as "z/x/y".
func (t TileID) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// TMSRow returns the row index in the TMS scheme used by MBTiles.
func (t TileID) TMSRow() uint32 {
	return (uint32(1) << t.Z) - 1 - t.Y
}

// Validate checks that the coordinate lies within the tile grid.
func (t TileID) Validate() error {
	if t.Z > MaxZoom {
		return &ValidationError{
			Field:      "z",
			Value:      t.Z,
			Constraint: fmt.Sprintf("[0, %d]", MaxZoom),
			Message:    "zoom level out of range",
		}
	}
	limit := uint32(1) << t.Z
	if t.X >= limit || t.Y >= limit {
		return &ValidationError{
			Field:      "x/y",
			Value:      t.String(),
			Constraint: fmt.Sprintf("[0, %d)", limit),
			Message:    "tile column or row out of range",
		}
	}
	return nil
}

// TileRequest carries the parameters of loadTile, reloadTile, abortTile and removeTile.
type TileRequest struct {
	Type       SourceType `json:"type"`
	Source     string     `json:"source"`
	UID        string     `json:"uid"`
	TileID     TileID     `json:"tile_id"`
	Zoom       float64    `json:"zoom,omitempty"`
	URL        string     `json:"url,omitempty"`
	Data       []byte     `json:"data,omitempty"`
	TileSize   int        `json:"tile_size,omitempty"`
	PixelRatio float64    `json:"pixel_ratio,omitempty"`
}

// Key returns the uid of the tile, falling back to its coordinate.
func (r TileRequest) Key() string {
	if r.UID != "" {
		return r.UID
	}
	return r.TileID.String()
}

// EffectiveZoom returns the zoom used for style evaluation.
func (r TileRequest) EffectiveZoom() float64 {
	if r.Zoom > 0 {
		return r.Zoom
	}
	return float64(r.TileID.Z)
}

// SourceRequest carries the parameters of removeSource.
type SourceRequest struct {
	Type   SourceType `json:"type"`
	Source string     `json:"source"`
}

// TileLayer summarizes one decoded vector tile layer.
type TileLayer struct {
	Name     string `json:"name"`
	Version  uint32 `json:"version"`
	Extent   uint32 `json:"extent"`
	Features int    `json:"features"`
}

// StyleLayerResult reports how many features a style layer matched in a tile.
type StyleLayerResult struct {
	ID          string `json:"id"`
	SourceLayer string `json:"source_layer"`
	Features    int    `json:"features"`
}

// TileResult is the outcome of a tile load. Offline tiles carry nil cache metadata
// and are treated as always fresh.
type TileResult struct {
	UID          string             `json:"uid"`
	TileID       TileID             `json:"tile_id"`
	RawData      []byte             `json:"raw_data,omitempty"`
	ContentType  string             `json:"content_type,omitempty"`
	Layers       []TileLayer        `json:"layers,omitempty"`
	StyleLayers  []StyleLayerResult `json:"style_layers,omitempty"`
	Labels       []string           `json:"labels,omitempty"`
	CacheControl *string            `json:"cache_control"`
	Expires      *string            `json:"expires"`
}

// DEMRequest carries the parameters of loadDEMTile and removeDEMTile.
type DEMRequest struct {
	Source   string `json:"source"`
	UID      string `json:"uid"`
	TileID   TileID `json:"tile_id"`
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// Key returns the uid of the tile, falling back to its coordinate.
func (r DEMRequest) Key() string {
	if r.UID != "" {
		return r.UID
	}
	return r.TileID.String()
}

// DEM encodings.
const (
	DEMEncodingMapbox    = "mapbox"
	DEMEncodingTerrarium = "terrarium"
)

// DEMResult is a decoded elevation tile.
type DEMResult struct {
	UID        string    `json:"uid"`
	TileID     TileID    `json:"tile_id"`
	Encoding   string    `json:"encoding"`
	Dim        int       `json:"dim"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	Elevations []float32 `json:"-"`
}

// At returns the elevation at pixel (x, y), clamped to the grid.
func (d *DEMResult) At(x, y int) float32 {
	if d.Dim == 0 {
		return 0
	}
	x = clamp(x, 0, d.Dim-1)
	y = clamp(y, 0, d.Dim-1)
	return d.Elevations[y*d.Dim+x]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
