package domain

import (
	"strconv"
	"strings"
)

// Tileset describes an opened offline tile database.
type Tileset struct {
	Name        string            `json:"name"`                  // Database name (final path segment)
	Location    string            `json:"location"`              // Requested location
	Path        string            `json:"path,omitempty"`        // Resolved file path, empty for in-memory handles
	Format      string            `json:"format"`                // pbf, png, jpg, webp
	MinZoom     int               `json:"minzoom"`               // Lowest zoom level
	MaxZoom     int               `json:"maxzoom"`               // Highest zoom level
	Bounds      []float64         `json:"bounds,omitempty"`      // west, south, east, north
	Center      []float64         `json:"center,omitempty"`      // lon, lat, zoom
	Attribution string            `json:"attribution,omitempty"` // Attribution text to display
	Description string            `json:"description,omitempty"` // Description
	Metadata    map[string]string `json:"metadata,omitempty"`    // Raw metadata table
}

// IsVector returns true if the tileset stores vector tiles.
func (t *Tileset) IsVector() bool {
	return t.Format == "pbf" || t.Format == "mvt"
}

// NewTileset builds a Tileset from the MBTiles metadata table.
func NewTileset(name, location, path string, metadata map[string]string) *Tileset {
	ts := &Tileset{
		Name:        name,
		Location:    location,
		Path:        path,
		Format:      metadata["format"],
		Attribution: metadata["attribution"],
		Description: metadata["description"],
		Metadata:    metadata,
	}
	if v, err := strconv.Atoi(metadata["minzoom"]); err == nil {
		ts.MinZoom = v
	}
	if v, err := strconv.Atoi(metadata["maxzoom"]); err == nil {
		ts.MaxZoom = v
	}
	ts.Bounds = parseFloatList(metadata["bounds"])
	ts.Center = parseFloatList(metadata["center"])
	return ts
}

func parseFloatList(s string) []float64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}
