package domain

import "encoding/json"

// LayerSpec is one style layer definition as delivered by the map.
type LayerSpec struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Source      string          `json:"source,omitempty"`
	SourceLayer string          `json:"source-layer,omitempty"`
	MinZoom     float64         `json:"minzoom,omitempty"`
	MaxZoom     float64         `json:"maxzoom,omitempty"`
	Filter      json.RawMessage `json:"filter,omitempty"`
	Layout      map[string]any  `json:"layout,omitempty"`
	Paint       map[string]any  `json:"paint,omitempty"`
}

// VisibleAt reports whether the layer participates at the given zoom.
func (l LayerSpec) VisibleAt(zoom float64) bool {
	if l.MinZoom > 0 && zoom < l.MinZoom {
		return false
	}
	if l.MaxZoom > 0 && zoom >= l.MaxZoom {
		return false
	}
	if v, ok := l.Layout["visibility"].(string); ok && v == "none" {
		return false
	}
	return true
}

// TextField returns the literal text-field layout property of a symbol layer.
func (l LayerSpec) TextField() (string, bool) {
	return l.layoutString("text-field")
}

// IconImage returns the literal icon-image layout property of a symbol layer.
func (l LayerSpec) IconImage() (string, bool) {
	return l.layoutString("icon-image")
}

func (l LayerSpec) layoutString(key string) (string, bool) {
	if l.Layout == nil {
		return "", false
	}
	v, ok := l.Layout[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// UpdateLayersRequest carries an incremental style diff.
type UpdateLayersRequest struct {
	Layers     []LayerSpec `json:"layers"`
	RemovedIDs []string    `json:"removed_ids"`
}
