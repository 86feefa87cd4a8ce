package application

import (
	"slices"

	"github.com/jobrunner/tilework/internal/domain"
)

// LayerIndex holds the style layers of one map instance in style order.
// Layer ids are unique within an index.
type LayerIndex struct {
	order  []string
	layers map[string]domain.LayerSpec
}

// NewLayerIndex creates an empty index.
func NewLayerIndex() *LayerIndex {
	return &LayerIndex{layers: make(map[string]domain.LayerSpec)}
}

// Replace discards the current layers and installs the given list.
// A repeated id keeps its first position and its last definition.
func (x *LayerIndex) Replace(layers []domain.LayerSpec) {
	x.order = x.order[:0]
	x.layers = make(map[string]domain.LayerSpec, len(layers))
	for _, l := range layers {
		x.put(l)
	}
}

// Update removes the given ids, then replaces changed layers in place or
// appends them when new.
func (x *LayerIndex) Update(changed []domain.LayerSpec, removedIDs []string) {
	if len(removedIDs) > 0 {
		removed := make(map[string]struct{}, len(removedIDs))
		for _, id := range removedIDs {
			removed[id] = struct{}{}
			delete(x.layers, id)
		}
		x.order = slices.DeleteFunc(x.order, func(id string) bool {
			_, ok := removed[id]
			return ok
		})
	}
	for _, l := range changed {
		x.put(l)
	}
}

func (x *LayerIndex) put(l domain.LayerSpec) {
	if _, exists := x.layers[l.ID]; !exists {
		x.order = append(x.order, l.ID)
	}
	x.layers[l.ID] = l
}

// Get returns the layer with the given id.
func (x *LayerIndex) Get(id string) (domain.LayerSpec, bool) {
	l, ok := x.layers[id]
	return l, ok
}

// Len returns the number of layers.
func (x *LayerIndex) Len() int {
	return len(x.order)
}

// IDs returns the layer ids in style order.
func (x *LayerIndex) IDs() []string {
	return slices.Clone(x.order)
}

// Layers returns all layers in style order.
func (x *LayerIndex) Layers() []domain.LayerSpec {
	out := make([]domain.LayerSpec, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, x.layers[id])
	}
	return out
}

// BySource returns the layers drawing from source, in style order.
func (x *LayerIndex) BySource(source string) []domain.LayerSpec {
	var out []domain.LayerSpec
	for _, id := range x.order {
		if l := x.layers[id]; l.Source == source {
			out = append(out, l)
		}
	}
	return out
}

// LayerIndexRegistry owns one LayerIndex per map instance.
type LayerIndexRegistry struct {
	indexes map[domain.MapInstanceID]*LayerIndex
}

// NewLayerIndexRegistry creates an empty registry.
func NewLayerIndexRegistry() *LayerIndexRegistry {
	return &LayerIndexRegistry{indexes: make(map[domain.MapInstanceID]*LayerIndex)}
}

// GetOrCreate returns the index of a map instance, creating it on first use.
func (r *LayerIndexRegistry) GetOrCreate(mapID domain.MapInstanceID) *LayerIndex {
	idx, ok := r.indexes[mapID]
	if !ok {
		idx = NewLayerIndex()
		r.indexes[mapID] = idx
	}
	return idx
}

// Replace installs a full layer list for a map instance.
func (r *LayerIndexRegistry) Replace(mapID domain.MapInstanceID, layers []domain.LayerSpec) {
	r.GetOrCreate(mapID).Replace(layers)
}

// Update applies an incremental diff to a map instance's layers.
func (r *LayerIndexRegistry) Update(mapID domain.MapInstanceID, changed []domain.LayerSpec, removedIDs []string) {
	r.GetOrCreate(mapID).Update(changed, removedIDs)
}

// Remove drops the index of a map instance.
func (r *LayerIndexRegistry) Remove(mapID domain.MapInstanceID) {
	delete(r.indexes, mapID)
}

// ImageList is the set of image names available to one map instance.
type ImageList struct {
	names []string
	set   map[string]struct{}
}

// Images returns the available image names.
func (l *ImageList) Images() []string {
	return slices.Clone(l.names)
}

// HasImage reports whether name is available.
func (l *ImageList) HasImage(name string) bool {
	_, ok := l.set[name]
	return ok
}

func (l *ImageList) replace(names []string) {
	l.names = slices.Clone(names)
	l.set = make(map[string]struct{}, len(names))
	for _, n := range names {
		l.set[n] = struct{}{}
	}
}

// AvailableImagesRegistry owns the available image list per map instance.
// Handlers keep the *ImageList they were created with and observe later updates.
type AvailableImagesRegistry struct {
	lists map[domain.MapInstanceID]*ImageList
}

// NewAvailableImagesRegistry creates an empty registry.
func NewAvailableImagesRegistry() *AvailableImagesRegistry {
	return &AvailableImagesRegistry{lists: make(map[domain.MapInstanceID]*ImageList)}
}

// GetOrCreate returns the image list of a map instance.
func (r *AvailableImagesRegistry) GetOrCreate(mapID domain.MapInstanceID) *ImageList {
	l, ok := r.lists[mapID]
	if !ok {
		l = &ImageList{set: make(map[string]struct{})}
		r.lists[mapID] = l
	}
	return l
}

// Set replaces the image list of a map instance.
func (r *AvailableImagesRegistry) Set(mapID domain.MapInstanceID, images []string) {
	r.GetOrCreate(mapID).replace(images)
}

// Remove drops the image list of a map instance.
func (r *AvailableImagesRegistry) Remove(mapID domain.MapInstanceID) {
	delete(r.lists, mapID)
}
