package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// scopedSender tags outbound messages with the map instance of the handler.
type scopedSender struct {
	mapID  domain.MapInstanceID
	sender output.MessageSender
}

func (s *scopedSender) Send(ctx context.Context, msgType string, data any) error {
	return s.sender.Send(ctx, s.mapID, msgType, data)
}

// SourceInstanceRegistry lazily creates and owns one tile-source handler per
// (map instance, source type, source name).
// It is confined to one worker's execution context.
type SourceInstanceRegistry struct {
	types     *SourceTypeTable
	layers    *LayerIndexRegistry
	images    *AvailableImagesRegistry
	sender    output.MessageSender
	scheduler output.Scheduler
	env       *output.SourceEnv
	metrics   output.MetricsCollector
	logger    *slog.Logger

	handlers map[domain.TileHandlerKey]output.TileSource
}

// NewSourceInstanceRegistry creates a new registry.
func NewSourceInstanceRegistry(
	types *SourceTypeTable,
	layers *LayerIndexRegistry,
	images *AvailableImagesRegistry,
	sender output.MessageSender,
	scheduler output.Scheduler,
	env *output.SourceEnv,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *SourceInstanceRegistry {
	return &SourceInstanceRegistry{
		types:     types,
		layers:    layers,
		images:    images,
		sender:    sender,
		scheduler: scheduler,
		env:       env,
		metrics:   metrics,
		logger:    logger,
		handlers:  make(map[domain.TileHandlerKey]output.TileSource),
	}
}

// GetOrCreate returns the handler for key, constructing it on first use.
func (r *SourceInstanceRegistry) GetOrCreate(key domain.TileHandlerKey) (output.TileSource, error) {
	if h, ok := r.handlers[key]; ok {
		return h, nil
	}

	factory, ok := r.types.LookupSourceType(key.Type)
	if !ok {
		return nil, fmt.Errorf("%q: %w", key.Type, domain.ErrUnknownSourceType)
	}

	h := factory(output.SourceDeps{
		MapID:     key.MapID,
		Type:      key.Type,
		Source:    key.Source,
		Sender:    &scopedSender{mapID: key.MapID, sender: r.sender},
		Layers:    r.layers.GetOrCreate(key.MapID),
		Images:    r.images.GetOrCreate(key.MapID),
		Scheduler: r.scheduler,
		Env:       r.env,
	})
	if h == nil {
		return nil, fmt.Errorf("source type %q returned no handler: %w", key.Type, domain.ErrInternal)
	}

	r.handlers[key] = h
	r.metrics.AddLiveHandlers(1)
	r.logger.Debug("tile handler created", "handler", key.String())
	return h, nil
}

// Get returns the live handler for key.
func (r *SourceInstanceRegistry) Get(key domain.TileHandlerKey) (output.TileSource, bool) {
	h, ok := r.handlers[key]
	return h, ok
}

// Remove deletes the handler for key and gives it a chance to tear down.
// Removing an absent key is a no-op that still completes.
func (r *SourceInstanceRegistry) Remove(ctx context.Context, key domain.TileHandlerKey, cb domain.Callback) {
	h, ok := r.handlers[key]
	if !ok {
		cb(nil, nil)
		return
	}

	delete(r.handlers, key)
	r.metrics.AddLiveHandlers(-1)
	r.logger.Debug("tile handler removed", "handler", key.String())

	if remover, ok := h.(output.SourceRemover); ok {
		remover.RemoveSource(ctx, domain.SourceRequest{Type: key.Type, Source: key.Source}, cb)
		return
	}
	cb(nil, nil)
}

// Keys returns the keys of all live handlers.
func (r *SourceInstanceRegistry) Keys() []domain.TileHandlerKey {
	keys := make([]domain.TileHandlerKey, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of live handlers.
func (r *SourceInstanceRegistry) Len() int {
	return len(r.handlers)
}

// ElevationSourceRegistry lazily creates and owns one elevation handler per
// (map instance, source name).
type ElevationSourceRegistry struct {
	factory   output.ElevationFactory
	scheduler output.Scheduler
	env       *output.SourceEnv
	metrics   output.MetricsCollector

	handlers map[domain.ElevationHandlerKey]output.ElevationSource
}

// NewElevationSourceRegistry creates a new registry.
func NewElevationSourceRegistry(
	factory output.ElevationFactory,
	scheduler output.Scheduler,
	env *output.SourceEnv,
	metrics output.MetricsCollector,
) *ElevationSourceRegistry {
	return &ElevationSourceRegistry{
		factory:   factory,
		scheduler: scheduler,
		env:       env,
		metrics:   metrics,
		handlers:  make(map[domain.ElevationHandlerKey]output.ElevationSource),
	}
}

// GetOrCreate returns the elevation handler for key, constructing it on first use.
func (r *ElevationSourceRegistry) GetOrCreate(key domain.ElevationHandlerKey) (output.ElevationSource, error) {
	if h, ok := r.handlers[key]; ok {
		return h, nil
	}
	if r.factory == nil {
		return nil, fmt.Errorf("elevation source: %w", domain.ErrCapabilityMissing)
	}

	h := r.factory(output.ElevationDeps{
		MapID:     key.MapID,
		Source:    key.Source,
		Scheduler: r.scheduler,
		Env:       r.env,
	})
	r.handlers[key] = h
	r.metrics.AddLiveHandlers(1)
	return h, nil
}

// Get returns the live elevation handler for key.
func (r *ElevationSourceRegistry) Get(key domain.ElevationHandlerKey) (output.ElevationSource, bool) {
	h, ok := r.handlers[key]
	return h, ok
}

// Remove drops the elevation handler for key.
func (r *ElevationSourceRegistry) Remove(key domain.ElevationHandlerKey) {
	if _, ok := r.handlers[key]; ok {
		delete(r.handlers, key)
		r.metrics.AddLiveHandlers(-1)
	}
}

// Keys returns the keys of all live elevation handlers.
func (r *ElevationSourceRegistry) Keys() []domain.ElevationHandlerKey {
	keys := make([]domain.ElevationHandlerKey, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	return keys
}
