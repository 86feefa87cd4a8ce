package output

import "time"

// Cache events.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheEvict = "evict"
)

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncTileOperation increments the tile operation counter.
	IncTileOperation(operation, sourceType string, success bool)

	// ObserveTileDuration records tile operation duration.
	ObserveTileDuration(operation, sourceType string, duration time.Duration)

	// IncCacheEvent counts offline cache hits, misses and evictions.
	IncCacheEvent(event string)

	// IncProvision increments the database provisioning counter.
	IncProvision(target string, success bool)

	// ObserveProvisionDuration records database provisioning duration.
	ObserveProvisionDuration(target string, duration time.Duration)

	// IncOutboundMessages counts messages sent to map instances.
	IncOutboundMessages(msgType string)

	// SetMapInstances sets the number of live map instances.
	SetMapInstances(count int)

	// AddLiveHandlers adjusts the number of live handlers.
	AddLiveHandlers(delta int)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncTileOperation implements MetricsCollector.
func (n *NoOpMetrics) IncTileOperation(_, _ string, _ bool) {}

// ObserveTileDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveTileDuration(_, _ string, _ time.Duration) {}

// IncCacheEvent implements MetricsCollector.
func (n *NoOpMetrics) IncCacheEvent(_ string) {}

// IncProvision implements MetricsCollector.
func (n *NoOpMetrics) IncProvision(_ string, _ bool) {}

// ObserveProvisionDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveProvisionDuration(_ string, _ time.Duration) {}

// IncOutboundMessages implements MetricsCollector.
func (n *NoOpMetrics) IncOutboundMessages(_ string) {}

// SetMapInstances implements MetricsCollector.
func (n *NoOpMetrics) SetMapInstances(_ int) {}

// AddLiveHandlers implements MetricsCollector.
func (n *NoOpMetrics) AddLiveHandlers(_ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
