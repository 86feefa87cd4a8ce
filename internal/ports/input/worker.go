// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/tilework/internal/domain"
)

// TileDispatcher defines the primary port for worker requests.
type TileDispatcher interface {
	// Dispatch routes a request to the worker of its map instance and waits for the result.
	Dispatch(ctx context.Context, env domain.Envelope) (any, error)

	// Release tears down the worker of a map instance.
	Release(ctx context.Context, mapID domain.MapInstanceID) error
}

// MessageReader defines the primary port for draining outbound messages.
type MessageReader interface {
	// Drain returns and removes the pending messages of a map instance.
	Drain(ctx context.Context, mapID domain.MapInstanceID) []domain.OutboundMessage
}

// DatabaseOpener defines the primary port for database bootstrap.
type DatabaseOpener interface {
	// Open resolves, provisions if needed, and opens a database.
	Open(ctx context.Context, location string) (*domain.Tileset, error)
}

// CacheTrimmer defines the primary port for manual response cache trims.
type CacheTrimmer interface {
	TriggerTrim(ctx context.Context) (TrimReport, error)
}

// TrimReport is the outcome of a manual trim.
type TrimReport struct {
	Removed    int   `json:"removed"`
	FreedBytes int64 `json:"freed_bytes"`
	SizeBytes  int64 `json:"size_bytes"`
	LimitBytes int64 `json:"limit_bytes"`
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy      bool              // Overall health status
	Ready        bool              // Ready to accept requests
	MapInstances int               // Number of live map instances
	Databases    int               // Number of open databases
	Components   map[string]string // Component statuses
}
