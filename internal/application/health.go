package application

import (
	"context"

	"github.com/jobrunner/tilework/internal/ports/input"
)

// HealthService provides health check functionality.
type HealthService struct {
	pool      *WorkerPool
	bootstrap *DatabaseBootstrap
	types     *SourceTypeTable
}

// NewHealthService creates a new health service.
func NewHealthService(pool *WorkerPool, bootstrap *DatabaseBootstrap, types *SourceTypeTable) *HealthService {
	return &HealthService{
		pool:      pool,
		bootstrap: bootstrap,
		types:     types,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(ctx context.Context) bool {
	return true // Basic health check
}

// IsReady returns true if the service is ready to accept requests.
// The storage root of the runtime target must resolve and at least one
// source type must be registered.
func (s *HealthService) IsReady(ctx context.Context) bool {
	if _, err := s.bootstrap.Root(); err != nil {
		return false
	}
	return len(s.types.Types()) > 0
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	components := map[string]string{
		"storage":      "ok",
		"source_types": "ok",
	}
	if _, err := s.bootstrap.Root(); err != nil {
		components["storage"] = err.Error()
	}
	if len(s.types.Types()) == 0 {
		components["source_types"] = "none registered"
	}

	return input.HealthDetails{
		Healthy:      s.IsHealthy(ctx),
		Ready:        s.IsReady(ctx),
		MapInstances: s.pool.Len(),
		Databases:    s.bootstrap.Len(),
		Components:   components,
	}
}

// DatabaseHealth contains health info for a single open database.
type DatabaseHealth struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Format   string `json:"format,omitempty"`
}

// GetDatabaseHealth returns health info for all open databases.
func (s *HealthService) GetDatabaseHealth(ctx context.Context) []DatabaseHealth {
	tilesets := s.bootstrap.Tilesets()
	health := make([]DatabaseHealth, len(tilesets))
	for i, ts := range tilesets {
		health[i] = DatabaseHealth{
			Name:     ts.Name,
			Location: ts.Location,
			Format:   ts.Format,
		}
	}
	return health
}
