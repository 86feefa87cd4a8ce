package extension

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockRegistry implements output.ExtensionRegistry for testing.
type mockRegistry struct {
	types  map[domain.SourceType]output.SourceFactory
	plugin output.TextShaper
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{types: make(map[domain.SourceType]output.SourceFactory)}
}

func (m *mockRegistry) RegisterSourceType(name domain.SourceType, factory output.SourceFactory) error {
	if _, ok := m.types[name]; ok {
		return fmt.Errorf("source type %q: %w", name, domain.ErrAlreadyRegistered)
	}
	m.types[name] = factory
	return nil
}

func (m *mockRegistry) LookupSourceType(name domain.SourceType) (output.SourceFactory, bool) {
	f, ok := m.types[name]
	return f, ok
}

func (m *mockRegistry) RegisterTextShapingPlugin(plugin output.TextShaper) error {
	if m.plugin != nil {
		return fmt.Errorf("text shaping plugin: %w", domain.ErrAlreadyRegistered)
	}
	m.plugin = plugin
	return nil
}

func nopFactory(output.SourceDeps) output.TileSource { return nil }

func testCatalog() map[string]output.SourceFactory {
	return map[string]output.SourceFactory{"vector": nopFactory, "geojson": nopFactory}
}
