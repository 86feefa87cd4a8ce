package application

import (
	"fmt"
	"slices"
	"sync"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// SourceTypeTable is the process-wide table of source-type implementations.
// Entries are write-once: registering a taken name fails and keeps the first entry.
// It is shared by all workers.
type SourceTypeTable struct {
	mu        sync.RWMutex
	factories map[domain.SourceType]output.SourceFactory
	shaping   *TextShaping
}

// NewSourceTypeTable creates a table bound to the process text shaping state.
func NewSourceTypeTable(shaping *TextShaping) *SourceTypeTable {
	return &SourceTypeTable{
		factories: make(map[domain.SourceType]output.SourceFactory),
		shaping:   shaping,
	}
}

// RegisterSourceType adds a source type implementation.
func (t *SourceTypeTable) RegisterSourceType(name domain.SourceType, factory output.SourceFactory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("source type %q: %w", name, domain.ErrInvalidInput)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.factories[name]; exists {
		return fmt.Errorf("source type %q: %w", name, domain.ErrAlreadyRegistered)
	}
	t.factories[name] = factory
	return nil
}

// LookupSourceType returns the factory registered for name.
func (t *SourceTypeTable) LookupSourceType(name domain.SourceType) (output.SourceFactory, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.factories[name]
	return f, ok
}

// Types returns the registered source type names, sorted.
func (t *SourceTypeTable) Types() []domain.SourceType {
	t.mu.RLock()
	defer t.mu.RUnlock()

	types := make([]domain.SourceType, 0, len(t.factories))
	for name := range t.factories {
		types = append(types, name)
	}
	slices.Sort(types)
	return types
}

// RegisterTextShapingPlugin installs the process text shaping plugin.
func (t *SourceTypeTable) RegisterTextShapingPlugin(plugin output.TextShaper) error {
	return t.shaping.Register(plugin)
}

// TextShaping is the process-wide bidirectional text shaping plugin state.
type TextShaping struct {
	mu     sync.RWMutex
	state  domain.PluginState
	plugin output.TextShaper
}

// NewTextShaping creates an empty plugin state.
func NewTextShaping() *TextShaping {
	return &TextShaping{state: domain.PluginState{Status: domain.PluginUnavailable}}
}

// Register installs plugin. It fails if a plugin is already parsed.
func (s *TextShaping) Register(plugin output.TextShaper) error {
	if plugin == nil {
		return fmt.Errorf("text shaping plugin: %w", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plugin != nil {
		return fmt.Errorf("text shaping plugin %q: %w", s.plugin.Name(), domain.ErrAlreadyRegistered)
	}
	s.plugin = plugin
	s.state.Status = domain.PluginLoaded
	return nil
}

// SetState records the plugin status and url reported by the map.
func (s *TextShaping) SetState(state domain.PluginState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// State returns the recorded plugin state.
func (s *TextShaping) State() domain.PluginState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsParsed reports whether a plugin has been installed.
func (s *TextShaping) IsParsed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plugin != nil
}

// Shape applies the plugin to text if one is installed.
func (s *TextShaping) Shape(text string) (string, bool) {
	s.mu.RLock()
	p := s.plugin
	s.mu.RUnlock()

	if p == nil {
		return text, false
	}
	return p.Shape(text), true
}
