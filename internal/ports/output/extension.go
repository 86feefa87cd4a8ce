package output

import (
	"context"

	"github.com/jobrunner/tilework/internal/domain"
)

// ExtensionRegistry is the registration surface exposed to loaded extensions.
type ExtensionRegistry interface {
	// RegisterSourceType adds a source type. It fails if the name is taken.
	RegisterSourceType(name domain.SourceType, factory SourceFactory) error

	// LookupSourceType returns a registered factory.
	LookupSourceType(name domain.SourceType) (SourceFactory, bool)

	// RegisterTextShapingPlugin installs the plugin. It fails if one is already parsed.
	RegisterTextShapingPlugin(plugin TextShaper) error
}

// ScriptImporter defines the secondary port for loading extensions.
type ScriptImporter interface {
	// Import loads the extension at url and registers what it provides.
	Import(ctx context.Context, url string, registry ExtensionRegistry) error
}

// MessageSender defines the secondary port for messages to map instances.
type MessageSender interface {
	Send(ctx context.Context, mapID domain.MapInstanceID, msgType string, data any) error
}
