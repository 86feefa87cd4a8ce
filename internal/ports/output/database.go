package output

import (
	"context"
	"io"

	"github.com/jobrunner/tilework/internal/domain"
)

// TileStore defines the secondary port for an opened offline tile database.
type TileStore interface {
	// ReadTile returns the raw bytes stored for a tile.
	ReadTile(ctx context.Context, id domain.TileID) ([]byte, error)

	// Metadata returns the metadata table of the database.
	Metadata(ctx context.Context) (map[string]string, error)

	// Tileset describes the opened database.
	Tileset() *domain.Tileset

	// Close releases the handle.
	Close() error
}

// OpenOptions describes a database handle to open.
type OpenOptions struct {
	Name           string // Database name
	Location       string // Requested location
	Path           string // Resolved file path
	NativeLocation string // Platform location parameter ("default", "Documents")
}

// DatabaseEngine defines the secondary port for the embedded database engine.
type DatabaseEngine interface {
	// OpenFile opens a native handle on a database file.
	OpenFile(ctx context.Context, opts OpenOptions) (TileStore, error)

	// OpenBytes builds an in-memory handle from the file's bytes.
	OpenBytes(ctx context.Context, opts OpenOptions, data []byte) (TileStore, error)
}

// PickedFile is a file selected by the operator.
type PickedFile struct {
	Name   string
	Size   int64
	Reader io.ReadCloser
}

// FilePicker defines the secondary port for operator file selection.
type FilePicker interface {
	// Pick asks the operator to select the source file for the named database.
	Pick(ctx context.Context, name string) (*PickedFile, error)
}
