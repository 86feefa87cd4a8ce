// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"
	"time"
)

// AssetStorage holds the database files bundled with the application. The
// bootstrap copies an asset into the storage root of the runtime target the
// first time its location is opened. Keys are slash separated and relative
// to the configured prefix.
type AssetStorage interface {
	// List returns the database assets.
	List(ctx context.Context) ([]Asset, error)

	// Download writes the asset at key to dest. A failed download leaves no
	// file at dest.
	Download(ctx context.Context, key string, dest string) error

	GetReader(ctx context.Context, key string) (io.ReadCloser, error)

	Exists(ctx context.Context, key string) (bool, error)
}

// Asset describes one bundled database file.
type Asset struct {
	Key     string
	Size    int64
	ModTime time.Time
	ETag    string // empty when the backend reports none
}

// StorageType selects the backend serving assets.
type StorageType string

// Storage backends.
const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
	StorageTypeAzure StorageType = "azure"
	StorageTypeHTTP  StorageType = "http"
)
