package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jobrunner/tilework/internal/ports/output"
)

// LocalStorage implements AssetStorage over a directory of bundled assets.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage adapter.
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// List returns all database files below the base directory.
func (s *LocalStorage) List(ctx context.Context) ([]output.Asset, error) {
	var objects []output.Asset

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsDatabaseFile(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}

		objects = append(objects, output.Asset{
			Key:     filepath.ToSlash(relPath),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, storageError("list", s.basePath, err, false)
	}

	return objects, nil
}

// Download copies an asset to dest. Copying a file onto itself is a no-op.
func (s *LocalStorage) Download(ctx context.Context, key string, dest string) error {
	srcPath := s.FullPath(key)
	if srcPath == dest {
		return nil
	}

	src, err := os.Open(srcPath) //#nosec G304 -- key is resolved below the asset root
	if err != nil {
		return storageError("download", key, err, isNotExist(err))
	}
	defer func() { _ = src.Close() }()

	if err := writeObject(dest, src); err != nil {
		return storageError("download", key, err, false)
	}
	return nil
}

// GetReader returns a reader for the given asset.
func (s *LocalStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.FullPath(key)) //#nosec G304 -- key is resolved below the asset root
	if err != nil {
		return nil, storageError("get_reader", key, err, isNotExist(err))
	}
	return f, nil
}

// Exists checks if an asset exists.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.FullPath(key))
	switch {
	case err == nil:
		return true, nil
	case isNotExist(err):
		return false, nil
	default:
		return false, storageError("exists", key, err, false)
	}
}

// FullPath returns the full path for a key.
func (s *LocalStorage) FullPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}
