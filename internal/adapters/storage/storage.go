// Package storage provides the bundled asset storage adapters.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// DatabaseExtensions are the file extensions listed as bundled databases.
var DatabaseExtensions = []string{".db", ".mbtiles", ".sqlite"}

// IsDatabaseFile reports whether name looks like a bundled tile database.
func IsDatabaseFile(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range DatabaseExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Config selects and configures a storage backend.
type Config struct {
	Type      output.StorageType
	LocalPath string
	S3        S3Config
	Azure     AzureConfig
	HTTP      HTTPConfig
}

// New creates the storage backend selected by cfg.Type.
func New(ctx context.Context, cfg Config) (output.AssetStorage, error) {
	switch cfg.Type {
	case output.StorageTypeLocal:
		return NewLocalStorage(cfg.LocalPath), nil
	case output.StorageTypeS3:
		return NewS3Storage(ctx, cfg.S3)
	case output.StorageTypeAzure:
		return NewAzureStorage(cfg.Azure)
	case output.StorageTypeHTTP:
		return NewHTTPStorage(cfg.HTTP), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q: %w", cfg.Type, domain.ErrInvalidInput)
	}
}

// writeObject streams body into dest, creating parent directories. A partial
// file is removed on failure.
func writeObject(dest string, body io.Reader) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	f, err := os.Create(dest) //#nosec G304 -- dest is a controlled local path
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dest)
		}
	}()

	_, err = io.Copy(f, body)
	return err
}

// storageError wraps a backend failure. notFound marks a missing object.
func storageError(op, key string, err error, notFound bool) error {
	if notFound {
		err = fmt.Errorf("%w: %w", err, domain.ErrDatabaseNotFound)
	} else {
		err = fmt.Errorf("%w: %w", err, domain.ErrStorageUnavailable)
	}
	return &domain.StorageError{Operation: op, Key: key, Err: err}
}

// Instrumented records metrics for every operation of the wrapped storage.
type Instrumented struct {
	next    output.AssetStorage
	metrics output.MetricsCollector
}

// NewInstrumented wraps next with metrics.
func NewInstrumented(next output.AssetStorage, metrics output.MetricsCollector) *Instrumented {
	return &Instrumented{next: next, metrics: metrics}
}

func (s *Instrumented) observe(op string, start time.Time, err error) {
	s.metrics.IncStorageOperations(op, err == nil)
	s.metrics.ObserveStorageDuration(op, time.Since(start))
}

// List implements output.AssetStorage.
func (s *Instrumented) List(ctx context.Context) ([]output.Asset, error) {
	start := time.Now()
	objects, err := s.next.List(ctx)
	s.observe("list", start, err)
	return objects, err
}

// Download implements output.AssetStorage.
func (s *Instrumented) Download(ctx context.Context, key, dest string) error {
	start := time.Now()
	err := s.next.Download(ctx, key, dest)
	s.observe("download", start, err)
	return err
}

// GetReader implements output.AssetStorage.
func (s *Instrumented) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	r, err := s.next.GetReader(ctx, key)
	s.observe("get_reader", start, err)
	return r, err
}

// Exists implements output.AssetStorage.
func (s *Instrumented) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := s.next.Exists(ctx, key)
	s.observe("exists", start, err)
	return ok, err
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrDatabaseNotFound)
}
