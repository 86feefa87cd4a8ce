package mbtiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

const tileQuery = `SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`

// Store implements the TileStore port over one MBTiles database.
type Store struct {
	db      *sql.DB
	tileset *domain.Tileset
	metrics output.MetricsCollector

	once    sync.Once
	release func()
}

// ReadTile returns the tile data for an XYZ tile id. MBTiles rows are stored
// in TMS order, so the row is flipped.
func (s *Store) ReadTile(ctx context.Context, id domain.TileID) ([]byte, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	var data []byte
	err := s.db.QueryRowContext(ctx, tileQuery, id.Z, id.X, id.TMSRow()).Scan(&data)
	s.metrics.ObserveStorageDuration("read_tile", time.Since(start))

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.metrics.IncStorageOperations("read_tile", true)
		return nil, fmt.Errorf("%s in %s: %w", id, s.tileset.Name, domain.ErrTileNotFound)
	case err != nil:
		s.metrics.IncStorageOperations("read_tile", false)
		return nil, &domain.StorageError{Operation: "read_tile", Key: id.String(), Err: err}
	}
	s.metrics.IncStorageOperations("read_tile", true)
	return data, nil
}

// Metadata returns the metadata table.
func (s *Store) Metadata(ctx context.Context) (map[string]string, error) {
	return readMetadata(ctx, s.db)
}

// Tileset describes the opened database.
func (s *Store) Tileset() *domain.Tileset {
	return s.tileset
}

// Close closes the database. Closing twice is a no-op.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		err = s.db.Close()
		if s.release != nil {
			s.release()
		}
	})
	return err
}
