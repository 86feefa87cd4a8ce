// Package mbtiles provides the SQLite-based MBTiles database engine.
package mbtiles

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

const driverName = "sqlite3_mbtiles"

// Register a driver whose connections refuse writes.
func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			_, err := conn.Exec("PRAGMA query_only = ON", nil)
			return err
		},
	})
}

// Engine implements the DatabaseEngine port using go-sqlite3.
type Engine struct {
	metrics output.MetricsCollector

	mu   sync.Mutex
	open map[*Store]struct{}
}

// NewEngine creates a new MBTiles engine.
func NewEngine(metrics output.MetricsCollector) *Engine {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &Engine{
		metrics: metrics,
		open:    make(map[*Store]struct{}),
	}
}

// OpenFile opens a read-only native handle on an MBTiles file.
func (e *Engine) OpenFile(ctx context.Context, opts output.OpenOptions) (output.TileStore, error) {
	start := time.Now()
	db, err := e.openDB(ctx, fileDSN(opts.Path))
	e.observe("open_file", start, err)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: opts.Path, Err: err}
	}
	return e.newStore(ctx, db, opts, opts.Path)
}

// OpenBytes deserializes data into a private in-memory database.
func (e *Engine) OpenBytes(ctx context.Context, opts output.OpenOptions, data []byte) (output.TileStore, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("opening %s from empty buffer: %w", opts.Name, domain.ErrInvalidInput)
	}

	start := time.Now()
	db, err := e.openDB(ctx, ":memory:")
	if err == nil {
		err = deserialize(ctx, db, data)
		if err != nil {
			_ = db.Close()
		}
	}
	e.observe("open_bytes", start, err)
	if err != nil {
		return nil, &domain.StorageError{Operation: "deserialize", Key: opts.Name, Err: err}
	}
	return e.newStore(ctx, db, opts, "")
}

// Len returns the number of open stores.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.open)
}

func (e *Engine) newStore(ctx context.Context, db *sql.DB, opts output.OpenOptions, path string) (*Store, error) {
	metadata, err := readMetadata(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "metadata", Key: opts.Location, Err: err}
	}

	s := &Store{
		db:      db,
		tileset: domain.NewTileset(opts.Name, opts.Location, path, metadata),
		metrics: e.metrics,
	}
	s.release = func() {
		e.mu.Lock()
		delete(e.open, s)
		e.mu.Unlock()
	}

	e.mu.Lock()
	e.open[s] = struct{}{}
	e.mu.Unlock()
	return s, nil
}

// openDB opens the SQLite database with a single pooled connection.
func (e *Engine) openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	// In-memory databases live on one connection; keep it open.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (e *Engine) observe(op string, start time.Time, err error) {
	e.metrics.IncStorageOperations(op, err == nil)
	e.metrics.ObserveStorageDuration(op, time.Since(start))
}

// deserialize loads a serialized database image into the connection's main schema.
func deserialize(ctx context.Context, db *sql.DB, data []byte) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	return conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T: %w", driverConn, domain.ErrInternal)
		}
		return c.Deserialize(data, "")
	})
}

// fileDSN builds a read-only URI for path.
func fileDSN(path string) string {
	u := url.URL{Scheme: "file", Path: path, RawQuery: "mode=ro"}
	return u.String()
}

// readMetadata reads the MBTiles metadata table.
func readMetadata(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, value FROM metadata`)
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	metadata := make(map[string]string)
	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scanning metadata: %w", err)
		}
		metadata[name] = value.String
	}
	return metadata, rows.Err()
}
