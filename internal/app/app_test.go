package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/viper"

	"github.com/jobrunner/tilework/internal/adapters/watcher"
	"github.com/jobrunner/tilework/internal/config"
	"github.com/jobrunner/tilework/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()

	v := viper.New()
	v.Set("storage.local_path", filepath.Join(base, "assets"))
	v.Set("database.android.app_storage_dir", filepath.Join(base, "app"))
	v.Set("fetch.cache_dir", filepath.Join(base, "cache"))
	v.Set("fetch.janitor_interval", time.Duration(0))

	cfg, err := config.LoadWith(v, "")
	if err != nil {
		t.Fatalf("LoadWith() error = %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(context.Background(), testConfig(t), logger, Options{Stdin: strings.NewReader(""), Stderr: io.Discard})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return a
}

func TestNew_WiresServices(t *testing.T) {
	a := newTestApp(t)

	if a.Metrics == nil {
		t.Error("metrics are enabled by default")
	}
	if len(a.Types.Types()) == 0 {
		t.Error("built-in source types should be registered")
	}
	if a.Watcher == nil {
		t.Error("storage root should be watched")
	}

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health/ready", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodPost, "/api/v1/maps/m/rpc/syncRTLPluginState", http.StatusOK},
		{http.MethodGet, "/api/v1/maps/m/messages", http.StatusOK},
		{http.MethodDelete, "/api/v1/maps/m", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			a.HTTPServer.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestOpenDatabase_MissingAsset(t *testing.T) {
	a := newTestApp(t)

	_, err := a.OpenDatabase(context.Background(), "tiles/absent.db")
	if !errors.Is(err, domain.ErrDatabaseNotFound) {
		t.Fatalf("OpenDatabase() error = %v, want ErrDatabaseNotFound", err)
	}
	var perr *domain.ProvisionError
	if !errors.As(err, &perr) {
		t.Errorf("error should be a ProvisionError, got %T", err)
	}
}

func TestHandleFileEvent(t *testing.T) {
	a := newTestApp(t)
	root, err := a.Bootstrap.Root()
	if err != nil {
		t.Fatal(err)
	}

	for _, op := range []watcher.Operation{watcher.OpCreate, watcher.OpModify, watcher.OpDelete} {
		event := watcher.Event{Path: filepath.Join(root, "region.db"), Operation: op}
		if err := a.handleFileEvent(context.Background(), event); err != nil {
			t.Errorf("handleFileEvent(%s) error = %v", op, err)
		}
	}
}

// writeMBTiles creates a minimal MBTiles database at path.
func writeMBTiles(t *testing.T, path string) {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	for _, stmt := range []string{
		`CREATE TABLE metadata (name TEXT, value TEXT)`,
		`CREATE TABLE tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB)`,
		`INSERT INTO metadata VALUES ('name', 'region'), ('format', 'pbf')`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
}

func TestHandleFileEvent_RenameOverOpenDatabase(t *testing.T) {
	a := newTestApp(t)
	root, err := a.Bootstrap.Root()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(root, "region.db")
	writeMBTiles(t, target)

	ctx := context.Background()
	if _, err := a.OpenDatabase(ctx, "tiles/region.db"); err != nil {
		t.Fatalf("OpenDatabase() error = %v", err)
	}

	// A create for the file the handle was opened on keeps the handle.
	if err := a.handleFileEvent(ctx, watcher.Event{Path: target, Operation: watcher.OpCreate}); err != nil {
		t.Fatal(err)
	}
	if got := a.Bootstrap.Len(); got != 1 {
		t.Fatalf("Len() after create of same file = %d, want 1", got)
	}

	tmp := filepath.Join(root, ".region.db.next.part")
	writeMBTiles(t, tmp)
	if err := os.Rename(tmp, target); err != nil {
		t.Fatal(err)
	}

	if err := a.handleFileEvent(ctx, watcher.Event{Path: target, Operation: watcher.OpCreate}); err != nil {
		t.Fatal(err)
	}
	if got := a.Bootstrap.Len(); got != 0 {
		t.Errorf("Len() after rename over open database = %d, want 0", got)
	}
}
