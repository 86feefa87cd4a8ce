package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"

	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// Provisioning steps reported in ProvisionError.
const (
	StepResolveName = "resolve-name"
	StepResolveRoot = "resolve-root"
	StepLocate      = "locate"
	StepProvision   = "provision"
	StepOpen        = "open"
)

// ErrQuotaExceeded is returned when a selected file does not fit the web storage quota.
var ErrQuotaExceeded = fmt.Errorf("storage quota exceeded: %w", domain.ErrUnavailable)

// BootstrapConfig selects the storage roots of the runtime targets.
type BootstrapConfig struct {
	Target               domain.RuntimeTarget
	AssetPrefix          string
	WebPersistentDir     string
	WebQuotaBytes        int64
	AndroidAppStorageDir string
	IOSDocumentsDir      string
}

type handleEntry struct {
	store  output.TileStore
	path   string
	file   os.FileInfo // file at path when the handle was opened
	opened time.Time
}

// DatabaseBootstrap resolves database names to open handles, provisioning the
// database file on first use.
type DatabaseBootstrap struct {
	cfg     BootstrapConfig
	engine  output.DatabaseEngine
	picker  output.FilePicker
	assets  output.AssetStorage
	metrics output.MetricsCollector
	logger  *slog.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	handles map[string]*handleEntry
}

// NewDatabaseBootstrap creates a new bootstrap for the configured runtime target.
// picker is only required on the web target and assets only on mobile targets.
func NewDatabaseBootstrap(
	cfg BootstrapConfig,
	engine output.DatabaseEngine,
	picker output.FilePicker,
	assets output.AssetStorage,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *DatabaseBootstrap {
	return &DatabaseBootstrap{
		cfg:     cfg,
		engine:  engine,
		picker:  picker,
		assets:  assets,
		metrics: metrics,
		logger:  logger,
		handles: make(map[string]*handleEntry),
	}
}

// Target returns the configured runtime target.
func (b *DatabaseBootstrap) Target() domain.RuntimeTarget {
	return b.cfg.Target
}

// Open resolves, provisions if needed, and opens a database.
func (b *DatabaseBootstrap) Open(ctx context.Context, location string) (*domain.Tileset, error) {
	store, err := b.OpenStore(ctx, location)
	if err != nil {
		return nil, err
	}
	return store.Tileset(), nil
}

// Resolve implements output.StoreResolver for source urls of the form
// mbtiles://<location>.
func (b *DatabaseBootstrap) Resolve(ctx context.Context, sourceURL string) (output.TileStore, error) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("source url %q: %w", sourceURL, domain.ErrInvalidInput)
	}
	if u.Scheme != "mbtiles" {
		return nil, fmt.Errorf("source url scheme %q: %w", u.Scheme, domain.ErrUnsupported)
	}
	return b.OpenStore(ctx, strings.TrimPrefix(u.Host+u.Path, "/"))
}

// OpenStore returns the handle for location. The file is provisioned at most once
// per storage root and name; later calls reuse the cached handle.
func (b *DatabaseBootstrap) OpenStore(ctx context.Context, location string) (output.TileStore, error) {
	name, err := databaseName(location)
	if err != nil {
		return nil, &domain.ProvisionError{Location: location, Step: StepResolveName, Err: err}
	}

	if store, ok := b.cached(name); ok {
		return store, nil
	}

	// The shared open outlives any single caller; each caller only stops
	// waiting when its own context ends.
	openCtx := context.WithoutCancel(ctx)
	ch := b.group.DoChan(name, func() (any, error) {
		if store, ok := b.cached(name); ok {
			return store, nil
		}
		return b.open(openCtx, location, name)
	})

	select {
	case <-ctx.Done():
		return nil, &domain.ProvisionError{Location: location, Step: StepOpen, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			b.logger.Debug("database open shared with concurrent caller", "name", name)
		}
		return res.Val.(output.TileStore), nil
	}
}

func (b *DatabaseBootstrap) cached(name string) (output.TileStore, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if e, ok := b.handles[name]; ok {
		return e.store, true
	}
	return nil, false
}

func (b *DatabaseBootstrap) open(ctx context.Context, location, name string) (output.TileStore, error) {
	root, err := b.resolveRoot()
	if err != nil {
		return nil, &domain.ProvisionError{Location: location, Step: StepResolveRoot, Err: err}
	}

	target := filepath.Join(root, name)
	_, err = os.Stat(target)
	switch {
	case err == nil:
		b.logger.Debug("database found", "name", name, "path", target)
	case errors.Is(err, fs.ErrNotExist):
		if err := b.provision(ctx, location, root, name, target); err != nil {
			return nil, &domain.ProvisionError{Location: location, Step: StepProvision, Err: err}
		}
	default:
		return nil, &domain.ProvisionError{Location: location, Step: StepLocate, Err: err}
	}

	store, err := b.openHandle(ctx, location, name, target)
	if err != nil {
		return nil, &domain.ProvisionError{Location: location, Step: StepOpen, Err: err}
	}

	info, _ := os.Stat(target)

	b.mu.Lock()
	b.handles[name] = &handleEntry{store: store, path: target, file: info, opened: time.Now()}
	b.mu.Unlock()

	b.logger.Info("database opened", "name", name, "location", location, "target", b.cfg.Target)
	return store, nil
}

// resolveRoot returns the absolute storage root of the runtime target.
func (b *DatabaseBootstrap) resolveRoot() (string, error) {
	dir, err := b.targetRoot()
	if err != nil {
		return "", err
	}
	return filepath.Abs(dir)
}

func (b *DatabaseBootstrap) targetRoot() (string, error) {
	switch b.cfg.Target {
	case domain.TargetWeb:
		if b.cfg.WebPersistentDir == "" {
			return "", fmt.Errorf("persistent storage directory: %w", domain.ErrCapabilityMissing)
		}
		if err := os.MkdirAll(b.cfg.WebPersistentDir, 0o755); err != nil {
			return "", err
		}
		return b.cfg.WebPersistentDir, nil

	case domain.TargetAndroid:
		if b.cfg.AndroidAppStorageDir == "" {
			return "", fmt.Errorf("application storage directory: %w", domain.ErrCapabilityMissing)
		}
		dir := filepath.Join(b.cfg.AndroidAppStorageDir, "databases")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		return dir, nil

	case domain.TargetIOS:
		if b.cfg.IOSDocumentsDir == "" {
			return "", fmt.Errorf("documents directory: %w", domain.ErrCapabilityMissing)
		}
		info, err := os.Stat(b.cfg.IOSDocumentsDir)
		if err != nil {
			return "", fmt.Errorf("documents directory %s: %v: %w", b.cfg.IOSDocumentsDir, err, domain.ErrCapabilityMissing)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("documents directory %s is not a directory: %w", b.cfg.IOSDocumentsDir, domain.ErrCapabilityMissing)
		}
		return b.cfg.IOSDocumentsDir, nil

	default:
		return "", fmt.Errorf("runtime target %q: %w", b.cfg.Target, domain.ErrPlatformNotSupported)
	}
}

// provision copies the database into root under name. A lock file guards
// against concurrent provisioning by other processes.
func (b *DatabaseBootstrap) provision(ctx context.Context, location, root, name, target string) (err error) {
	start := time.Now()
	defer func() {
		b.metrics.IncProvision(string(b.cfg.Target), err == nil)
		b.metrics.ObserveProvisionDuration(string(b.cfg.Target), time.Since(start))
	}()

	lock := flock.New(filepath.Join(root, "."+name+".lock"))
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring provisioning lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("provisioning lock for %s: %w", name, domain.ErrConflict)
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil {
			b.logger.Warn("failed to release provisioning lock", "name", name, "error", uerr)
		}
		_ = os.Remove(lock.Path())
	}()

	// Another process may have finished while we waited for the lock.
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	b.logger.Info("provisioning database", "name", name, "location", location, "target", b.cfg.Target)

	tmp, err := os.CreateTemp(root, "."+name+".*.part")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if b.cfg.Target == domain.TargetWeb {
		err = b.copyPicked(ctx, name, tmp)
	} else {
		_ = tmp.Close()
		err = b.copyAsset(ctx, location, tmpPath)
	}
	if err != nil {
		return err
	}

	if err = os.Rename(tmpPath, target); err != nil {
		return err
	}

	b.logger.Info("database provisioned", "name", name, "path", target, "duration", time.Since(start))
	return nil
}

// copyPicked copies an operator-selected file into dst and closes dst.
func (b *DatabaseBootstrap) copyPicked(ctx context.Context, name string, dst *os.File) error {
	defer dst.Close()

	if b.picker == nil {
		return fmt.Errorf("file picker: %w", domain.ErrCapabilityMissing)
	}

	picked, err := b.picker.Pick(ctx, name)
	if err != nil {
		return fmt.Errorf("selecting file: %w", err)
	}
	defer picked.Reader.Close()

	quota := b.cfg.WebQuotaBytes
	if quota > 0 && picked.Size > quota {
		return fmt.Errorf("%s is %d bytes, quota is %d: %w", picked.Name, picked.Size, quota, ErrQuotaExceeded)
	}

	var src io.Reader = picked.Reader
	if quota > 0 {
		src = io.LimitReader(picked.Reader, quota+1)
	}
	n, err := io.Copy(dst, src)
	if err != nil {
		return fmt.Errorf("copying %s: %w", picked.Name, err)
	}
	if quota > 0 && n > quota {
		return fmt.Errorf("%s exceeds quota of %d bytes: %w", picked.Name, quota, ErrQuotaExceeded)
	}
	return dst.Sync()
}

// copyAsset downloads the bundled asset for location into dst.
func (b *DatabaseBootstrap) copyAsset(ctx context.Context, location, dst string) error {
	if b.assets == nil {
		return fmt.Errorf("bundled asset storage: %w", domain.ErrCapabilityMissing)
	}

	key := path.Join(b.cfg.AssetPrefix, filepath.ToSlash(location))
	start := time.Now()
	err := b.assets.Download(ctx, key, dst)
	b.metrics.IncStorageOperations("download", err == nil)
	b.metrics.ObserveStorageDuration("download", time.Since(start))
	if err != nil {
		return fmt.Errorf("copying bundled asset %s: %w", key, err)
	}
	return nil
}

// openHandle opens the database file as an in-memory engine (web) or a native
// handle (mobile).
func (b *DatabaseBootstrap) openHandle(ctx context.Context, location, name, target string) (output.TileStore, error) {
	if b.engine == nil {
		return nil, fmt.Errorf("database engine: %w", domain.ErrCapabilityMissing)
	}

	opts := output.OpenOptions{
		Name:     name,
		Location: location,
		Path:     target,
	}

	if b.cfg.Target == domain.TargetWeb {
		data, err := os.ReadFile(target)
		if err != nil {
			return nil, err
		}
		return b.engine.OpenBytes(ctx, opts, data)
	}

	opts.NativeLocation = b.cfg.Target.DatabaseLocation()
	return b.engine.OpenFile(ctx, opts)
}

// Close releases the handle of a database. Closing an unknown name is a no-op.
func (b *DatabaseBootstrap) Close(name string) error {
	b.mu.Lock()
	e, ok := b.handles[name]
	delete(b.handles, name)
	b.mu.Unlock()

	if !ok {
		return nil
	}
	b.logger.Info("database closed", "name", name)
	return e.store.Close()
}

// Forget drops the handle backed by the file at path. It is used when a
// provisioned file is modified or disappears from the storage root.
func (b *DatabaseBootstrap) Forget(filePath string) {
	if name, _, ok := b.handleAt(filePath); ok {
		b.forget(name)
	}
}

// ForgetReplaced drops the handle backed by path when another file now sits
// at path, as after an atomic rename over it. A handle whose file is still in
// place is kept.
func (b *DatabaseBootstrap) ForgetReplaced(filePath string) {
	name, e, ok := b.handleAt(filePath)
	if !ok {
		return
	}
	if cur, err := os.Stat(e.path); err == nil && e.file != nil && os.SameFile(e.file, cur) {
		return
	}
	b.forget(name)
}

func (b *DatabaseBootstrap) handleAt(filePath string) (string, *handleEntry, bool) {
	if abs, err := filepath.Abs(filePath); err == nil {
		filePath = abs
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for n, e := range b.handles {
		if e.path == filePath {
			return n, e, true
		}
	}
	return "", nil, false
}

func (b *DatabaseBootstrap) forget(name string) {
	if err := b.Close(name); err != nil {
		b.logger.Warn("failed to close forgotten database", "name", name, "error", err)
	}
}

// Root returns the storage root of the runtime target.
func (b *DatabaseBootstrap) Root() (string, error) {
	return b.resolveRoot()
}

// Tilesets returns the open databases.
func (b *DatabaseBootstrap) Tilesets() []*domain.Tileset {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*domain.Tileset, 0, len(b.handles))
	for _, e := range b.handles {
		out = append(out, e.store.Tileset())
	}
	return out
}

// Len returns the number of open databases.
func (b *DatabaseBootstrap) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handles)
}

// CloseAll releases every handle.
func (b *DatabaseBootstrap) CloseAll() error {
	b.mu.Lock()
	handles := b.handles
	b.handles = make(map[string]*handleEntry)
	b.mu.Unlock()

	var errs []error
	for name, e := range handles {
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// databaseName derives the file name from the final path segment of location.
func databaseName(location string) (string, error) {
	clean := strings.TrimRight(filepath.ToSlash(strings.TrimSpace(location)), "/")
	name := path.Base(clean)
	if clean == "" || name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("database location %q: %w", location, domain.ErrInvalidInput)
	}
	return name, nil
}
