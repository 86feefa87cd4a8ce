// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jobrunner/tilework/internal/adapters/extension"
	"github.com/jobrunner/tilework/internal/adapters/fetch"
	httpAdapter "github.com/jobrunner/tilework/internal/adapters/http"
	"github.com/jobrunner/tilework/internal/adapters/mbtiles"
	"github.com/jobrunner/tilework/internal/adapters/metrics"
	"github.com/jobrunner/tilework/internal/adapters/outbox"
	"github.com/jobrunner/tilework/internal/adapters/picker"
	"github.com/jobrunner/tilework/internal/adapters/storage"
	"github.com/jobrunner/tilework/internal/adapters/tilesource"
	tlsAdapter "github.com/jobrunner/tilework/internal/adapters/tls"
	"github.com/jobrunner/tilework/internal/adapters/watcher"
	"github.com/jobrunner/tilework/internal/application"
	"github.com/jobrunner/tilework/internal/config"
	"github.com/jobrunner/tilework/internal/domain"
	"github.com/jobrunner/tilework/internal/ports/output"
)

// Options carries the process streams used by interactive adapters.
type Options struct {
	Stdin  io.Reader
	Stderr io.Writer
}

// App holds all application components.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Metrics    *metrics.Collector
	Assets     output.AssetStorage
	Bootstrap  *application.DatabaseBootstrap
	Types      *application.SourceTypeTable
	Shaping    *application.TextShaping
	Cache      *fetch.DiskCache
	Janitor    *application.CacheJanitor
	Outbox     *outbox.Outbox
	Pool       *application.WorkerPool
	Health     *application.HealthService
	HTTPServer *httpAdapter.Server
	TLSServer  *tlsAdapter.Server
	Watcher    *watcher.Watcher
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	app := &App{
		Config: cfg,
		Logger: logger,
	}

	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("tilework")
		metricsCollector = app.Metrics
	}

	// Bundled asset storage
	assets, err := storage.New(ctx, storageConfig(cfg.Storage))
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Assets = storage.NewInstrumented(assets, metricsCollector)

	// Database bootstrap
	app.Bootstrap = application.NewDatabaseBootstrap(
		application.BootstrapConfig{
			Target:               cfg.Database.RuntimeTarget(),
			AssetPrefix:          cfg.Database.AssetPrefix,
			WebPersistentDir:     cfg.Database.Web.PersistentDir,
			WebQuotaBytes:        cfg.Database.Web.QuotaBytes,
			AndroidAppStorageDir: cfg.Database.Android.AppStorageDir,
			IOSDocumentsDir:      cfg.Database.IOS.DocumentsDir,
		},
		mbtiles.NewEngine(metricsCollector),
		newPicker(cfg.Database.Web, opts),
		app.Assets,
		metricsCollector,
		logger,
	)

	// Source types and text shaping
	app.Shaping = application.NewTextShaping()
	app.Types = application.NewSourceTypeTable(app.Shaping)
	if err := tilesource.Register(app.Types); err != nil {
		return nil, fmt.Errorf("registering source types: %w", err)
	}

	// Online response cache
	app.Cache, err = fetch.NewDiskCache(cfg.Fetch.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("initializing response cache: %w", err)
	}
	app.Janitor = application.NewCacheJanitor(app.Cache, cfg.Fetch.CacheMaxBytes, cfg.Fetch.JanitorInterval, logger)

	fetcher := fetch.NewHTTPFetcher(fetch.Config{
		Timeout:   cfg.Fetch.Timeout,
		UserAgent: cfg.Fetch.UserAgent,
	}, app.Cache, logger)

	loader := extension.NewLoader(extension.Config{
		AllowedSchemes: cfg.Extensions.AllowedSchemes,
		Timeout:        cfg.Extensions.Timeout,
	}, tilesource.Catalog(), logger)

	app.Outbox = outbox.New(cfg.Worker.OutboxSize, metricsCollector)

	app.Pool = application.NewWorkerPool(application.WorkerDeps{
		Types:         app.Types,
		Shaping:       app.Shaping,
		Elevation:     tilesource.NewDEMSource,
		Sender:        app.Outbox,
		Importer:      loader,
		Cache:         app.Cache,
		Stores:        app.Bootstrap,
		Fetcher:       fetcher,
		Online:        cfg.Worker.Online,
		CacheCapacity: cfg.Worker.OfflineCacheCapacity,
		QueueSize:     cfg.Worker.QueueSize,
		Metrics:       metricsCollector,
		Logger:        logger,
	})

	app.Health = application.NewHealthService(app.Pool, app.Bootstrap, app.Types)

	services := httpAdapter.Services{
		Dispatcher: app.Pool,
		Messages:   app.Outbox,
		Databases:  app.Bootstrap,
		Trimmer:    app.Janitor,
		Health:     app.Health,
		OnRelease:  app.Outbox.Forget,
	}
	if app.Metrics != nil {
		services.Metrics = app.Metrics.Handler()
		services.MetricsPath = cfg.Metrics.Path
		services.MetricsMiddleware = app.Metrics.Middleware
	}
	app.HTTPServer = httpAdapter.NewServer(cfg.Server, services, logger)

	if cfg.TLS.Enabled {
		tlsServer, err := tlsAdapter.NewServer(
			tlsAdapter.Config{
				Enabled:  cfg.TLS.Enabled,
				Domains:  cfg.TLS.Domains,
				Email:    cfg.TLS.Email,
				CacheDir: cfg.TLS.CacheDir,
				Staging:  cfg.TLS.Staging,
				DNS: tlsAdapter.DNSConfig{
					SubscriptionID:    cfg.TLS.DNS.SubscriptionID,
					ResourceGroupName: cfg.TLS.DNS.ResourceGroupName,
					ClientID:          cfg.TLS.DNS.ClientID,
				},
			},
			app.HTTPServer.Handler(),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
		app.TLSServer = tlsServer
	}

	// Invalidate handles when provisioned files change on disk.
	if root, err := app.Bootstrap.Root(); err == nil {
		if err := os.MkdirAll(root, 0o755); err != nil {
			logger.Warn("failed to create storage root", "path", root, "error", err)
		}
		w, err := watcher.New(
			watcher.Config{
				Paths: []string{root},
				Match: storage.IsDatabaseFile,
			},
			app.handleFileEvent,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			app.Watcher = w
		}
	} else {
		logger.Warn("storage root unavailable", "target", cfg.Database.Target, "error", err)
	}

	return app, nil
}

// Start starts all application components and serves until the server stops.
func (a *App) Start(ctx context.Context) error {
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	a.Janitor.Start(ctx)

	if a.TLSServer != nil {
		return a.TLSServer.ListenAndServe(a.Config.Server.Address(), a.Config.Server.ReadTimeout, a.Config.Server.WriteTimeout)
	}
	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	var errs []error

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}
	a.Janitor.Stop()

	if a.TLSServer != nil {
		if err := a.TLSServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("TLS server shutdown: %w", err))
		}
	}
	if err := a.HTTPServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}

	if err := a.Pool.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing workers: %w", err))
	}
	if err := a.Bootstrap.CloseAll(); err != nil {
		errs = append(errs, fmt.Errorf("closing databases: %w", err))
	}

	return errors.Join(errs...)
}

// handleFileEvent drops cached handles of database files that changed,
// disappeared or were replaced by a rename. The next open provisions and
// opens them again.
func (a *App) handleFileEvent(_ context.Context, event watcher.Event) error {
	a.Logger.Info("file event", "path", event.Path, "operation", event.Operation.String())

	path := filepath.Clean(event.Path)
	switch event.Operation {
	case watcher.OpCreate:
		// An atomic rename over an open file only reports a create.
		a.Bootstrap.ForgetReplaced(path)
	case watcher.OpModify, watcher.OpDelete:
		a.Bootstrap.Forget(path)
	}
	return nil
}

// newPicker returns the file picker for the web target. A configured import
// file skips the interactive prompt.
func newPicker(cfg config.WebDatabaseConfig, opts Options) output.FilePicker {
	if cfg.ImportFile != "" {
		return picker.NewStaticPicker(cfg.ImportFile)
	}
	return picker.NewTerminalPicker(opts.Stdin, opts.Stderr)
}

func storageConfig(cfg config.StorageConfig) storage.Config {
	return storage.Config{
		Type:      output.StorageType(cfg.Type),
		LocalPath: cfg.LocalPath,
		S3: storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		},
		Azure: storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		},
		HTTP: storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		},
	}
}

// OpenDatabase opens a database through the bootstrap without starting the server.
func (a *App) OpenDatabase(ctx context.Context, location string) (*domain.Tileset, error) {
	return a.Bootstrap.Open(ctx, location)
}
