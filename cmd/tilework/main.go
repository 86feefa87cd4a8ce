// Package main provides the entry point for the tilework map tile worker service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/tilework/internal/app"
	"github.com/jobrunner/tilework/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var (
	cfgFile string
	v       = viper.New()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tilework",
	Short: "tilework - map tile worker service",
	Long: `tilework serves the background tile worker of map clients.

Each map instance gets its own worker that loads, caches, aborts and removes
tiles for vector, raster, GeoJSON and elevation sources.

Features:
  - Offline tile databases provisioned from bundled assets (local, AWS S3, Azure, HTTP)
  - Online tile fetching with an on-disk response cache
  - Extension manifests for source types and text shaping
  - TLS with automatic certificate management
  - Prometheus metrics`,
	SilenceUsage: true,
	RunE:         runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("tilework %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

var openCmd = &cobra.Command{
	Use:   "open <location>",
	Short: "Provision and open a tile database, then print its metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runOpen,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().String("target", "", "runtime target (web, android, ios)")
	rootCmd.PersistentFlags().String("storage-type", "", "asset storage type (local, s3, azure, http)")
	rootCmd.PersistentFlags().String("storage-path", "", "local asset storage path")

	// Server flags
	rootCmd.Flags().String("host", "", "server host")
	rootCmd.Flags().Int("port", 0, "server port")
	rootCmd.Flags().Bool("online", false, "fetch tiles over the network")
	rootCmd.Flags().Bool("tls", false, "enable TLS")
	rootCmd.Flags().StringSlice("tls-domains", nil, "TLS domains")
	rootCmd.Flags().String("tls-email", "", "TLS email for Let's Encrypt")
	rootCmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")

	// Open flags
	openCmd.Flags().String("import-file", "", "database file to import on the web target")

	bind := map[string]*cobra.Command{
		"logging.level":               rootCmd,
		"logging.format":              rootCmd,
		"database.target":             rootCmd,
		"storage.type":                rootCmd,
		"storage.local_path":          rootCmd,
		"server.host":                 rootCmd,
		"server.port":                 rootCmd,
		"worker.online":               rootCmd,
		"tls.enabled":                 rootCmd,
		"tls.domains":                 rootCmd,
		"tls.email":                   rootCmd,
		"server.cors.allowed_origins": rootCmd,
		"database.web.import_file":    openCmd,
	}
	flags := map[string]string{
		"logging.level":               "log-level",
		"logging.format":              "log-format",
		"database.target":             "target",
		"storage.type":                "storage-type",
		"storage.local_path":          "storage-path",
		"server.host":                 "host",
		"server.port":                 "port",
		"worker.online":               "online",
		"tls.enabled":                 "tls",
		"tls.domains":                 "tls-domains",
		"tls.email":                   "tls-email",
		"server.cors.allowed_origins": "cors",
		"database.web.import_file":    "import-file",
	}
	for key, cmd := range bind {
		flag := cmd.PersistentFlags().Lookup(flags[key])
		if flag == nil {
			flag = cmd.Flags().Lookup(flags[key])
		}
		_ = v.BindPFlag(key, flag)
	}

	rootCmd.AddCommand(versionCmd, openCmd)
}

// loadConfig loads the configuration. Flags only override values when set.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWith(v, cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, syncLogger, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer syncLogger()
	slog.SetDefault(logger)

	logger.Info("starting tilework",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"target", cfg.Database.Target,
		"storage_type", cfg.Storage.Type,
		"online", cfg.Worker.Online,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address())
		if err := application.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func runOpen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, syncLogger, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer syncLogger()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg, logger, app.Options{Stdin: cmd.InOrStdin(), Stderr: cmd.ErrOrStderr()})
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if err := application.Shutdown(context.Background()); err != nil {
			logger.Warn("shutdown error", "error", err)
		}
	}()

	ts, err := application.OpenDatabase(ctx, args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(ts)
}
