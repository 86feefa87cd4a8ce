// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/jobrunner/tilework/internal/domain"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "TILEWORK"

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Extensions ExtensionsConfig `mapstructure:"extensions"`
	TLS        TLSConfig        `mapstructure:"tls"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// WorkerConfig holds the per-map worker settings.
type WorkerConfig struct {
	Online               bool `mapstructure:"online"`
	QueueSize            int  `mapstructure:"queue_size"`
	OfflineCacheCapacity int  `mapstructure:"offline_cache_capacity"`
	OutboxSize           int  `mapstructure:"outbox_size"`
}

// DatabaseConfig holds database bootstrap configuration.
type DatabaseConfig struct {
	Target      string                `mapstructure:"target"` // web, android, ios
	AssetPrefix string                `mapstructure:"asset_prefix"`
	Web         WebDatabaseConfig     `mapstructure:"web"`
	Android     AndroidDatabaseConfig `mapstructure:"android"`
	IOS         IOSDatabaseConfig     `mapstructure:"ios"`
}

// WebDatabaseConfig holds the sandboxed web storage settings.
type WebDatabaseConfig struct {
	PersistentDir string `mapstructure:"persistent_dir"`
	QuotaBytes    int64  `mapstructure:"quota_bytes"`
	ImportFile    string `mapstructure:"import_file"` // empty: ask on the terminal
}

// AndroidDatabaseConfig holds the Android storage settings.
type AndroidDatabaseConfig struct {
	AppStorageDir string `mapstructure:"app_storage_dir"`
}

// IOSDatabaseConfig holds the iOS storage settings.
type IOSDatabaseConfig struct {
	DocumentsDir string `mapstructure:"documents_dir"`
}

// StorageConfig holds the bundled asset storage configuration.
type StorageConfig struct {
	Type      string      `mapstructure:"type"` // s3, azure, http, local
	LocalPath string      `mapstructure:"local_path"`
	S3        S3Config    `mapstructure:"s3"`
	Azure     AzureConfig `mapstructure:"azure"`
	HTTP      HTTPConfig  `mapstructure:"http"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// FetchConfig holds the online tile fetcher configuration.
type FetchConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	CacheDir        string        `mapstructure:"cache_dir"`
	CacheMaxBytes   int64         `mapstructure:"cache_max_bytes"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

// ExtensionsConfig holds extension manifest loading configuration.
type ExtensionsConfig struct {
	AllowedSchemes []string      `mapstructure:"allowed_schemes"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool         `mapstructure:"enabled"`
	Domains  []string     `mapstructure:"domains"`
	Email    string       `mapstructure:"email"`
	CacheDir string       `mapstructure:"cache_dir"`
	Staging  bool         `mapstructure:"staging"` // Use Let's Encrypt staging
	DNS      TLSDNSConfig `mapstructure:"dns"`
}

// TLSDNSConfig holds the Azure DNS zone used for DNS-01 challenges.
type TLSDNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values on v.
func Defaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.cors.allowed_origins", []string{})

	// Worker defaults
	v.SetDefault("worker.online", false)
	v.SetDefault("worker.queue_size", 256)
	v.SetDefault("worker.offline_cache_capacity", 10)
	v.SetDefault("worker.outbox_size", 1024)

	// Database defaults
	v.SetDefault("database.target", string(domain.TargetAndroid))
	v.SetDefault("database.asset_prefix", "www")
	v.SetDefault("database.web.persistent_dir", filepath.Join(xdg.DataHome, "tilework", "web"))
	v.SetDefault("database.web.quota_bytes", int64(1<<30))
	v.SetDefault("database.android.app_storage_dir", filepath.Join(xdg.DataHome, "tilework"))
	v.SetDefault("database.ios.documents_dir", xdg.UserDirs.Documents)

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./assets")
	v.SetDefault("storage.http.index_file", "index.txt")
	v.SetDefault("storage.http.timeout", 5*time.Minute)

	// Fetch defaults
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.user_agent", "tilework")
	v.SetDefault("fetch.cache_dir", filepath.Join(xdg.CacheHome, "tilework", "tiles"))
	v.SetDefault("fetch.cache_max_bytes", int64(50<<20))
	v.SetDefault("fetch.janitor_interval", 10*time.Minute)

	// Extensions defaults
	v.SetDefault("extensions.allowed_schemes", []string{"file", "https", "http"})
	v.SetDefault("extensions.timeout", 30*time.Second)

	// TLS defaults
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cache_dir", filepath.Join(xdg.DataHome, "tilework", "certmagic"))
	v.SetDefault("tls.staging", false)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	return LoadWith(viper.New(), configPath)
}

// LoadWith loads configuration into v. Flags bound to v take precedence.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	Defaults(v)

	// Environment variable binding
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, "tilework"))
		v.AddConfigPath("/etc/tilework")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return configError("server.port", fmt.Sprintf("invalid port %d", c.Server.Port))
	}

	if c.Worker.OfflineCacheCapacity < 1 {
		return configError("worker.offline_cache_capacity", "must be at least 1")
	}
	if c.Worker.QueueSize < 1 {
		return configError("worker.queue_size", "must be at least 1")
	}

	target, err := domain.ParseRuntimeTarget(c.Database.Target)
	if err != nil {
		return configError("database.target", err.Error())
	}
	switch target {
	case domain.TargetWeb:
		if c.Database.Web.PersistentDir == "" {
			return configError("database.web.persistent_dir", "required for the web target")
		}
		if c.Database.Web.QuotaBytes < 0 {
			return configError("database.web.quota_bytes", "must not be negative")
		}
	case domain.TargetAndroid:
		if c.Database.Android.AppStorageDir == "" {
			return configError("database.android.app_storage_dir", "required for the android target")
		}
	case domain.TargetIOS:
		if c.Database.IOS.DocumentsDir == "" {
			return configError("database.ios.documents_dir", "required for the ios target")
		}
	}

	if c.Fetch.CacheMaxBytes < 0 {
		return configError("fetch.cache_max_bytes", "must not be negative")
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return configError("tls.domains", "TLS enabled but no domains specified")
		}
		if c.TLS.Email == "" {
			return configError("tls.email", "TLS enabled but no email specified")
		}
	}

	return c.validateStorage()
}

func (c *Config) validateStorage() error {
	switch c.Storage.Type {
	case "local":
		if c.Storage.LocalPath == "" {
			return configError("storage.local_path", "local storage path is required")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return configError("storage.s3.bucket", "S3 bucket is required")
		}
		if c.Storage.S3.Region == "" {
			return configError("storage.s3.region", "S3 region is required")
		}
	case "azure":
		if c.Storage.Azure.Container == "" {
			return configError("storage.azure.container", "azure container is required")
		}
		if c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
			return configError("storage.azure", "azure account name or connection string is required")
		}
	case "http":
		if c.Storage.HTTP.BaseURL == "" {
			return configError("storage.http.base_url", "HTTP base URL is required")
		}
	default:
		return configError("storage.type", fmt.Sprintf("unknown storage type: %s", c.Storage.Type))
	}
	return nil
}

func configError(field, message string) error {
	return &domain.ConfigError{Field: field, Message: message}
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RuntimeTarget returns the parsed database target.
func (c *DatabaseConfig) RuntimeTarget() domain.RuntimeTarget {
	t, _ := domain.ParseRuntimeTarget(c.Target)
	return t
}
