package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// Config represents the runtime configuration for the ledgercat service.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Registry     RegistryConfig     `mapstructure:"registry"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Resubmission ResubmissionConfig `mapstructure:"resubmission"`
	Migration    MigrationConfig    `mapstructure:"migration"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CatalogConfig tunes the read-through cache and the background sync.
type CatalogConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	SyncEnabled     bool          `mapstructure:"sync_enabled"`
	SyncInterval    time.Duration `mapstructure:"sync_interval"`
	SyncConcurrency int           `mapstructure:"sync_concurrency"`
	SyncPageSize    int           `mapstructure:"sync_page_size"`
}

// RegistryConfig points at the ledger indexer API.
type RegistryConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// StorageConfig selects and configures content backends.
type StorageConfig struct {
	Provider         string                 `mapstructure:"provider"`
	DualWrite        bool                   `mapstructure:"dual_write"`
	ContentCacheSize int                    `mapstructure:"content_cache_size"`
	FetchTimeout     time.Duration          `mapstructure:"fetch_timeout"`
	ProbeTimeout     time.Duration          `mapstructure:"probe_timeout"`
	UploadTimeout    time.Duration          `mapstructure:"upload_timeout"`
	Durable          DurableStorageConfig   `mapstructure:"durable"`
	Ephemeral        EphemeralStorageConfig `mapstructure:"ephemeral"`
}

// DurableStorageConfig configures the pinning backend.
type DurableStorageConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	APIURL   string   `mapstructure:"api_url"`
	APIToken string   `mapstructure:"api_token"`
	Gateways []string `mapstructure:"gateways"`
}

// EphemeralStorageConfig configures the TTL backend.
type EphemeralStorageConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	APIURL            string        `mapstructure:"api_url"`
	APIToken          string        `mapstructure:"api_token"`
	Gateways          []string      `mapstructure:"gateways"`
	TTL               time.Duration `mapstructure:"ttl"`
	ResubmitThreshold time.Duration `mapstructure:"resubmit_threshold"`
}

// ResubmissionConfig drives renewal of ephemeral content.
type ResubmissionConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	CheckInterval      time.Duration `mapstructure:"check_interval"`
	ExpiringSoonWindow time.Duration `mapstructure:"expiring_soon_window"`
}

// MigrationConfig holds defaults for migrations triggered without explicit options.
type MigrationConfig struct {
	BatchSize  int           `mapstructure:"batch_size"`
	BatchDelay time.Duration `mapstructure:"batch_delay"`
	DryRun     bool          `mapstructure:"dry_run"`
	Verify     bool          `mapstructure:"verify"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// JobMaxAge marks background jobs degraded when they have not succeeded for this long.
	JobMaxAge time.Duration `mapstructure:"job_max_age"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("LEDGERCAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations the storage and job layers cannot run with.
func (c *Config) Validate() error {
	var err error

	switch strings.ToLower(strings.TrimSpace(c.Storage.Provider)) {
	case "durable", "ephemeral", "auto":
	default:
		err = multierr.Append(err, fmt.Errorf("storage.provider must be durable, ephemeral or auto, got %q", c.Storage.Provider))
	}

	if c.Storage.Durable.Enabled && len(cleanList(c.Storage.Durable.Gateways)) == 0 {
		err = multierr.Append(err, errors.New("storage.durable.gateways must not be empty"))
	}

	eph := c.Storage.Ephemeral
	if eph.Enabled {
		if len(cleanList(eph.Gateways)) == 0 {
			err = multierr.Append(err, errors.New("storage.ephemeral.gateways must not be empty"))
		}
		if eph.TTL <= 0 {
			err = multierr.Append(err, errors.New("storage.ephemeral.ttl must be positive"))
		}
		if eph.ResubmitThreshold <= 0 || eph.ResubmitThreshold >= eph.TTL {
			err = multierr.Append(err, fmt.Errorf("storage.ephemeral.resubmit_threshold (%s) must be positive and below ttl (%s)", eph.ResubmitThreshold, eph.TTL))
		}
	}

	if c.Catalog.CacheTTL <= 0 {
		err = multierr.Append(err, errors.New("catalog.cache_ttl must be positive"))
	}
	if c.Migration.BatchSize <= 0 {
		err = multierr.Append(err, errors.New("migration.batch_size must be positive"))
	}

	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/ledgercat.sqlite")

	v.SetDefault("catalog.cache_ttl", "5m")
	v.SetDefault("catalog.sync_enabled", true)
	v.SetDefault("catalog.sync_interval", "5m")
	v.SetDefault("catalog.sync_concurrency", 4)
	v.SetDefault("catalog.sync_page_size", 100)

	v.SetDefault("registry.base_url", "http://127.0.0.1:8545")
	v.SetDefault("registry.timeout", "15s")
	v.SetDefault("registry.max_retries", 3)

	v.SetDefault("storage.provider", "durable")
	v.SetDefault("storage.dual_write", false)
	v.SetDefault("storage.content_cache_size", 1024)
	v.SetDefault("storage.fetch_timeout", "5s")
	v.SetDefault("storage.probe_timeout", "3s")
	v.SetDefault("storage.upload_timeout", "30s")

	v.SetDefault("storage.durable.enabled", true)
	v.SetDefault("storage.durable.api_url", "https://api.pinata.cloud")
	v.SetDefault("storage.durable.gateways", []string{
		"https://gateway.pinata.cloud/ipfs",
		"https://ipfs.io/ipfs",
		"https://cloudflare-ipfs.com/ipfs",
	})

	v.SetDefault("storage.ephemeral.enabled", false)
	v.SetDefault("storage.ephemeral.api_url", "")
	v.SetDefault("storage.ephemeral.gateways", []string{})
	v.SetDefault("storage.ephemeral.ttl", "336h")               // 14 days
	v.SetDefault("storage.ephemeral.resubmit_threshold", "240h") // 10 days

	v.SetDefault("resubmission.enabled", true)
	v.SetDefault("resubmission.check_interval", "6h")
	v.SetDefault("resubmission.expiring_soon_window", "24h")

	v.SetDefault("migration.batch_size", 10)
	v.SetDefault("migration.batch_delay", "1s")
	v.SetDefault("migration.dry_run", false)
	v.SetDefault("migration.verify", true)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
	v.SetDefault("monitoring.health_check.job_max_age", "12h")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
