// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Site       SiteConfig       `mapstructure:"site"`
	Assets     AssetsConfig     `mapstructure:"assets"`
	Pages      PagesConfig      `mapstructure:"pages"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SiteConfig describes the site whose pages are scanned.
type SiteConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	DocumentRoot string `mapstructure:"document_root"`
	// CDNHosts maps a zone name to hosts that serve the site's own files.
	CDNHosts map[string][]string `mapstructure:"cdn_hosts"`
}

// AssetsConfig governs remote asset fetching and the on-disk cache.
type AssetsConfig struct {
	CacheDir       string  `mapstructure:"cache_dir"`
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RatePerHost    float64 `mapstructure:"rate_per_host"`
	Burst          int     `mapstructure:"burst"`
	MaxBytes       int64   `mapstructure:"max_bytes"`
}

// PagesConfig configures page fetching for warmup requests.
type PagesConfig struct {
	HeadlessEnabled     bool `mapstructure:"headless_enabled"`
	HeadlessMaxParallel int  `mapstructure:"headless_max_parallel"`
	NavTimeoutSeconds   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThreshold  int  `mapstructure:"promotion_threshold"`
}

// DispatcherConfig controls the background drain loop.
type DispatcherConfig struct {
	Workers       int           `mapstructure:"workers"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	DrainLimit    int           `mapstructure:"drain_limit"`
}

// StorageConfig selects the durable backend and its table names.
type StorageConfig struct {
	Backend        string `mapstructure:"backend"`
	SQLitePath     string `mapstructure:"sqlite_path"`
	PostgresDSN    string `mapstructure:"postgres_dsn"`
	ResourcesTable string `mapstructure:"resources_table"`
	UsedCSSTable   string `mapstructure:"used_css_table"`
	PendingTable   string `mapstructure:"pending_table"`
	AutoInstall    bool   `mapstructure:"auto_install"`
}

// ArchiveConfig selects where revision archives are written.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WARMUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("site.base_url", "http://localhost:8080")
	v.SetDefault("site.document_root", ".")
	v.SetDefault("assets.cache_dir", "cache/warmup")
	v.SetDefault("assets.user_agent", "asset-warmup/0.1")
	v.SetDefault("assets.timeout_seconds", 15)
	v.SetDefault("assets.rate_per_host", 2.0)
	v.SetDefault("assets.burst", 4)
	v.SetDefault("assets.max_bytes", 5<<20)
	v.SetDefault("pages.headless_enabled", false)
	v.SetDefault("pages.headless_max_parallel", 1)
	v.SetDefault("pages.nav_timeout_seconds", 25)
	v.SetDefault("pages.promotion_threshold", 60)
	v.SetDefault("dispatcher.workers", 2)
	v.SetDefault("dispatcher.retry_interval", "30s")
	v.SetDefault("dispatcher.drain_limit", 500)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.sqlite_path", "warmup.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.resources_table", "rucss_resources")
	v.SetDefault("storage.used_css_table", "rucss_used_css")
	v.SetDefault("storage.pending_table", "rucss_pending")
	v.SetDefault("storage.auto_install", true)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.local_dir", "archive")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "revisions")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	base, err := url.Parse(c.Site.BaseURL)
	if err != nil || !base.IsAbs() || base.Host == "" {
		return fmt.Errorf("site.base_url must be an absolute URL")
	}
	if c.Site.DocumentRoot == "" {
		return fmt.Errorf("site.document_root must be set")
	}
	if c.Assets.CacheDir == "" {
		return fmt.Errorf("assets.cache_dir must be set")
	}
	if c.Assets.TimeoutSeconds <= 0 {
		return fmt.Errorf("assets.timeout_seconds must be > 0")
	}
	if c.Assets.RatePerHost < 0 {
		return fmt.Errorf("assets.rate_per_host must be >= 0")
	}
	if c.Pages.HeadlessEnabled && c.Pages.HeadlessMaxParallel <= 0 {
		return fmt.Errorf("pages.headless_max_parallel must be > 0 when headless is enabled")
	}
	if c.Dispatcher.Workers <= 0 {
		return fmt.Errorf("dispatcher.workers must be > 0")
	}
	if c.Dispatcher.RetryInterval <= 0 {
		return fmt.Errorf("dispatcher.retry_interval must be > 0")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must be set for the sqlite backend")
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set for the local archive")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// AssetTimeout returns the per-request budget for remote asset fetches.
func (c Config) AssetTimeout() time.Duration {
	return time.Duration(c.Assets.TimeoutSeconds) * time.Second
}
